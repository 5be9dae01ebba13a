package importer

import "testing"

func TestComputeFingerprintDeterministic(t *testing.T) {
	balance := 8500.0
	first := ComputeFingerprint("2026-01-01", -350, "Telia faktura", &balance)
	second := ComputeFingerprint("2026-01-01", -350, "Telia faktura", &balance)

	if first != second {
		t.Errorf("same input produced different fingerprints: %s vs %s", first, second)
	}
	if len(first) != 32 {
		t.Errorf("expected 32 hex chars, got %d: %s", len(first), first)
	}
}

func TestComputeFingerprintFieldSensitivity(t *testing.T) {
	balance := 8500.0
	base := ComputeFingerprint("2026-01-01", -350, "Telia faktura", &balance)

	otherBalance := 8501.0
	variants := map[string]string{
		"date":      ComputeFingerprint("2026-01-02", -350, "Telia faktura", &balance),
		"amount":    ComputeFingerprint("2026-01-01", -351, "Telia faktura", &balance),
		"reference": ComputeFingerprint("2026-01-01", -350, "Telia", &balance),
		"balance":   ComputeFingerprint("2026-01-01", -350, "Telia faktura", &otherBalance),
	}
	for field, fp := range variants {
		if fp == base {
			t.Errorf("changing %s did not change the fingerprint", field)
		}
	}
}

func TestComputeFingerprintNilBalance(t *testing.T) {
	balance := 0.0
	withZero := ComputeFingerprint("2026-01-01", -350, "Telia faktura", &balance)
	withNil := ComputeFingerprint("2026-01-01", -350, "Telia faktura", nil)

	if withZero == withNil {
		t.Error("nil balance should hash differently from zero balance")
	}
}
