package handlers

import (
	"database/sql"
	"testing"
	"time"

	"openvera/internal/models"
)

func sessionWithValidity(status, validUntil string) *models.ConsentSession {
	return &models.ConsentSession{
		SessionID:  "sess-1",
		Status:     status,
		ValidUntil: sql.NullString{String: validUntil, Valid: validUntil != ""},
	}
}

func TestAnnotateSessionExpiringSoon(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	view := annotateSession(sessionWithValidity(models.SessionStatusActive, "2026-08-10T00:00:00Z"), now)
	if view.DaysUntilExpiry == nil {
		t.Fatal("expected days_until_expiry to be set")
	}
	if *view.DaysUntilExpiry != 8 {
		t.Errorf("days_until_expiry = %d, want 8", *view.DaysUntilExpiry)
	}
	if !view.ExpiringSoon {
		t.Error("expected session expiring in 8 days to be flagged")
	}
}

func TestAnnotateSessionFarFromExpiry(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	view := annotateSession(sessionWithValidity(models.SessionStatusActive, "2026-11-01T00:00:00Z"), now)
	if view.ExpiringSoon {
		t.Error("session valid for three months should not be flagged")
	}
}

func TestAnnotateSessionPastExpiryClampsToZero(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	view := annotateSession(sessionWithValidity(models.SessionStatusActive, "2026-07-01T00:00:00Z"), now)
	if view.DaysUntilExpiry == nil || *view.DaysUntilExpiry != 0 {
		t.Errorf("expected 0 days for an expired session, got %v", view.DaysUntilExpiry)
	}
}

func TestAnnotateSessionRevokedNeverExpiringSoon(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	view := annotateSession(sessionWithValidity(models.SessionStatusRevoked, "2026-08-05T00:00:00Z"), now)
	if view.ExpiringSoon {
		t.Error("revoked sessions should not be flagged as expiring")
	}
}

func TestAnnotateSessionWithoutValidity(t *testing.T) {
	view := annotateSession(sessionWithValidity(models.SessionStatusActive, ""), time.Now().UTC())
	if view.DaysUntilExpiry != nil {
		t.Error("expected no expiry annotation without valid_until")
	}
	if view.ExpiringSoon {
		t.Error("expected no expiring flag without valid_until")
	}
}
