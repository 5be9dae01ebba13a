package importer

import (
	"io"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"openvera/internal/models"
)

const sampleCSV = "sep=;\n" +
	"Bokföringsdag;Kontonr;Insättning/Uttag;Valutadag;Bokfört saldo;Referens\n" +
	"2026-01-01;;-350,00;;8 500,00;Telia faktura\n" +
	";;;;;\n" +
	"2026-01-02;;-1 234,56;;7 265,44;Hyra januari\n"

type mockAccountResolver struct {
	GetAccountByNumberFn func(accountNumber string) (*models.Account, error)
}

func (m *mockAccountResolver) GetAccountByNumber(accountNumber string) (*models.Account, error) {
	return m.GetAccountByNumberFn(accountNumber)
}

// fingerprintStore mimics the database unique index on import fingerprints.
type fingerprintStore struct {
	seen map[string]bool
}

func (s *fingerprintStore) InsertImported(t *models.Transaction) error {
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	fp := t.ImportFingerprint.String
	if s.seen[fp] {
		return &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	}
	s.seen[fp] = true
	return nil
}

func testAccount(accountNumber string) (*models.Account, error) {
	return &models.Account{ID: 1, Name: "Företagskonto"}, nil
}

func TestParseBankCSV(t *testing.T) {
	rows, err := parseBankCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("parseBankCSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	first := rows[0]
	if first.Date != "2026-01-01" || first.Amount != -350 {
		t.Errorf("unexpected first row: %+v", first)
	}
	if first.Balance == nil || *first.Balance != 8500 {
		t.Errorf("balance not parsed: %+v", first.Balance)
	}
	if first.Reference != "Telia faktura" {
		t.Errorf("reference not parsed: %q", first.Reference)
	}

	second := rows[1]
	if second.Amount != -1234.56 {
		t.Errorf("thousands separator not handled: %v", second.Amount)
	}
}

func TestParseBankCSVWithoutSepLine(t *testing.T) {
	content := strings.TrimPrefix(sampleCSV, "sep=;\n")
	rows, err := parseBankCSV(strings.NewReader(content))
	if err != nil {
		t.Fatalf("parseBankCSV: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("expected 2 rows, got %d", len(rows))
	}
}

func TestDecodeBankFileLatin1(t *testing.T) {
	// "Bokföringsdag" with ö as Latin-1 0xF6.
	data := []byte("Bokf\xf6ringsdag")
	decoded := decodeBankFile(data)
	if decoded != "Bokföringsdag" {
		t.Errorf("Latin-1 not decoded: %q", decoded)
	}
}

func TestDecodeBankFileStripsBOM(t *testing.T) {
	decoded := decodeBankFile([]byte("\ufeffBokföringsdag"))
	if decoded != "Bokföringsdag" {
		t.Errorf("BOM not stripped: %q", decoded)
	}
}

func TestImportSkipsDuplicatesOnReimport(t *testing.T) {
	store := &fingerprintStore{}
	imp := NewCSVImporter(
		&mockAccountResolver{GetAccountByNumberFn: testAccount},
		store,
		zerolog.New(io.Discard),
	)

	first, err := imp.Import([]byte(sampleCSV), true)
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	if first.Imported != 2 || first.Skipped != 0 {
		t.Fatalf("first import: %+v", first)
	}

	second, err := imp.Import([]byte(sampleCSV), true)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if second.Imported != 0 || second.Skipped != 2 {
		t.Errorf("re-import should skip everything: %+v", second)
	}
}

func TestImportDryRunWritesNothing(t *testing.T) {
	inserted := 0
	imp := NewCSVImporter(
		&mockAccountResolver{GetAccountByNumberFn: testAccount},
		insertFunc(func(t *models.Transaction) error {
			inserted++
			return nil
		}),
		zerolog.New(io.Discard),
	)

	result, err := imp.Import([]byte(sampleCSV), false)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !result.DryRun || result.Imported != 2 {
		t.Errorf("unexpected dry-run result: %+v", result)
	}
	if inserted != 0 {
		t.Errorf("dry run inserted %d transactions", inserted)
	}
}

type insertFunc func(t *models.Transaction) error

func (f insertFunc) InsertImported(t *models.Transaction) error { return f(t) }
