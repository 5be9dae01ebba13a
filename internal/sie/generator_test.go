package sie

import (
	"database/sql"
	"math"
	"strconv"
	"strings"
	"testing"
	"time"

	"openvera/internal/models"
	"openvera/internal/repositories"
)

type mockCompanySource struct {
	GetCompanyByIDFn  func(id int64) (*models.Company, error)
	BASAccountNamesFn func() (map[string]string, error)
}

func (m *mockCompanySource) GetCompanyByID(id int64) (*models.Company, error) {
	return m.GetCompanyByIDFn(id)
}

func (m *mockCompanySource) BASAccountNames() (map[string]string, error) {
	return m.BASAccountNamesFn()
}

type mockTransactionSource struct {
	ListForExportFn func(companyID int64, dateFrom, dateTo string) ([]*models.Transaction, error)
}

func (m *mockTransactionSource) ListForExport(companyID int64, dateFrom, dateTo string) ([]*models.Transaction, error) {
	return m.ListForExportFn(companyID, dateFrom, dateTo)
}

type mockMatchSource struct {
	ExportMatchRowsFn func(companyID int64, dateFrom, dateTo string) ([]*repositories.ExportMatchRow, error)
}

func (m *mockMatchSource) ExportMatchRows(companyID int64, dateFrom, dateTo string) ([]*repositories.ExportMatchRow, error) {
	return m.ExportMatchRowsFn(companyID, dateFrom, dateTo)
}

func str(s string) sql.NullString   { return sql.NullString{String: s, Valid: true} }
func num(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }

func newTestGenerator(company *models.Company, transactions []*models.Transaction, matchRows []*repositories.ExportMatchRow) *Generator {
	g := NewGenerator(
		&mockCompanySource{
			GetCompanyByIDFn: func(id int64) (*models.Company, error) {
				return company, nil
			},
			BASAccountNamesFn: func() (map[string]string, error) {
				return map[string]string{
					"1930": "Företagskonto",
					"3000": "Försäljning",
					"4000": "Inköp av varor",
					"2610": "Utgående moms 25%",
					"2620": "Ingående moms",
					"6540": "IT-tjänster",
				}, nil
			},
		},
		&mockTransactionSource{
			ListForExportFn: func(companyID int64, dateFrom, dateTo string) ([]*models.Transaction, error) {
				return transactions, nil
			},
		},
		&mockMatchSource{
			ExportMatchRowsFn: func(companyID int64, dateFrom, dateTo string) ([]*repositories.ExportMatchRow, error) {
				return matchRows, nil
			},
		},
	)
	g.now = func() time.Time { return time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC) }
	return g
}

func testCompany() *models.Company {
	return &models.Company{
		ID:        1,
		Slug:      "acme",
		Name:      "Acme Konsult AB",
		OrgNumber: str("556677-8899"),
	}
}

// verBlocks extracts the #TRANS amounts of each #VER block.
func verBlocks(t *testing.T, content string) [][]float64 {
	t.Helper()
	var blocks [][]float64
	var current []float64
	inBlock := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "{":
			inBlock = true
			current = nil
		case trimmed == "}":
			inBlock = false
			blocks = append(blocks, current)
		case inBlock && strings.HasPrefix(trimmed, "#TRANS"):
			fields := strings.Fields(trimmed)
			amount, err := strconv.ParseFloat(fields[len(fields)-1], 64)
			if err != nil {
				t.Fatalf("bad #TRANS amount in %q: %v", trimmed, err)
			}
			current = append(current, amount)
		}
	}
	return blocks
}

func TestGenerateExpenseWithVATThreeLines(t *testing.T) {
	matchedAt := time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)
	g := newTestGenerator(
		testCompany(),
		[]*models.Transaction{
			{ID: 1, Date: "2026-01-15", Amount: -1250, Reference: str("Telia faktura"), AccountingCode: str("6540")},
		},
		[]*repositories.ExportMatchRow{
			{TransactionID: 1, DocID: 10, DocType: "invoice", Currency: str("SEK"),
				VATSEK: num(250), NetSEK: num(1000), MatchedAt: matchedAt, MatchCount: 1},
		},
	)

	content, err := g.Generate(1, 2026, 2026)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !strings.Contains(content, `#VER A 1 20260115 "Telia faktura"`) {
		t.Errorf("missing verification header:\n%s", content)
	}
	for _, want := range []string{
		"   #TRANS 6540 {} 1000.00",
		"   #TRANS 2620 {} 250.00",
		"   #TRANS 1930 {} -1250.00",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("missing line %q in:\n%s", want, content)
		}
	}
}

func TestGenerateBlocksSumToZero(t *testing.T) {
	matchedAt := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	g := newTestGenerator(
		testCompany(),
		[]*models.Transaction{
			{ID: 1, Date: "2026-01-15", Amount: -1250, AccountingCode: str("6540")},
			{ID: 2, Date: "2026-01-20", Amount: -400},
			{ID: 3, Date: "2026-02-01", Amount: 12500, AccountingCode: str("3010")},
			{ID: 4, Date: "2026-02-10", Amount: 900},
		},
		[]*repositories.ExportMatchRow{
			{TransactionID: 1, DocID: 10, Currency: str("SEK"),
				VATSEK: num(250), MatchedAt: matchedAt, MatchCount: 1},
			// Breakdown VAT disagrees with the document total; the income line
			// must absorb the difference.
			{TransactionID: 3, DocID: 11, DocType: "outgoing_invoice", Currency: str("SEK"),
				VATSEK:        num(2500),
				BreakdownJSON: str(`[{"rate":25,"net":9600,"vat":2400}]`),
				MatchedAt:     matchedAt, MatchCount: 1},
		},
	)

	content, err := g.Generate(1, 2026, 2026)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	blocks := verBlocks(t, content)
	if len(blocks) != 4 {
		t.Fatalf("expected 4 verification blocks, got %d", len(blocks))
	}
	for i, block := range blocks {
		sum := 0.0
		for _, amount := range block {
			sum += amount
		}
		if math.Abs(sum) >= 0.01 {
			t.Errorf("block %d does not balance: lines %v sum %v", i+1, block, sum)
		}
	}
}

func TestGenerateIncomeRateMapping(t *testing.T) {
	matchedAt := time.Now()
	g := newTestGenerator(
		testCompany(),
		[]*models.Transaction{
			{ID: 1, Date: "2026-03-01", Amount: 1370, AccountingCode: str("3010")},
		},
		[]*repositories.ExportMatchRow{
			{TransactionID: 1, DocID: 20, DocType: "outgoing_invoice", Currency: str("SEK"),
				VATSEK:        num(170),
				BreakdownJSON: str(`[{"rate":25,"net":400,"vat":100},{"rate":12,"net":500,"vat":60},{"rate":6,"net":170,"vat":10}]`),
				MatchedAt:     matchedAt, MatchCount: 1},
		},
	)

	content, err := g.Generate(1, 2026, 2026)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for _, want := range []string{
		"   #TRANS 1930 {} 1370.00",
		"   #TRANS 3010 {} -1200.00",
		"   #TRANS 2610 {} -100.00",
		"   #TRANS 2611 {} -60.00",
		"   #TRANS 2612 {} -10.00",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("missing line %q in:\n%s", want, content)
		}
	}
}

func TestGenerateMalformedBreakdownFallsBackWithWarning(t *testing.T) {
	g := newTestGenerator(
		testCompany(),
		[]*models.Transaction{
			{ID: 1, Date: "2026-03-01", Amount: 1250, AccountingCode: str("3000")},
		},
		[]*repositories.ExportMatchRow{
			{TransactionID: 1, DocID: 30, DocType: "outgoing_invoice", Currency: str("SEK"),
				VATSEK:        num(250),
				BreakdownJSON: str(`not json at all`),
				MatchedAt:     time.Now(), MatchCount: 1},
		},
	)

	content, err := g.Generate(1, 2026, 2026)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !strings.Contains(content, "   #TRANS 2610 {} -250.00") {
		t.Errorf("fallback VAT line missing:\n%s", content)
	}
	if strings.Count(content, "# Doc #30 has unparseable VAT breakdown") != 1 {
		t.Errorf("expected exactly one warning line:\n%s", content)
	}

	blocks := verBlocks(t, content)
	sum := 0.0
	for _, amount := range blocks[0] {
		sum += amount
	}
	if math.Abs(sum) >= 0.01 {
		t.Errorf("fallback block does not balance: %v", blocks[0])
	}
}

func TestGenerateOneToManyAllocatesFirstMatchOnly(t *testing.T) {
	early := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	g := newTestGenerator(
		testCompany(),
		[]*models.Transaction{
			{ID: 1, Date: "2026-01-05", Amount: -625, AccountingCode: str("6540")},
			{ID: 2, Date: "2026-01-06", Amount: -625, AccountingCode: str("6540")},
		},
		[]*repositories.ExportMatchRow{
			{TransactionID: 1, DocID: 40, Currency: str("SEK"), VATSEK: num(250),
				MatchedAt: early, MatchCount: 2},
			{TransactionID: 2, DocID: 40, Currency: str("SEK"), VATSEK: num(250),
				MatchedAt: late, MatchCount: 2},
		},
	)

	content, err := g.Generate(1, 2026, 2026)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// First transaction gets the VAT split, the second stays a plain 2-liner.
	if !strings.Contains(content, "   #TRANS 6540 {} 375.00") {
		t.Errorf("first match did not receive the VAT allocation:\n%s", content)
	}
	if !strings.Contains(content, "   #TRANS 6540 {} 625.00") {
		t.Errorf("second match should carry the full gross on the expense account:\n%s", content)
	}
	if !strings.Contains(content, "# Doc #40 matched to multiple transactions") {
		t.Errorf("missing reuse warning:\n%s", content)
	}
	if !strings.Contains(content, "# Doc #40 is matched to 2 transactions") {
		t.Errorf("missing one-to-many warning:\n%s", content)
	}
}

func TestGenerateHeaderAndAccounts(t *testing.T) {
	g := newTestGenerator(
		testCompany(),
		[]*models.Transaction{
			{ID: 1, Date: "2026-04-01", Amount: -100, AccountingCode: str("7912")},
		},
		nil,
	)

	content, err := g.Generate(1, 2026, 2026)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for _, want := range []string{
		"#FLAGGA 0",
		`#PROGRAM "OpenVera" "1.0"`,
		"#FORMAT PC8",
		"#GEN 20260701",
		"#SIETYP 4",
		`#FNAMN "Acme Konsult AB"`,
		"#ORGNR 5566778899",
		"#RAR 0 20260101 20261231",
		`#KONTO 7912 "Okänt konto"`,
		`#KONTO 2640 "Momskonto"`,
	} {
		if !strings.Contains(content, want) {
			t.Errorf("missing %q in:\n%s", want, content)
		}
	}
}

func TestGenerateBrokenFiscalYear(t *testing.T) {
	company := testCompany()
	company.FiscalYearStart = str("05-01")

	var gotFrom, gotTo string
	g := NewGenerator(
		&mockCompanySource{
			GetCompanyByIDFn: func(id int64) (*models.Company, error) { return company, nil },
			BASAccountNamesFn: func() (map[string]string, error) {
				return map[string]string{}, nil
			},
		},
		&mockTransactionSource{
			ListForExportFn: func(companyID int64, dateFrom, dateTo string) ([]*models.Transaction, error) {
				gotFrom, gotTo = dateFrom, dateTo
				return nil, nil
			},
		},
		&mockMatchSource{
			ExportMatchRowsFn: func(companyID int64, dateFrom, dateTo string) ([]*repositories.ExportMatchRow, error) {
				return nil, nil
			},
		},
	)
	g.now = func() time.Time { return time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC) }

	content, err := g.Generate(1, 2026, 2026)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !strings.Contains(content, "#RAR 0 20260501 20260430") {
		t.Errorf("fiscal year boundaries wrong:\n%s", content)
	}
	if gotFrom != "2026-05-01" || gotTo != "2027-04-30" {
		t.Errorf("transaction window wrong: %s .. %s", gotFrom, gotTo)
	}
}
