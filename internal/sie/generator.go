// Package sie produces SIE4 export files, the Swedish standard interchange
// format for accounting data.
package sie

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"openvera/internal/models"
	"openvera/internal/repositories"
)

// Accounts used by generated entries.
const (
	accountBank           = "1930"
	accountDefaultSales   = "3000"
	accountDefaultExpense = "4000"
	accountOutgoingVAT25  = "2610"
	accountOutgoingVAT12  = "2611"
	accountOutgoingVAT6   = "2612"
	accountIncomingVAT    = "2620"
	accountForeignVAT     = "2640"
)

// CompanySource provides the exported company and the standard chart.
type CompanySource interface {
	GetCompanyByID(id int64) (*models.Company, error)
	BASAccountNames() (map[string]string, error)
}

// TransactionSource provides the export transaction selection.
type TransactionSource interface {
	ListForExport(companyID int64, dateFrom, dateTo string) ([]*models.Transaction, error)
}

// MatchSource provides VAT-bearing matches in allocation order.
type MatchSource interface {
	ExportMatchRows(companyID int64, dateFrom, dateTo string) ([]*repositories.ExportMatchRow, error)
}

type Generator struct {
	companies    CompanySource
	transactions TransactionSource
	matches      MatchSource
	now          func() time.Time
}

func NewGenerator(companies CompanySource, transactions TransactionSource, matches MatchSource) *Generator {
	return &Generator{
		companies:    companies,
		transactions: transactions,
		matches:      matches,
		now:          time.Now,
	}
}

// vatDoc is one document's VAT contribution allocated to a transaction.
type vatDoc struct {
	docID         int64
	vatSEK        float64
	foreign       bool
	breakdownJSON string
}

// Generate builds the SIE4 file for a company over an inclusive fiscal-year
// range. Ambiguities degrade to fallback accounts and warning comments; the
// export itself never fails on data content.
func (g *Generator) Generate(companyID int64, yearFrom, yearTo int) (string, error) {
	company, err := g.companies.GetCompanyByID(companyID)
	if err != nil {
		return "", err
	}

	fiscalStart := "01-01"
	if company.FiscalYearStart.Valid && company.FiscalYearStart.String != "" {
		fiscalStart = company.FiscalYearStart.String
	}
	fiscalMonth, _ := strconv.Atoi(strings.SplitN(fiscalStart, "-", 2)[0])
	if fiscalMonth == 0 {
		fiscalMonth = 1
	}

	var rarFrom, rarTo, dateFrom, dateTo string
	if fiscalMonth == 1 {
		rarFrom = fmt.Sprintf("%d0101", yearFrom)
		rarTo = fmt.Sprintf("%d1231", yearTo)
		dateFrom = fmt.Sprintf("%d-01-01", yearFrom)
		dateTo = fmt.Sprintf("%d-12-31", yearTo)
	} else {
		// Broken fiscal year, e.g. May through April.
		rarFrom = fmt.Sprintf("%d%s", yearFrom, strings.ReplaceAll(fiscalStart, "-", ""))
		rarTo = fmt.Sprintf("%d%02d30", yearTo, fiscalMonth-1)
		dateFrom = fmt.Sprintf("%d-%s", yearFrom, fiscalStart)
		dateTo = fmt.Sprintf("%d-%02d-30", yearTo+1, fiscalMonth-1)
	}

	transactions, err := g.transactions.ListForExport(companyID, dateFrom, dateTo)
	if err != nil {
		return "", err
	}

	txnVAT, warnings, err := g.allocateVAT(companyID, dateFrom, dateTo)
	if err != nil {
		return "", err
	}

	basAccounts, err := g.companies.BASAccountNames()
	if err != nil {
		return "", err
	}

	var lines []string
	lines = append(lines,
		"#FLAGGA 0",
		`#PROGRAM "OpenVera" "1.0"`,
		"#FORMAT PC8",
		"#GEN "+g.now().Format("20060102"),
		"#SIETYP 4",
		fmt.Sprintf("#FNAMN %q", company.Name),
	)
	if company.OrgNumber.Valid && company.OrgNumber.String != "" {
		lines = append(lines, "#ORGNR "+strings.ReplaceAll(company.OrgNumber.String, "-", ""))
	}
	lines = append(lines, fmt.Sprintf("#RAR 0 %s %s", rarFrom, rarTo))

	lines = append(lines, "", "# Kontodefinitioner")
	lines = append(lines, accountDefinitions(basAccounts, transactions)...)

	lines = append(lines, "", "# Verifikationer")
	for i, txn := range transactions {
		entryLines, entryWarnings := g.buildEntry(i+1, txn, txnVAT[txn.ID])
		lines = append(lines, entryLines...)
		warnings = append(warnings, entryWarnings...)
	}

	if len(warnings) > 0 {
		lines = append(lines, "", "# Varningar (edge cases)")
		for _, w := range warnings {
			lines = append(lines, "# "+w)
		}
	}

	return strings.Join(lines, "\n"), nil
}

// allocateVAT assigns each matched document's VAT to exactly one transaction.
// Matches arrive ordered by timestamp, so a document matched to several
// transactions contributes only to its earliest match; later reuses become
// warnings.
func (g *Generator) allocateVAT(companyID int64, dateFrom, dateTo string) (map[int64][]vatDoc, []string, error) {
	rows, err := g.matches.ExportMatchRows(companyID, dateFrom, dateTo)
	if err != nil {
		return nil, nil, err
	}

	txnVAT := map[int64][]vatDoc{}
	var warnings []string
	allocated := map[int64]bool{}

	for _, row := range rows {
		if allocated[row.DocID] {
			warnings = append(warnings, fmt.Sprintf(
				"Doc #%d matched to multiple transactions; VAT allocated to first match only (skipped for txn #%d)",
				row.DocID, row.TransactionID))
			continue
		}
		if row.MatchCount > 1 {
			warnings = append(warnings, fmt.Sprintf(
				"Doc #%d is matched to %d transactions; VAT allocated to txn #%d (first match)",
				row.DocID, row.MatchCount, row.TransactionID))
		}
		allocated[row.DocID] = true

		if !row.VATSEK.Valid || row.VATSEK.Float64 == 0 {
			continue
		}
		txnVAT[row.TransactionID] = append(txnVAT[row.TransactionID], vatDoc{
			docID:         row.DocID,
			vatSEK:        row.VATSEK.Float64,
			foreign:       row.Currency.Valid && row.Currency.String != "SEK",
			breakdownJSON: row.BreakdownJSON.String,
		})
	}
	return txnVAT, warnings, nil
}

// buildEntry renders one #VER block. Every branch keeps the block's #TRANS
// lines summing to zero.
func (g *Generator) buildEntry(verNum int, txn *models.Transaction, vatDocs []vatDoc) ([]string, []string) {
	date := strings.ReplaceAll(txn.Date, "-", "")
	account := accountDefaultExpense
	if txn.AccountingCode.Valid && txn.AccountingCode.String != "" {
		account = txn.AccountingCode.String
	}

	reference := strings.ReplaceAll(txn.Reference.String, `"`, "'")
	if len(reference) > 40 {
		reference = reference[:40]
	}

	lines := []string{
		fmt.Sprintf("#VER A %d %s %q", verNum, date, reference),
		"{",
	}
	var warnings []string

	amount := txn.Amount
	switch {
	case amount < 0 && len(vatDocs) > 0:
		// Expense with VAT: expense net debit, VAT debit per document, bank
		// credit for the gross.
		totalVAT := 0.0
		for _, doc := range vatDocs {
			totalVAT += doc.vatSEK
		}
		lines = append(lines, transLine(account, -amount-totalVAT))
		for _, doc := range vatDocs {
			vatAccount := accountIncomingVAT
			if doc.foreign {
				vatAccount = accountForeignVAT
			}
			lines = append(lines, transLine(vatAccount, doc.vatSEK))
		}
		lines = append(lines, transLine(accountBank, amount))

	case amount > 0 && len(vatDocs) > 0:
		// Income with VAT: bank debit for gross, income credit for the net,
		// VAT credit per rate. The income line is derived from the VAT lines
		// actually emitted so the block stays balanced even when a breakdown
		// disagrees with the document total.
		incomeAccount := accountDefaultSales
		if strings.HasPrefix(account, "3") {
			incomeAccount = account
		}

		var vatLines []string
		emittedVAT := 0.0
		for _, doc := range vatDocs {
			docLines, docVAT, docWarnings := outgoingVATLines(doc)
			vatLines = append(vatLines, docLines...)
			emittedVAT += docVAT
			warnings = append(warnings, docWarnings...)
		}

		lines = append(lines, transLine(accountBank, amount))
		lines = append(lines, transLine(incomeAccount, -(amount-emittedVAT)))
		lines = append(lines, vatLines...)

	case amount < 0:
		lines = append(lines, transLine(account, -amount))
		lines = append(lines, transLine(accountBank, amount))

	default:
		incomeAccount := accountDefaultSales
		if strings.HasPrefix(account, "3") {
			incomeAccount = account
		}
		lines = append(lines, transLine(accountBank, amount))
		lines = append(lines, transLine(incomeAccount, -amount))
	}

	lines = append(lines, "}")
	return lines, warnings
}

// outgoingVATLines renders the VAT credit lines for one income document and
// reports the total VAT those lines carry.
func outgoingVATLines(doc vatDoc) ([]string, float64, []string) {
	if doc.breakdownJSON == "" {
		return []string{transLine(accountOutgoingVAT25, -doc.vatSEK)}, doc.vatSEK, nil
	}

	breakdown, err := models.ParseVATBreakdown(doc.breakdownJSON)
	if err != nil {
		warning := fmt.Sprintf("Doc #%d has unparseable VAT breakdown; using total VAT on account %s",
			doc.docID, accountOutgoingVAT25)
		return []string{transLine(accountOutgoingVAT25, -doc.vatSEK)}, doc.vatSEK, []string{warning}
	}

	var lines []string
	total := 0.0
	for _, entry := range breakdown {
		if entry.VAT == 0 {
			continue
		}
		var vatAccount string
		switch entry.Rate {
		case 25:
			vatAccount = accountOutgoingVAT25
		case 12:
			vatAccount = accountOutgoingVAT12
		case 6:
			vatAccount = accountOutgoingVAT6
		default:
			vatAccount = accountOutgoingVAT25
		}
		lines = append(lines, transLine(vatAccount, -entry.VAT))
		total += entry.VAT
	}
	return lines, total, nil
}

// accountDefinitions declares the standard chart plus every code the entries
// reference, so the file is self-describing.
func accountDefinitions(basAccounts map[string]string, transactions []*models.Transaction) []string {
	all := map[string]string{}
	for code, name := range basAccounts {
		all[code] = name
	}
	for _, txn := range transactions {
		if txn.AccountingCode.Valid && txn.AccountingCode.String != "" {
			if _, ok := all[txn.AccountingCode.String]; !ok {
				all[txn.AccountingCode.String] = "Okänt konto"
			}
		}
	}
	for _, code := range []string{accountOutgoingVAT25, accountOutgoingVAT12, accountOutgoingVAT6, accountIncomingVAT, accountForeignVAT} {
		if _, ok := all[code]; !ok {
			all[code] = "Momskonto"
		}
	}

	codes := make([]string, 0, len(all))
	for code := range all {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	lines := make([]string, 0, len(codes))
	for _, code := range codes {
		lines = append(lines, fmt.Sprintf("#KONTO %s %q", code, all[code]))
	}
	return lines
}

func transLine(account string, amount float64) string {
	return fmt.Sprintf("   #TRANS %s {} %.2f", account, amount)
}
