package importer

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"

	"openvera/internal/apperr"
	"openvera/internal/database"
	"openvera/internal/models"
)

// Result summarizes one import run.
type Result struct {
	AccountName string `json:"account_name"`
	Imported    int    `json:"imported"`
	Skipped     int    `json:"skipped"`
	Errors      int    `json:"errors"`
	DryRun      bool   `json:"dry_run"`
}

type csvRow struct {
	AccountNumber string
	Date          string
	Amount        float64
	Balance       *float64
	Reference     string
}

// AccountResolver looks up local accounts by bank account number.
type AccountResolver interface {
	GetAccountByNumber(accountNumber string) (*models.Account, error)
}

// TransactionInserter writes imported transactions; duplicate-key errors are
// how it reports an already imported line.
type TransactionInserter interface {
	InsertImported(t *models.Transaction) error
}

// CSVImporter ingests Handelsbanken CSV exports.
type CSVImporter struct {
	accounts     AccountResolver
	transactions TransactionInserter
	log          zerolog.Logger
}

func NewCSVImporter(accounts AccountResolver, transactions TransactionInserter, log zerolog.Logger) *CSVImporter {
	return &CSVImporter{accounts: accounts, transactions: transactions, log: log}
}

// ImportFile parses and imports one CSV export. With apply false nothing is
// written; the result shows what a real run would do.
func (i *CSVImporter) ImportFile(path string, apply bool) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return i.Import(data, apply)
}

func (i *CSVImporter) Import(data []byte, apply bool) (*Result, error) {
	content := decodeBankFile(data)
	rows, err := parseBankCSV(strings.NewReader(content))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.Validation("no transactions found in file")
	}

	// All lines in one export belong to the same account.
	account, err := i.accounts.GetAccountByNumber(rows[0].AccountNumber)
	if err != nil {
		return nil, err
	}

	result := &Result{AccountName: account.Name, DryRun: !apply}
	for _, row := range rows {
		fingerprint := ComputeFingerprint(row.Date, row.Amount, row.Reference, row.Balance)

		if !apply {
			i.log.Info().
				Str("date", row.Date).
				Float64("amount", row.Amount).
				Str("reference", row.Reference).
				Msg("dry run, would import")
			result.Imported++
			continue
		}

		txn := &models.Transaction{
			AccountID:         account.ID,
			Date:              row.Date,
			Amount:            row.Amount,
			Reference:         nullString(row.Reference),
			RawReference:      nullString(row.Reference),
			ImportFingerprint: sql.NullString{String: fingerprint, Valid: true},
		}
		if row.Balance != nil {
			txn.Balance = sql.NullFloat64{Float64: *row.Balance, Valid: true}
		}

		if err := i.transactions.InsertImported(txn); err != nil {
			if database.IsDuplicateEntry(err) {
				result.Skipped++
				continue
			}
			return nil, err
		}
		result.Imported++
	}

	i.log.Info().
		Str("account", account.Name).
		Int("imported", result.Imported).
		Int("skipped", result.Skipped).
		Bool("dry_run", !apply).
		Msg("CSV import finished")
	return result, nil
}

// decodeBankFile handles the encodings banks actually ship: UTF-8 with or
// without BOM, falling back to Latin-1 for older exports.
func decodeBankFile(data []byte) string {
	data = stripBOM(data)
	if utf8.Valid(data) {
		return string(data)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		// Latin-1 decoding cannot actually fail; keep the raw bytes if it
		// somehow does.
		return string(data)
	}
	return string(decoded)
}

func stripBOM(data []byte) []byte {
	return []byte(strings.TrimPrefix(string(data), "\ufeff"))
}

// parseBankCSV reads a semicolon-separated export. Header names vary between
// exports, so columns are resolved by case-insensitive substring. Rows without
// a booking date or an amount are summary lines and get skipped.
func parseBankCSV(r io.Reader) ([]csvRow, error) {
	br := newLineUnreader(r)
	first, err := br.ReadLine()
	if err != nil && err != io.EOF {
		return nil, err
	}
	if !strings.HasPrefix(first, "sep=") {
		br.Unread(first)
	}

	reader := csv.NewReader(br)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	dateCol := findColumn(header, "bokföringsdag", "bokforingsdag")
	amountCol := findColumn(header, "insättning", "insattning", "uttag")
	balanceCol := findColumn(header, "bokfört saldo", "bokfort saldo")
	referenceCol := findColumn(header, "referens")
	accountCol := findColumn(header, "kontonr")

	if dateCol < 0 || amountCol < 0 {
		return nil, apperr.Validation("CSV is missing a booking date or amount column")
	}

	var rows []csvRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row: %w", err)
		}

		date := field(record, dateCol)
		if date == "" {
			continue
		}
		amountStr := field(record, amountCol)
		if amountStr == "" {
			continue
		}
		amount, err := parseSwedishDecimal(amountStr)
		if err != nil {
			return nil, apperr.Validation("bad amount %q on %s", amountStr, date)
		}

		var balance *float64
		if balanceStr := field(record, balanceCol); balanceStr != "" && balanceStr != "*" {
			if v, err := parseSwedishDecimal(balanceStr); err == nil {
				balance = &v
			}
		}

		rows = append(rows, csvRow{
			AccountNumber: strings.TrimSpace(field(record, accountCol)),
			Date:          date,
			Amount:        amount,
			Balance:       balance,
			Reference:     strings.TrimSpace(field(record, referenceCol)),
		})
	}
	return rows, nil
}

func findColumn(header []string, names ...string) int {
	for _, name := range names {
		for i, col := range header {
			if strings.Contains(strings.ToLower(col), name) {
				return i
			}
		}
	}
	return -1
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// parseSwedishDecimal parses "-1 234,56" style numbers. Both regular and
// non-breaking spaces appear as thousands separators in the wild.
func parseSwedishDecimal(s string) (float64, error) {
	s = strings.NewReplacer(" ", "", "\u00a0", "", ",", ".").Replace(s)
	return strconv.ParseFloat(s, 64)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// lineUnreader lets the sep= probe push the first line back before handing the
// stream to encoding/csv.
type lineUnreader struct {
	r       io.Reader
	pending []byte
}

func newLineUnreader(r io.Reader) *lineUnreader {
	return &lineUnreader{r: r}
}

func (l *lineUnreader) ReadLine() (string, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := l.r.Read(buf)
		if n > 0 {
			line = append(line, buf[0])
			if buf[0] == '\n' {
				return string(line), nil
			}
		}
		if err != nil {
			return string(line), err
		}
	}
}

func (l *lineUnreader) Unread(line string) {
	l.pending = append([]byte(line), l.pending...)
}

func (l *lineUnreader) Read(p []byte) (int, error) {
	if len(l.pending) > 0 {
		n := copy(p, l.pending)
		l.pending = l.pending[n:]
		return n, nil
	}
	return l.r.Read(p)
}
