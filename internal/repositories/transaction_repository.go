package repositories

import (
	"database/sql"
	"strings"

	"openvera/internal/apperr"
	"openvera/internal/models"
)

// UpdateTransactionParams carries optional field updates; nil means "leave as is".
type UpdateTransactionParams struct {
	Category           *string
	AccountingCode     *string
	ClearCode          bool
	Notes              *string
	IsInternalTransfer *bool
	NeedsReceipt       *bool
}

// SearchFilter is the structured replacement for ad hoc WHERE assembly.
// All set predicates are AND-combined.
type SearchFilter struct {
	CompanyID     int64 // 0 means any company
	Positive      bool  // true matches income (outgoing invoices), false expenses
	UnmatchedOnly bool
	Query         string
	Date          string // order by proximity to this date when set
	Amount        float64
	HasAmount     bool
	Limit         int
}

// ReportFilter selects transactions for the report aggregators.
type ReportFilter struct {
	CompanyID int64
	DateFrom  string
	DateTo    string
}

// ReportRow is the flat projection the report service aggregates over.
type ReportRow struct {
	ID                 int64
	Date               string
	Amount             float64
	Reference          sql.NullString
	AccountingCode     sql.NullString
	AccountName        string
	IsInternalTransfer bool
	NeedsReceipt       sql.NullBool
	Matched            bool
}

// SearchResult is a slim row for the matching UI.
type SearchResult struct {
	ID          int64   `json:"id"`
	Date        string  `json:"date"`
	Reference   string  `json:"reference"`
	Amount      float64 `json:"amount"`
	AccountName string  `json:"account_name"`
}

type TransactionRepository interface {
	InsertImported(t *models.Transaction) error
	GetTransactionByID(id int64) (*models.Transaction, error)
	UpdateTransaction(id int64, params UpdateTransactionParams) error
	BatchUpdateTransactions(ids []int64, params UpdateTransactionParams) (int64, error)
	DeleteTransaction(id int64) error
	LatestDate(accountID int64) (string, error)
	CompanyIDsForTransactions(ids []int64) (map[int64]int64, error)
	Search(f SearchFilter) ([]*SearchResult, error)
	ListForReport(f ReportFilter) ([]*ReportRow, error)
	ListForExport(companyID int64, dateFrom, dateTo string) ([]*models.Transaction, error)
}

type transactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

// InsertImported appends one imported ledger line. Uniqueness violations on
// (account_id, external_id) or (account_id, import_fingerprint) surface as the
// driver's duplicate-entry error so the pipeline can count them as skips.
func (r *transactionRepository) InsertImported(t *models.Transaction) error {
	query := `
		INSERT INTO transactions (
			account_id, date, amount, balance, reference, raw_reference,
			external_id, import_fingerprint
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		t.AccountID,
		t.Date,
		t.Amount,
		t.Balance,
		t.Reference,
		t.RawReference,
		t.ExternalID,
		t.ImportFingerprint,
	)
	if err != nil {
		return err
	}
	t.ID, err = result.LastInsertId()
	return err
}

const transactionColumns = `id, account_id, date, amount, balance, reference, raw_reference,
	category, is_internal_transfer, linked_transfer_id, accounting_code,
	needs_receipt, external_id, import_fingerprint, notes, created_at`

func scanTransaction(row interface{ Scan(...interface{}) error }) (*models.Transaction, error) {
	t := &models.Transaction{}
	err := row.Scan(
		&t.ID, &t.AccountID, &t.Date, &t.Amount, &t.Balance, &t.Reference, &t.RawReference,
		&t.Category, &t.IsInternalTransfer, &t.LinkedTransferID, &t.AccountingCode,
		&t.NeedsReceipt, &t.ExternalID, &t.ImportFingerprint, &t.Notes, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *transactionRepository) GetTransactionByID(id int64) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`
	t, err := scanTransaction(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("transaction #%d", id)
	}
	return t, err
}

func buildUpdateSet(params UpdateTransactionParams) ([]string, []interface{}) {
	var sets []string
	var args []interface{}

	if params.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, *params.Category)
	}
	if params.ClearCode {
		sets = append(sets, "accounting_code = NULL")
	} else if params.AccountingCode != nil {
		sets = append(sets, "accounting_code = ?")
		args = append(args, *params.AccountingCode)
	}
	if params.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *params.Notes)
	}
	if params.IsInternalTransfer != nil {
		sets = append(sets, "is_internal_transfer = ?")
		args = append(args, *params.IsInternalTransfer)
	}
	if params.NeedsReceipt != nil {
		sets = append(sets, "needs_receipt = ?")
		args = append(args, *params.NeedsReceipt)
	}
	return sets, args
}

func (r *transactionRepository) UpdateTransaction(id int64, params UpdateTransactionParams) error {
	sets, args := buildUpdateSet(params)
	if len(sets) == 0 {
		return apperr.Validation("no fields to update")
	}
	args = append(args, id)

	result, err := r.db.Exec(
		`UPDATE transactions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := r.GetTransactionByID(id); getErr != nil {
			return getErr
		}
	}
	return nil
}

func (r *transactionRepository) BatchUpdateTransactions(ids []int64, params UpdateTransactionParams) (int64, error) {
	if len(ids) == 0 {
		return 0, apperr.Validation("no ids provided")
	}
	sets, args := buildUpdateSet(params)
	if len(sets) == 0 {
		return 0, apperr.Validation("no fields to update")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	for _, id := range ids {
		args = append(args, id)
	}

	result, err := r.db.Exec(
		`UPDATE transactions SET `+strings.Join(sets, ", ")+` WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteTransaction removes a transaction together with its matches and
// transfer links; linked_transfer_id back-references are nulled first.
func (r *transactionRepository) DeleteTransaction(id int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM matches WHERE transaction_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`DELETE FROM transfers WHERE from_transaction_id = ? OR to_transaction_id = ?`, id, id); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`UPDATE transactions SET linked_transfer_id = NULL WHERE linked_transfer_id = ?`, id); err != nil {
		return err
	}

	result, err := tx.Exec(`DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound("transaction #%d", id)
	}
	return tx.Commit()
}

// LatestDate returns the newest transaction date on the account, or "" if the
// account has no transactions. Drives incremental open-banking sync.
func (r *transactionRepository) LatestDate(accountID int64) (string, error) {
	var latest sql.NullString
	err := r.db.QueryRow(
		`SELECT MAX(date) FROM transactions WHERE account_id = ?`, accountID).Scan(&latest)
	if err != nil {
		return "", err
	}
	if !latest.Valid {
		return "", nil
	}
	return latest.String, nil
}

func (r *transactionRepository) CompanyIDsForTransactions(ids []int64) (map[int64]int64, error) {
	if len(ids) == 0 {
		return map[int64]int64{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.Query(`
		SELECT t.id, a.company_id
		FROM transactions t
		JOIN accounts a ON t.account_id = a.id
		WHERE t.id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	companies := make(map[int64]int64)
	for rows.Next() {
		var txnID, companyID int64
		if err := rows.Scan(&txnID, &companyID); err != nil {
			return nil, err
		}
		companies[txnID] = companyID
	}
	return companies, rows.Err()
}

func (r *transactionRepository) Search(f SearchFilter) ([]*SearchResult, error) {
	conditions := []string{"t.is_internal_transfer = 0"}
	var args []interface{}

	if f.Positive {
		conditions = append(conditions, "t.amount > 0")
	} else {
		conditions = append(conditions, "t.amount < 0")
	}
	if f.CompanyID != 0 {
		conditions = append(conditions, "a.company_id = ?")
		args = append(args, f.CompanyID)
	}
	if f.UnmatchedOnly {
		conditions = append(conditions,
			"NOT EXISTS (SELECT 1 FROM matches m WHERE m.transaction_id = t.id)")
	}
	if f.Query != "" {
		conditions = append(conditions, "LOWER(t.reference) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.Query)+"%")
	}
	if f.Date != "" {
		conditions = append(conditions, "ABS(DATEDIFF(t.date, ?)) <= 200")
		args = append(args, f.Date)
	}
	if f.HasAmount {
		conditions = append(conditions, "ABS(ABS(t.amount) - ?) < 1")
		args = append(args, f.Amount)
	}

	order := "t.date DESC"
	if f.Date != "" {
		order = "ABS(DATEDIFF(t.date, ?)) ASC, t.date DESC"
		args = append(args, f.Date)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)

	rows, err := r.db.Query(`
		SELECT t.id, t.date, COALESCE(t.reference, ''), t.amount, a.name
		FROM transactions t
		JOIN accounts a ON t.account_id = a.id
		WHERE `+strings.Join(conditions, " AND ")+`
		ORDER BY `+order+`
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		sr := &SearchResult{}
		if err := rows.Scan(&sr.ID, &sr.Date, &sr.Reference, &sr.Amount, &sr.AccountName); err != nil {
			return nil, err
		}
		results = append(results, sr)
	}
	return results, rows.Err()
}

func (r *transactionRepository) ListForReport(f ReportFilter) ([]*ReportRow, error) {
	conditions := []string{"1 = 1"}
	var args []interface{}

	if f.CompanyID != 0 {
		conditions = append(conditions, "a.company_id = ?")
		args = append(args, f.CompanyID)
	}
	if f.DateFrom != "" {
		conditions = append(conditions, "t.date >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		conditions = append(conditions, "t.date <= ?")
		args = append(args, f.DateTo)
	}

	rows, err := r.db.Query(`
		SELECT t.id, t.date, t.amount, t.reference, t.accounting_code, a.name,
		       t.is_internal_transfer, t.needs_receipt,
		       EXISTS(SELECT 1 FROM matches m WHERE m.transaction_id = t.id)
		FROM transactions t
		JOIN accounts a ON t.account_id = a.id
		WHERE `+strings.Join(conditions, " AND ")+`
		ORDER BY t.date, t.id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var report []*ReportRow
	for rows.Next() {
		row := &ReportRow{}
		err := rows.Scan(&row.ID, &row.Date, &row.Amount, &row.Reference, &row.AccountingCode,
			&row.AccountName, &row.IsInternalTransfer, &row.NeedsReceipt, &row.Matched)
		if err != nil {
			return nil, err
		}
		report = append(report, row)
	}
	return report, rows.Err()
}

// ListForExport returns the company's non-transfer transactions in the date
// window, ordered by date then insertion order. This order fixes the SIE
// verification sequence numbers.
func (r *transactionRepository) ListForExport(companyID int64, dateFrom, dateTo string) ([]*models.Transaction, error) {
	rows, err := r.db.Query(`
		SELECT `+qualify(transactionColumns, "t")+`
		FROM transactions t
		JOIN accounts a ON t.account_id = a.id
		WHERE a.company_id = ?
		AND t.date >= ? AND t.date <= ?
		AND t.is_internal_transfer = 0
		ORDER BY t.date, t.id
	`, companyID, dateFrom, dateTo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// qualify prefixes each column in a comma-separated list with a table alias.
func qualify(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
