package repositories

import (
	"database/sql"
	"strings"
	"time"

	"openvera/internal/apperr"
	"openvera/internal/models"
)

// MatchFilter narrows the match listing; zero values mean "no constraint".
type MatchFilter struct {
	TransactionID int64
	DocumentID    int64
	CompanySlug   string
}

// MatchDetail is a match joined with both sides for listing.
type MatchDetail struct {
	ID              int64           `json:"id"`
	TransactionID   int64           `json:"transaction_id"`
	DocumentID      int64           `json:"document_id"`
	MatchType       string          `json:"match_type"`
	Confidence      sql.NullFloat64 `json:"confidence"`
	MatchedBy       string          `json:"matched_by"`
	MatchedAt       time.Time       `json:"matched_at"`
	TransactionDate string          `json:"transaction_date"`
	Reference       sql.NullString  `json:"reference"`
	Amount          float64         `json:"amount"`
	DocType         string          `json:"doc_type"`
	DocAmount       sql.NullFloat64 `json:"doc_amount"`
	DocCurrency     sql.NullString  `json:"doc_currency"`
	PartyName       sql.NullString  `json:"party_name"`
	CompanySlug     string          `json:"company_slug"`
}

// TransferDetail is a transfer joined with both transactions for listing.
type TransferDetail struct {
	ID            int64          `json:"id"`
	FromID        int64          `json:"from_transaction_id"`
	ToID          int64          `json:"to_transaction_id"`
	TransferType  string         `json:"transfer_type"`
	Notes         sql.NullString `json:"notes"`
	CreatedAt     time.Time      `json:"created_at"`
	FromDate      string         `json:"from_date"`
	FromAmount    float64        `json:"from_amount"`
	FromReference sql.NullString `json:"from_reference"`
	FromAccount   string         `json:"from_account"`
	ToDate        string         `json:"to_date"`
	ToAmount      float64        `json:"to_amount"`
	ToReference   sql.NullString `json:"to_reference"`
	ToAccount     string         `json:"to_account"`
	CompanySlug   string         `json:"company_slug"`
}

// VATDocRow is one matched document, deduplicated, for the VAT report.
// FirstMatchedAt is the earliest manual/auto match timestamp.
type VATDocRow struct {
	DocID          int64
	DocType        string
	Currency       sql.NullString
	NetSEK         sql.NullFloat64
	VATSEK         sql.NullFloat64
	GrossAmount    sql.NullFloat64
	GrossSEK       sql.NullFloat64
	BreakdownJSON  sql.NullString
	FirstMatchedAt time.Time
}

// ExportMatchRow is one manual/auto match carrying VAT data for SIE export,
// ordered by match timestamp. MatchCount is the number of manual/auto matches
// the document participates in (one-to-many detection).
type ExportMatchRow struct {
	TransactionID int64
	DocID         int64
	DocType       string
	Currency      sql.NullString
	VATSEK        sql.NullFloat64
	NetSEK        sql.NullFloat64
	BreakdownJSON sql.NullString
	MatchedAt     time.Time
	MatchCount    int
}

type ReconciliationRepository interface {
	UpsertMatchWithPropagation(m *models.Match) error
	DeleteMatch(transactionID, documentID int64) error
	ListMatches(f MatchFilter) ([]*MatchDetail, error)
	SetTransferFlag(transactionID int64, isTransfer bool) error
	LinkTransfers(fromID, toID int64, notes sql.NullString) (int64, error)
	UnlinkTransfer(transferID int64) error
	ListTransfers(companySlug string) ([]*TransferDetail, error)
	VATDocuments(companyID int64, dateFrom, dateTo string) ([]*VATDocRow, error)
	ExportMatchRows(companyID int64, dateFrom, dateTo string) ([]*ExportMatchRow, error)
}

type reconciliationRepository struct {
	db *sql.DB
}

func NewReconciliationRepository(db *sql.DB) ReconciliationRepository {
	return &reconciliationRepository{db: db}
}

// UpsertMatchWithPropagation writes the (transaction, document) pair,
// overwriting an existing pair, and copies the document party's default
// accounting code onto the transaction when the transaction is still uncoded.
// Both writes commit or roll back together.
func (r *reconciliationRepository) UpsertMatchWithPropagation(m *models.Match) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO matches (transaction_id, document_id, match_type, matched_by, confidence)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			match_type = VALUES(match_type),
			matched_by = VALUES(matched_by),
			confidence = VALUES(confidence)
	`, m.TransactionID, m.DocumentID, m.MatchType, m.MatchedBy, m.Confidence)
	if err != nil {
		return err
	}
	if id, err := result.LastInsertId(); err == nil && id != 0 {
		m.ID = id
	}

	// One-way, one-time propagation: never overwrites an existing code.
	_, err = tx.Exec(`
		UPDATE transactions t
		JOIN documents d ON d.id = ?
		JOIN parties p ON d.party_id = p.id
		SET t.accounting_code = p.default_code
		WHERE t.id = ?
		AND t.accounting_code IS NULL
		AND p.default_code IS NOT NULL
	`, m.DocumentID, m.TransactionID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *reconciliationRepository) DeleteMatch(transactionID, documentID int64) error {
	_, err := r.db.Exec(
		`DELETE FROM matches WHERE transaction_id = ? AND document_id = ?`,
		transactionID, documentID)
	return err
}

func (r *reconciliationRepository) ListMatches(f MatchFilter) ([]*MatchDetail, error) {
	conditions := []string{"1 = 1"}
	var args []interface{}

	if f.TransactionID != 0 {
		conditions = append(conditions, "m.transaction_id = ?")
		args = append(args, f.TransactionID)
	}
	if f.DocumentID != 0 {
		conditions = append(conditions, "m.document_id = ?")
		args = append(args, f.DocumentID)
	}
	if f.CompanySlug != "" {
		conditions = append(conditions, "c.slug = ?")
		args = append(args, f.CompanySlug)
	}

	rows, err := r.db.Query(`
		SELECT m.id, m.transaction_id, m.document_id, m.match_type,
		       m.confidence, m.matched_by, m.matched_at,
		       t.date, t.reference, t.amount,
		       d.doc_type, d.amount, d.currency,
		       p.name, c.slug
		FROM matches m
		JOIN transactions t ON m.transaction_id = t.id
		JOIN documents d ON m.document_id = d.id
		LEFT JOIN parties p ON d.party_id = p.id
		JOIN accounts a ON t.account_id = a.id
		JOIN companies c ON a.company_id = c.id
		WHERE `+strings.Join(conditions, " AND ")+`
		ORDER BY m.matched_at DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*MatchDetail
	for rows.Next() {
		md := &MatchDetail{}
		err := rows.Scan(&md.ID, &md.TransactionID, &md.DocumentID, &md.MatchType,
			&md.Confidence, &md.MatchedBy, &md.MatchedAt,
			&md.TransactionDate, &md.Reference, &md.Amount,
			&md.DocType, &md.DocAmount, &md.DocCurrency,
			&md.PartyName, &md.CompanySlug)
		if err != nil {
			return nil, err
		}
		matches = append(matches, md)
	}
	return matches, rows.Err()
}

func (r *reconciliationRepository) SetTransferFlag(transactionID int64, isTransfer bool) error {
	category := models.CategoryExpense
	if isTransfer {
		category = models.CategoryTransfer
	}
	result, err := r.db.Exec(`
		UPDATE transactions SET is_internal_transfer = ?, category = ?
		WHERE id = ?
	`, isTransfer, category, transactionID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		if err := r.db.QueryRow(
			`SELECT COUNT(*) FROM transactions WHERE id = ?`, transactionID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return apperr.NotFound("transaction #%d", transactionID)
		}
	}
	return nil
}

// LinkTransfers flags both transactions as internal transfers and inserts the
// transfer record in one transaction. Company validation happens in the engine.
func (r *reconciliationRepository) LinkTransfers(fromID, toID int64, notes sql.NullString) (int64, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE transactions SET is_internal_transfer = 1, category = ?
		WHERE id IN (?, ?)
	`, models.CategoryTransfer, fromID, toID)
	if err != nil {
		return 0, err
	}

	result, err := tx.Exec(`
		INSERT INTO transfers (from_transaction_id, to_transaction_id, notes)
		VALUES (?, ?, ?)
	`, fromID, toID, notes)
	if err != nil {
		return 0, err
	}
	transferID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	return transferID, tx.Commit()
}

// UnlinkTransfer deletes the transfer record, then clears the internal-transfer
// flag on each side only if no other transfer record still references it.
func (r *reconciliationRepository) UnlinkTransfer(transferID int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var fromID, toID int64
	err = tx.QueryRow(
		`SELECT from_transaction_id, to_transaction_id FROM transfers WHERE id = ?`,
		transferID).Scan(&fromID, &toID)
	if err == sql.ErrNoRows {
		return apperr.NotFound("transfer #%d", transferID)
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM transfers WHERE id = ?`, transferID); err != nil {
		return err
	}

	for _, txnID := range []int64{fromID, toID} {
		var remaining int
		err := tx.QueryRow(`
			SELECT COUNT(*) FROM transfers
			WHERE from_transaction_id = ? OR to_transaction_id = ?
		`, txnID, txnID).Scan(&remaining)
		if err != nil {
			return err
		}
		if remaining == 0 {
			_, err = tx.Exec(`
				UPDATE transactions SET is_internal_transfer = 0, category = ?
				WHERE id = ?
			`, models.CategoryExpense, txnID)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (r *reconciliationRepository) ListTransfers(companySlug string) ([]*TransferDetail, error) {
	conditions := "1 = 1"
	var args []interface{}
	if companySlug != "" {
		conditions = "c.slug = ?"
		args = append(args, companySlug)
	}

	rows, err := r.db.Query(`
		SELECT tr.id, tr.from_transaction_id, tr.to_transaction_id,
		       tr.transfer_type, tr.notes, tr.created_at,
		       ft.date, ft.amount, ft.reference, fa.name,
		       tt.date, tt.amount, tt.reference, ta.name,
		       c.slug
		FROM transfers tr
		JOIN transactions ft ON tr.from_transaction_id = ft.id
		JOIN transactions tt ON tr.to_transaction_id = tt.id
		JOIN accounts fa ON ft.account_id = fa.id
		JOIN accounts ta ON tt.account_id = ta.id
		JOIN companies c ON fa.company_id = c.id
		WHERE `+conditions+`
		ORDER BY tr.created_at DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []*TransferDetail
	for rows.Next() {
		td := &TransferDetail{}
		err := rows.Scan(&td.ID, &td.FromID, &td.ToID,
			&td.TransferType, &td.Notes, &td.CreatedAt,
			&td.FromDate, &td.FromAmount, &td.FromReference, &td.FromAccount,
			&td.ToDate, &td.ToAmount, &td.ToReference, &td.ToAccount,
			&td.CompanySlug)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, td)
	}
	return transfers, rows.Err()
}

// VATDocuments selects distinct matched documents for the VAT report.
// Cash basis: the transaction date gates inclusion. Suggested matches are
// excluded; a document matched to several transactions appears once with its
// earliest match timestamp.
func (r *reconciliationRepository) VATDocuments(companyID int64, dateFrom, dateTo string) ([]*VATDocRow, error) {
	conditions := []string{
		"a.company_id = ?",
		"m.match_type IN (?, ?)",
	}
	args := []interface{}{companyID, models.MatchTypeManual, models.MatchTypeAuto}

	if dateFrom != "" {
		conditions = append(conditions, "t.date >= ?")
		args = append(args, dateFrom)
	}
	if dateTo != "" {
		conditions = append(conditions, "t.date <= ?")
		args = append(args, dateTo)
	}

	rows, err := r.db.Query(`
		SELECT d.id, d.doc_type, d.currency,
		       d.net_amount_sek, d.vat_amount_sek,
		       d.amount, d.amount_sek,
		       d.vat_breakdown_json,
		       MIN(m.matched_at)
		FROM documents d
		JOIN matches m ON m.document_id = d.id
		JOIN transactions t ON m.transaction_id = t.id
		JOIN accounts a ON t.account_id = a.id
		WHERE `+strings.Join(conditions, " AND ")+`
		GROUP BY d.id, d.doc_type, d.currency, d.net_amount_sek, d.vat_amount_sek,
		         d.amount, d.amount_sek, d.vat_breakdown_json
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*VATDocRow
	for rows.Next() {
		doc := &VATDocRow{}
		err := rows.Scan(&doc.DocID, &doc.DocType, &doc.Currency,
			&doc.NetSEK, &doc.VATSEK,
			&doc.GrossAmount, &doc.GrossSEK,
			&doc.BreakdownJSON, &doc.FirstMatchedAt)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ExportMatchRows returns every manual/auto match inside the export window,
// ordered by match timestamp ascending so first-match-wins allocation is a
// simple scan. Transfer-flagged transactions are excluded like in the export
// transaction selection.
func (r *reconciliationRepository) ExportMatchRows(companyID int64, dateFrom, dateTo string) ([]*ExportMatchRow, error) {
	rows, err := r.db.Query(`
		SELECT m.transaction_id, d.id, d.doc_type, d.currency,
		       d.vat_amount_sek, d.net_amount_sek,
		       d.vat_breakdown_json, m.matched_at,
		       (SELECT COUNT(*) FROM matches m2
		        WHERE m2.document_id = d.id
		        AND m2.match_type IN (?, ?)) AS match_count
		FROM matches m
		JOIN documents d ON m.document_id = d.id
		JOIN transactions t ON m.transaction_id = t.id
		JOIN accounts a ON t.account_id = a.id
		WHERE a.company_id = ?
		AND t.date >= ? AND t.date <= ?
		AND t.is_internal_transfer = 0
		AND m.match_type IN (?, ?)
		ORDER BY m.matched_at ASC, m.id ASC
	`, models.MatchTypeManual, models.MatchTypeAuto,
		companyID, dateFrom, dateTo,
		models.MatchTypeManual, models.MatchTypeAuto)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*ExportMatchRow
	for rows.Next() {
		row := &ExportMatchRow{}
		err := rows.Scan(&row.TransactionID, &row.DocID, &row.DocType, &row.Currency,
			&row.VATSEK, &row.NetSEK, &row.BreakdownJSON, &row.MatchedAt, &row.MatchCount)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
