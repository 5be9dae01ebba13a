package repositories

import (
	"database/sql"
	"strings"

	"openvera/internal/apperr"
	"openvera/internal/models"
)

// DocumentFilter narrows document listing.
type DocumentFilter struct {
	CompanyID       int64
	DocType         string
	UnmatchedOnly   bool
	IncludeArchived bool
	Limit           int
}

// DocumentDetail is a document with its company slug, party name and match
// count for listing.
type DocumentDetail struct {
	models.Document
	CompanySlug string         `json:"company_slug"`
	PartyName   sql.NullString `json:"party_name"`
	Filename    sql.NullString `json:"filename"`
	MatchCount  int            `json:"match_count"`
}

type DocumentRepository interface {
	CreateDocument(doc *models.Document) error
	GetDocumentByID(id int64) (*models.Document, error)
	ListDocuments(f DocumentFilter) ([]*DocumentDetail, error)
	UpdateDocument(doc *models.Document) error
	SetArchived(id int64, archived bool) error
	MarkReviewed(id int64) error
	DeleteDocument(id int64) error
	GetOrCreateFile(file *models.StoredFile) (*models.StoredFile, error)
}

type documentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) DocumentRepository {
	return &documentRepository{db: db}
}

const documentColumns = `id, file_id, company_id, doc_type, amount, currency, amount_sek,
	doc_date, due_date, invoice_number, ocr_number,
	net_amount, vat_amount, net_amount_sek, vat_amount_sek, vat_breakdown_json,
	party_id, reviewed_at, archived, notes, created_at`

func scanDocument(row interface{ Scan(...interface{}) error }, d *models.Document) error {
	return row.Scan(&d.ID, &d.FileID, &d.CompanyID, &d.DocType, &d.Amount, &d.Currency, &d.AmountSEK,
		&d.DocDate, &d.DueDate, &d.InvoiceNumber, &d.OCRNumber,
		&d.NetAmount, &d.VATAmount, &d.NetAmountSEK, &d.VATAmountSEK, &d.VATBreakdownJSON,
		&d.PartyID, &d.ReviewedAt, &d.Archived, &d.Notes, &d.CreatedAt)
}

func (r *documentRepository) CreateDocument(doc *models.Document) error {
	result, err := r.db.Exec(`
		INSERT INTO documents (file_id, company_id, doc_type, amount, currency, amount_sek,
			doc_date, due_date, invoice_number, ocr_number,
			net_amount, vat_amount, net_amount_sek, vat_amount_sek, vat_breakdown_json,
			party_id, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.FileID, doc.CompanyID, doc.DocType, doc.Amount, doc.Currency, doc.AmountSEK,
		doc.DocDate, doc.DueDate, doc.InvoiceNumber, doc.OCRNumber,
		doc.NetAmount, doc.VATAmount, doc.NetAmountSEK, doc.VATAmountSEK, doc.VATBreakdownJSON,
		doc.PartyID, doc.Notes)
	if err != nil {
		return err
	}
	doc.ID, err = result.LastInsertId()
	return err
}

func (r *documentRepository) GetDocumentByID(id int64) (*models.Document, error) {
	doc := &models.Document{}
	row := r.db.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	if err := scanDocument(row, doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("document #%d", id)
		}
		return nil, err
	}
	return doc, nil
}

func (r *documentRepository) ListDocuments(f DocumentFilter) ([]*DocumentDetail, error) {
	conditions := []string{"1 = 1"}
	var args []interface{}

	if f.CompanyID != 0 {
		conditions = append(conditions, "d.company_id = ?")
		args = append(args, f.CompanyID)
	}
	if f.DocType != "" {
		conditions = append(conditions, "d.doc_type = ?")
		args = append(args, f.DocType)
	}
	if !f.IncludeArchived {
		conditions = append(conditions, "d.archived = 0")
	}
	if f.UnmatchedOnly {
		conditions = append(conditions, "NOT EXISTS (SELECT 1 FROM matches m WHERE m.document_id = d.id)")
	}

	query := `
		SELECT ` + qualify(documentColumns, "d") + `,
		       c.slug, p.name, f.filename,
		       (SELECT COUNT(*) FROM matches m WHERE m.document_id = d.id)
		FROM documents d
		JOIN companies c ON d.company_id = c.id
		LEFT JOIN parties p ON d.party_id = p.id
		LEFT JOIN files f ON d.file_id = f.id
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY d.doc_date DESC, d.id DESC
	`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*DocumentDetail
	for rows.Next() {
		dd := &DocumentDetail{}
		err := rows.Scan(&dd.ID, &dd.FileID, &dd.CompanyID, &dd.DocType, &dd.Amount, &dd.Currency, &dd.AmountSEK,
			&dd.DocDate, &dd.DueDate, &dd.InvoiceNumber, &dd.OCRNumber,
			&dd.NetAmount, &dd.VATAmount, &dd.NetAmountSEK, &dd.VATAmountSEK, &dd.VATBreakdownJSON,
			&dd.PartyID, &dd.ReviewedAt, &dd.Archived, &dd.Notes, &dd.CreatedAt,
			&dd.CompanySlug, &dd.PartyName, &dd.Filename, &dd.MatchCount)
		if err != nil {
			return nil, err
		}
		docs = append(docs, dd)
	}
	return docs, rows.Err()
}

func (r *documentRepository) UpdateDocument(doc *models.Document) error {
	result, err := r.db.Exec(`
		UPDATE documents SET doc_type = ?, amount = ?, currency = ?, amount_sek = ?,
			doc_date = ?, due_date = ?, invoice_number = ?, ocr_number = ?,
			net_amount = ?, vat_amount = ?, net_amount_sek = ?, vat_amount_sek = ?,
			vat_breakdown_json = ?, party_id = ?, notes = ?
		WHERE id = ?
	`, doc.DocType, doc.Amount, doc.Currency, doc.AmountSEK,
		doc.DocDate, doc.DueDate, doc.InvoiceNumber, doc.OCRNumber,
		doc.NetAmount, doc.VATAmount, doc.NetAmountSEK, doc.VATAmountSEK,
		doc.VATBreakdownJSON, doc.PartyID, doc.Notes, doc.ID)
	if err != nil {
		return err
	}
	return requireDocument(r.db, result, doc.ID)
}

func (r *documentRepository) SetArchived(id int64, archived bool) error {
	result, err := r.db.Exec(`UPDATE documents SET archived = ? WHERE id = ?`, archived, id)
	if err != nil {
		return err
	}
	return requireDocument(r.db, result, id)
}

func (r *documentRepository) MarkReviewed(id int64) error {
	result, err := r.db.Exec(`UPDATE documents SET reviewed_at = NOW() WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireDocument(r.db, result, id)
}

// requireDocument turns a zero-affected update into NotFound when the row is
// actually missing. Updates that change nothing also report zero rows, hence
// the existence probe.
func requireDocument(db *sql.DB, result sql.Result, id int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var exists int
	if err := db.QueryRow(`SELECT COUNT(*) FROM documents WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return apperr.NotFound("document #%d", id)
	}
	return nil
}

// DeleteDocument removes the document with its matches, then removes the
// underlying file record if no other document references it.
func (r *documentRepository) DeleteDocument(id int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var fileID sql.NullInt64
	err = tx.QueryRow(`SELECT file_id FROM documents WHERE id = ?`, id).Scan(&fileID)
	if err == sql.ErrNoRows {
		return apperr.NotFound("document #%d", id)
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM matches WHERE document_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM documents WHERE id = ?`, id); err != nil {
		return err
	}

	if fileID.Valid {
		var refs int
		err := tx.QueryRow(`SELECT COUNT(*) FROM documents WHERE file_id = ?`, fileID.Int64).Scan(&refs)
		if err != nil {
			return err
		}
		if refs == 0 {
			if _, err := tx.Exec(`DELETE FROM files WHERE id = ?`, fileID.Int64); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// GetOrCreateFile deduplicates uploads by content hash. When a file with the
// same hash already exists, the existing record is returned and no new row is
// written.
func (r *documentRepository) GetOrCreateFile(file *models.StoredFile) (*models.StoredFile, error) {
	if file.ContentHash.Valid {
		existing := &models.StoredFile{}
		err := r.db.QueryRow(`
			SELECT id, filepath, filename, content_hash, mime_type, file_size, created_at
			FROM files WHERE content_hash = ?
		`, file.ContentHash).Scan(&existing.ID, &existing.Filepath, &existing.Filename,
			&existing.ContentHash, &existing.MimeType, &existing.FileSize, &existing.CreatedAt)
		if err == nil {
			return existing, nil
		}
		if err != sql.ErrNoRows {
			return nil, err
		}
	}

	result, err := r.db.Exec(`
		INSERT INTO files (filepath, filename, content_hash, mime_type, file_size)
		VALUES (?, ?, ?, ?, ?)
	`, file.Filepath, file.Filename, file.ContentHash, file.MimeType, file.FileSize)
	if err != nil {
		return nil, err
	}
	file.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return file, nil
}
