package models

import (
	"database/sql"
	"time"
)

// Company is a bookkeeping client entity. Slug is the URL-safe identifier.
type Company struct {
	ID              int64          `db:"id" json:"id"`
	Slug            string         `db:"slug" json:"slug"`
	Name            string         `db:"name" json:"name"`
	OrgNumber       sql.NullString `db:"org_number" json:"org_number"`
	FiscalYearStart sql.NullString `db:"fiscal_year_start" json:"fiscal_year_start"` // MM-DD, e.g. "05-01"
	CreatedAt       time.Time      `db:"created_at" json:"-"`
}

// Account is a bank account belonging to a company.
type Account struct {
	ID               int64          `db:"id" json:"id"`
	CompanyID        int64          `db:"company_id" json:"company_id"`
	Name             string         `db:"name" json:"name"`
	AccountNumber    sql.NullString `db:"account_number" json:"account_number"`
	AccountType      string         `db:"account_type" json:"account_type"` // bank, card, cash
	Currency         string         `db:"currency" json:"currency"`
	BankingAccountID sql.NullString `db:"banking_account_id" json:"banking_account_id"`
	CreatedAt        time.Time      `db:"created_at" json:"-"`
}

// Transaction is one bank ledger line. Dates are stored as YYYY-MM-DD strings.
// Negative amounts are outflows.
type Transaction struct {
	ID                 int64           `db:"id" json:"id"`
	AccountID          int64           `db:"account_id" json:"account_id"`
	Date               string          `db:"date" json:"date"`
	Amount             float64         `db:"amount" json:"amount"`
	Balance            sql.NullFloat64 `db:"balance" json:"balance"`
	Reference          sql.NullString  `db:"reference" json:"reference"`
	RawReference       sql.NullString  `db:"raw_reference" json:"raw_reference"`
	Category           sql.NullString  `db:"category" json:"category"`
	IsInternalTransfer bool            `db:"is_internal_transfer" json:"is_internal_transfer"`
	LinkedTransferID   sql.NullInt64   `db:"linked_transfer_id" json:"linked_transfer_id"`
	AccountingCode     sql.NullString  `db:"accounting_code" json:"accounting_code"`
	NeedsReceipt       sql.NullBool    `db:"needs_receipt" json:"needs_receipt"` // null means true
	ExternalID         sql.NullString  `db:"external_id" json:"external_id"`
	ImportFingerprint  sql.NullString  `db:"import_fingerprint" json:"import_fingerprint"`
	Notes              sql.NullString  `db:"notes" json:"notes"`
	CreatedAt          time.Time       `db:"created_at" json:"-"`
}

// StoredFile is a content-addressed file record; several documents may
// reference the same file.
type StoredFile struct {
	ID          int64          `db:"id" json:"id"`
	Filepath    string         `db:"filepath" json:"filepath"`
	Filename    string         `db:"filename" json:"filename"`
	ContentHash sql.NullString `db:"content_hash" json:"content_hash"`
	MimeType    sql.NullString `db:"mime_type" json:"mime_type"`
	FileSize    sql.NullInt64  `db:"file_size" json:"file_size"`
	CreatedAt   time.Time      `db:"created_at" json:"-"`
}

// Document is a source document (invoice, receipt, outgoing invoice).
// Amounts are gross; net/VAT columns hold the extracted split, with SEK
// equivalents for foreign-currency documents.
type Document struct {
	ID               int64           `db:"id" json:"id"`
	FileID           sql.NullInt64   `db:"file_id" json:"file_id"`
	CompanyID        int64           `db:"company_id" json:"company_id"`
	DocType          string          `db:"doc_type" json:"doc_type"`
	Amount           sql.NullFloat64 `db:"amount" json:"amount"`
	Currency         sql.NullString  `db:"currency" json:"currency"`
	AmountSEK        sql.NullFloat64 `db:"amount_sek" json:"amount_sek"`
	DocDate          sql.NullString  `db:"doc_date" json:"doc_date"`
	DueDate          sql.NullString  `db:"due_date" json:"due_date"`
	InvoiceNumber    sql.NullString  `db:"invoice_number" json:"invoice_number"`
	OCRNumber        sql.NullString  `db:"ocr_number" json:"ocr_number"`
	NetAmount        sql.NullFloat64 `db:"net_amount" json:"net_amount"`
	VATAmount        sql.NullFloat64 `db:"vat_amount" json:"vat_amount"`
	NetAmountSEK     sql.NullFloat64 `db:"net_amount_sek" json:"net_amount_sek"`
	VATAmountSEK     sql.NullFloat64 `db:"vat_amount_sek" json:"vat_amount_sek"`
	VATBreakdownJSON sql.NullString  `db:"vat_breakdown_json" json:"vat_breakdown_json"`
	PartyID          sql.NullInt64   `db:"party_id" json:"party_id"`
	ReviewedAt       sql.NullString  `db:"reviewed_at" json:"reviewed_at"`
	Archived         bool            `db:"archived" json:"archived"`
	Notes            sql.NullString  `db:"notes" json:"notes"`
	CreatedAt        time.Time       `db:"created_at" json:"-"`
}

// Match links a transaction to a document. Unique per (transaction, document);
// re-creating the pair overwrites it.
type Match struct {
	ID            int64           `db:"id" json:"id"`
	TransactionID int64           `db:"transaction_id" json:"transaction_id"`
	DocumentID    int64           `db:"document_id" json:"document_id"`
	MatchType     string          `db:"match_type" json:"match_type"`
	Confidence    sql.NullFloat64 `db:"confidence" json:"confidence"`
	MatchedBy     string          `db:"matched_by" json:"matched_by"`
	MatchedAt     time.Time       `db:"matched_at" json:"matched_at"`
}

// Transfer pairs two transactions representing one money movement between
// accounts owned by the same company.
type Transfer struct {
	ID                int64          `db:"id" json:"id"`
	FromTransactionID int64          `db:"from_transaction_id" json:"from_transaction_id"`
	ToTransactionID   int64          `db:"to_transaction_id" json:"to_transaction_id"`
	TransferType      string         `db:"transfer_type" json:"transfer_type"`
	Notes             sql.NullString `db:"notes" json:"notes"`
	CreatedAt         time.Time      `db:"created_at" json:"-"`
}

// Party is a vendor/customer/authority. Patterns are case-insensitive
// substrings matched against transaction references; DefaultCode is the BAS
// code propagated onto matched transactions.
type Party struct {
	ID          int64          `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Slug        sql.NullString `db:"slug" json:"slug"`
	EntityType  sql.NullString `db:"entity_type" json:"entity_type"`
	OrgNumber   sql.NullString `db:"org_number" json:"org_number"`
	Patterns    []string       `db:"-" json:"patterns"`
	DefaultCode sql.NullString `db:"default_code" json:"default_code"`
	CreatedAt   time.Time      `db:"created_at" json:"-"`
}

// PartyRelation ties a party to a company with a typed relationship.
type PartyRelation struct {
	ID           int64  `db:"id" json:"id"`
	CompanyID    int64  `db:"company_id" json:"company_id"`
	PartyID      int64  `db:"party_id" json:"party_id"`
	Relationship string `db:"relationship" json:"relationship"`
}

// BASAccount is one row of the Swedish standard chart of accounts.
type BASAccount struct {
	Code string `db:"code" json:"code"`
	Name string `db:"name" json:"name"`
}

// ConsentSession tracks an open-banking consent for a company.
type ConsentSession struct {
	ID         int64          `db:"id" json:"id"`
	CompanyID  int64          `db:"company_id" json:"company_id"`
	SessionID  string         `db:"session_id" json:"session_id"`
	ValidUntil sql.NullString `db:"valid_until" json:"valid_until"`
	Status     string         `db:"status" json:"status"`
	CreatedAt  time.Time      `db:"created_at" json:"-"`
}

// OAuthState is a single-use CSRF token for the consent redirect flow.
type OAuthState struct {
	ID        int64     `db:"id" json:"id"`
	State     string    `db:"state" json:"state"`
	CompanyID int64     `db:"company_id" json:"company_id"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	Used      bool      `db:"used" json:"used"`
	CreatedAt time.Time `db:"created_at" json:"-"`
}

// Match type constants
const (
	MatchTypeManual    = "manual"
	MatchTypeAuto      = "auto"
	MatchTypeSuggested = "suggested"
)

// Transaction category constants
const (
	CategoryExpense  = "expense"
	CategoryTransfer = "transfer"
)

// Document type constants. OutgoingInvoice is the only sales-side type; all
// other document types count as purchases for VAT direction.
const (
	DocTypeInvoice         = "invoice"
	DocTypeReceipt         = "receipt"
	DocTypeOutgoingInvoice = "outgoing_invoice"
)

// Consent session status constants
const (
	SessionStatusActive  = "active"
	SessionStatusExpired = "expired"
	SessionStatusRevoked = "revoked"
)

// Party relationship constants
const (
	RelationshipVendor    = "vendor"
	RelationshipCustomer  = "customer"
	RelationshipAuthority = "authority"
	RelationshipCharity   = "charity"
)

// NeedsReceipt reports the effective needs_receipt flag; NULL defaults to true.
func (t *Transaction) NeedsReceiptEffective() bool {
	if !t.NeedsReceipt.Valid {
		return true
	}
	return t.NeedsReceipt.Bool
}
