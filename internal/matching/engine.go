// Package matching coordinates transaction/document matches and internal
// transfer links on top of the repositories.
package matching

import (
	"database/sql"

	"openvera/internal/apperr"
	"openvera/internal/models"
)

// TransactionStore is the transaction access the engine needs.
type TransactionStore interface {
	GetTransactionByID(id int64) (*models.Transaction, error)
	CompanyIDsForTransactions(ids []int64) (map[int64]int64, error)
}

// DocumentStore is the document access the engine needs.
type DocumentStore interface {
	GetDocumentByID(id int64) (*models.Document, error)
}

// ReconciliationStore is the match/transfer persistence the engine drives.
type ReconciliationStore interface {
	UpsertMatchWithPropagation(m *models.Match) error
	DeleteMatch(transactionID, documentID int64) error
	SetTransferFlag(transactionID int64, isTransfer bool) error
	LinkTransfers(fromID, toID int64, notes sql.NullString) (int64, error)
	UnlinkTransfer(transferID int64) error
}

type Engine struct {
	transactions   TransactionStore
	documents      DocumentStore
	reconciliation ReconciliationStore
}

func NewEngine(transactions TransactionStore, documents DocumentStore, reconciliation ReconciliationStore) *Engine {
	return &Engine{
		transactions:   transactions,
		documents:      documents,
		reconciliation: reconciliation,
	}
}

// CreateMatch links a transaction to a document. Both sides must exist. An
// existing (transaction, document) pair is overwritten rather than duplicated,
// and the document party's default accounting code is copied onto the
// transaction when the transaction has none.
func (e *Engine) CreateMatch(transactionID, documentID int64, matchType, matchedBy string, confidence *float64) (*models.Match, error) {
	switch matchType {
	case models.MatchTypeManual, models.MatchTypeAuto, models.MatchTypeSuggested:
	default:
		return nil, apperr.Validation("unknown match type %q", matchType)
	}

	if _, err := e.transactions.GetTransactionByID(transactionID); err != nil {
		return nil, err
	}
	if _, err := e.documents.GetDocumentByID(documentID); err != nil {
		return nil, err
	}

	match := &models.Match{
		TransactionID: transactionID,
		DocumentID:    documentID,
		MatchType:     matchType,
		MatchedBy:     matchedBy,
	}
	if confidence != nil {
		match.Confidence = sql.NullFloat64{Float64: *confidence, Valid: true}
	}
	if err := e.reconciliation.UpsertMatchWithPropagation(match); err != nil {
		return nil, err
	}
	return match, nil
}

// DeleteMatch removes the pair. Deleting a pair that does not exist is not an
// error.
func (e *Engine) DeleteMatch(transactionID, documentID int64) error {
	return e.reconciliation.DeleteMatch(transactionID, documentID)
}

// MarkTransfer toggles the internal-transfer flag on a single transaction
// without pairing it.
func (e *Engine) MarkTransfer(transactionID int64, isTransfer bool) error {
	return e.reconciliation.SetTransferFlag(transactionID, isTransfer)
}

// LinkTransfers pairs two transactions as one internal money movement. Both
// must exist and belong to the same company; on any failure nothing is
// written.
func (e *Engine) LinkTransfers(fromID, toID int64, notes string) (int64, error) {
	if fromID == toID {
		return 0, apperr.Validation("cannot link a transaction to itself")
	}

	companies, err := e.transactions.CompanyIDsForTransactions([]int64{fromID, toID})
	if err != nil {
		return 0, err
	}
	fromCompany, ok := companies[fromID]
	if !ok {
		return 0, apperr.NotFound("transaction #%d", fromID)
	}
	toCompany, ok := companies[toID]
	if !ok {
		return 0, apperr.NotFound("transaction #%d", toID)
	}
	if fromCompany != toCompany {
		return 0, apperr.Conflict("transactions #%d and #%d belong to different companies", fromID, toID)
	}

	var nullNotes sql.NullString
	if notes != "" {
		nullNotes = sql.NullString{String: notes, Valid: true}
	}
	return e.reconciliation.LinkTransfers(fromID, toID, nullNotes)
}

// UnlinkTransfer removes a transfer pair; each side keeps its transfer flag
// only while some other transfer still references it.
func (e *Engine) UnlinkTransfer(transferID int64) error {
	return e.reconciliation.UnlinkTransfer(transferID)
}
