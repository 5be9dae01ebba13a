package matching

import (
	"database/sql"
	"errors"
	"testing"

	"openvera/internal/apperr"
	"openvera/internal/models"
)

type mockTransactionStore struct {
	GetTransactionByIDFn        func(id int64) (*models.Transaction, error)
	CompanyIDsForTransactionsFn func(ids []int64) (map[int64]int64, error)
}

func (m *mockTransactionStore) GetTransactionByID(id int64) (*models.Transaction, error) {
	return m.GetTransactionByIDFn(id)
}

func (m *mockTransactionStore) CompanyIDsForTransactions(ids []int64) (map[int64]int64, error) {
	return m.CompanyIDsForTransactionsFn(ids)
}

type mockDocumentStore struct {
	GetDocumentByIDFn func(id int64) (*models.Document, error)
}

func (m *mockDocumentStore) GetDocumentByID(id int64) (*models.Document, error) {
	return m.GetDocumentByIDFn(id)
}

type mockReconciliationStore struct {
	UpsertMatchWithPropagationFn func(m *models.Match) error
	DeleteMatchFn                func(transactionID, documentID int64) error
	SetTransferFlagFn            func(transactionID int64, isTransfer bool) error
	LinkTransfersFn              func(fromID, toID int64, notes sql.NullString) (int64, error)
	UnlinkTransferFn             func(transferID int64) error
}

func (m *mockReconciliationStore) UpsertMatchWithPropagation(match *models.Match) error {
	return m.UpsertMatchWithPropagationFn(match)
}

func (m *mockReconciliationStore) DeleteMatch(transactionID, documentID int64) error {
	return m.DeleteMatchFn(transactionID, documentID)
}

func (m *mockReconciliationStore) SetTransferFlag(transactionID int64, isTransfer bool) error {
	return m.SetTransferFlagFn(transactionID, isTransfer)
}

func (m *mockReconciliationStore) LinkTransfers(fromID, toID int64, notes sql.NullString) (int64, error) {
	return m.LinkTransfersFn(fromID, toID, notes)
}

func (m *mockReconciliationStore) UnlinkTransfer(transferID int64) error {
	return m.UnlinkTransferFn(transferID)
}

func existingTransaction(id int64) (*models.Transaction, error) {
	return &models.Transaction{ID: id}, nil
}

func existingDocument(id int64) (*models.Document, error) {
	return &models.Document{ID: id}, nil
}

func TestCreateMatchUpserts(t *testing.T) {
	var upserted *models.Match
	engine := NewEngine(
		&mockTransactionStore{GetTransactionByIDFn: existingTransaction},
		&mockDocumentStore{GetDocumentByIDFn: existingDocument},
		&mockReconciliationStore{
			UpsertMatchWithPropagationFn: func(m *models.Match) error {
				m.ID = 42
				upserted = m
				return nil
			},
		},
	)

	confidence := 0.9
	match, err := engine.CreateMatch(1, 2, models.MatchTypeAuto, "matcher", &confidence)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if match.ID != 42 {
		t.Errorf("expected id 42, got %d", match.ID)
	}
	if upserted.TransactionID != 1 || upserted.DocumentID != 2 {
		t.Errorf("wrong pair: %+v", upserted)
	}
	if !upserted.Confidence.Valid || upserted.Confidence.Float64 != 0.9 {
		t.Errorf("confidence not carried: %+v", upserted.Confidence)
	}
}

func TestCreateMatchRejectsUnknownType(t *testing.T) {
	engine := NewEngine(
		&mockTransactionStore{GetTransactionByIDFn: existingTransaction},
		&mockDocumentStore{GetDocumentByIDFn: existingDocument},
		&mockReconciliationStore{},
	)

	_, err := engine.CreateMatch(1, 2, "bogus", "tester", nil)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateMatchMissingTransaction(t *testing.T) {
	engine := NewEngine(
		&mockTransactionStore{
			GetTransactionByIDFn: func(id int64) (*models.Transaction, error) {
				return nil, apperr.NotFound("transaction #%d", id)
			},
		},
		&mockDocumentStore{GetDocumentByIDFn: existingDocument},
		&mockReconciliationStore{
			UpsertMatchWithPropagationFn: func(m *models.Match) error {
				t.Fatal("upsert should not run when the transaction is missing")
				return nil
			},
		},
	)

	_, err := engine.CreateMatch(99, 2, models.MatchTypeManual, "tester", nil)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLinkTransfersCrossCompanyConflict(t *testing.T) {
	linked := false
	engine := NewEngine(
		&mockTransactionStore{
			CompanyIDsForTransactionsFn: func(ids []int64) (map[int64]int64, error) {
				return map[int64]int64{1: 10, 2: 20}, nil
			},
		},
		&mockDocumentStore{},
		&mockReconciliationStore{
			LinkTransfersFn: func(fromID, toID int64, notes sql.NullString) (int64, error) {
				linked = true
				return 1, nil
			},
		},
	)

	_, err := engine.LinkTransfers(1, 2, "")
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if linked {
		t.Error("link must not be written when companies differ")
	}
}

func TestLinkTransfersSelfLink(t *testing.T) {
	engine := NewEngine(&mockTransactionStore{}, &mockDocumentStore{}, &mockReconciliationStore{})

	_, err := engine.LinkTransfers(5, 5, "")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLinkTransfersMissingSide(t *testing.T) {
	engine := NewEngine(
		&mockTransactionStore{
			CompanyIDsForTransactionsFn: func(ids []int64) (map[int64]int64, error) {
				return map[int64]int64{1: 10}, nil
			},
		},
		&mockDocumentStore{},
		&mockReconciliationStore{},
	)

	_, err := engine.LinkTransfers(1, 2, "")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLinkTransfersSameCompany(t *testing.T) {
	var gotNotes sql.NullString
	engine := NewEngine(
		&mockTransactionStore{
			CompanyIDsForTransactionsFn: func(ids []int64) (map[int64]int64, error) {
				return map[int64]int64{1: 10, 2: 10}, nil
			},
		},
		&mockDocumentStore{},
		&mockReconciliationStore{
			LinkTransfersFn: func(fromID, toID int64, notes sql.NullString) (int64, error) {
				gotNotes = notes
				return 7, nil
			},
		},
	)

	id, err := engine.LinkTransfers(1, 2, "monthly sweep")
	if err != nil {
		t.Fatalf("LinkTransfers: %v", err)
	}
	if id != 7 {
		t.Errorf("expected transfer id 7, got %d", id)
	}
	if !gotNotes.Valid || gotNotes.String != "monthly sweep" {
		t.Errorf("notes not carried: %+v", gotNotes)
	}
}
