package importer

import (
	"context"
	"database/sql"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"openvera/internal/apperr"
	"openvera/internal/banking"
	"openvera/internal/models"
)

type mockCompanySource struct {
	ListCompaniesFn      func() ([]*models.Company, error)
	GetCompanyBySlugFn   func(slug string) (*models.Company, error)
	ListMappedAccountsFn func(companyID int64) ([]*models.Account, error)
}

func (m *mockCompanySource) ListCompanies() ([]*models.Company, error) {
	return m.ListCompaniesFn()
}

func (m *mockCompanySource) GetCompanyBySlug(slug string) (*models.Company, error) {
	return m.GetCompanyBySlugFn(slug)
}

func (m *mockCompanySource) ListMappedAccounts(companyID int64) ([]*models.Account, error) {
	return m.ListMappedAccountsFn(companyID)
}

type mockSessionSource struct {
	ActiveSessionFn     func(companyID int64) (*models.ConsentSession, error)
	MarkSessionStatusFn func(id int64, status string) error
}

func (m *mockSessionSource) ActiveSession(companyID int64) (*models.ConsentSession, error) {
	return m.ActiveSessionFn(companyID)
}

func (m *mockSessionSource) MarkSessionStatus(id int64, status string) error {
	return m.MarkSessionStatusFn(id, status)
}

type mockTransactionSink struct {
	InsertImportedFn func(t *models.Transaction) error
	LatestDateFn     func(accountID int64) (string, error)
}

func (m *mockTransactionSink) InsertImported(t *models.Transaction) error {
	return m.InsertImportedFn(t)
}

func (m *mockTransactionSink) LatestDate(accountID int64) (string, error) {
	return m.LatestDateFn(accountID)
}

type clientFunc func(ctx context.Context, accountUID, dateFrom, dateTo string) ([]banking.Transaction, error)

func (f clientFunc) GetTransactions(ctx context.Context, accountUID, dateFrom, dateTo string) ([]banking.Transaction, error) {
	return f(ctx, accountUID, dateFrom, dateTo)
}

func TestMapBankTransactionSigns(t *testing.T) {
	debit, err := MapBankTransaction(1, banking.Transaction{
		BookingDate:          "2026-02-01",
		CreditDebitIndicator: "DBIT",
		TransactionAmount:    banking.Amount{Currency: "SEK", Amount: "350.00"},
	})
	if err != nil {
		t.Fatalf("MapBankTransaction: %v", err)
	}
	if debit.Amount != -350 {
		t.Errorf("debit should be negative, got %v", debit.Amount)
	}

	credit, err := MapBankTransaction(1, banking.Transaction{
		BookingDate:          "2026-02-01",
		CreditDebitIndicator: "CRDT",
		TransactionAmount:    banking.Amount{Currency: "SEK", Amount: "-350.00"},
	})
	if err != nil {
		t.Fatalf("MapBankTransaction: %v", err)
	}
	if credit.Amount != 350 {
		t.Errorf("credit should be positive, got %v", credit.Amount)
	}
}

func TestMapBankTransactionDateFallback(t *testing.T) {
	txn, err := MapBankTransaction(1, banking.Transaction{
		ValueDate:         "2026-02-02",
		TransactionAmount: banking.Amount{Amount: "10"},
	})
	if err != nil {
		t.Fatalf("MapBankTransaction: %v", err)
	}
	if txn.Date != "2026-02-02" {
		t.Errorf("expected value date fallback, got %q", txn.Date)
	}

	if _, err := MapBankTransaction(1, banking.Transaction{
		TransactionAmount: banking.Amount{Amount: "10"},
	}); err == nil {
		t.Error("expected error for transaction without any date")
	}
}

func TestMapBankTransactionReferenceFallback(t *testing.T) {
	txn, err := MapBankTransaction(1, banking.Transaction{
		BookingDate:           "2026-02-01",
		TransactionAmount:     banking.Amount{Amount: "10"},
		RemittanceInformation: []string{"Faktura", "", "12345"},
	})
	if err != nil {
		t.Fatalf("MapBankTransaction: %v", err)
	}
	if txn.Reference.String != "Faktura 12345" {
		t.Errorf("remittance not joined: %q", txn.Reference.String)
	}

	txn, err = MapBankTransaction(1, banking.Transaction{
		BookingDate:       "2026-02-01",
		TransactionAmount: banking.Amount{Amount: "10"},
		Creditor:          &banking.Counterparty{Name: "Telia AB"},
	})
	if err != nil {
		t.Fatalf("MapBankTransaction: %v", err)
	}
	if txn.Reference.String != "Telia AB" {
		t.Errorf("creditor fallback not used: %q", txn.Reference.String)
	}
}

func TestFetchSkipsExpiredSession(t *testing.T) {
	marked := ""
	fetcher := NewFetcher(
		clientFunc(func(ctx context.Context, accountUID, dateFrom, dateTo string) ([]banking.Transaction, error) {
			t.Fatal("client should not be called for an expired session")
			return nil, nil
		}),
		&mockCompanySource{
			ListCompaniesFn: func() ([]*models.Company, error) {
				return []*models.Company{{ID: 1, Slug: "acme"}}, nil
			},
		},
		&mockSessionSource{
			ActiveSessionFn: func(companyID int64) (*models.ConsentSession, error) {
				return &models.ConsentSession{
					ID:         5,
					CompanyID:  companyID,
					SessionID:  "s1",
					ValidUntil: sql.NullString{String: "2020-01-01T00:00:00", Valid: true},
					Status:     models.SessionStatusActive,
				}, nil
			},
			MarkSessionStatusFn: func(id int64, status string) error {
				if id != 5 {
					t.Errorf("wrong session marked: %d", id)
				}
				marked = status
				return nil
			},
		},
		&mockTransactionSink{},
		zerolog.New(io.Discard),
	)

	result, err := fetcher.Fetch(context.Background(), FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if marked != models.SessionStatusExpired {
		t.Errorf("session not marked expired, got %q", marked)
	}
	if result.Imported != 0 {
		t.Errorf("nothing should import, got %+v", result)
	}
}

func TestFetchIncrementalFromLatestDate(t *testing.T) {
	var requestedFrom string
	inserted := 0

	fetcher := NewFetcher(
		clientFunc(func(ctx context.Context, accountUID, dateFrom, dateTo string) ([]banking.Transaction, error) {
			requestedFrom = dateFrom
			return []banking.Transaction{
				{
					BookingDate:          "2026-03-02",
					CreditDebitIndicator: "DBIT",
					TransactionAmount:    banking.Amount{Amount: "100.00"},
					TransactionID:        "t-100",
				},
			}, nil
		}),
		&mockCompanySource{
			ListCompaniesFn: func() ([]*models.Company, error) {
				return []*models.Company{{ID: 1, Slug: "acme"}}, nil
			},
			ListMappedAccountsFn: func(companyID int64) ([]*models.Account, error) {
				return []*models.Account{{
					ID:               10,
					Name:             "Företagskonto",
					BankingAccountID: sql.NullString{String: "uid-1", Valid: true},
				}}, nil
			},
		},
		&mockSessionSource{
			ActiveSessionFn: func(companyID int64) (*models.ConsentSession, error) {
				return &models.ConsentSession{ID: 1, SessionID: "s1", Status: models.SessionStatusActive}, nil
			},
		},
		&mockTransactionSink{
			LatestDateFn: func(accountID int64) (string, error) {
				return "2026-03-01", nil
			},
			InsertImportedFn: func(txn *models.Transaction) error {
				inserted++
				if txn.ExternalID.String != "t-100" {
					t.Errorf("external id not carried: %+v", txn.ExternalID)
				}
				return nil
			},
		},
		zerolog.New(io.Discard),
	)

	result, err := fetcher.Fetch(context.Background(), FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if requestedFrom != "2026-03-01" {
		t.Errorf("expected incremental fetch from latest date, got %q", requestedFrom)
	}
	if inserted != 1 || result.Imported != 1 {
		t.Errorf("unexpected result: inserted=%d %+v", inserted, result)
	}
}

func TestFetchSkipsCompanyWithoutSession(t *testing.T) {
	fetcher := NewFetcher(
		clientFunc(func(ctx context.Context, accountUID, dateFrom, dateTo string) ([]banking.Transaction, error) {
			t.Fatal("client should not be called")
			return nil, nil
		}),
		&mockCompanySource{
			ListCompaniesFn: func() ([]*models.Company, error) {
				return []*models.Company{{ID: 1, Slug: "acme"}}, nil
			},
		},
		&mockSessionSource{
			ActiveSessionFn: func(companyID int64) (*models.ConsentSession, error) {
				return nil, apperr.NotFound("no active banking session for company #%d", companyID)
			},
		},
		&mockTransactionSink{},
		zerolog.New(io.Discard),
	)

	result, err := fetcher.Fetch(context.Background(), FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if result.Imported != 0 || result.Errors != 0 {
		t.Errorf("expected clean skip, got %+v", result)
	}
}
