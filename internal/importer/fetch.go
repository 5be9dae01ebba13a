package importer

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"openvera/internal/apperr"
	"openvera/internal/banking"
	"openvera/internal/database"
	"openvera/internal/models"
)

// BankClient is the slice of the open-banking client the fetcher needs.
type BankClient interface {
	GetTransactions(ctx context.Context, accountUID, dateFrom, dateTo string) ([]banking.Transaction, error)
}

// CompanySource provides companies and their bank-mapped accounts.
type CompanySource interface {
	ListCompanies() ([]*models.Company, error)
	GetCompanyBySlug(slug string) (*models.Company, error)
	ListMappedAccounts(companyID int64) ([]*models.Account, error)
}

// SessionSource provides consent sessions.
type SessionSource interface {
	ActiveSession(companyID int64) (*models.ConsentSession, error)
	MarkSessionStatus(id int64, status string) error
}

// TransactionSink writes fetched transactions and reports the incremental
// fetch starting point.
type TransactionSink interface {
	InsertImported(t *models.Transaction) error
	LatestDate(accountID int64) (string, error)
}

// FetchOptions controls one fetch run. An empty CompanySlug fetches every
// company; an empty DateFrom continues from each account's latest stored
// transaction.
type FetchOptions struct {
	CompanySlug string
	DateFrom    string
	DryRun      bool
}

// Fetcher pulls transactions from the open-banking API into local accounts.
type Fetcher struct {
	client       BankClient
	companies    CompanySource
	sessions     SessionSource
	transactions TransactionSink
	log          zerolog.Logger
}

func NewFetcher(client BankClient, companies CompanySource, sessions SessionSource, transactions TransactionSink, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		client:       client,
		companies:    companies,
		sessions:     sessions,
		transactions: transactions,
		log:          log,
	}
}

// Fetch runs an import for the selected companies and returns the combined
// counts. Companies without an active consent or mapped accounts are skipped,
// not failed.
func (f *Fetcher) Fetch(ctx context.Context, opts FetchOptions) (*Result, error) {
	var companies []*models.Company
	if opts.CompanySlug != "" {
		company, err := f.companies.GetCompanyBySlug(opts.CompanySlug)
		if err != nil {
			return nil, err
		}
		companies = []*models.Company{company}
	} else {
		var err error
		companies, err = f.companies.ListCompanies()
		if err != nil {
			return nil, err
		}
	}

	// One batch id per run ties the per-company log lines together.
	log := f.log.With().Str("batch", uuid.NewString()).Logger()

	total := &Result{DryRun: opts.DryRun}
	for _, company := range companies {
		result, err := f.fetchCompany(ctx, log, company, opts)
		if err != nil {
			return nil, err
		}
		total.Imported += result.Imported
		total.Skipped += result.Skipped
		total.Errors += result.Errors
	}

	log.Info().
		Int("imported", total.Imported).
		Int("skipped", total.Skipped).
		Int("errors", total.Errors).
		Msg("fetch complete")
	return total, nil
}

func (f *Fetcher) fetchCompany(ctx context.Context, log zerolog.Logger, company *models.Company, opts FetchOptions) (*Result, error) {
	result := &Result{DryRun: opts.DryRun}

	session, err := f.sessions.ActiveSession(company.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		log.Info().Str("company", company.Slug).Msg("no active session, skipping")
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	if expired(session) {
		log.Warn().Str("company", company.Slug).
			Str("valid_until", session.ValidUntil.String).
			Msg("session expired, skipping")
		if err := f.sessions.MarkSessionStatus(session.ID, models.SessionStatusExpired); err != nil {
			return nil, err
		}
		return result, nil
	}

	accounts, err := f.companies.ListMappedAccounts(company.ID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		log.Info().Str("company", company.Slug).Msg("no mapped accounts, skipping")
		return result, nil
	}

	for _, account := range accounts {
		dateFrom := opts.DateFrom
		if dateFrom == "" {
			dateFrom, err = f.transactions.LatestDate(account.ID)
			if err != nil {
				return nil, err
			}
		}

		log.Info().
			Str("company", company.Slug).
			Str("account", account.Name).
			Str("from", dateFrom).
			Msg("fetching transactions")

		bankTxns, err := f.client.GetTransactions(ctx, account.BankingAccountID.String, dateFrom, "")
		if err != nil {
			log.Error().Err(err).
				Str("company", company.Slug).
				Str("account", account.Name).
				Msg("fetch failed")
			result.Errors++
			continue
		}

		for _, bankTxn := range bankTxns {
			txn, err := MapBankTransaction(account.ID, bankTxn)
			if err != nil {
				log.Warn().Err(err).Str("account", account.Name).Msg("skipping transaction")
				result.Errors++
				continue
			}

			if opts.DryRun {
				log.Info().
					Str("date", txn.Date).
					Float64("amount", txn.Amount).
					Str("reference", txn.Reference.String).
					Msg("dry run, would import")
				result.Imported++
				continue
			}

			if err := f.transactions.InsertImported(txn); err != nil {
				if database.IsDuplicateEntry(err) {
					result.Skipped++
					continue
				}
				return nil, err
			}
			result.Imported++
		}
	}
	return result, nil
}

func expired(session *models.ConsentSession) bool {
	if !session.ValidUntil.Valid {
		return false
	}
	validUntil, err := parseTimestamp(session.ValidUntil.String)
	if err != nil {
		return false
	}
	return time.Now().UTC().After(validUntil)
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, errors.New("unrecognized timestamp " + s)
}

// MapBankTransaction converts an API transaction to a local one. The booking
// date wins over value and transaction dates; the sign comes from the
// credit/debit indicator; the remittance text falls back to the counterparty
// name.
func MapBankTransaction(accountID int64, bankTxn banking.Transaction) (*models.Transaction, error) {
	date := bankTxn.BookingDate
	if date == "" {
		date = bankTxn.ValueDate
	}
	if date == "" {
		date = bankTxn.TransactionDate
	}
	if date == "" {
		return nil, apperr.Validation("transaction %q has no date", bankTxn.TransactionID)
	}

	amount, err := strconv.ParseFloat(bankTxn.TransactionAmount.Amount, 64)
	if err != nil {
		amount = 0
	}
	switch bankTxn.CreditDebitIndicator {
	case "DBIT":
		if amount > 0 {
			amount = -amount
		}
	case "CRDT":
		if amount < 0 {
			amount = -amount
		}
	}

	var balance *float64
	if bankTxn.BalanceAfter != nil {
		if v, err := strconv.ParseFloat(bankTxn.BalanceAfter.Amount, 64); err == nil {
			balance = &v
		}
	}

	var parts []string
	for _, r := range bankTxn.RemittanceInformation {
		if r != "" {
			parts = append(parts, r)
		}
	}
	reference := strings.TrimSpace(strings.Join(parts, " "))
	if reference == "" {
		if bankTxn.Creditor != nil && bankTxn.Creditor.Name != "" {
			reference = bankTxn.Creditor.Name
		} else if bankTxn.Debtor != nil && bankTxn.Debtor.Name != "" {
			reference = bankTxn.Debtor.Name
		}
	}

	externalID := bankTxn.TransactionID
	if externalID == "" {
		externalID = bankTxn.EntryReference
	}

	txn := &models.Transaction{
		AccountID:    accountID,
		Date:         date,
		Amount:       amount,
		Reference:    nullString(reference),
		RawReference: nullString(reference),
		ExternalID:   nullString(externalID),
		ImportFingerprint: sql.NullString{
			String: ComputeFingerprint(date, amount, reference, balance),
			Valid:  true,
		},
	}
	if balance != nil {
		txn.Balance = sql.NullFloat64{Float64: *balance, Valid: true}
	}
	return txn, nil
}
