package repositories

import (
	"database/sql"

	"openvera/internal/apperr"
	"openvera/internal/database"
	"openvera/internal/models"
)

type CompanyRepository interface {
	CreateCompany(c *models.Company) error
	GetCompanyBySlug(slug string) (*models.Company, error)
	GetCompanyByID(id int64) (*models.Company, error)
	ListCompanies() ([]*models.Company, error)
	UpdateCompany(c *models.Company) error
	DeleteCompany(id int64) error
	CreateAccount(a *models.Account) error
	GetAccountByID(id int64) (*models.Account, error)
	GetAccountByNumber(accountNumber string) (*models.Account, error)
	ListAccounts(companyID int64) ([]*models.Account, error)
	ListMappedAccounts(companyID int64) ([]*models.Account, error)
	UpdateAccount(a *models.Account) error
	DeleteAccount(id int64) error
	MapAccountByIdentifier(companyID int64, bankingUID, identifier string) (bool, error)
	CountMappedAccounts(companyID int64) (int, error)
	BASAccountNames() (map[string]string, error)
}

type companyRepository struct {
	db *sql.DB
}

func NewCompanyRepository(db *sql.DB) CompanyRepository {
	return &companyRepository{db: db}
}

const companyColumns = "id, slug, name, org_number, fiscal_year_start, created_at"

func scanCompany(row interface{ Scan(...interface{}) error }) (*models.Company, error) {
	c := &models.Company{}
	err := row.Scan(&c.ID, &c.Slug, &c.Name, &c.OrgNumber, &c.FiscalYearStart, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *companyRepository) CreateCompany(c *models.Company) error {
	query := `
		INSERT INTO companies (slug, name, org_number, fiscal_year_start)
		VALUES (?, ?, ?, ?)
	`
	result, err := r.db.Exec(query, c.Slug, c.Name, c.OrgNumber, c.FiscalYearStart)
	if err != nil {
		if database.IsDuplicateEntry(err) {
			return apperr.Conflict("company slug %q already exists", c.Slug)
		}
		return err
	}
	c.ID, err = result.LastInsertId()
	return err
}

func (r *companyRepository) GetCompanyBySlug(slug string) (*models.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE slug = ?`
	c, err := scanCompany(r.db.QueryRow(query, slug))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("company %q", slug)
	}
	return c, err
}

func (r *companyRepository) GetCompanyByID(id int64) (*models.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE id = ?`
	c, err := scanCompany(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("company #%d", id)
	}
	return c, err
}

func (r *companyRepository) ListCompanies() ([]*models.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies ORDER BY name`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var companies []*models.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		companies = append(companies, c)
	}
	return companies, rows.Err()
}

func (r *companyRepository) UpdateCompany(c *models.Company) error {
	query := `
		UPDATE companies SET slug = ?, name = ?, org_number = ?, fiscal_year_start = ?
		WHERE id = ?
	`
	result, err := r.db.Exec(query, c.Slug, c.Name, c.OrgNumber, c.FiscalYearStart, c.ID)
	if err != nil {
		if database.IsDuplicateEntry(err) {
			return apperr.Conflict("company slug %q already exists", c.Slug)
		}
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound("company #%d", c.ID)
	}
	return nil
}

// DeleteCompany removes a company and everything that hangs off it, children
// before parents, in one transaction.
func (r *companyRepository) DeleteCompany(id int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	steps := []string{
		`DELETE m FROM matches m
		 JOIN documents d ON m.document_id = d.id
		 WHERE d.company_id = ?`,
		`DELETE m FROM matches m
		 JOIN transactions t ON m.transaction_id = t.id
		 JOIN accounts a ON t.account_id = a.id
		 WHERE a.company_id = ?`,
		`DELETE tr FROM transfers tr
		 JOIN transactions t ON tr.from_transaction_id = t.id
		 JOIN accounts a ON t.account_id = a.id
		 WHERE a.company_id = ?`,
		`DELETE tr FROM transfers tr
		 JOIN transactions t ON tr.to_transaction_id = t.id
		 JOIN accounts a ON t.account_id = a.id
		 WHERE a.company_id = ?`,
		`UPDATE transactions t
		 JOIN accounts a ON t.account_id = a.id
		 SET t.linked_transfer_id = NULL
		 WHERE a.company_id = ?`,
		`DELETE FROM documents WHERE company_id = ?`,
		`DELETE t FROM transactions t
		 JOIN accounts a ON t.account_id = a.id
		 WHERE a.company_id = ?`,
		`DELETE FROM accounts WHERE company_id = ?`,
		`DELETE FROM party_relations WHERE company_id = ?`,
		`DELETE FROM oauth_states WHERE company_id = ?`,
		`DELETE FROM banking_sessions WHERE company_id = ?`,
	}
	for _, step := range steps {
		if _, err := tx.Exec(step, id); err != nil {
			return err
		}
	}

	// Orphaned files (no remaining document references) go too.
	if _, err := tx.Exec(`
		DELETE f FROM files f
		LEFT JOIN documents d ON d.file_id = f.id
		WHERE d.id IS NULL
	`); err != nil {
		return err
	}

	result, err := tx.Exec(`DELETE FROM companies WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound("company #%d", id)
	}
	return tx.Commit()
}

const accountColumns = "id, company_id, name, account_number, account_type, currency, banking_account_id, created_at"

func scanAccount(row interface{ Scan(...interface{}) error }) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(&a.ID, &a.CompanyID, &a.Name, &a.AccountNumber, &a.AccountType,
		&a.Currency, &a.BankingAccountID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *companyRepository) CreateAccount(a *models.Account) error {
	query := `
		INSERT INTO accounts (company_id, name, account_number, account_type, currency)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query, a.CompanyID, a.Name, a.AccountNumber, a.AccountType, a.Currency)
	if err != nil {
		return err
	}
	a.ID, err = result.LastInsertId()
	return err
}

func (r *companyRepository) GetAccountByID(id int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	a, err := scanAccount(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("account #%d", id)
	}
	return a, err
}

func (r *companyRepository) GetAccountByNumber(accountNumber string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = ?`
	a, err := scanAccount(r.db.QueryRow(query, accountNumber))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("account number %q", accountNumber)
	}
	return a, err
}

func (r *companyRepository) ListAccounts(companyID int64) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE company_id = ? ORDER BY name`
	return r.queryAccounts(query, companyID)
}

func (r *companyRepository) ListMappedAccounts(companyID int64) ([]*models.Account, error) {
	query := `
		SELECT ` + accountColumns + ` FROM accounts
		WHERE company_id = ? AND banking_account_id IS NOT NULL
		ORDER BY name
	`
	return r.queryAccounts(query, companyID)
}

func (r *companyRepository) queryAccounts(query string, args ...interface{}) ([]*models.Account, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *companyRepository) UpdateAccount(a *models.Account) error {
	query := `
		UPDATE accounts SET name = ?, account_number = ?, account_type = ?, currency = ?
		WHERE id = ?
	`
	result, err := r.db.Exec(query, a.Name, a.AccountNumber, a.AccountType, a.Currency, a.ID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound("account #%d", a.ID)
	}
	return nil
}

// DeleteAccount removes an account with its transactions, matches and
// transfer links, children first, in one transaction.
func (r *companyRepository) DeleteAccount(id int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	steps := []string{
		`DELETE tr FROM transfers tr
		 JOIN transactions t ON tr.from_transaction_id = t.id
		 WHERE t.account_id = ?`,
		`DELETE tr FROM transfers tr
		 JOIN transactions t ON tr.to_transaction_id = t.id
		 WHERE t.account_id = ?`,
		`UPDATE transactions SET linked_transfer_id = NULL
		 WHERE linked_transfer_id IN (SELECT id FROM (
		     SELECT id FROM transactions WHERE account_id = ?
		 ) AS doomed)`,
		`DELETE m FROM matches m
		 JOIN transactions t ON m.transaction_id = t.id
		 WHERE t.account_id = ?`,
		`DELETE FROM transactions WHERE account_id = ?`,
	}
	for _, step := range steps {
		if _, err := tx.Exec(step, id); err != nil {
			return err
		}
	}

	result, err := tx.Exec(`DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound("account #%d", id)
	}
	return tx.Commit()
}

// MapAccountByIdentifier binds an upstream account UID to the first unmapped
// account whose stored number equals the identifier or is a suffix of it
// (bank exports often carry partial account numbers).
func (r *companyRepository) MapAccountByIdentifier(companyID int64, bankingUID, identifier string) (bool, error) {
	query := `
		UPDATE accounts
		SET banking_account_id = ?
		WHERE company_id = ?
		AND banking_account_id IS NULL
		AND account_number IS NOT NULL
		AND (account_number = ? OR ? LIKE CONCAT('%', account_number))
		LIMIT 1
	`
	result, err := r.db.Exec(query, bankingUID, companyID, identifier, identifier)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *companyRepository) CountMappedAccounts(companyID int64) (int, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM accounts
		WHERE company_id = ? AND banking_account_id IS NOT NULL
	`, companyID).Scan(&count)
	return count, err
}

func (r *companyRepository) BASAccountNames() (map[string]string, error) {
	rows, err := r.db.Query(`SELECT code, name FROM bas_accounts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make(map[string]string)
	for rows.Next() {
		var code, name string
		if err := rows.Scan(&code, &name); err != nil {
			return nil, err
		}
		names[code] = name
	}
	return names, rows.Err()
}
