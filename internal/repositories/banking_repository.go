package repositories

import (
	"database/sql"
	"time"

	"openvera/internal/apperr"
	"openvera/internal/models"
)

type BankingRepository interface {
	CreateSession(session *models.ConsentSession) error
	ActiveSession(companyID int64) (*models.ConsentSession, error)
	MarkSessionStatus(id int64, status string) error
	ListSessions(companyID int64) ([]*models.ConsentSession, error)
	CreateOAuthState(state *models.OAuthState) error
	ConsumeOAuthState(state string) (*models.OAuthState, error)
}

type bankingRepository struct {
	db *sql.DB
}

func NewBankingRepository(db *sql.DB) BankingRepository {
	return &bankingRepository{db: db}
}

// CreateSession stores a new consent and revokes any previously active one for
// the company, so ActiveSession stays unambiguous.
func (r *bankingRepository) CreateSession(session *models.ConsentSession) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE banking_sessions SET status = ?
		WHERE company_id = ? AND status = ?
	`, models.SessionStatusRevoked, session.CompanyID, models.SessionStatusActive)
	if err != nil {
		return err
	}

	result, err := tx.Exec(`
		INSERT INTO banking_sessions (company_id, session_id, valid_until, status)
		VALUES (?, ?, ?, ?)
	`, session.CompanyID, session.SessionID, session.ValidUntil, models.SessionStatusActive)
	if err != nil {
		return err
	}
	session.ID, err = result.LastInsertId()
	if err != nil {
		return err
	}
	session.Status = models.SessionStatusActive
	return tx.Commit()
}

const sessionColumns = `id, company_id, session_id, valid_until, status, created_at`

func (r *bankingRepository) ActiveSession(companyID int64) (*models.ConsentSession, error) {
	session := &models.ConsentSession{}
	err := r.db.QueryRow(`
		SELECT `+sessionColumns+` FROM banking_sessions
		WHERE company_id = ? AND status = ?
		ORDER BY created_at DESC LIMIT 1
	`, companyID, models.SessionStatusActive).Scan(&session.ID, &session.CompanyID,
		&session.SessionID, &session.ValidUntil, &session.Status, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no active banking session for company #%d", companyID)
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (r *bankingRepository) MarkSessionStatus(id int64, status string) error {
	result, err := r.db.Exec(
		`UPDATE banking_sessions SET status = ? WHERE id = ?`, status, id)
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
			`SELECT COUNT(*) FROM banking_sessions WHERE id = ?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return apperr.NotFound("banking session #%d", id)
		}
	}
	return nil
}

// ListSessions returns sessions newest first; companyID 0 means all companies.
func (r *bankingRepository) ListSessions(companyID int64) ([]*models.ConsentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM banking_sessions`
	args := []interface{}{}
	if companyID != 0 {
		query += ` WHERE company_id = ?`
		args = append(args, companyID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.ConsentSession
	for rows.Next() {
		session := &models.ConsentSession{}
		err := rows.Scan(&session.ID, &session.CompanyID, &session.SessionID,
			&session.ValidUntil, &session.Status, &session.CreatedAt)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (r *bankingRepository) CreateOAuthState(state *models.OAuthState) error {
	result, err := r.db.Exec(`
		INSERT INTO oauth_states (state, company_id, expires_at)
		VALUES (?, ?, ?)
	`, state.State, state.CompanyID, state.ExpiresAt)
	if err != nil {
		return err
	}
	state.ID, err = result.LastInsertId()
	return err
}

// ConsumeOAuthState marks the state used and returns it. Expired or already
// used states yield NotFound, so a replayed callback cannot bind a session.
func (r *bankingRepository) ConsumeOAuthState(state string) (*models.OAuthState, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	record := &models.OAuthState{}
	err = tx.QueryRow(`
		SELECT id, state, company_id, expires_at, used, created_at
		FROM oauth_states WHERE state = ? FOR UPDATE
	`, state).Scan(&record.ID, &record.State, &record.CompanyID,
		&record.ExpiresAt, &record.Used, &record.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("unknown oauth state")
	}
	if err != nil {
		return nil, err
	}

	if record.Used || time.Now().After(record.ExpiresAt) {
		return nil, apperr.NotFound("oauth state expired or already used")
	}

	if _, err := tx.Exec(`UPDATE oauth_states SET used = 1 WHERE id = ?`, record.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	record.Used = true
	return record, nil
}
