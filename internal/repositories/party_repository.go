package repositories

import (
	"database/sql"
	"strings"

	"openvera/internal/apperr"
	"openvera/internal/database"
	"openvera/internal/models"
)

// PartyPatterns pairs a party with its reference patterns for report grouping.
type PartyPatterns struct {
	PartyID     int64
	Name        string
	DefaultCode sql.NullString
	Patterns    []string
}

type PartyRepository interface {
	CreateParty(party *models.Party) error
	GetPartyByID(id int64) (*models.Party, error)
	GetPartyBySlug(slug string) (*models.Party, error)
	ListParties() ([]*models.Party, error)
	ListPartiesForCompany(companyID int64) ([]*models.Party, error)
	UpdateParty(party *models.Party) error
	DeleteParty(id int64) error
	SetRelation(companyID, partyID int64, relationship string) error
	DeleteRelation(companyID, partyID int64) error
	ListPatternsForCompany(companyID int64) ([]*PartyPatterns, error)
	BackfillDefaultCode(partyID int64) (int64, error)
}

type partyRepository struct {
	db *sql.DB
}

func NewPartyRepository(db *sql.DB) PartyRepository {
	return &partyRepository{db: db}
}

// CreateParty inserts the party and its patterns in one transaction. The slug
// is derived from the name when not supplied.
func (r *partyRepository) CreateParty(party *models.Party) error {
	if !party.Slug.Valid || party.Slug.String == "" {
		party.Slug = sql.NullString{String: models.Slugify(party.Name), Valid: true}
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO parties (name, slug, entity_type, org_number, default_code)
		VALUES (?, ?, ?, ?, ?)
	`, party.Name, party.Slug, party.EntityType, party.OrgNumber, party.DefaultCode)
	if err != nil {
		if database.IsDuplicateEntry(err) {
			return apperr.Conflict("party slug %q already exists", party.Slug.String)
		}
		return err
	}
	party.ID, err = result.LastInsertId()
	if err != nil {
		return err
	}

	if err := replacePatterns(tx, party.ID, party.Patterns); err != nil {
		return err
	}
	return tx.Commit()
}

func replacePatterns(tx *sql.Tx, partyID int64, patterns []string) error {
	if _, err := tx.Exec(`DELETE FROM party_patterns WHERE party_id = ?`, partyID); err != nil {
		return err
	}
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO party_patterns (party_id, pattern) VALUES (?, ?)`,
			partyID, pattern); err != nil {
			return err
		}
	}
	return nil
}

func (r *partyRepository) getParty(query string, arg interface{}) (*models.Party, error) {
	party := &models.Party{}
	err := r.db.QueryRow(query, arg).Scan(&party.ID, &party.Name, &party.Slug,
		&party.EntityType, &party.OrgNumber, &party.DefaultCode, &party.CreatedAt)
	if err != nil {
		return nil, err
	}
	party.Patterns, err = r.patternsFor(party.ID)
	return party, err
}

func (r *partyRepository) patternsFor(partyID int64) ([]string, error) {
	rows, err := r.db.Query(
		`SELECT pattern FROM party_patterns WHERE party_id = ? ORDER BY id`, partyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

const partyColumns = `id, name, slug, entity_type, org_number, default_code, created_at`

func (r *partyRepository) GetPartyByID(id int64) (*models.Party, error) {
	party, err := r.getParty(`SELECT `+partyColumns+` FROM parties WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("party #%d", id)
	}
	return party, err
}

func (r *partyRepository) GetPartyBySlug(slug string) (*models.Party, error) {
	party, err := r.getParty(`SELECT `+partyColumns+` FROM parties WHERE slug = ?`, slug)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("party %q", slug)
	}
	return party, err
}

func (r *partyRepository) listParties(query string, args ...interface{}) ([]*models.Party, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parties []*models.Party
	for rows.Next() {
		party := &models.Party{}
		err := rows.Scan(&party.ID, &party.Name, &party.Slug,
			&party.EntityType, &party.OrgNumber, &party.DefaultCode, &party.CreatedAt)
		if err != nil {
			return nil, err
		}
		parties = append(parties, party)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, party := range parties {
		party.Patterns, err = r.patternsFor(party.ID)
		if err != nil {
			return nil, err
		}
	}
	return parties, nil
}

func (r *partyRepository) ListParties() ([]*models.Party, error) {
	return r.listParties(`SELECT ` + partyColumns + ` FROM parties ORDER BY name`)
}

func (r *partyRepository) ListPartiesForCompany(companyID int64) ([]*models.Party, error) {
	return r.listParties(`
		SELECT `+qualify(partyColumns, "p")+`
		FROM parties p
		JOIN party_relations pr ON pr.party_id = p.id
		WHERE pr.company_id = ?
		ORDER BY p.name
	`, companyID)
}

func (r *partyRepository) UpdateParty(party *models.Party) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE parties SET name = ?, entity_type = ?, org_number = ?, default_code = ?
		WHERE id = ?
	`, party.Name, party.EntityType, party.OrgNumber, party.DefaultCode, party.ID)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM parties WHERE id = ?`, party.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return apperr.NotFound("party #%d", party.ID)
		}
	}

	if party.Patterns != nil {
		if err := replacePatterns(tx, party.ID, party.Patterns); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteParty removes the party with its patterns and relations. Documents
// keep their rows but lose the party reference.
func (r *partyRepository) DeleteParty(id int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE documents SET party_id = NULL WHERE party_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM party_patterns WHERE party_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM party_relations WHERE party_id = ?`, id); err != nil {
		return err
	}
	result, err := tx.Exec(`DELETE FROM parties WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apperr.NotFound("party #%d", id)
	}
	return tx.Commit()
}

func (r *partyRepository) SetRelation(companyID, partyID int64, relationship string) error {
	_, err := r.db.Exec(`
		INSERT INTO party_relations (company_id, party_id, relationship)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE relationship = VALUES(relationship)
	`, companyID, partyID, relationship)
	return err
}

func (r *partyRepository) DeleteRelation(companyID, partyID int64) error {
	_, err := r.db.Exec(
		`DELETE FROM party_relations WHERE company_id = ? AND party_id = ?`,
		companyID, partyID)
	return err
}

func (r *partyRepository) ListPatternsForCompany(companyID int64) ([]*PartyPatterns, error) {
	parties, err := r.ListPartiesForCompany(companyID)
	if err != nil {
		return nil, err
	}
	var result []*PartyPatterns
	for _, party := range parties {
		if len(party.Patterns) == 0 {
			continue
		}
		result = append(result, &PartyPatterns{
			PartyID:     party.ID,
			Name:        party.Name,
			DefaultCode: party.DefaultCode,
			Patterns:    party.Patterns,
		})
	}
	return result, nil
}

// BackfillDefaultCode applies the party's default code to uncoded transactions
// reachable two ways: transactions already matched to the party's documents,
// and transactions whose reference contains one of the party's patterns within
// companies related to the party. Returns the number of transactions updated.
func (r *partyRepository) BackfillDefaultCode(partyID int64) (int64, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	viaMatches, err := tx.Exec(`
		UPDATE transactions t
		JOIN matches m ON m.transaction_id = t.id
		JOIN documents d ON m.document_id = d.id
		JOIN parties p ON d.party_id = p.id
		SET t.accounting_code = p.default_code
		WHERE p.id = ?
		AND t.accounting_code IS NULL
		AND p.default_code IS NOT NULL
	`, partyID)
	if err != nil {
		return 0, err
	}

	viaPatterns, err := tx.Exec(`
		UPDATE transactions t
		JOIN accounts a ON t.account_id = a.id
		JOIN party_relations pr ON pr.company_id = a.company_id
		JOIN parties p ON pr.party_id = p.id
		JOIN party_patterns pp ON pp.party_id = p.id
			AND UPPER(t.reference) LIKE CONCAT('%', UPPER(pp.pattern), '%')
		SET t.accounting_code = p.default_code
		WHERE p.id = ?
		AND t.accounting_code IS NULL
		AND p.default_code IS NOT NULL
	`, partyID)
	if err != nil {
		return 0, err
	}

	matched, err := viaMatches.RowsAffected()
	if err != nil {
		return 0, err
	}
	patterned, err := viaPatterns.RowsAffected()
	if err != nil {
		return 0, err
	}
	return matched + patterned, tx.Commit()
}
