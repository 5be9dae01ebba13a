package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"openvera/internal/banking"
	"openvera/internal/config"
	"openvera/internal/importer"
	"openvera/internal/models"
	"openvera/internal/repositories"
)

// Consent links expire after this long; the redirect back from the bank must
// land within the window.
const oauthStateTTL = 10 * time.Minute

const expiryWarningDays = 14

type BankingHandler struct {
	cfg       *config.Config
	log       zerolog.Logger
	client    *banking.Client
	sessions  repositories.BankingRepository
	companies repositories.CompanyRepository
	fetcher   *importer.Fetcher
}

func NewBankingHandler(cfg *config.Config, log zerolog.Logger, client *banking.Client, sessions repositories.BankingRepository, companies repositories.CompanyRepository, fetcher *importer.Fetcher) *BankingHandler {
	return &BankingHandler{cfg: cfg, log: log, client: client, sessions: sessions, companies: companies, fetcher: fetcher}
}

func (h *BankingHandler) Register(api *mux.Router) {
	admin := api.PathPrefix("/banking").Subrouter()
	admin.Use(adminTokenMiddleware(h.cfg.AdminToken))
	admin.HandleFunc("/authorize/{slug}", h.Authorize).Methods(http.MethodPost)
	admin.HandleFunc("/sessions", h.ListSessions).Methods(http.MethodGet)
	admin.HandleFunc("/sessions/{session_id}", h.RevokeSession).Methods(http.MethodDelete)
	admin.HandleFunc("/consent-status", h.ConsentStatus).Methods(http.MethodGet)
	admin.HandleFunc("/fetch", h.Fetch).Methods(http.MethodPost)

	// The callback is hit by the bank redirect and carries no admin token;
	// the single-use state parameter authenticates it instead.
	api.HandleFunc("/banking/callback", h.Callback).Methods(http.MethodGet)
}

func (h *BankingHandler) requireClient(w http.ResponseWriter) bool {
	if h.client == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Banking integration not configured")
		return false
	}
	return true
}

// Authorize starts the consent flow for a company and returns the bank
// authorization URL the user must visit.
func (h *BankingHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	if !h.requireClient(w) {
		return
	}
	company, err := h.companies.GetCompanyBySlug(mux.Vars(r)["slug"])
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	state := &models.OAuthState{
		State:     uuid.NewString(),
		CompanyID: company.ID,
		ExpiresAt: time.Now().UTC().Add(oauthStateTTL),
	}
	if err := h.sessions.CreateOAuthState(state); err != nil {
		respondWithAppError(w, err)
		return
	}

	auth, err := h.client.StartAuthorization(r.Context(), banking.AuthorizationParams{
		RedirectURL: h.cfg.Banking.RedirectURL,
		State:       state.State,
	})
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	h.log.Info().Str("company", company.Slug).Msg("started banking authorization")
	respondWithJSON(w, http.StatusOK, map[string]string{
		"url":              auth.URL,
		"authorization_id": auth.AuthorizationID,
		"state":            state.State,
	})
}

// Callback completes the consent flow: it validates the single-use state,
// exchanges the code for a session and maps the session's accounts onto the
// company's bank accounts by IBAN or account number.
func (h *BankingHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if !h.requireClient(w) {
		return
	}
	q := r.URL.Query()
	code := q.Get("code")
	stateParam := q.Get("state")
	if code == "" || stateParam == "" {
		respondWithError(w, http.StatusBadRequest, "code and state are required")
		return
	}

	state, err := h.sessions.ConsumeOAuthState(stateParam)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid or expired state")
		return
	}

	session, err := h.client.CreateSession(r.Context(), code)
	if err != nil {
		h.log.Error().Err(err).Msg("session creation failed")
		respondWithAppError(w, err)
		return
	}

	record := &models.ConsentSession{
		CompanyID:  state.CompanyID,
		SessionID:  session.SessionID,
		ValidUntil: optionalString(session.Access.ValidUntil),
		Status:     models.SessionStatusActive,
	}
	if err := h.sessions.CreateSession(record); err != nil {
		respondWithAppError(w, err)
		return
	}

	mapped := 0
	for _, account := range session.Accounts {
		for _, identifier := range account.Identifiers() {
			ok, err := h.companies.MapAccountByIdentifier(state.CompanyID, account.UID, identifier)
			if err != nil {
				respondWithAppError(w, err)
				return
			}
			if ok {
				mapped++
				break
			}
		}
	}

	h.log.Info().
		Int64("company_id", state.CompanyID).
		Int("accounts", len(session.Accounts)).
		Int("mapped", mapped).
		Msg("banking session created")

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"ok":              true,
		"session_id":      session.SessionID,
		"valid_until":     session.Access.ValidUntil,
		"accounts":        len(session.Accounts),
		"mapped_accounts": mapped,
	})
}

type sessionView struct {
	*models.ConsentSession
	DaysUntilExpiry *int `json:"days_until_expiry"`
	ExpiringSoon    bool `json:"expiring_soon"`
}

func (h *BankingHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	var companyID int64
	if slug := r.URL.Query().Get("company"); slug != "" {
		company, err := h.companies.GetCompanyBySlug(slug)
		if err != nil {
			respondWithAppError(w, err)
			return
		}
		companyID = company.ID
	}

	sessions, err := h.sessions.ListSessions(companyID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, annotateSession(session, time.Now().UTC()))
	}
	respondWithJSON(w, http.StatusOK, views)
}

func annotateSession(session *models.ConsentSession, now time.Time) sessionView {
	view := sessionView{ConsentSession: session}
	if session.ValidUntil.Valid {
		if until, err := parseSessionTime(session.ValidUntil.String); err == nil {
			days := int(until.Sub(now).Hours() / 24)
			if days < 0 {
				days = 0
			}
			view.DaysUntilExpiry = &days
			view.ExpiringSoon = session.Status == models.SessionStatusActive && days <= expiryWarningDays
		}
	}
	return view
}

func parseSessionTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Parse(time.RFC3339, s)
}

// RevokeSession revokes the consent with the bank and marks the local record.
// A failed remote revocation is logged but does not block the local update;
// the consent may already be gone on the bank side.
func (h *BankingHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	if !h.requireClient(w) {
		return
	}
	sessionID := mux.Vars(r)["session_id"]

	var companyID int64
	if slug := r.URL.Query().Get("company"); slug != "" {
		company, err := h.companies.GetCompanyBySlug(slug)
		if err != nil {
			respondWithAppError(w, err)
			return
		}
		companyID = company.ID
	}

	sessions, err := h.sessions.ListSessions(companyID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	var target *models.ConsentSession
	for _, session := range sessions {
		if session.SessionID == sessionID {
			target = session
			break
		}
	}
	if target == nil {
		respondWithError(w, http.StatusNotFound, "Session not found")
		return
	}

	if err := h.client.DeleteSession(r.Context(), sessionID); err != nil {
		h.log.Warn().Err(err).Str("session_id", sessionID).Msg("remote revocation failed")
	}
	if err := h.sessions.MarkSessionStatus(target.ID, models.SessionStatusRevoked); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Session revoked"})
}

// Fetch pulls new transactions from the bank for every connected company, or
// for one company when the company parameter names it.
func (h *BankingHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	if h.fetcher == nil {
		respondWithError(w, http.StatusServiceUnavailable, "Banking integration not configured")
		return
	}
	q := r.URL.Query()
	opts := importer.FetchOptions{
		CompanySlug: q.Get("company"),
		DateFrom:    q.Get("from"),
		DryRun:      q.Get("dry_run") == "true",
	}

	result, err := h.fetcher.Fetch(r.Context(), opts)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

type consentStatus struct {
	Company        string  `json:"company"`
	Connected      bool    `json:"connected"`
	SessionID      string  `json:"session_id,omitempty"`
	ValidUntil     *string `json:"valid_until,omitempty"`
	MappedAccounts int     `json:"mapped_accounts"`
}

// ConsentStatus summarizes banking connectivity per company.
func (h *BankingHandler) ConsentStatus(w http.ResponseWriter, r *http.Request) {
	companies, err := h.companies.ListCompanies()
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	statuses := make([]consentStatus, 0, len(companies))
	for _, company := range companies {
		status := consentStatus{Company: company.Slug}

		session, err := h.sessions.ActiveSession(company.ID)
		if err == nil {
			status.Connected = true
			status.SessionID = session.SessionID
			if session.ValidUntil.Valid {
				status.ValidUntil = &session.ValidUntil.String
			}
		}

		mapped, err := h.companies.CountMappedAccounts(company.ID)
		if err != nil {
			respondWithAppError(w, err)
			return
		}
		status.MappedAccounts = mapped
		statuses = append(statuses, status)
	}
	respondWithJSON(w, http.StatusOK, statuses)
}
