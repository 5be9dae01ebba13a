package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"openvera/internal/models"
	"openvera/internal/repositories"
)

type CompanyHandler struct {
	companies repositories.CompanyRepository
}

func NewCompanyHandler(companies repositories.CompanyRepository) *CompanyHandler {
	return &CompanyHandler{companies: companies}
}

func (h *CompanyHandler) Register(api *mux.Router) {
	api.HandleFunc("/companies", h.ListCompanies).Methods(http.MethodGet)
	api.HandleFunc("/companies", h.CreateCompany).Methods(http.MethodPost)
	api.HandleFunc("/companies/{slug}", h.GetCompany).Methods(http.MethodGet)
	api.HandleFunc("/companies/{slug}", h.UpdateCompany).Methods(http.MethodPut)
	api.HandleFunc("/companies/{slug}", h.DeleteCompany).Methods(http.MethodDelete)
	api.HandleFunc("/companies/{slug}/accounts", h.ListAccounts).Methods(http.MethodGet)
	api.HandleFunc("/companies/{slug}/accounts", h.CreateAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}", h.UpdateAccount).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{id}", h.DeleteAccount).Methods(http.MethodDelete)
}

type companyRequest struct {
	Name            string `json:"name"`
	OrgNumber       string `json:"org_number"`
	FiscalYearStart string `json:"fiscal_year_start"`
}

func (h *CompanyHandler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	var req companyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Name == "" {
		respondWithError(w, http.StatusBadRequest, "Company name is required")
		return
	}

	company := &models.Company{
		Name:            req.Name,
		Slug:            models.Slugify(req.Name),
		OrgNumber:       optionalString(req.OrgNumber),
		FiscalYearStart: optionalString(req.FiscalYearStart),
	}
	if err := h.companies.CreateCompany(company); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, company)
}

func (h *CompanyHandler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := h.companies.ListCompanies()
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, companies)
}

func (h *CompanyHandler) GetCompany(w http.ResponseWriter, r *http.Request) {
	company, err := h.companies.GetCompanyBySlug(mux.Vars(r)["slug"])
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, company)
}

func (h *CompanyHandler) UpdateCompany(w http.ResponseWriter, r *http.Request) {
	company, err := h.companies.GetCompanyBySlug(mux.Vars(r)["slug"])
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	var req companyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if req.Name != "" && req.Name != company.Name {
		company.Name = req.Name
		company.Slug = models.Slugify(req.Name)
	}
	if req.OrgNumber != "" {
		company.OrgNumber = optionalString(req.OrgNumber)
	}
	if req.FiscalYearStart != "" {
		company.FiscalYearStart = optionalString(req.FiscalYearStart)
	}

	if err := h.companies.UpdateCompany(company); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, company)
}

func (h *CompanyHandler) DeleteCompany(w http.ResponseWriter, r *http.Request) {
	company, err := h.companies.GetCompanyBySlug(mux.Vars(r)["slug"])
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	if err := h.companies.DeleteCompany(company.ID); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Company deleted"})
}

type accountRequest struct {
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	AccountType   string `json:"account_type"`
	Currency      string `json:"currency"`
}

func (h *CompanyHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	company, err := h.companies.GetCompanyBySlug(mux.Vars(r)["slug"])
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Name == "" {
		respondWithError(w, http.StatusBadRequest, "Account name is required")
		return
	}
	if req.AccountType == "" {
		req.AccountType = "bank"
	}
	if req.Currency == "" {
		req.Currency = "SEK"
	}

	account := &models.Account{
		CompanyID:     company.ID,
		Name:          req.Name,
		AccountNumber: optionalString(req.AccountNumber),
		AccountType:   req.AccountType,
		Currency:      req.Currency,
	}
	if err := h.companies.CreateAccount(account); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, account)
}

func (h *CompanyHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	company, err := h.companies.GetCompanyBySlug(mux.Vars(r)["slug"])
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	accounts, err := h.companies.ListAccounts(company.ID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, accounts)
}

func (h *CompanyHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid account id")
		return
	}
	account, err := h.companies.GetAccountByID(id)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Name != "" {
		account.Name = req.Name
	}
	if req.AccountNumber != "" {
		account.AccountNumber = optionalString(req.AccountNumber)
	}
	if req.AccountType != "" {
		account.AccountType = req.AccountType
	}
	if req.Currency != "" {
		account.Currency = req.Currency
	}

	if err := h.companies.UpdateAccount(account); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, account)
}

func (h *CompanyHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid account id")
		return
	}
	if err := h.companies.DeleteAccount(id); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Account deleted"})
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

func optionalString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
