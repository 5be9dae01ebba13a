package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"openvera/internal/models"
	"openvera/internal/repositories"
)

type PartyHandler struct {
	parties   repositories.PartyRepository
	companies repositories.CompanyRepository
}

func NewPartyHandler(parties repositories.PartyRepository, companies repositories.CompanyRepository) *PartyHandler {
	return &PartyHandler{parties: parties, companies: companies}
}

func (h *PartyHandler) Register(api *mux.Router) {
	api.HandleFunc("/parties", h.List).Methods(http.MethodGet)
	api.HandleFunc("/parties", h.Create).Methods(http.MethodPost)
	api.HandleFunc("/parties/{id}", h.Get).Methods(http.MethodGet)
	api.HandleFunc("/parties/{id}", h.Update).Methods(http.MethodPut)
	api.HandleFunc("/parties/{id}", h.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/parties/{id}/relations", h.SetRelation).Methods(http.MethodPost)
	api.HandleFunc("/parties/{id}/relations", h.DeleteRelation).Methods(http.MethodDelete)
	api.HandleFunc("/parties/{id}/backfill-codes", h.BackfillCodes).Methods(http.MethodPost)
}

type partyRequest struct {
	Name        string   `json:"name"`
	EntityType  string   `json:"entity_type"`
	OrgNumber   string   `json:"org_number"`
	DefaultCode string   `json:"default_code"`
	Patterns    []string `json:"patterns"`
}

func (h *PartyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req partyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Name == "" {
		respondWithError(w, http.StatusBadRequest, "Party name is required")
		return
	}

	party := &models.Party{
		Name:        req.Name,
		EntityType:  optionalString(req.EntityType),
		OrgNumber:   optionalString(req.OrgNumber),
		DefaultCode: optionalString(req.DefaultCode),
		Patterns:    req.Patterns,
	}
	if err := h.parties.CreateParty(party); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, party)
}

// List returns all parties, or only those related to a company when the
// company query parameter names one.
func (h *PartyHandler) List(w http.ResponseWriter, r *http.Request) {
	if slug := r.URL.Query().Get("company"); slug != "" {
		company, err := h.companies.GetCompanyBySlug(slug)
		if err != nil {
			respondWithAppError(w, err)
			return
		}
		parties, err := h.parties.ListPartiesForCompany(company.ID)
		if err != nil {
			respondWithAppError(w, err)
			return
		}
		respondWithJSON(w, http.StatusOK, parties)
		return
	}

	parties, err := h.parties.ListParties()
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, parties)
}

func (h *PartyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid party id")
		return
	}
	party, err := h.parties.GetPartyByID(id)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, party)
}

func (h *PartyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid party id")
		return
	}
	party, err := h.parties.GetPartyByID(id)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	var req partyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Name != "" && req.Name != party.Name {
		party.Name = req.Name
		party.Slug = optionalString(models.Slugify(req.Name))
	}
	if req.EntityType != "" {
		party.EntityType = optionalString(req.EntityType)
	}
	if req.OrgNumber != "" {
		party.OrgNumber = optionalString(req.OrgNumber)
	}
	if req.DefaultCode != "" {
		party.DefaultCode = optionalString(req.DefaultCode)
	}
	// A null patterns field leaves the existing patterns alone; an empty
	// array clears them.
	if req.Patterns != nil {
		party.Patterns = req.Patterns
	}

	if err := h.parties.UpdateParty(party); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, party)
}

func (h *PartyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid party id")
		return
	}
	if err := h.parties.DeleteParty(id); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Party deleted"})
}

func (h *PartyHandler) SetRelation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid party id")
		return
	}
	var req struct {
		Company      string `json:"company"`
		Relationship string `json:"relationship"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Company == "" {
		respondWithError(w, http.StatusBadRequest, "company is required")
		return
	}
	if !validRelationship(req.Relationship) {
		respondWithError(w, http.StatusBadRequest, "Invalid relationship")
		return
	}

	company, err := h.companies.GetCompanyBySlug(req.Company)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	if err := h.parties.SetRelation(company.ID, id, req.Relationship); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Relation saved"})
}

func (h *PartyHandler) DeleteRelation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid party id")
		return
	}
	slug := r.URL.Query().Get("company")
	if slug == "" {
		respondWithError(w, http.StatusBadRequest, "company is required")
		return
	}
	company, err := h.companies.GetCompanyBySlug(slug)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	if err := h.parties.DeleteRelation(company.ID, id); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Relation removed"})
}

// BackfillCodes applies the party's default accounting code to matched
// transactions that have no code yet.
func (h *PartyHandler) BackfillCodes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid party id")
		return
	}
	updated, err := h.parties.BackfillDefaultCode(id)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func validRelationship(relationship string) bool {
	switch relationship {
	case models.RelationshipVendor, models.RelationshipCustomer,
		models.RelationshipAuthority, models.RelationshipCharity:
		return true
	}
	return false
}
