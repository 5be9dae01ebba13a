package handlers

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"openvera/internal/models"
	"openvera/internal/repositories"
)

type DocumentHandler struct {
	documents repositories.DocumentRepository
	companies repositories.CompanyRepository
	uploadDir string
}

func NewDocumentHandler(documents repositories.DocumentRepository, companies repositories.CompanyRepository, uploadDir string) *DocumentHandler {
	return &DocumentHandler{documents: documents, companies: companies, uploadDir: uploadDir}
}

func (h *DocumentHandler) Register(api *mux.Router) {
	api.HandleFunc("/documents", h.List).Methods(http.MethodGet)
	api.HandleFunc("/documents", h.Create).Methods(http.MethodPost)
	api.HandleFunc("/documents/upload", h.Upload).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}", h.Get).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}", h.Update).Methods(http.MethodPut)
	api.HandleFunc("/documents/{id}", h.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/documents/{id}/archive", h.Archive).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}/review", h.Review).Methods(http.MethodPost)
}

type documentRequest struct {
	CompanySlug      string   `json:"company"`
	DocType          string   `json:"doc_type"`
	Amount           *float64 `json:"amount"`
	Currency         string   `json:"currency"`
	AmountSEK        *float64 `json:"amount_sek"`
	DocDate          string   `json:"doc_date"`
	DueDate          string   `json:"due_date"`
	InvoiceNumber    string   `json:"invoice_number"`
	OCRNumber        string   `json:"ocr_number"`
	NetAmount        *float64 `json:"net_amount"`
	VATAmount        *float64 `json:"vat_amount"`
	NetAmountSEK     *float64 `json:"net_amount_sek"`
	VATAmountSEK     *float64 `json:"vat_amount_sek"`
	VATBreakdownJSON string   `json:"vat_breakdown_json"`
	PartyID          *int64   `json:"party_id"`
	Notes            string   `json:"notes"`
}

func (r documentRequest) apply(doc *models.Document) {
	if r.DocType != "" {
		doc.DocType = r.DocType
	}
	doc.Amount = optionalFloat(r.Amount)
	doc.Currency = optionalString(r.Currency)
	doc.AmountSEK = optionalFloat(r.AmountSEK)
	doc.DocDate = optionalString(r.DocDate)
	doc.DueDate = optionalString(r.DueDate)
	doc.InvoiceNumber = optionalString(r.InvoiceNumber)
	doc.OCRNumber = optionalString(r.OCRNumber)
	doc.NetAmount = optionalFloat(r.NetAmount)
	doc.VATAmount = optionalFloat(r.VATAmount)
	doc.NetAmountSEK = optionalFloat(r.NetAmountSEK)
	doc.VATAmountSEK = optionalFloat(r.VATAmountSEK)
	doc.VATBreakdownJSON = optionalString(r.VATBreakdownJSON)
	doc.PartyID = optionalInt(r.PartyID)
	doc.Notes = optionalString(r.Notes)
}

func (h *DocumentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.CompanySlug == "" || req.DocType == "" {
		respondWithError(w, http.StatusBadRequest, "company and doc_type are required")
		return
	}
	if req.VATBreakdownJSON != "" {
		if _, err := models.ParseVATBreakdown(req.VATBreakdownJSON); err != nil {
			respondWithError(w, http.StatusBadRequest, "vat_breakdown_json is not a valid breakdown")
			return
		}
	}

	company, err := h.companies.GetCompanyBySlug(req.CompanySlug)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	doc := &models.Document{CompanyID: company.ID}
	req.apply(doc)

	if err := h.documents.CreateDocument(doc); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, doc)
}

// Upload accepts a multipart form with the document file plus metadata.
// Files are content-addressed: re-uploading identical bytes reuses the stored
// file instead of writing a second copy.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid multipart payload")
		return
	}

	companySlug := r.FormValue("company")
	docType := r.FormValue("doc_type")
	if companySlug == "" || docType == "" {
		respondWithError(w, http.StatusBadRequest, "company and doc_type are required")
		return
	}
	company, err := h.companies.GetCompanyBySlug(companySlug)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to read upload")
		return
	}
	sum := md5.Sum(data)
	contentHash := hex.EncodeToString(sum[:])

	stored := &models.StoredFile{
		Filepath:    filepath.Join(company.Slug, uuid.NewString()+filepath.Ext(header.Filename)),
		Filename:    header.Filename,
		ContentHash: sql.NullString{String: contentHash, Valid: true},
		MimeType:    optionalString(header.Header.Get("Content-Type")),
		FileSize:    sql.NullInt64{Int64: int64(len(data)), Valid: true},
	}

	existing, err := h.documents.GetOrCreateFile(stored)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	// Write to disk only for genuinely new content. GetOrCreateFile returns
	// its argument when it inserted a fresh row.
	if existing == stored {
		fullPath := filepath.Join(h.uploadDir, stored.Filepath)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			respondWithError(w, http.StatusInternalServerError, "Failed to store file")
			return
		}
		if err := os.WriteFile(fullPath, data, 0644); err != nil {
			respondWithError(w, http.StatusInternalServerError, "Failed to store file")
			return
		}
	}

	doc := &models.Document{
		CompanyID: company.ID,
		DocType:   docType,
		FileID:    sql.NullInt64{Int64: existing.ID, Valid: true},
	}
	if err := h.documents.CreateDocument(doc); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, doc)
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repositories.DocumentFilter{
		DocType:         q.Get("doc_type"),
		UnmatchedOnly:   q.Get("unmatched") == "true",
		IncludeArchived: q.Get("archived") == "true",
	}
	if slug := q.Get("company"); slug != "" {
		company, err := h.companies.GetCompanyBySlug(slug)
		if err != nil {
			respondWithAppError(w, err)
			return
		}
		filter.CompanyID = company.ID
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			respondWithError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}

	docs, err := h.documents.ListDocuments(filter)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, docs)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid document id")
		return
	}
	doc, err := h.documents.GetDocumentByID(id)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid document id")
		return
	}
	doc, err := h.documents.GetDocumentByID(id)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.VATBreakdownJSON != "" {
		if _, err := models.ParseVATBreakdown(req.VATBreakdownJSON); err != nil {
			respondWithError(w, http.StatusBadRequest, "vat_breakdown_json is not a valid breakdown")
			return
		}
	}
	req.apply(doc)

	if err := h.documents.UpdateDocument(doc); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid document id")
		return
	}
	if err := h.documents.DeleteDocument(id); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Document deleted"})
}

func (h *DocumentHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid document id")
		return
	}
	var req struct {
		Archived *bool `json:"archived"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	archived := true
	if req.Archived != nil {
		archived = *req.Archived
	}

	if err := h.documents.SetArchived(id, archived); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Document updated"})
}

func (h *DocumentHandler) Review(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid document id")
		return
	}
	if err := h.documents.MarkReviewed(id); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Document reviewed"})
}

func optionalFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func optionalInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
