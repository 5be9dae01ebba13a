package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"openvera/internal/matching"
	"openvera/internal/models"
	"openvera/internal/repositories"
)

type TransactionHandler struct {
	transactions repositories.TransactionRepository
	recon        repositories.ReconciliationRepository
	engine       *matching.Engine
}

func NewTransactionHandler(transactions repositories.TransactionRepository, recon repositories.ReconciliationRepository, engine *matching.Engine) *TransactionHandler {
	return &TransactionHandler{transactions: transactions, recon: recon, engine: engine}
}

func (h *TransactionHandler) Register(api *mux.Router) {
	api.HandleFunc("/transactions/search", h.Search).Methods(http.MethodGet)
	api.HandleFunc("/transactions/batch", h.BatchUpdate).Methods(http.MethodPut)
	api.HandleFunc("/transactions/{id}", h.Get).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}", h.Update).Methods(http.MethodPut)
	api.HandleFunc("/transactions/{id}", h.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/transactions/{id}/mark-transfer", h.MarkTransfer).Methods(http.MethodPost)

	api.HandleFunc("/matches", h.ListMatches).Methods(http.MethodGet)
	api.HandleFunc("/matches", h.CreateMatch).Methods(http.MethodPost)
	api.HandleFunc("/matches", h.DeleteMatch).Methods(http.MethodDelete)

	api.HandleFunc("/transfers", h.ListTransfers).Methods(http.MethodGet)
	api.HandleFunc("/transfers", h.CreateTransfer).Methods(http.MethodPost)
	api.HandleFunc("/transfers/{id}", h.DeleteTransfer).Methods(http.MethodDelete)
}

func (h *TransactionHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repositories.SearchFilter{
		Query:         q.Get("q"),
		Date:          q.Get("date"),
		Positive:      q.Get("direction") == "income",
		UnmatchedOnly: q.Get("unmatched") == "true",
		Limit:         50,
	}
	if v := q.Get("company_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid company_id")
			return
		}
		filter.CompanyID = id
	}
	if v := q.Get("amount"); v != "" {
		amount, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid amount")
			return
		}
		filter.Amount = amount
		filter.HasAmount = true
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			respondWithError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}

	results, err := h.transactions.Search(filter)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, results)
}

func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}
	txn, err := h.transactions.GetTransactionByID(id)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, txn)
}

type transactionUpdateRequest struct {
	Category           *string `json:"category"`
	AccountingCode     *string `json:"accounting_code"`
	Notes              *string `json:"notes"`
	IsInternalTransfer *bool   `json:"is_internal_transfer"`
	NeedsReceipt       *bool   `json:"needs_receipt"`
}

func (r transactionUpdateRequest) params() repositories.UpdateTransactionParams {
	params := repositories.UpdateTransactionParams{
		Category:           r.Category,
		Notes:              r.Notes,
		IsInternalTransfer: r.IsInternalTransfer,
		NeedsReceipt:       r.NeedsReceipt,
	}
	if r.AccountingCode != nil {
		if *r.AccountingCode == "" {
			params.ClearCode = true
		} else {
			params.AccountingCode = r.AccountingCode
		}
	}
	return params
}

func (h *TransactionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}

	var req transactionUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.transactions.UpdateTransaction(id, req.params()); err != nil {
		respondWithAppError(w, err)
		return
	}
	txn, err := h.transactions.GetTransactionByID(id)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, txn)
}

func (h *TransactionHandler) BatchUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int64 `json:"ids"`
		transactionUpdateRequest
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if len(req.IDs) == 0 {
		respondWithError(w, http.StatusBadRequest, "No transaction ids provided")
		return
	}

	updated, err := h.transactions.BatchUpdateTransactions(req.IDs, req.params())
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (h *TransactionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}
	if err := h.transactions.DeleteTransaction(id); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Transaction deleted"})
}

func (h *TransactionHandler) MarkTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}
	var req struct {
		IsTransfer *bool `json:"is_transfer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	isTransfer := true
	if req.IsTransfer != nil {
		isTransfer = *req.IsTransfer
	}

	if err := h.engine.MarkTransfer(id, isTransfer); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Transaction updated"})
}

func (h *TransactionHandler) ListMatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repositories.MatchFilter{CompanySlug: q.Get("company")}
	if v := q.Get("transaction_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid transaction_id")
			return
		}
		filter.TransactionID = id
	}
	if v := q.Get("document_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid document_id")
			return
		}
		filter.DocumentID = id
	}

	matches, err := h.recon.ListMatches(filter)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, matches)
}

func (h *TransactionHandler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID int64    `json:"transaction_id"`
		DocumentID    int64    `json:"document_id"`
		MatchType     string   `json:"match_type"`
		MatchedBy     string   `json:"matched_by"`
		Confidence    *float64 `json:"confidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.TransactionID == 0 || req.DocumentID == 0 {
		respondWithError(w, http.StatusBadRequest, "transaction_id and document_id are required")
		return
	}
	if req.MatchType == "" {
		req.MatchType = models.MatchTypeManual
	}
	if req.MatchedBy == "" {
		req.MatchedBy = "api"
	}

	match, err := h.engine.CreateMatch(req.TransactionID, req.DocumentID, req.MatchType, req.MatchedBy, req.Confidence)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, match)
}

func (h *TransactionHandler) DeleteMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID int64 `json:"transaction_id"`
		DocumentID    int64 `json:"document_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := h.engine.DeleteMatch(req.TransactionID, req.DocumentID); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Match removed"})
}

func (h *TransactionHandler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.recon.ListTransfers(r.URL.Query().Get("company"))
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, transfers)
}

func (h *TransactionHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromTransactionID int64  `json:"from_transaction_id"`
		ToTransactionID   int64  `json:"to_transaction_id"`
		Notes             string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.FromTransactionID == 0 || req.ToTransactionID == 0 {
		respondWithError(w, http.StatusBadRequest, "from_transaction_id and to_transaction_id are required")
		return
	}

	transferID, err := h.engine.LinkTransfers(req.FromTransactionID, req.ToTransactionID, req.Notes)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]int64{"id": transferID})
}

func (h *TransactionHandler) DeleteTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid transfer id")
		return
	}
	if err := h.engine.UnlinkTransfer(id); err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Transfer removed"})
}
