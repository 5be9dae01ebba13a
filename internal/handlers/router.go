package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"openvera/internal/apperr"
	"openvera/internal/banking"
	"openvera/internal/config"
	"openvera/internal/importer"
	"openvera/internal/matching"
	"openvera/internal/reports"
	"openvera/internal/repositories"
	"openvera/internal/sie"
)

// Dependencies carries everything the HTTP layer needs.
type Dependencies struct {
	Config      *config.Config
	Log         zerolog.Logger
	Companies   repositories.CompanyRepository
	Transaction repositories.TransactionRepository
	Documents   repositories.DocumentRepository
	Parties     repositories.PartyRepository
	Banking     repositories.BankingRepository
	Recon       repositories.ReconciliationRepository
	Engine      *matching.Engine
	Reports     *reports.Service
	SIE         *sie.Generator
	BankClient  *banking.Client
	Fetcher     *importer.Fetcher
}

func SetupRouter(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()

	api.Use(loggingMiddleware(deps.Log))
	api.Use(jsonContentTypeMiddleware)

	companyHandler := NewCompanyHandler(deps.Companies)
	companyHandler.Register(api)

	transactionHandler := NewTransactionHandler(deps.Transaction, deps.Recon, deps.Engine)
	transactionHandler.Register(api)

	documentHandler := NewDocumentHandler(deps.Documents, deps.Companies, deps.Config.UploadDir)
	documentHandler.Register(api)

	partyHandler := NewPartyHandler(deps.Parties, deps.Companies)
	partyHandler.Register(api)

	reportHandler := NewReportHandler(deps.Reports, deps.SIE, deps.Companies)
	reportHandler.Register(api)

	bankingHandler := NewBankingHandler(deps.Config, deps.Log, deps.BankClient, deps.Banking, deps.Companies, deps.Fetcher)
	bankingHandler.Register(api)

	router.HandleFunc("/health", healthCheckHandler).Methods(http.MethodGet)

	return router
}

func loggingMiddleware(log zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// adminTokenMiddleware guards the banking consent endpoints. The token comes
// from the Authorization header or, for redirect flows, a query parameter.
func adminTokenMiddleware(adminToken string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminToken == "" {
				respondWithError(w, http.StatusInternalServerError, "Admin token not configured")
				return
			}
			token := r.URL.Query().Get("token")
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				token = strings.TrimPrefix(auth, "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
				respondWithError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

// respondWithAppError maps the error taxonomy onto HTTP status codes.
func respondWithAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrConflict):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, apperr.ErrValidation):
		respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		var bankErr *banking.Error
		if errors.As(err, &bankErr) {
			respondWithError(w, http.StatusBadGateway, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
