package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"openvera/internal/repositories"
	"openvera/internal/reports"
	"openvera/internal/sie"
)

type ReportHandler struct {
	reports   *reports.Service
	sie       *sie.Generator
	companies repositories.CompanyRepository
}

func NewReportHandler(service *reports.Service, generator *sie.Generator, companies repositories.CompanyRepository) *ReportHandler {
	return &ReportHandler{reports: service, sie: generator, companies: companies}
}

func (h *ReportHandler) Register(api *mux.Router) {
	api.HandleFunc("/report", h.General).Methods(http.MethodGet)
	api.HandleFunc("/report/vat", h.VAT).Methods(http.MethodGet)
	api.HandleFunc("/sie-export", h.SIEExport).Methods(http.MethodGet)
}

// companyID resolves the company from either a company_id or a company slug
// query parameter.
func (h *ReportHandler) companyID(r *http.Request) (int64, error) {
	q := r.URL.Query()
	if v := q.Get("company_id"); v != "" {
		return strconv.ParseInt(v, 10, 64)
	}
	if slug := q.Get("company"); slug != "" {
		company, err := h.companies.GetCompanyBySlug(slug)
		if err != nil {
			return 0, err
		}
		return company.ID, nil
	}
	return 0, nil
}

func (h *ReportHandler) General(w http.ResponseWriter, r *http.Request) {
	companyID, err := h.companyID(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	if companyID == 0 {
		respondWithError(w, http.StatusBadRequest, "company_id or company is required")
		return
	}

	q := r.URL.Query()
	report, err := h.reports.GeneralReport(companyID, q.Get("from"), q.Get("to"))
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

func (h *ReportHandler) VAT(w http.ResponseWriter, r *http.Request) {
	companyID, err := h.companyID(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	if companyID == 0 {
		respondWithError(w, http.StatusBadRequest, "company_id or company is required")
		return
	}

	q := r.URL.Query()
	report, err := h.reports.VATReport(companyID, q.Get("from"), q.Get("to"))
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

// SIEExport streams a SIE4 file for one fiscal year. The year parameter names
// the calendar year the fiscal year starts in.
func (h *ReportHandler) SIEExport(w http.ResponseWriter, r *http.Request) {
	companyID, err := h.companyID(r)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	if companyID == 0 {
		respondWithError(w, http.StatusBadRequest, "company_id or company is required")
		return
	}

	q := r.URL.Query()
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid year")
		return
	}
	yearTo := year
	if v := q.Get("year_to"); v != "" {
		yearTo, err = strconv.Atoi(v)
		if err != nil || yearTo < year {
			respondWithError(w, http.StatusBadRequest, "Invalid year_to")
			return
		}
	}

	content, err := h.sie.Generate(companyID, year, yearTo)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="bokforing_%d.se"`, year))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(content))
}
