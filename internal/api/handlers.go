package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pvginkel/ModernAppTemplate/internal/apperr"
	"github.com/pvginkel/ModernAppTemplate/internal/models"
	"github.com/pvginkel/ModernAppTemplate/internal/report"
)

// Handler holds API route handlers.
type Handler struct {
	svc *Service
	// OnReanalyzed, if set, is called after a successful manual rerun.
	OnReanalyzed func(*report.Report)
}

// NewHandler creates a new Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// GetReport handles GET /api/report.
//
//	@Summary		Latest drift report
//	@Tags			report
//	@Produce		json
//	@Param			format	query		string	false	"Output format"	Enums(json, text)
//	@Success		200		{object}	report.Report
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/report [get]
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep := h.svc.Report()
	if rep == nil {
		msg := "analysis pending"
		if st := h.svc.Status(); st.Error != "" {
			msg = st.Error
		}
		writeJSON(w, http.StatusServiceUnavailable, errorBody(msg))
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if err := report.WriteText(w, rep, report.TextOptions{Color: report.ColorNever}); err != nil {
			slog.Error("write text report failed", slog.String("error", err.Error()))
		}
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// GetStatus handles GET /api/status.
func (h *Handler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// ListRecords handles GET /api/records.
//
//	@Summary		Ownership classification of every path
//	@Tags			report
//	@Produce		json
//	@Param			category	query		string	false	"Comma-separated categories"
//	@Success		200			{object}	recordsResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records [get]
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	var cats []models.Category
	if raw := r.URL.Query().Get("category"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			var c models.Category
			if err := c.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
				return
			}
			cats = append(cats, c)
		}
	}
	records := h.svc.Records(cats...)
	if records == nil {
		records = []models.Record{}
	}
	writeJSON(w, http.StatusOK, recordsResponse{Records: records, Total: len(records)})
}

// Reanalyze handles POST /api/reanalyze.
//
//	@Summary		Rerun the analysis now
//	@Tags			report
//	@Produce		json
//	@Success		200	{object}	report.Report
//	@Failure		422	{object}	errResponse
//	@Failure		500	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reanalyze [post]
func (h *Handler) Reanalyze(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Reanalyze(r.Context())
	if err != nil {
		if errors.Is(err, apperr.ErrManifest) || errors.Is(err, apperr.ErrSnapshot) {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
		} else {
			slog.Error("reanalyze failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	if h.OnReanalyzed != nil {
		h.OnReanalyzed(rep)
	}
	writeJSON(w, http.StatusOK, rep)
}

type recordsResponse struct {
	Records []models.Record `json:"records" validate:"required"`
	Total   int             `json:"total" example:"42" validate:"required"`
}
