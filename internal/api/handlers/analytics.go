package handlers

import (
	"errors"
	"net/http"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/the491/branchledger/internal/api/middleware"
	"github.com/the491/branchledger/internal/domain"
	"github.com/the491/branchledger/internal/summary"
)

// AnalyticsHandler serves summary reports over the committed ledger.
type AnalyticsHandler struct {
	engine *summary.Engine
	log    zerolog.Logger
}

// NewAnalyticsHandler creates the handler.
func NewAnalyticsHandler(engine *summary.Engine, log zerolog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{engine: engine, log: log}
}

// Summary handles GET /api/analytics/summary.
func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	branchID := query.Get("branch_id")
	if branchID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "branch_id is required")
		return
	}

	start, err := civil.ParseDate(query.Get("start"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
		return
	}
	end, err := civil.ParseDate(query.Get("end"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
		return
	}

	report, err := h.engine.Summarize(r.Context(), branchID, start, end, query.Get("category_id"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrBranchNotFound):
			middleware.WriteError(w, http.StatusNotFound, "Branch not found")
		case domain.IsValidation(err):
			middleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.log.Error().Err(err).Str("branch_id", branchID).Msg("Failed to compute summary")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute summary")
		}
		return
	}

	middleware.WriteJSON(w, http.StatusOK, report)
}
