package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/daniel-caso-github/users-insights/internal/core"
	apperrors "github.com/daniel-caso-github/users-insights/internal/errors"
)

// InsightsRunner computes insights for one subject.
type InsightsRunner interface {
	Run(ctx context.Context, subject core.Subject) (*core.RunReport, error)
}

// InsightsHandler serves GET /user-insights/{username}.
type InsightsHandler struct {
	Runner InsightsRunner
}

// NewInsightsHandler binds runner to the insights route.
func NewInsightsHandler(runner InsightsRunner) *InsightsHandler {
	return &InsightsHandler{Runner: runner}
}

// ServeHTTP responds with the aggregate insights map. With ?outcomes=true the
// full run report is returned instead.
func (h *InsightsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if username == "" {
		apperrors.RespondWithError(w, r, apperrors.NewInvalidInputError("username is required"))
		return
	}

	if h == nil || h.Runner == nil {
		apperrors.RespondWithError(w, r, apperrors.NewInternalError("insights runner not configured"))
		return
	}

	report, err := h.Runner.Run(r.Context(), core.Subject(username))
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.WrapRunError(r.Context(), username, err))
		return
	}

	if withOutcomes, _ := strconv.ParseBool(r.URL.Query().Get("outcomes")); withOutcomes {
		writeJSON(w, http.StatusOK, report)
		return
	}

	insights := report.Insights
	if insights == nil {
		insights = core.AggregateInsights{}
	}
	writeJSON(w, http.StatusOK, insights)
}
