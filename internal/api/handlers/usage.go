package handlers

import (
	"log"
	"net/http"

	"github.com/studyloop/backend/internal/api/request"
	"github.com/studyloop/backend/internal/auth"
	"github.com/studyloop/backend/internal/models"
	"github.com/studyloop/backend/internal/usage"
)

// UsageHandler handles usage quota endpoints
type UsageHandler struct {
	tracker *usage.Tracker
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(tracker *usage.Tracker) *UsageHandler {
	return &UsageHandler{tracker: tracker}
}

// GetSummary returns the current user's consumption against their plan.
// Optional query params: feature (all features when empty), period
// (daily, monthly or total; defaults to monthly).
// GET /api/v1/usage
func (h *UsageHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	feature := request.GetQueryString(r, "feature", "")

	period := models.PeriodMonthly
	if raw := request.GetQueryString(r, "period", ""); raw != "" {
		parsed, err := models.ParsePeriod(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_period", "Period must be one of: daily, monthly, total")
			return
		}
		period = parsed
	}

	summary, err := h.tracker.Summary(r.Context(), user.ID, feature, period)
	if err != nil {
		log.Printf("[usage] failed to build summary user=%s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to fetch usage summary")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
