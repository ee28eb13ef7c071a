package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/studyloop/backend/internal/api/response"
	"github.com/studyloop/backend/internal/auth"
	"github.com/studyloop/backend/internal/feedback"
	"github.com/studyloop/backend/internal/usage"
)

// FeedbackHandler handles AI feedback endpoints
type FeedbackHandler struct {
	service *feedback.Service
}

// NewFeedbackHandler creates a new feedback handler
func NewFeedbackHandler(service *feedback.Service) *FeedbackHandler {
	return &FeedbackHandler{service: service}
}

// FeedbackRequest represents a feedback generation request
type FeedbackRequest struct {
	Assignment string `json:"assignment,omitempty"`
	Submission string `json:"submission"`
}

// Generate produces AI feedback for a submission, metered against the
// user's plan quota. Over-quota requests get 403 with the limit that was
// hit, so clients can render an upgrade prompt.
// POST /api/v1/ai/feedback
func (h *FeedbackHandler) Generate(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if req.Submission == "" {
		writeError(w, http.StatusBadRequest, "missing_submission", "Submission text is required")
		return
	}

	result, err := h.service.Generate(r.Context(), user.ID, req.Assignment, req.Submission)
	if err != nil {
		if errors.Is(err, feedback.ErrEmptySubmission) || errors.Is(err, feedback.ErrSubmissionTooLong) {
			writeError(w, http.StatusBadRequest, "invalid_submission", err.Error())
			return
		}
		var quotaErr *usage.QuotaExceededError
		if errors.As(err, &quotaErr) {
			response.ErrorWithDetails(w, http.StatusForbidden,
				"Usage quota exceeded for this feature. Upgrade your plan for a higher limit.",
				quotaErr)
			return
		}
		log.Printf("[feedback] generation failed user=%s: %v", user.ID, err)
		writeError(w, http.StatusBadGateway, "generation_failed", "Failed to generate feedback. Please try again.")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
