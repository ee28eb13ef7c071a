package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/studyloop/backend/internal/api/request"
	"github.com/studyloop/backend/internal/api/response"
	"github.com/studyloop/backend/internal/auth"
	"github.com/studyloop/backend/internal/middleware"
	"github.com/studyloop/backend/internal/models"
	"github.com/studyloop/backend/internal/session"
)

// SessionHandler handles device session endpoints
type SessionHandler struct {
	sessions *session.Manager
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *session.Manager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// List returns the user's active device sessions, most recently used first
// GET /api/v1/sessions
// Query params: limit (1-100, default 20), offset
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user := auth.GetUser(ctx)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	limit := request.GetQueryIntWithRange(r, "limit", 20, 1, 100)
	offset := request.GetQueryInt(r, "offset", 0)

	sessions, err := h.sessions.ActiveSessions(ctx, user.ID)
	if err != nil {
		log.Printf("[sessions] failed to list sessions user=%s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to list sessions")
		return
	}

	total := len(sessions)
	if offset > total {
		offset = total
	}
	page := sessions[offset:min(offset+limit, total)]

	resp := make([]models.SessionResponse, 0, len(page))
	for _, s := range page {
		resp = append(resp, s.ToResponse(user.SessionID))
	}

	pagination := response.NewPagination(total, limit, offset)
	meta := response.NewMeta(
		middleware.GetRequestID(ctx),
		middleware.GetResponseTimeMs(ctx),
	)
	response.SuccessWithPagination(w, resp, pagination, meta)
}

// Revoke invalidates one of the user's sessions by ID. Revoking the current
// session is equivalent to logging out.
// DELETE /api/v1/sessions/{id}
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	id := request.GetURLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Session ID required")
		return
	}

	// Sessions belonging to other users are reported as missing
	sess, err := h.sessions.Get(r.Context(), id)
	if err != nil || sess.UserID != user.ID {
		writeError(w, http.StatusNotFound, "not_found", "Session not found")
		return
	}

	if err := h.sessions.Invalidate(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Session not found")
			return
		}
		log.Printf("[sessions] failed to revoke session %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to revoke session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Session revoked successfully",
	})
}
