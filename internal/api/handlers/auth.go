package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/studyloop/backend/internal/auth"
	"github.com/studyloop/backend/internal/models"
	"github.com/studyloop/backend/internal/repository"
	"github.com/studyloop/backend/internal/session"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	userRepo   *repository.UserRepository
	jwtService *auth.JWTService
	sessions   *session.Manager
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(
	userRepo *repository.UserRepository,
	jwtService *auth.JWTService,
	sessions *session.Manager,
) *AuthHandler {
	return &AuthHandler{
		userRepo:   userRepo,
		jwtService: jwtService,
		sessions:   sessions,
	}
}

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginRequest represents a login request.
// DeviceID identifies the installed client; browsers may omit it.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"device_id,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// AuthResponse represents an authentication response
type AuthResponse struct {
	Token         string        `json:"token"`
	ExpiresIn     int64         `json:"expires_in"`
	SessionID     string        `json:"session_id"`
	SessionReused bool          `json:"session_reused"`
	User          *UserResponse `json:"user"`
}

// UserResponse represents a user in API responses
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Register handles user registration
// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if !isValidEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "invalid_email", "Invalid email address")
		return
	}

	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, "weak_password", err.Error())
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to process registration")
		return
	}

	user := &models.User{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: passwordHash,
		Name:         strings.TrimSpace(req.Name),
	}

	if err := h.userRepo.Create(r.Context(), user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			writeError(w, http.StatusConflict, "user_exists", "An account with this email already exists")
			return
		}
		log.Printf("[auth] failed to create user: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to create account")
		return
	}

	sess, reused, err := h.establishSession(r, user, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to create session")
		return
	}

	token, err := h.jwtService.Generate(user, sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to generate token")
		return
	}

	writeJSON(w, http.StatusCreated, AuthResponse{
		Token:         token,
		ExpiresIn:     int64(h.jwtService.GetExpiration().Seconds()),
		SessionID:     sess.ID,
		SessionReused: reused,
		User:          toUserResponse(user),
	})
}

// Login handles user login. Signing in twice from the same device refreshes
// the existing session instead of stacking a new one.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	user, err := h.userRepo.GetByEmail(r.Context(), email)
	if err != nil {
		// Don't reveal whether the email exists
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}

	if !auth.CheckPassword(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}

	sess, reused, err := h.establishSession(r, user, req.DeviceID)
	if err != nil {
		if errors.Is(err, session.ErrDeviceLimitReached) {
			writeError(w, http.StatusForbidden, "device_limit", "Maximum number of active devices reached. Sign out on another device first.")
			return
		}
		log.Printf("[auth] failed to create session user=%s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to create session")
		return
	}

	token, err := h.jwtService.Generate(user, sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{
		Token:         token,
		ExpiresIn:     int64(h.jwtService.GetExpiration().Seconds()),
		SessionID:     sess.ID,
		SessionReused: reused,
		User:          toUserResponse(user),
	})
}

// Logout invalidates the current device session
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	if err := h.sessions.Invalidate(r.Context(), user.SessionID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		log.Printf("[auth] failed to invalidate session %s: %v", user.SessionID, err)
		writeError(w, http.StatusInternalServerError, "server_error", "Failed to log out")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Logged out successfully",
	})
}

// establishSession derives the device fingerprint from the request and
// creates or reuses the session for it.
func (h *AuthHandler) establishSession(r *http.Request, user *models.User, deviceID string) (*models.Session, bool, error) {
	if deviceID == "" {
		deviceID = r.Header.Get("X-Device-ID")
	}
	info := session.DeviceInfo{
		UserAgent: r.UserAgent(),
		Platform:  r.Header.Get("X-Platform"),
		DeviceID:  deviceID,
	}
	return h.sessions.CreateOrReuse(r.Context(), user.ID, info)
}

func toUserResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
	}
}

// isValidEmail validates an email address format
func isValidEmail(email string) bool {
	// Simple email regex - not perfect but good enough for basic validation
	emailRegex := regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	return emailRegex.MatchString(email)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}
