package auth

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/studyloop/backend/internal/api/response"
	"github.com/studyloop/backend/internal/models"
	"github.com/studyloop/backend/internal/session"
)

// Context keys for authentication
type contextKey string

const (
	// UserContextKey is the context key for the authenticated user
	UserContextKey contextKey = "user"
	// ClaimsContextKey is the context key for JWT claims
	ClaimsContextKey contextKey = "claims"
)

// AuthUser is the request-scoped view of the authenticated user
type AuthUser struct {
	ID        string
	Email     string
	Role      string
	SessionID string
}

// AuthMiddleware authenticates requests by JWT and keeps the token's
// session row fresh on each access.
type AuthMiddleware struct {
	jwtService *JWTService
	sessions   *session.Manager
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(jwtService *JWTService, sessions *session.Manager) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
		sessions:   sessions,
	}
}

// Authenticate requires a valid bearer token bound to a live session
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// OptionalAuth upstream may already have validated the token and
		// touched the session; don't do either twice.
		if GetUser(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}

		user, claims, err := m.authenticate(r)
		if err != nil {
			writeAuthError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		ctx = context.WithValue(ctx, ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth sets the user if authenticated but continues if not, so
// downstream middleware (rate limiting) can key on user id over IP.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, claims, err := m.authenticate(r)
		if err == nil && user != nil {
			ctx := context.WithValue(r.Context(), UserContextKey, user)
			ctx = context.WithValue(ctx, ClaimsContextKey, claims)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate validates the bearer token and refreshes its session.
func (m *AuthMiddleware) authenticate(r *http.Request) (*AuthUser, *Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil, ErrInvalidToken
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, nil, ErrInvalidToken
	}

	claims, err := m.jwtService.Validate(parts[1])
	if err != nil {
		return nil, nil, err
	}

	// A revoked or expired session invalidates the token even if the JWT
	// itself is still within its lifetime.
	if claims.SessionID != "" {
		if err := m.sessions.Touch(r.Context(), claims.SessionID); err != nil {
			if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionExpired) {
				return nil, nil, err
			}
			// Store trouble must not lock every user out
			log.Printf("[auth] WARN session touch failed session=%s: %v", claims.SessionID, err)
		}
	}

	user := &AuthUser{
		ID:        claims.UserID,
		Email:     claims.Email,
		Role:      claims.Role,
		SessionID: claims.SessionID,
	}
	return user, claims, nil
}

// RequireRole restricts a route to users with the given role
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				response.Error(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			if user.Role != role && user.Role != models.RoleAdmin {
				response.Forbidden(w, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUser retrieves the authenticated user from the context
func GetUser(ctx context.Context) *AuthUser {
	if user, ok := ctx.Value(UserContextKey).(*AuthUser); ok {
		return user
	}
	return nil
}

// GetClaims retrieves the JWT claims from the context
func GetClaims(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(ClaimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// writeAuthError maps an authentication failure to a 401 response
func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrExpiredToken):
		response.Error(w, http.StatusUnauthorized, "Token has expired")
	case errors.Is(err, session.ErrSessionExpired):
		response.Error(w, http.StatusUnauthorized, "Session has expired, please log in again")
	case errors.Is(err, session.ErrSessionNotFound):
		response.Error(w, http.StatusUnauthorized, "Session has been revoked")
	default:
		response.Error(w, http.StatusUnauthorized, "Invalid or missing token")
	}
}
