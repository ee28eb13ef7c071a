package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/backend/internal/models"
	"github.com/studyloop/backend/internal/session"
)

// touchCountRepo is a session.Repository that counts Touch calls.
type touchCountRepo struct {
	touches int32
}

func (r *touchCountRepo) CreateOrReuse(_ context.Context, candidate *models.Session, _ int) (*models.Session, bool, error) {
	return candidate, false, nil
}

func (r *touchCountRepo) GetByID(context.Context, string) (*models.Session, error) {
	return nil, session.ErrSessionNotFound
}

func (r *touchCountRepo) Touch(context.Context, string, time.Time, time.Time) error {
	atomic.AddInt32(&r.touches, 1)
	return nil
}

func (r *touchCountRepo) Invalidate(context.Context, string, time.Time) error { return nil }

func (r *touchCountRepo) InvalidateExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *touchCountRepo) ActiveByUser(context.Context, string) ([]*models.Session, error) {
	return nil, nil
}

func (r *touchCountRepo) ActiveCountByUser(context.Context, string) (int64, error) { return 0, nil }

func newTestMiddleware(repo session.Repository) (*AuthMiddleware, *JWTService) {
	jwtSvc := NewJWTService("test-secret", time.Hour)
	sessions := session.NewManager(repo, time.Hour, 0)
	return NewAuthMiddleware(jwtSvc, sessions), jwtSvc
}

func TestAuthenticateMiddleware(t *testing.T) {
	user := &models.User{ID: "u1", Email: "student@example.com", Role: models.RoleStudent}

	t.Run("valid token reaches the handler with the user set", func(t *testing.T) {
		repo := &touchCountRepo{}
		m, jwtSvc := newTestMiddleware(repo)
		token, err := jwtSvc.Generate(user, "sess-1")
		require.NoError(t, err)

		var seen *AuthUser
		h := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetUser(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "u1", seen.ID)
		assert.Equal(t, "sess-1", seen.SessionID)
		assert.Equal(t, int32(1), atomic.LoadInt32(&repo.touches))
	})

	t.Run("missing token is rejected", func(t *testing.T) {
		m, _ := newTestMiddleware(&touchCountRepo{})
		h := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("authenticate after optional auth touches the session once", func(t *testing.T) {
		repo := &touchCountRepo{}
		m, jwtSvc := newTestMiddleware(repo)
		token, err := jwtSvc.Generate(user, "sess-1")
		require.NoError(t, err)

		var handled bool
		h := m.OptionalAuth(m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handled = true
			require.NotNil(t, GetUser(r.Context()))
		})))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.True(t, handled)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int32(1), atomic.LoadInt32(&repo.touches), "chained middleware must not touch the session twice")
	})

	t.Run("optional auth without a token still reaches the handler", func(t *testing.T) {
		m, _ := newTestMiddleware(&touchCountRepo{})
		var handled bool
		h := m.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handled = true
			assert.Nil(t, GetUser(r.Context()))
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.True(t, handled)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	withUser := func(r *http.Request, u *AuthUser) *http.Request {
		return r.WithContext(context.WithValue(r.Context(), UserContextKey, u))
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("wrong role gets 403", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := withUser(httptest.NewRequest(http.MethodGet, "/", nil), &AuthUser{ID: "u1", Role: models.RoleStudent})
		RequireRole(models.RoleTeacher)(handler).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "Insufficient permissions")
	})

	t.Run("admin passes any role check", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := withUser(httptest.NewRequest(http.MethodGet, "/", nil), &AuthUser{ID: "u1", Role: models.RoleAdmin})
		RequireRole(models.RoleTeacher)(handler).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("no user gets 401", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireRole(models.RoleTeacher)(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
