// Package session deduplicates authentication sessions per device: a user
// holds at most one active session per distinct device_key, so repeated
// logins from the same device reuse the existing row instead of growing the
// session table, while separate devices keep separate sessions.
package session

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/studyloop/backend/internal/models"
)

var (
	// ErrSessionNotFound is returned when no session exists for an id
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when a session is past its expiry;
	// the caller must re-authenticate
	ErrSessionExpired = errors.New("session has expired")
	// ErrDeviceLimitReached is returned when a login from a new device
	// would exceed the configured maximum concurrent devices
	ErrDeviceLimitReached = errors.New("maximum concurrent devices reached")
)

// Repository persists sessions. CreateOrReuse is the atomic unit: for a
// given (user_id, device_key) two concurrent logins must never produce two
// active rows.
type Repository interface {
	// CreateOrReuse finds an active, unexpired session for the candidate's
	// (UserID, DeviceKey) and refreshes it, or inserts the candidate row.
	// maxDevices > 0 caps the number of distinct active device keys per
	// user; breaching it returns ErrDeviceLimitReached.
	CreateOrReuse(ctx context.Context, candidate *models.Session, maxDevices int) (*models.Session, bool, error)

	// GetByID returns a session or ErrSessionNotFound.
	GetByID(ctx context.Context, id string) (*models.Session, error)

	// Touch refreshes last_accessed and slides expires_at for an active session.
	Touch(ctx context.Context, id string, accessedAt, expiresAt time.Time) error

	// Invalidate flips is_active off and stamps invalidated_at. Affecting
	// zero active rows is not an error; the repository reports
	// ErrSessionNotFound only when no row exists at all.
	Invalidate(ctx context.Context, id string, at time.Time) error

	// InvalidateExpired flips every active session whose expires_at has
	// passed, returning the number affected.
	InvalidateExpired(ctx context.Context, now time.Time) (int64, error)

	// ActiveByUser lists active, unexpired sessions for a user.
	ActiveByUser(ctx context.Context, userID string) ([]*models.Session, error)

	// ActiveCountByUser counts active, unexpired sessions for a user.
	ActiveCountByUser(ctx context.Context, userID string) (int64, error)
}

// Manager is the session-deduplication service consumed by the
// authentication flow (after credential verification) and by the
// account-security UI (list/revoke devices).
type Manager struct {
	repo       Repository
	ttl        time.Duration
	maxDevices int
	now        func() time.Time
}

// NewManager creates a session manager. ttl is how long a session lives
// without refresh; maxDevices of 0 means unlimited devices per user.
func NewManager(repo Repository, ttl time.Duration, maxDevices int) *Manager {
	return &Manager{
		repo:       repo,
		ttl:        ttl,
		maxDevices: maxDevices,
		now:        time.Now,
	}
}

// CreateOrReuse returns the user's session for the device described by
// info, creating one only if no active, unexpired session exists for that
// device_key. The reused flag reports whether an existing row was refreshed.
func (m *Manager) CreateOrReuse(ctx context.Context, userID string, info DeviceInfo) (*models.Session, bool, error) {
	now := m.now()
	candidate := &models.Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		DeviceKey:    info.Fingerprint(),
		CreatedAt:    now,
		LastAccessed: now,
		ExpiresAt:    now.Add(m.ttl),
		IsActive:     true,
	}

	sess, reused, err := m.repo.CreateOrReuse(ctx, candidate, m.maxDevices)
	if err != nil {
		return nil, false, err
	}
	return sess, reused, nil
}

// Get returns the session for id if it is active and unexpired.
func (m *Manager) Get(ctx context.Context, id string) (*models.Session, error) {
	sess, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive {
		return nil, ErrSessionNotFound
	}
	if sess.Expired(m.now()) {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Touch refreshes a session's last_accessed and slides its expiry forward,
// called on each authenticated request.
func (m *Manager) Touch(ctx context.Context, id string) error {
	now := m.now()
	return m.repo.Touch(ctx, id, now, now.Add(m.ttl))
}

// Invalidate revokes a session. Idempotent: revoking an already-invalid
// session succeeds as a no-op.
func (m *Manager) Invalidate(ctx context.Context, id string) error {
	return m.repo.Invalidate(ctx, id, m.now())
}

// CleanupExpired sweeps active sessions past their expiry, flipping them
// inactive. Designed to run periodically; a failure mid-sweep leaves the
// remaining rows for the next run.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := m.repo.InvalidateExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[session] Swept %d expired sessions", n)
	}
	return n, nil
}

// ActiveSessions lists the user's active sessions for the devices UI.
func (m *Manager) ActiveSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	return m.repo.ActiveByUser(ctx, userID)
}

// ActiveCount returns the number of distinct active devices for a user.
func (m *Manager) ActiveCount(ctx context.Context, userID string) (int64, error) {
	return m.repo.ActiveCountByUser(ctx, userID)
}
