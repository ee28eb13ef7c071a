package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/studyloop/backend/internal/database"
	"github.com/studyloop/backend/internal/models"
	"github.com/studyloop/backend/internal/session"
)

const sessionColumns = `id, user_id, device_key, created_at, last_accessed, expires_at, is_active, invalidated_at`

// SessionRepository handles session database operations. A partial unique
// index on (user_id, device_key) WHERE is_active backs the one-active-
// session-per-device invariant at the storage level.
type SessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateOrReuse refreshes the active session for (user_id, device_key) or
// inserts the candidate. The lookup-or-create runs inside one transaction
// holding an advisory lock on the pair, so a simultaneous double-login
// cannot create two rows.
func (r *SessionRepository) CreateOrReuse(ctx context.Context, candidate *models.Session, maxDevices int) (*models.Session, bool, error) {
	var result *models.Session
	var reused bool

	lockKey := fmt.Sprintf("session:%s:%s", candidate.UserID, candidate.DeviceKey)
	err := r.db.WithLock(ctx, lockKey, func(tx pgx.Tx) error {
		// Reuse path: refresh an existing active, unexpired session
		row := tx.QueryRow(ctx, `
			UPDATE sessions
			SET last_accessed = $3, expires_at = $4
			WHERE user_id = $1 AND device_key = $2 AND is_active = true AND expires_at > $3
			RETURNING `+sessionColumns,
			candidate.UserID, candidate.DeviceKey, candidate.LastAccessed, candidate.ExpiresAt)

		existing, err := scanSession(row)
		if err == nil {
			result = existing
			reused = true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to refresh session: %w", err)
		}

		if maxDevices > 0 {
			var active int64
			err := tx.QueryRow(ctx, `
				SELECT COUNT(*) FROM sessions
				WHERE user_id = $1 AND is_active = true AND expires_at > $2`,
				candidate.UserID, candidate.LastAccessed).Scan(&active)
			if err != nil {
				return fmt.Errorf("failed to count active sessions: %w", err)
			}
			if active >= int64(maxDevices) {
				return session.ErrDeviceLimitReached
			}
		}

		// An expired or invalidated row may still hold the partial unique
		// index slot; clear it before inserting the replacement.
		if _, err := tx.Exec(ctx, `
			UPDATE sessions
			SET is_active = false, invalidated_at = $3
			WHERE user_id = $1 AND device_key = $2 AND is_active = true`,
			candidate.UserID, candidate.DeviceKey, candidate.LastAccessed); err != nil {
			return fmt.Errorf("failed to retire stale session: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO sessions (id, user_id, device_key, created_at, last_accessed, expires_at, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, true)`,
			candidate.ID, candidate.UserID, candidate.DeviceKey,
			candidate.CreatedAt, candidate.LastAccessed, candidate.ExpiresAt); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}

		result = candidate
		reused = false
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, reused, nil
}

// GetByID retrieves a session by id
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// Touch refreshes last_accessed and slides expires_at for an active session
func (r *SessionRepository) Touch(ctx context.Context, id string, accessedAt, expiresAt time.Time) error {
	affected, err := r.db.Exec(ctx, `
		UPDATE sessions
		SET last_accessed = $2, expires_at = $3
		WHERE id = $1 AND is_active = true AND expires_at > $2`,
		id, accessedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing row from an expired one
		sess, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if sess.Expired(accessedAt) {
			return session.ErrSessionExpired
		}
		return session.ErrSessionNotFound
	}
	return nil
}

// Invalidate flips is_active off and stamps invalidated_at. Invalidating an
// already-invalid session is a successful no-op.
func (r *SessionRepository) Invalidate(ctx context.Context, id string, at time.Time) error {
	affected, err := r.db.Exec(ctx, `
		UPDATE sessions
		SET is_active = false, invalidated_at = $2
		WHERE id = $1 AND is_active = true`,
		id, at)
	if err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	if affected == 0 {
		// No active row: a no-op if the session exists, not-found otherwise
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateExpired flips every active session past its expiry. Safe to
// re-run; rows missed by a failed sweep are picked up next time.
func (r *SessionRepository) InvalidateExpired(ctx context.Context, now time.Time) (int64, error) {
	affected, err := r.db.Exec(ctx, `
		UPDATE sessions
		SET is_active = false, invalidated_at = $1
		WHERE is_active = true AND expires_at < $1`,
		now)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate expired sessions: %w", err)
	}
	return affected, nil
}

// ActiveByUser lists a user's active, unexpired sessions, most recent first
func (r *SessionRepository) ActiveByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND is_active = true AND expires_at > now()
		ORDER BY last_accessed DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ActiveCountByUser counts a user's active, unexpired sessions
func (r *SessionRepository) ActiveCountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE user_id = $1 AND is_active = true AND expires_at > now()`,
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.UserID, &s.DeviceKey, &s.CreatedAt,
		&s.LastAccessed, &s.ExpiresAt, &s.IsActive, &s.InvalidatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
