package database

import (
	"context"
	"fmt"
)

// Schema statements are idempotent and applied in order at startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            UUID PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		name          TEXT NOT NULL DEFAULT '',
		role          TEXT NOT NULL DEFAULT 'student',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS subscriptions (
		id         UUID PRIMARY KEY,
		user_id    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		plan_id    TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		ended_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions (user_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS usage_limits (
		plan_id     TEXT NOT NULL,
		feature     TEXT NOT NULL,
		limit_type  TEXT NOT NULL,
		limit_value BIGINT NOT NULL,
		aggregation TEXT NOT NULL DEFAULT 'count',
		PRIMARY KEY (plan_id, feature, limit_type)
	)`,

	`CREATE TABLE IF NOT EXISTS usage_events (
		id         UUID PRIMARY KEY,
		user_id    UUID NOT NULL,
		feature    TEXT NOT NULL,
		action     TEXT NOT NULL,
		quantity   BIGINT NOT NULL DEFAULT 1,
		metadata   JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_events_user_feature ON usage_events (user_id, feature, created_at)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id             UUID PRIMARY KEY,
		user_id        UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		device_key     TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		last_accessed  TIMESTAMPTZ NOT NULL,
		expires_at     TIMESTAMPTZ NOT NULL,
		is_active      BOOLEAN NOT NULL DEFAULT true,
		invalidated_at TIMESTAMPTZ
	)`,
	// One live session per (user, device); the partial index lets retired
	// rows accumulate for audit without blocking re-login.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_user_device_active
		ON sessions (user_id, device_key) WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user_active ON sessions (user_id, last_accessed DESC) WHERE is_active`,

	// Default plan limits; operators adjust rows per deployment
	`INSERT INTO usage_limits (plan_id, feature, limit_type, limit_value, aggregation) VALUES
		('free',       'ai_feedback', 'daily',   5,       'count'),
		('free',       'ai_feedback', 'monthly', 50,      'count'),
		('free',       'ai_hints',    'daily',   20,      'count'),
		('pro',        'ai_feedback', 'daily',   50,      'count'),
		('pro',        'ai_feedback', 'monthly', 1000,    'count'),
		('pro',        'ai_hints',    'daily',   200,     'count'),
		('enterprise', 'ai_feedback', 'monthly', 20000,   'count'),
		('enterprise', 'ai_hints',    'monthly', 100000,  'count')
	ON CONFLICT (plan_id, feature, limit_type) DO NOTHING`,
}

// Migrate applies the schema. Safe to run on every startup.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d failed: %w", i, err)
		}
	}
	return nil
}
