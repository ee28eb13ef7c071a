package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/studyloop/backend/internal/database"
	"github.com/studyloop/backend/internal/models"
	"github.com/studyloop/backend/internal/usage"
)

// UsageEventRepository is the Postgres-backed usage ledger. Events are
// append-only: nothing here updates or deletes rows outside retention
// sweeps.
type UsageEventRepository struct {
	db *database.DB
}

// NewUsageEventRepository creates a new usage event repository
func NewUsageEventRepository(db *database.DB) *UsageEventRepository {
	return &UsageEventRepository{db: db}
}

// Insert appends one usage event
func (r *UsageEventRepository) Insert(ctx context.Context, event *models.UsageEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	q := querierFrom(ctx, r.db)
	_, err = q.Exec(ctx, `
		INSERT INTO usage_events (id, user_id, feature, action, quantity, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.UserID, event.Feature, event.Action,
		event.Quantity, metadata, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert usage event: %w", err)
	}
	return nil
}

// Aggregate sums quantities (or counts events) for user+feature since the
// window start. A zero since means no lower bound (the total period).
func (r *UsageEventRepository) Aggregate(ctx context.Context, userID, feature string, since time.Time, agg models.Aggregation) (int64, error) {
	expr := "COALESCE(SUM(quantity), 0)"
	if agg == models.AggregateCount {
		expr = "COUNT(*)"
	}

	query := fmt.Sprintf(`
		SELECT %s FROM usage_events
		WHERE user_id = $1 AND feature = $2 AND created_at >= $3`, expr)

	q := querierFrom(ctx, r.db)
	var total int64
	if err := q.QueryRow(ctx, query, userID, feature, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return total, nil
}

// Summarize returns per-feature event counts and summed quantities for a
// user since the window start. An empty feature reports all features.
func (r *UsageEventRepository) Summarize(ctx context.Context, userID, feature string, since time.Time) ([]usage.FeatureUsage, error) {
	q := querierFrom(ctx, r.db)
	rows, err := q.Query(ctx, `
		SELECT feature, COUNT(*), COALESCE(SUM(quantity), 0)
		FROM usage_events
		WHERE user_id = $1 AND created_at >= $2 AND ($3 = '' OR feature = $3)
		GROUP BY feature
		ORDER BY feature`,
		userID, since, feature)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	defer rows.Close()

	var features []usage.FeatureUsage
	for rows.Next() {
		var f usage.FeatureUsage
		if err := rows.Scan(&f.Feature, &f.Events, &f.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan usage summary: %w", err)
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

// Serialize runs fn inside a transaction holding an advisory lock on key.
// Ledger reads and writes inside fn go through the same transaction, so a
// check-then-record pair observes a consistent view and no concurrent
// Serialize for the same key interleaves with it.
func (r *UsageEventRepository) Serialize(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return r.db.WithLock(ctx, key, func(tx pgx.Tx) error {
		return fn(withTx(ctx, tx))
	})
}

// DeleteBefore removes events older than the cutoff. Retention sweep only;
// this is the single sanctioned mutation of the ledger.
func (r *UsageEventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	affected, err := r.db.Exec(ctx, `DELETE FROM usage_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage events: %w", err)
	}
	return affected, nil
}
