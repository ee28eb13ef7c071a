package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/studyloop/backend/internal/cache"
	"github.com/studyloop/backend/internal/database"
	"github.com/studyloop/backend/internal/models"
)

const (
	defaultPlanCacheTTL = 5 * time.Minute

	// TagPlans invalidates cached plan limits when an administrator
	// changes the usage_limits table
	TagPlans = "plans"
)

// PlanRepository resolves users to plans and loads the configured usage
// limits. Limit rows are administrator-configured and read-only at request
// time, so both lookups memoize through the cache layer; a cache outage
// degrades to plain queries.
type PlanRepository struct {
	db    *database.DB
	cache *cache.Cache
	ttl   time.Duration
}

// NewPlanRepository creates a new plan repository. ttl bounds how long plan
// and limit lookups are cached; zero or negative selects the default.
func NewPlanRepository(db *database.DB, c *cache.Cache, ttl time.Duration) *PlanRepository {
	if ttl <= 0 {
		ttl = defaultPlanCacheTTL
	}
	return &PlanRepository{db: db, cache: c, ttl: ttl}
}

// LimitsFor returns the limit rows for plan+feature in deterministic order
// (daily, then monthly, then total) so the first violated limit is stable
// across evaluations.
func (r *PlanRepository) LimitsFor(ctx context.Context, planID, feature string) ([]models.UsageLimit, error) {
	key := cache.GenerateCacheKey("plans:limits", planID, feature)

	var limits []models.UsageLimit
	err := r.cache.GetOrSet(ctx, key, &limits, r.ttl, []string{TagPlans}, func(ctx context.Context) (interface{}, error) {
		return r.queryLimits(ctx, planID, feature)
	})
	if err != nil {
		return nil, err
	}
	return limits, nil
}

func (r *PlanRepository) queryLimits(ctx context.Context, planID, feature string) ([]models.UsageLimit, error) {
	rows, err := r.db.Query(ctx, `
		SELECT plan_id, feature, limit_type, limit_value, aggregation
		FROM usage_limits
		WHERE plan_id = $1 AND feature = $2
		ORDER BY CASE limit_type
			WHEN 'daily' THEN 1
			WHEN 'monthly' THEN 2
			ELSE 3
		END`,
		planID, feature)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage limits: %w", err)
	}
	defer rows.Close()

	limits := []models.UsageLimit{}
	for rows.Next() {
		var l models.UsageLimit
		var period, agg string
		if err := rows.Scan(&l.PlanID, &l.Feature, &period, &l.Value, &agg); err != nil {
			return nil, fmt.Errorf("failed to scan usage limit: %w", err)
		}
		l.Period, err = models.ParsePeriod(period)
		if err != nil {
			return nil, err
		}
		l.Aggregation = models.Aggregation(agg)
		limits = append(limits, l)
	}
	return limits, rows.Err()
}

// PlanFor resolves the user's effective plan from their subscription.
// Users with no subscription, or an inactive one, fall back to the free
// plan. Cached per user under the user's invalidation tag.
func (r *PlanRepository) PlanFor(ctx context.Context, userID string) (string, error) {
	key := cache.GenerateCacheKey("plans:user", userID)

	var planID string
	err := r.cache.GetOrSet(ctx, key, &planID, r.ttl, []string{TagPlans, cache.UserTag(userID)}, func(ctx context.Context) (interface{}, error) {
		return r.queryPlan(ctx, userID)
	})
	if err != nil {
		return "", err
	}
	return planID, nil
}

func (r *PlanRepository) queryPlan(ctx context.Context, userID string) (string, error) {
	var planID string
	var status string
	var endedAt *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT plan_id, status, ended_at
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		userID).Scan(&planID, &status, &endedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PlanFree, nil
		}
		return "", fmt.Errorf("failed to resolve subscription: %w", err)
	}

	sub := models.Subscription{PlanID: planID, Status: status, EndedAt: endedAt}
	if !sub.IsActive(time.Now()) {
		return models.PlanFree, nil
	}
	return planID, nil
}
