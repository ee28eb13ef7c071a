// Package usage enforces metered consumption (AI tokens, discrete actions)
// against a subscription plan's budget. It answers "has the budget been
// consumed" over daily/monthly/total horizons, distinct from the rate
// limiter's "is the instantaneous rate too high".
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/studyloop/backend/internal/models"
)

// QuotaExceededError reports a violated usage limit. Not retryable until
// the violated period resets. It carries only the structured fields needed
// for UI messaging.
type QuotaExceededError struct {
	Feature string        `json:"feature"`
	Period  models.Period `json:"limit_type"`
	Limit   int64         `json:"limit_value"`
	Used    int64         `json:"used"`
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for feature %q: %s limit %d reached (used %d)", e.Feature, e.Period, e.Limit, e.Used)
}

// FeatureUsage is one feature's aggregated consumption
type FeatureUsage struct {
	Feature  string `json:"feature"`
	Events   int64  `json:"events"`
	Quantity int64  `json:"quantity"`
}

// Summary is the read-only usage report for display purposes
type Summary struct {
	UserID   string         `json:"user_id"`
	PlanID   string         `json:"plan_id"`
	Period   models.Period  `json:"period"`
	Since    time.Time      `json:"since"`
	Features []FeatureUsage `json:"features"`
}

// Ledger is the durable, append-only usage event store. Serialize brackets
// a check-then-record sequence: within fn, Aggregate and Insert observe a
// consistent view and no other Serialize call for the same key interleaves,
// across every process sharing the store.
type Ledger interface {
	Insert(ctx context.Context, event *models.UsageEvent) error
	Aggregate(ctx context.Context, userID, feature string, since time.Time, agg models.Aggregation) (int64, error)
	Summarize(ctx context.Context, userID, feature string, since time.Time) ([]FeatureUsage, error)
	Serialize(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// LimitSource provides the configured limit rows for a plan+feature in a
// fixed, deterministic order; the first violated row wins.
type LimitSource interface {
	LimitsFor(ctx context.Context, planID, feature string) ([]models.UsageLimit, error)
}

// PlanResolver maps a user to their effective plan. Users with no active
// subscription resolve to the free plan.
type PlanResolver interface {
	PlanFor(ctx context.Context, userID string) (string, error)
}

// Tracker is the usage quota service. Business logic consults CheckLimits
// before a billable action and records consumption through Consume, which
// makes the check+record pair atomic per (user, feature).
type Tracker struct {
	ledger Ledger
	limits LimitSource
	plans  PlanResolver
	now    func() time.Time
}

// NewTracker creates a usage tracker
func NewTracker(ledger Ledger, limits LimitSource, plans PlanResolver) *Tracker {
	return &Tracker{
		ledger: ledger,
		limits: limits,
		plans:  plans,
		now:    time.Now,
	}
}

// CheckLimits verifies that the user's budget for feature is not already
// exhausted. Limits are evaluated in the order the LimitSource returns
// them; the first violated limit short-circuits with its own period and
// value. A nil return means the feature may proceed.
func (t *Tracker) CheckLimits(ctx context.Context, userID, feature string) error {
	return t.check(ctx, userID, feature, 0)
}

// Consume atomically re-checks every limit with the requested quantity
// applied and appends the usage event. Two concurrent requests can never
// jointly exceed the budget: the whole sequence is serialized per
// (user, feature) by the ledger.
func (t *Tracker) Consume(ctx context.Context, userID, feature, action string, quantity int64, metadata map[string]string) (*models.UsageEvent, error) {
	var event *models.UsageEvent

	key := fmt.Sprintf("usage:%s:%s", userID, feature)
	err := t.ledger.Serialize(ctx, key, func(ctx context.Context) error {
		if err := t.check(ctx, userID, feature, quantity); err != nil {
			return err
		}

		e := t.newEvent(userID, feature, action, quantity, metadata)
		if err := t.ledger.Insert(ctx, e); err != nil {
			return fmt.Errorf("failed to record usage: %w", err)
		}
		event = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// RecordUsage appends a usage event without re-checking limits. Callers
// must have passed CheckLimits first; prefer Consume, which does both
// under one lock.
func (t *Tracker) RecordUsage(ctx context.Context, userID, feature, action string, quantity int64, metadata map[string]string) (*models.UsageEvent, error) {
	event := t.newEvent(userID, feature, action, quantity, metadata)
	if err := t.ledger.Insert(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}
	return event, nil
}

// Summary returns consumption grouped by feature over the period, for
// display purposes. Read-only, no atomicity requirement. An empty feature
// reports all features.
func (t *Tracker) Summary(ctx context.Context, userID, feature string, period models.Period) (*Summary, error) {
	now := t.now()
	since := period.WindowStart(now)

	planID, err := t.plans.PlanFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plan: %w", err)
	}

	features, err := t.ledger.Summarize(ctx, userID, feature, since)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}

	return &Summary{
		UserID:   userID,
		PlanID:   planID,
		Period:   period,
		Since:    since,
		Features: features,
	}, nil
}

// check evaluates every limit row for the user's plan. pending is the
// quantity the caller is about to consume: zero for a pre-flight check,
// the requested amount inside Consume. For sum limits the pending quantity
// counts in full; for count limits a non-zero pending counts as one more
// event.
func (t *Tracker) check(ctx context.Context, userID, feature string, pending int64) error {
	planID, err := t.plans.PlanFor(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve plan: %w", err)
	}

	limits, err := t.limits.LimitsFor(ctx, planID, feature)
	if err != nil {
		return fmt.Errorf("failed to load limits: %w", err)
	}

	now := t.now()
	for _, limit := range limits {
		used, err := t.ledger.Aggregate(ctx, userID, feature, limit.Period.WindowStart(now), limit.Aggregation)
		if err != nil {
			return fmt.Errorf("failed to aggregate usage: %w", err)
		}

		projected := used
		switch {
		case limit.Aggregation == models.AggregateCount && pending > 0:
			projected += 1
		case limit.Aggregation == models.AggregateSum:
			projected += pending
		}

		exceeded := projected > limit.Value
		if pending == 0 {
			// Pre-flight: the budget is exhausted once used reaches the limit
			exceeded = used >= limit.Value
		}
		if exceeded {
			return &QuotaExceededError{
				Feature: feature,
				Period:  limit.Period,
				Limit:   limit.Value,
				Used:    used,
			}
		}
	}
	return nil
}

func (t *Tracker) newEvent(userID, feature, action string, quantity int64, metadata map[string]string) *models.UsageEvent {
	return &models.UsageEvent{
		ID:        uuid.New().String(),
		UserID:    userID,
		Feature:   feature,
		Action:    action,
		Quantity:  quantity,
		Metadata:  metadata,
		CreatedAt: t.now(),
	}
}
