package models

import (
	"fmt"
	"time"
)

// Period is the time horizon over which a usage limit is evaluated.
type Period string

// Period constants
const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
	PeriodTotal   Period = "total"
)

// ParsePeriod converts a stored limit_type string into a Period.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodDaily, PeriodMonthly, PeriodTotal:
		return Period(s), nil
	default:
		return "", fmt.Errorf("unknown limit period: %q", s)
	}
}

// WindowStart returns the start of the evaluation window ending at now.
// The total period has no lower bound and returns the zero time.
func (p Period) WindowStart(now time.Time) time.Time {
	switch p {
	case PeriodDaily:
		return now.Add(-24 * time.Hour)
	case PeriodMonthly:
		return now.Add(-30 * 24 * time.Hour)
	default:
		return time.Time{}
	}
}

// Aggregation determines how usage events are combined against a limit.
type Aggregation string

// Aggregation constants
const (
	// AggregateSum adds up event quantities (metered features such as tokens)
	AggregateSum Aggregation = "sum"
	// AggregateCount counts events regardless of quantity (discrete actions)
	AggregateCount Aggregation = "count"
)

// UsageEvent is an immutable record of one tracked action.
// Events are append-only; they are never updated or deleted outside
// of retention sweeps.
type UsageEvent struct {
	ID        string            `json:"id" db:"id"`
	UserID    string            `json:"user_id" db:"user_id"`
	Feature   string            `json:"feature" db:"feature"`
	Action    string            `json:"action" db:"action"`
	Quantity  int64             `json:"quantity" db:"quantity"`
	Metadata  map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// UsageLimit is one configured limit row for a plan+feature pair.
// A plan+feature may carry several rows with different periods, all of
// which must hold for a request to pass.
type UsageLimit struct {
	PlanID      string      `json:"plan_id" db:"plan_id"`
	Feature     string      `json:"feature" db:"feature"`
	Period      Period      `json:"limit_type" db:"limit_type"`
	Value       int64       `json:"limit_value" db:"limit_value"`
	Aggregation Aggregation `json:"aggregation" db:"aggregation"`
}

// Feature constants for the metered features tracked today
const (
	FeatureAIFeedback = "ai_feedback"
	FeatureAIHints    = "ai_hints"
)
