package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Decision is the outcome of one rate-limit check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is how long until a slot frees in the window.
	// Only meaningful when the request was rejected.
	RetryAfter time.Duration
	// Reset is when the oldest retained request leaves the window,
	// surfaced to clients as X-RateLimit-Reset (epoch seconds).
	Reset time.Time
}

// Store maintains per-key sliding windows. Take is the single atomic unit of
// check-then-append: implementations must guarantee that concurrent calls for
// the same key never admit more than limit requests per window.
type Store interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Reaper is implemented by stores that need periodic cleanup of idle
// windows to bound memory. Stores with native TTL (Redis) do not.
type Reaper interface {
	Reap(idleFor time.Duration) int
}

// LimitExceededError reports a rejected request. Retryable: the client
// should back off for RetryAfter.
type LimitExceededError struct {
	Category   Category
	Limit      int
	RetryAfter time.Duration
	Reset      time.Time
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for category %q: %d requests, retry after %s", e.Category, e.Limit, e.RetryAfter.Round(time.Second))
}
