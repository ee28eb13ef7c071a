package ratelimit

import (
	"time"
)

// Category is a closed set of endpoint classes with independent limits.
// Exceeding one category never blocks another for the same client.
type Category string

// Category constants
const (
	// CategoryAuth covers login/register endpoints (abuse-sensitive)
	CategoryAuth Category = "auth"
	// CategoryAPI covers general API traffic
	CategoryAPI Category = "api"
	// CategoryAdmin covers administrative endpoints
	CategoryAdmin Category = "admin"
)

// FailMode is the degrade policy applied when the backing store fails.
type FailMode int

const (
	// FailOpen allows the request on store failure, favoring availability.
	// This is the default: an outage should not take the whole API down.
	FailOpen FailMode = iota
	// FailClosed rejects the request on store failure. Suitable for
	// abuse-sensitive categories where an outage must not become an
	// unthrottled brute-force window.
	FailClosed
)

// CategoryConfig holds the limit, window, and degrade policy for one category
type CategoryConfig struct {
	Limit    int
	Window   time.Duration
	FailMode FailMode
}

// DefaultCategories returns the default per-category limits
func DefaultCategories() map[Category]CategoryConfig {
	return map[Category]CategoryConfig{
		CategoryAuth:  {Limit: 5, Window: time.Minute},
		CategoryAPI:   {Limit: 100, Window: time.Minute},
		CategoryAdmin: {Limit: 50, Window: time.Minute},
	}
}
