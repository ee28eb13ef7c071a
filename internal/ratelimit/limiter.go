// Package ratelimit bounds request rate per client per endpoint category
// using sliding windows of request timestamps. It protects shared resources
// from instantaneous abuse; budget-style consumption limits live in the
// usage package.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Limiter applies per-category sliding-window limits to clients. It is an
// explicitly constructed service object: create one at startup, inject it
// where needed, and drive Reap from a scheduler.
type Limiter struct {
	store      Store
	categories map[Category]CategoryConfig
}

// New creates a limiter over the given store and category configuration.
// Unknown categories fall back to the api category's config.
func New(store Store, categories map[Category]CategoryConfig) *Limiter {
	if categories == nil {
		categories = DefaultCategories()
	}
	return &Limiter{
		store:      store,
		categories: categories,
	}
}

// Check consumes one request slot for (clientID, category) and returns the
// decision. Store failures never surface: the configured FailMode decides
// whether the request passes, and the degradation is logged with context.
func (l *Limiter) Check(ctx context.Context, clientID string, category Category) Decision {
	cfg := l.configFor(category)
	key := fmt.Sprintf("%s:%s", category, clientID)

	d, err := l.store.Take(ctx, key, cfg.Limit, cfg.Window)
	if err != nil {
		return l.degrade(category, cfg, err)
	}
	return d
}

// Allow is Check expressed as an error: nil when the request may proceed,
// *LimitExceededError when it was rejected.
func (l *Limiter) Allow(ctx context.Context, clientID string, category Category) error {
	d := l.Check(ctx, clientID, category)
	if d.Allowed {
		return nil
	}
	return &LimitExceededError{
		Category:   category,
		Limit:      d.Limit,
		RetryAfter: d.RetryAfter,
		Reset:      d.Reset,
	}
}

// Limits returns the configured per-category limits
func (l *Limiter) Limits() map[Category]CategoryConfig {
	return l.categories
}

// Reap drops idle windows from stores that track state in process memory.
// Returns the number of windows dropped; stores with native expiry report 0.
func (l *Limiter) Reap() int {
	r, ok := l.store.(Reaper)
	if !ok {
		return 0
	}
	dropped := r.Reap(l.maxWindow() * 2)
	if dropped > 0 {
		log.Printf("[ratelimit] Reaped %d idle windows", dropped)
	}
	return dropped
}

// configFor resolves a category's config, falling back to the api category.
func (l *Limiter) configFor(category Category) CategoryConfig {
	if cfg, ok := l.categories[category]; ok {
		return cfg
	}
	return l.categories[CategoryAPI]
}

// degrade applies the category's fail mode after a store failure.
func (l *Limiter) degrade(category Category, cfg CategoryConfig, err error) Decision {
	if cfg.FailMode == FailClosed {
		log.Printf("[ratelimit] WARN store unavailable, failing closed category=%s: %v", category, err)
		return Decision{
			Allowed:    false,
			Limit:      cfg.Limit,
			Remaining:  0,
			RetryAfter: cfg.Window,
			Reset:      time.Now().Add(cfg.Window),
		}
	}

	log.Printf("[ratelimit] WARN store unavailable, failing open category=%s: %v", category, err)
	return Decision{
		Allowed:   true,
		Limit:     cfg.Limit,
		Remaining: cfg.Limit - 1,
		Reset:     time.Now().Add(cfg.Window),
	}
}

// maxWindow returns the widest configured window, used to size the reaper's
// idle cutoff so no live window is ever dropped.
func (l *Limiter) maxWindow() time.Duration {
	max := time.Minute
	for _, cfg := range l.categories {
		if cfg.Window > max {
			max = cfg.Window
		}
	}
	return max
}
