// Package cache provides key/value memoization with TTL, tag-based bulk
// invalidation, and graceful degradation: when the backing store is
// unreachable every operation silently falls back (reads miss, writes
// succeed as no-ops) so callers pay a recomputation cost instead of seeing
// infrastructure errors.
package cache

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache is the tag-indexed cache layer consumed by read paths (Get/GetOrSet)
// and by write paths that invalidate by tag on mutation.
type Cache struct {
	store Store
	group singleflight.Group
}

// New creates a cache layer over the given store
func New(store Store) *Cache {
	return &Cache{store: store}
}

// Get unmarshals the cached value for key into dest and reports a hit.
// Store failures and undecodable payloads degrade to a miss.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) bool {
	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.degraded("get", key, err)
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		// A payload we can no longer decode is as good as absent
		_ = c.store.Delete(ctx, key)
		return false
	}
	return true
}

// Set stores value under key with the given TTL, indexed under tags.
// Failures degrade to a no-op.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) {
	data, err := json.Marshal(value)
	if err != nil {
		c.degraded("set", key, err)
		return
	}
	if err := c.store.Set(ctx, key, data, ttl, tags); err != nil {
		c.degraded("set", key, err)
	}
}

// Delete removes keys and prunes them from their tag indices.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if err := c.store.Delete(ctx, keys...); err != nil {
		c.degraded("delete", joinKeys(keys), err)
	}
}

// InvalidateTag deletes every key indexed under tag. Returns the number of
// keys removed (zero when degraded).
func (c *Cache) InvalidateTag(ctx context.Context, tag string) int64 {
	removed, err := c.store.InvalidateTag(ctx, tag)
	if err != nil {
		c.degraded("invalidate_tag", tag, err)
		return 0
	}
	return removed
}

// ClearPattern bulk-deletes keys matching a glob pattern, for administrative
// cache flushes.
func (c *Cache) ClearPattern(ctx context.Context, pattern string) int64 {
	removed, err := c.store.DeleteByPattern(ctx, pattern)
	if err != nil {
		c.degraded("clear_pattern", pattern, err)
		return 0
	}
	return removed
}

// GetOrSet returns the cached value for key, or computes, stores, and
// returns it on a miss. Concurrent callers racing on the same missing key
// share a single invocation of compute. Only compute's own error is
// surfaced; store failures degrade as usual.
func (c *Cache) GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, tags []string, compute func(ctx context.Context) (interface{}, error)) error {
	if c.Get(ctx, key, dest) {
		return nil
	}

	data, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check inside the flight: a concurrent winner may have
		// populated the key while we waited.
		if raw, found, err := c.store.Get(ctx, key); err == nil && found {
			return raw, nil
		}

		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.store.Set(ctx, key, raw, ttl, tags); err != nil {
			c.degraded("set", key, err)
		}
		return raw, nil
	})
	if err != nil {
		return err
	}

	return json.Unmarshal(data.([]byte), dest)
}

// Healthy reports whether the backing store is reachable.
func (c *Cache) Healthy(ctx context.Context) bool {
	return c.store.Ping(ctx) == nil
}

// degraded logs a store failure at warning level with operation context.
// The failure is never surfaced to the caller.
func (c *Cache) degraded(op, key string, err error) {
	log.Printf("[cache] WARN degraded op=%s key=%s: %v", op, key, err)
}

func joinKeys(keys []string) string {
	return strings.Join(keys, ",")
}
