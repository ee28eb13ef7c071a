package cache

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable indicates the backing store could not be reached.
// It never escapes the Cache front: every operation degrades instead
// (gets miss, writes succeed as no-ops) and the failure is logged.
var ErrStoreUnavailable = errors.New("cache store unavailable")

// Store is the backing key/value store for the cache layer. Implementations
// must keep the tag index consistent with live entries: a key is a member of
// a tag's index iff a non-expired, non-deleted entry under that key was last
// set with that tag.
type Store interface {
	// Get returns the value for key, with found=false on a miss or expiry.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key with the given TTL and indexes key under
	// every tag. Re-setting a key replaces its previous tag associations.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error

	// Delete removes keys and prunes them from every tag index that
	// referenced them.
	Delete(ctx context.Context, keys ...string) error

	// InvalidateTag deletes every key currently indexed under tag and clears
	// the tag's index entry. Returns the number of keys removed.
	InvalidateTag(ctx context.Context, tag string) (int64, error)

	// DeleteByPattern removes all keys matching a glob pattern.
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)

	// Ping checks store availability.
	Ping(ctx context.Context) error
}
