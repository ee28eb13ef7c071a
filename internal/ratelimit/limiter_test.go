package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore always reports the backing store as down
type failingStore struct{}

func (failingStore) Take(context.Context, string, int, time.Duration) (Decision, error) {
	return Decision{}, errors.New("store down")
}

func TestLimiterCategories(t *testing.T) {
	ctx := context.Background()
	limiter := New(NewLocalStore(), map[Category]CategoryConfig{
		CategoryAuth: {Limit: 2, Window: time.Minute},
		CategoryAPI:  {Limit: 5, Window: time.Minute},
	})

	t.Run("categories are tracked independently", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			d := limiter.Check(ctx, "alice", CategoryAuth)
			assert.True(t, d.Allowed)
		}
		d := limiter.Check(ctx, "alice", CategoryAuth)
		assert.False(t, d.Allowed)

		// Exhausted auth budget does not touch the api budget
		d = limiter.Check(ctx, "alice", CategoryAPI)
		assert.True(t, d.Allowed)
	})

	t.Run("clients are tracked independently", func(t *testing.T) {
		d := limiter.Check(ctx, "bob", CategoryAuth)
		assert.True(t, d.Allowed)
	})

	t.Run("unknown category falls back to api config", func(t *testing.T) {
		d := limiter.Check(ctx, "carol", Category("bogus"))
		assert.True(t, d.Allowed)
		assert.Equal(t, 5, d.Limit)
	})
}

func TestLimiterAllow(t *testing.T) {
	ctx := context.Background()
	limiter := New(NewLocalStore(), map[Category]CategoryConfig{
		CategoryAuth: {Limit: 1, Window: time.Minute},
	})

	require.NoError(t, limiter.Allow(ctx, "alice", CategoryAuth))

	err := limiter.Allow(ctx, "alice", CategoryAuth)
	require.Error(t, err)

	var limitErr *LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, CategoryAuth, limitErr.Category)
	assert.Equal(t, 1, limitErr.Limit)
	assert.Greater(t, limitErr.RetryAfter, time.Duration(0))
}

func TestLimiterDegrade(t *testing.T) {
	ctx := context.Background()

	t.Run("fail open admits the request", func(t *testing.T) {
		limiter := New(failingStore{}, map[Category]CategoryConfig{
			CategoryAPI: {Limit: 5, Window: time.Minute, FailMode: FailOpen},
		})

		d := limiter.Check(ctx, "alice", CategoryAPI)
		assert.True(t, d.Allowed)
	})

	t.Run("fail closed rejects the request", func(t *testing.T) {
		limiter := New(failingStore{}, map[Category]CategoryConfig{
			CategoryAuth: {Limit: 5, Window: time.Minute, FailMode: FailClosed},
		})

		d := limiter.Check(ctx, "alice", CategoryAuth)
		assert.False(t, d.Allowed)
		assert.Equal(t, time.Minute, d.RetryAfter)
	})
}

func TestLimiterReap(t *testing.T) {
	store := NewLocalStore()
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	limiter := New(store, nil)
	_ = limiter.Check(context.Background(), "alice", CategoryAPI)

	// Two windows (one minute each): idle cutoff is 2m, so 3m is stale
	current = current.Add(3 * time.Minute)
	assert.Equal(t, 1, limiter.Reap())

	// Stores without reap support report zero
	assert.Equal(t, 0, New(failingStore{}, nil).Reap())
}
