package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	r, err := NewRedisFromURL("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	return NewRedisStore(r), mr
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	t.Run("set and get round trip", func(t *testing.T) {
		store, _ := setupRedisStore(t)

		require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute, nil))

		data, found, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("v"), data)

		_, found, err = store.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("entries expire via ttl", func(t *testing.T) {
		store, mr := setupRedisStore(t)

		require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute, nil))
		mr.FastForward(2 * time.Minute)

		_, found, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("invalidate tag removes only tagged keys", func(t *testing.T) {
		store, _ := setupRedisStore(t)

		require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute, []string{"users:42"}))
		require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Minute, []string{"users:42", "plans"}))
		require.NoError(t, store.Set(ctx, "c", []byte("3"), time.Minute, []string{"plans"}))

		removed, err := store.InvalidateTag(ctx, "users:42")
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)

		_, found, _ := store.Get(ctx, "a")
		assert.False(t, found)
		_, found, _ = store.Get(ctx, "b")
		assert.False(t, found)
		_, found, _ = store.Get(ctx, "c")
		assert.True(t, found)
	})

	t.Run("overwrite rewrites tag associations", func(t *testing.T) {
		store, _ := setupRedisStore(t)

		require.NoError(t, store.Set(ctx, "k", []byte("1"), time.Minute, []string{"old"}))
		require.NoError(t, store.Set(ctx, "k", []byte("2"), time.Minute, []string{"new"}))

		removed, err := store.InvalidateTag(ctx, "old")
		require.NoError(t, err)
		assert.Equal(t, int64(0), removed)

		_, found, _ := store.Get(ctx, "k")
		assert.True(t, found)
	})

	t.Run("delete prunes the tag index", func(t *testing.T) {
		store, _ := setupRedisStore(t)

		require.NoError(t, store.Set(ctx, "k", []byte("1"), time.Minute, []string{"t"}))
		require.NoError(t, store.Delete(ctx, "k"))

		require.NoError(t, store.Set(ctx, "k2", []byte("2"), time.Minute, []string{"t"}))
		removed, err := store.InvalidateTag(ctx, "t")
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)
	})

	t.Run("delete by pattern", func(t *testing.T) {
		store, _ := setupRedisStore(t)

		require.NoError(t, store.Set(ctx, "feedback:1", []byte("1"), time.Minute, nil))
		require.NoError(t, store.Set(ctx, "feedback:2", []byte("2"), time.Minute, nil))
		require.NoError(t, store.Set(ctx, "plans:1", []byte("3"), time.Minute, nil))

		removed, err := store.DeleteByPattern(ctx, "feedback:*")
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)

		_, found, _ := store.Get(ctx, "plans:1")
		assert.True(t, found)
	})

	t.Run("unreachable store returns ErrStoreUnavailable", func(t *testing.T) {
		store, mr := setupRedisStore(t)
		mr.Close()

		_, _, err := store.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrStoreUnavailable)

		err = store.Set(ctx, "k", []byte("v"), time.Minute, nil)
		assert.ErrorIs(t, err, ErrStoreUnavailable)

		assert.ErrorIs(t, store.Ping(ctx), ErrStoreUnavailable)
	})
}
