package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	entryPrefix   = "cache:"
	tagPrefix     = "cachetag:"
	keyTagsPrefix = "cachekeytags:"
)

// RedisStore implements Store on top of Redis. Entries live under a value
// key, each tag is a Redis set of logical keys, and each entry carries a
// reverse set of its own tags so deletes can prune the tag indices.
type RedisStore struct {
	redis *Redis
}

// NewRedisStore creates a Redis-backed cache store
func NewRedisStore(r *Redis) *RedisStore {
	return &RedisStore{redis: r}
}

func entryKey(key string) string   { return entryPrefix + key }
func tagKey(tag string) string     { return tagPrefix + tag }
func keyTagsKey(key string) string { return keyTagsPrefix + key }

// Get retrieves a value. Expired entries are handled natively by Redis TTL.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.redis.Client().Get(ctx, entryKey(key)).Bytes()
	if err != nil {
		if isRedisNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: get %s: %v", ErrStoreUnavailable, key, err)
	}
	return val, true, nil
}

// Set stores a value and rewrites the key's tag associations.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	// Old tag associations must go first so a re-set with different tags
	// does not leave the key indexed under tags it no longer carries.
	oldTags, err := s.redis.SMembers(ctx, keyTagsKey(key))
	if err != nil && !isRedisNil(err) {
		return fmt.Errorf("%w: set %s: %v", ErrStoreUnavailable, key, err)
	}

	pipe := s.redis.Pipeline()
	for _, old := range oldTags {
		pipe.SRem(ctx, tagKey(old), key)
	}
	pipe.Del(ctx, keyTagsKey(key))

	pipe.Set(ctx, entryKey(key), value, ttl)
	if len(tags) > 0 {
		members := make([]interface{}, len(tags))
		for i, t := range tags {
			members[i] = t
			pipe.SAdd(ctx, tagKey(t), key)
		}
		pipe.SAdd(ctx, keyTagsKey(key), members...)
		pipe.Expire(ctx, keyTagsKey(key), ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrStoreUnavailable, key, err)
	}
	return nil
}

// Delete removes entries and prunes them from every tag index.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	for _, key := range keys {
		tags, err := s.redis.SMembers(ctx, keyTagsKey(key))
		if err != nil && !isRedisNil(err) {
			return fmt.Errorf("%w: delete %s: %v", ErrStoreUnavailable, key, err)
		}

		pipe := s.redis.Pipeline()
		for _, t := range tags {
			pipe.SRem(ctx, tagKey(t), key)
		}
		pipe.Del(ctx, entryKey(key), keyTagsKey(key))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("%w: delete %s: %v", ErrStoreUnavailable, key, err)
		}
	}
	return nil
}

// InvalidateTag deletes every key indexed under tag and clears the index.
func (s *RedisStore) InvalidateTag(ctx context.Context, tag string) (int64, error) {
	members, err := s.redis.SMembers(ctx, tagKey(tag))
	if err != nil && !isRedisNil(err) {
		return 0, fmt.Errorf("%w: invalidate tag %s: %v", ErrStoreUnavailable, tag, err)
	}

	if err := s.Delete(ctx, members...); err != nil {
		return 0, err
	}
	if err := s.redis.Delete(ctx, tagKey(tag)); err != nil {
		return 0, fmt.Errorf("%w: invalidate tag %s: %v", ErrStoreUnavailable, tag, err)
	}
	return int64(len(members)), nil
}

// DeleteByPattern removes entries whose logical key matches the glob pattern.
func (s *RedisStore) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	found, err := s.redis.ScanKeys(ctx, entryPrefix+pattern)
	if err != nil {
		return 0, fmt.Errorf("%w: clear pattern %s: %v", ErrStoreUnavailable, pattern, err)
	}

	keys := make([]string, 0, len(found))
	for _, f := range found {
		keys = append(keys, strings.TrimPrefix(f, entryPrefix))
	}
	if err := s.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// Ping checks store availability
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Health(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func isRedisNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
