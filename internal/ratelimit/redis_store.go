package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/studyloop/backend/internal/cache"
)

// takeScript implements the sliding window over a Redis sorted set with
// request timestamps (microseconds) as scores. Evict, count, and append run
// in one script so concurrent callers cannot jointly overshoot the limit.
// Returns {allowed, remaining, waitMicros} where waitMicros is the time
// until the oldest retained entry leaves the window.
const takeScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local wait = window
  if oldest[2] then
    wait = tonumber(oldest[2]) + window - now
  end
  return {0, 0, wait}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, math.ceil(window / 1000) + 1000)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local wait = window
if oldest[2] then
  wait = tonumber(oldest[2]) + window - now
end
return {1, limit - count - 1, wait}
`

// RedisStore keeps sliding windows in Redis for exact enforcement across
// processes. Keys expire via TTL, so no reaper is needed.
type RedisStore struct {
	redis *cache.Redis
}

// NewRedisStore creates a Redis-backed sliding-window store
func NewRedisStore(r *cache.Redis) *RedisStore {
	return &RedisStore{redis: r}
}

// Take runs the check-then-append script for key.
func (s *RedisStore) Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := time.Now()
	// Member must be unique per request; the timestamp alone collides when
	// two requests land in the same microsecond.
	member := uuid.New().String()
	res, err := s.redis.Eval(ctx, takeScript, []string{"ratelimit:" + key},
		now.UnixMicro(), window.Microseconds(), limit, member)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to execute rate limit check: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit script reply: %v", res)
	}

	allowed := toInt64(vals[0]) == 1
	remaining := int(toInt64(vals[1]))
	wait := time.Duration(toInt64(vals[2])) * time.Microsecond

	d := Decision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		Reset:     now.Add(wait),
	}
	if !allowed {
		d.RetryAfter = wait
	}
	return d, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
