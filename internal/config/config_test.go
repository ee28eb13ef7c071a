package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	// Make sure ambient environment does not leak into the defaults
	for _, key := range []string{"CACHE_TTL", "RATE_LIMIT_AUTH", "SESSION_TTL", "USAGE_RETENTION"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 5, cfg.AuthRateLimit)
	assert.Equal(t, time.Minute, cfg.AuthRateWindow)
	assert.False(t, cfg.AuthFailClosed)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 90*24*time.Hour, cfg.UsageRetention)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("RATE_LIMIT_AUTH", "10")
	t.Setenv("RATE_LIMIT_AUTH_FAIL_CLOSED", "true")
	t.Setenv("SESSION_MAX_DEVICES", "3")
	t.Setenv("CORS_ORIGINS", "https://app.studyloop.io, https://admin.studyloop.io")

	cfg := Load()

	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.Equal(t, 10, cfg.AuthRateLimit)
	assert.True(t, cfg.AuthFailClosed)
	assert.Equal(t, 3, cfg.SessionMaxDevices)
	assert.Equal(t, []string{"https://app.studyloop.io", "https://admin.studyloop.io"}, cfg.CORSOrigins)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("RATE_LIMIT_API", "not-a-number")
	t.Setenv("CACHE_TTL", "soon")
	t.Setenv("RATE_LIMIT_DISTRIBUTED", "kinda")

	cfg := Load()

	assert.Equal(t, 100, cfg.APIRateLimit)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.False(t, cfg.RateLimitDistributed)
}
