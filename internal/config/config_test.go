package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, BackendMemory, cfg.SessionBackend)
	assert.Equal(t, BackendSQLite, cfg.DirectoryBackend)
	assert.Equal(t, ReconcileInline, cfg.ReconcileMode)
	assert.Equal(t, 5*time.Second, cfg.ReconcileTimeout)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.Production())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("PUBLIC_BASE_URL", "https://attend.example/")
	t.Setenv("SESSION_BACKEND", "Redis")
	t.Setenv("DIRECTORY_BACKEND", "postgres")
	t.Setenv("RECONCILE_MODE", "queue")
	t.Setenv("QUEUE_BACKEND", "redis")
	t.Setenv("RECONCILE_TIMEOUT", "750ms")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Production())
	assert.Equal(t, "https://attend.example", cfg.PublicBaseURL)
	assert.Equal(t, BackendRedis, cfg.SessionBackend)
	assert.Equal(t, BackendPostgres, cfg.DirectoryBackend)
	assert.Equal(t, ReconcileQueue, cfg.ReconcileMode)
	assert.Equal(t, BackendRedis, cfg.QueueBackend)
	assert.Equal(t, 750*time.Millisecond, cfg.ReconcileTimeout)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoad_RejectsUnknownBackends(t *testing.T) {
	cases := map[string]string{
		"SESSION_BACKEND":   "postgres",
		"DIRECTORY_BACKEND": "mongo",
		"QUEUE_BACKEND":     "kafka",
		"RECONCILE_MODE":    "later",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad_RejectsMalformedNumbers(t *testing.T) {
	cases := map[string]string{
		"RATE_LIMIT_PER_MIN": "12O",
		"RECONCILE_TIMEOUT":  "five seconds",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}

	t.Run("negative rate", func(t *testing.T) {
		t.Setenv("RATE_LIMIT_PER_MIN", "-1")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestLoad_ZeroRateLimitIsExplicit(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MIN", "0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.RateLimitPerMin)
}
