package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiusdt/propeller/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8888", cfg.Server.Addr)
	assert.Equal(t, []string{"www"}, cfg.Tracking.Stores)
	assert.Equal(t, "www", cfg.Tracking.DefaultStore())
	assert.Equal(t, "log_summary", cfg.Tracking.Collection)
	assert.EqualValues(t, 100, cfg.Tracking.FlushThreshold)
	assert.Equal(t, 10*time.Second, cfg.Tracking.ClockInterval)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.False(t, cfg.Store.FallbackMemory)

	loc, err := cfg.Tracking.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PROPELLER_STORES", "www, mobile ,,partners")
	t.Setenv("PROPELLER_FLUSH_THRESHOLD", "7")
	t.Setenv("PROPELLER_TIMEZONE", "UTC")
	t.Setenv("PROPELLER_STORE_DRIVER", "redis")
	t.Setenv("PROPELLER_WORKERS", "not-a-number")
	t.Setenv("PROPELLER_STORE_FALLBACK_MEMORY", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"www", "mobile", "partners"}, cfg.Tracking.Stores)
	assert.EqualValues(t, 7, cfg.Tracking.FlushThreshold)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.True(t, cfg.Store.FallbackMemory)
	// Unparseable values fall back to the default.
	assert.Equal(t, 0, cfg.Server.Workers)

	loc, err := cfg.Tracking.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad store name", env: map[string]string{"PROPELLER_STORES": "www,bad-name"}},
		{name: "duplicate store", env: map[string]string{"PROPELLER_STORES": "www,www"}},
		{name: "negative threshold", env: map[string]string{"PROPELLER_FLUSH_THRESHOLD": "-1"}},
		{name: "unknown driver", env: map[string]string{"PROPELLER_STORE_DRIVER": "mongo"}},
		{name: "unknown timezone", env: map[string]string{"PROPELLER_TIMEZONE": "Mars/Olympus"}},
		{name: "bad collection", env: map[string]string{"PROPELLER_COLLECTION": "log summary"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := config.Load()
			require.Error(t, err)
		})
	}
}

func TestDiagnosticsConfig(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.False(t, cfg.Auth.Enabled())
	assert.True(t, cfg.RateLimit.Enabled)

	t.Setenv("PROPELLER_API_KEY", "s3cret")
	t.Setenv("PROPELLER_RATE_LIMIT_RPS", "0.5")
	t.Setenv("PROPELLER_RATE_LIMIT_BURST", "3")

	cfg, err = config.Load()
	require.NoError(t, err)
	assert.True(t, cfg.Auth.Enabled())
	assert.Equal(t, 0.5, cfg.RateLimit.RPS)
	assert.Equal(t, 3, cfg.RateLimit.Burst)
}
