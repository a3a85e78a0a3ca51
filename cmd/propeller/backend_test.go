package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radiusdt/propeller/internal/config"
	"github.com/radiusdt/propeller/internal/httpserver"
	"github.com/radiusdt/propeller/internal/models"
	"github.com/radiusdt/propeller/internal/storage"
)

func redisConfig(addr string, fallback bool) *config.Config {
	return &config.Config{
		Tracking: config.TrackingConfig{Stores: []string{"www"}, Collection: "log_summary"},
		Store:    config.StoreConfig{Driver: "redis", FallbackMemory: fallback},
		Redis:    config.RedisConfig{Addr: addr, KeyPrefix: "propeller"},
	}
}

// deadRedisAddr returns an address nothing listens on any more.
func deadRedisAddr(t *testing.T) string {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()
	return addr
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestOpenBackendUnreachableIsFatal(t *testing.T) {
	t.Parallel()

	be, err := openBackend(testContext(t), redisConfig(deadRedisAddr(t), false), zap.NewNop())
	require.Error(t, err)
	assert.Nil(t, be)
	assert.Contains(t, err.Error(), "redis")
}

func TestOpenBackendFallbackReportsDegraded(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	be, err := openBackend(ctx, redisConfig(deadRedisAddr(t), true), zap.NewNop())
	require.NoError(t, err)
	defer be.Close()

	_, isMemory := be.Store.(*storage.MemoryStore)
	assert.True(t, isMemory)
	require.ErrorIs(t, be.Health(ctx), errMemoryFallback)

	cfg := redisConfig("", true)
	h := httpserver.NewServer(&httpserver.Dependencies{
		Config: cfg,
		Logger: zap.NewNop(),
		Health: be.Health,
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestOpenBackendRedis(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	be, err := openBackend(ctx, redisConfig(mr.Addr(), false), zap.NewNop())
	require.NoError(t, err)
	defer be.Close()

	require.NoError(t, be.Health(ctx))
	key := models.NewEventKey(models.Bucket{Day: "2031-03-04", Hour: 9}, 1, 2, 3)
	require.NoError(t, be.Store.Upsert(ctx, "www", models.NewAggregate(key, models.Counters{Impressions: 4})))
	assert.Equal(t, "4", mr.HGet("propeller:www:log_summary:"+key.ID(), "impressions"))

	// Losing the server after startup shows up on the health check.
	mr.Close()
	assert.Error(t, be.Health(ctx))
}

func TestOpenBackendMemory(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	cfg := redisConfig("", false)
	cfg.Store.Driver = "memory"
	be, err := openBackend(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, be.Health(ctx))

	key := models.NewEventKey(models.Bucket{Day: "2031-03-04", Hour: 9}, 1, 0, 0)
	require.NoError(t, be.Store.Upsert(ctx, "www", models.NewAggregate(key, models.Counters{Clicks: 1})))
}
