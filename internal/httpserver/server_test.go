package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/radiusdt/propeller/internal/config"
	"github.com/radiusdt/propeller/internal/httpserver"
	"github.com/radiusdt/propeller/internal/metrics"
	"github.com/radiusdt/propeller/internal/models"
	"github.com/radiusdt/propeller/internal/storage"
	"github.com/radiusdt/propeller/internal/tracking"
)

type testServer struct {
	handler http.Handler
	svc     *tracking.Service
	store   *storage.MemoryStore
	logs    *observer.ObservedLogs
}

func testConfig() *config.Config {
	return &config.Config{
		Tracking: config.TrackingConfig{Stores: []string{"www", "mobile"}},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics", Namespace: "propeller"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, health func(context.Context) error) *testServer {
	t.Helper()

	mClock := quartz.NewMock(t)
	mClock.Set(time.Date(2031, 3, 4, 9, 15, 0, 0, time.UTC))
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	reg := prometheus.NewRegistry()
	store := storage.NewMemoryStore("www", "mobile")

	svc, err := tracking.NewService(tracking.Options{
		Stores:            cfg.Tracking.Stores,
		ClockInterval:     10 * time.Second,
		Location:          time.UTC,
		WriteTimeout:      time.Second,
		MaxInflightWrites: 4,
		Store:             store,
		Clock:             mClock,
		Logger:            logger,
		Metrics:           metrics.NewMetrics("propeller", reg),
	})
	require.NoError(t, err)

	h := httpserver.NewServer(&httpserver.Dependencies{
		Service:  svc,
		Config:   cfg,
		Logger:   logger,
		Gatherer: reg,
		Health:   health,
	})
	return &testServer{handler: h, svc: svc, store: store, logs: logs}
}

func (ts *testServer) do(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func (ts *testServer) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.svc.Drain(ctx))
}

func TestImpressionServesPixelAndCounts(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig(), nil)
	rec := ts.do(http.MethodGet, "/track?zoneid=1&campaignid=2&bannerid=3")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, httpserver.TransparentPixel, rec.Body.Bytes())
	assert.Len(t, rec.Body.Bytes(), 43)
	h := rec.Header()
	assert.Equal(t, "image/gif", h.Get("Content-Type"))
	assert.Equal(t, "inline", h.Get("Content-Disposition"))
	assert.Equal(t, "43", h.Get("Content-Length"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", h.Get("Cache-Control"))
	assert.Equal(t, "no-cache", h.Get("Pragma"))
	assert.Equal(t, "0", h.Get("Expires"))
	assert.Equal(t, "close", h.Get("Connection"))
	assert.True(t, rec.Flushed)

	ts.drain(t)
	got, ok := ts.store.Get("www", "2031-03-04|09|1|2|3")
	require.True(t, ok)
	assert.Equal(t, models.Counters{Impressions: 1}, got.Delta())
}

func TestClickRedirectsVerbatim(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig(), nil)
	rec := ts.do(http.MethodGet,
		"/?zoneid=5&s=mobile&dest=https%3A%2F%2Fshop.example%2Fland%3Fa%3D1%26b%3D%C3%A9")

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://shop.example/land?a=1&b=é", rec.Header().Get("Location"))
	assert.Equal(t, "close", rec.Header().Get("Connection"))
	assert.Empty(t, rec.Body.Bytes())

	ts.drain(t)
	got, ok := ts.store.Get("mobile", "2031-03-04|09|5|0|0")
	require.True(t, ok)
	assert.Equal(t, models.Counters{Clicks: 1}, got.Delta())
}

func TestHeadRecordsNothing(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig(), nil)
	rec := ts.do(http.MethodHead, "/?zoneid=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "43", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.Bytes())

	rec = ts.do(http.MethodHead, "/?zoneid=1&dest=https%3A%2F%2Fexample.com")
	require.Equal(t, http.StatusFound, rec.Code)

	ts.drain(t)
	assert.Zero(t, ts.store.Writes())
}

func TestMultiEventRequest(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig(), nil)
	rec := ts.do(http.MethodGet, "/?zoneid=1&bannerid=9||zoneid=2&s=mobile||&&")
	require.Equal(t, http.StatusOK, rec.Code)

	ts.drain(t)
	got, ok := ts.store.Get("www", "2031-03-04|09|1|0|9")
	require.True(t, ok)
	assert.EqualValues(t, 1, got.Impressions)
	got, ok = ts.store.Get("mobile", "2031-03-04|09|2|0|0")
	require.True(t, ok)
	assert.EqualValues(t, 1, got.Impressions)
	assert.Equal(t, 2, ts.store.Writes())
}

func TestUnknownStoreStillServesPixel(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig(), nil)
	rec := ts.do(http.MethodGet, "/?zoneid=1&s=nowhere")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, httpserver.TransparentPixel, rec.Body.Bytes())

	ts.drain(t)
	assert.Zero(t, ts.store.Writes())
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig(), nil)
	rec := ts.do(http.MethodPost, "/?zoneid=1")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}

func TestDebugFlagLogsEvent(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig(), nil)
	ts.do(http.MethodGet, "/?zoneid=3&debug=1")
	ts.do(http.MethodGet, "/?zoneid=4")

	entries := ts.logs.FilterMessage("debug event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "2031-03-04|09|3|0|0", fields["id"])
	assert.Equal(t, "impression", fields["kind"])
	assert.Equal(t, true, fields["recorded"])
}

func TestRecordingPanicKeepsResponse(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	h := httpserver.NewServer(&httpserver.Dependencies{
		Config: testConfig(),
		Logger: zap.New(core),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?zoneid=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, httpserver.TransparentPixel, rec.Body.Bytes())

	entries := logs.FilterMessage("panic while recording event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "/?zoneid=1", entries[0].ContextMap()["url"])
}

func TestHealth(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig(), nil)
	rec := ts.do(http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	ts = newTestServer(t, testConfig(), func(context.Context) error {
		return errors.New("connection refused")
	})
	rec = ts.do(http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","error":"connection refused"}`, rec.Body.String())
}

func TestStatsRequiresKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth.MasterKey = "s3cret"
	ts := newTestServer(t, cfg, nil)
	ts.do(http.MethodGet, "/?zoneid=8")

	rec := ts.do(http.MethodGet, "/stats")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("X-API-Key", "s3cret")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats tracking.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "2031-03-04|09", stats.CurrentBucket)
	require.Len(t, stats.Stores["www"], 1)
	assert.EqualValues(t, 1, stats.Stores["www"][0].Impressions)

	ts.drain(t)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testConfig(), nil)
	ts.do(http.MethodGet, "/?zoneid=1")

	rec := ts.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "propeller_events_total")

	ts.drain(t)
}
