package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tracker.
type Metrics struct {
	// Event metrics
	Events        *prometheus.CounterVec
	DroppedEvents *prometheus.CounterVec

	// Flush metrics
	Flushes        *prometheus.CounterVec
	Rollovers      prometheus.Counter
	StoreWrites    *prometheus.CounterVec
	WriteLatency   *prometheus.HistogramVec
	InflightWrites prometheus.Gauge

	// Cache metrics
	PendingBuckets *prometheus.GaugeVec
}

// NewMetrics creates all metrics and registers them with reg. Each service
// instance gets its own registry in tests.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Tracking events recorded into the aggregation cache",
			},
			[]string{"store", "kind"},
		),
		DroppedEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Tracking events discarded before reaching the cache",
			},
			[]string{"reason"},
		),
		Flushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flushes_total",
				Help:      "Aggregates handed to the store, by trigger",
			},
			[]string{"reason"}, // threshold, rollover, drain
		),
		Rollovers: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hour_rollovers_total",
				Help:      "Observed changes of the active hour bucket",
			},
		),
		StoreWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_writes_total",
				Help:      "Upserts issued to the backing store",
			},
			[]string{"store", "result"},
		),
		WriteLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_write_latency_seconds",
				Help:      "Upsert latency in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
			},
			[]string{"store"},
		),
		InflightWrites: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_writes_inflight",
				Help:      "Upserts issued and not yet acknowledged",
			},
		),
		PendingBuckets: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_buckets",
				Help:      "Hour buckets held in the aggregation cache",
			},
			[]string{"store"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordEvent records an event accepted into the cache.
func (m *Metrics) RecordEvent(store, kind string) {
	m.Events.WithLabelValues(store, kind).Inc()
}

// RecordDrop records an event that was discarded.
func (m *Metrics) RecordDrop(reason string) {
	m.DroppedEvents.WithLabelValues(reason).Inc()
}

// RecordFlush records an aggregate handed to the store.
func (m *Metrics) RecordFlush(reason string) {
	m.Flushes.WithLabelValues(reason).Inc()
}

// RecordRollover records a change of the active hour.
func (m *Metrics) RecordRollover() {
	m.Rollovers.Inc()
}

// RecordWrite records the outcome and latency of one upsert.
func (m *Metrics) RecordWrite(store string, err error, latency time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.StoreWrites.WithLabelValues(store, result).Inc()
	m.WriteLatency.WithLabelValues(store).Observe(latency.Seconds())
}

// SetPendingBuckets updates the bucket gauge of a store.
func (m *Metrics) SetPendingBuckets(store string, n int) {
	m.PendingBuckets.WithLabelValues(store).Set(float64(n))
}
