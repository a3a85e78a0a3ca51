package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radiusdt/propeller/internal/metrics"
	"github.com/radiusdt/propeller/internal/models"
	"github.com/radiusdt/propeller/internal/storage"
)

// ErrDrainIncomplete is returned by Drain when writes were still pending at
// the deadline.
var ErrDrainIncomplete = errors.New("tracking: drain incomplete")

// Options configures a Service.
type Options struct {
	// Stores is the ordered list of store names; the first is the default.
	Stores []string
	// Threshold triggers an early write of a key; zero disables it.
	Threshold         int64
	ClockInterval     time.Duration
	Location          *time.Location
	WriteTimeout      time.Duration
	MaxInflightWrites int64

	Store   storage.AggregateStore
	Clock   quartz.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Event is one normalized tracking event awaiting store resolution.
type Event struct {
	Kind   models.EventKind
	Params Params
}

// Service owns the clock, cache and flush state of one tracker instance.
type Service struct {
	router  *StoreRouter
	cache   *AggregationCache
	flusher *FlushCoordinator
	clock   *ClockTracker
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewService wires a tracker instance from opts.
func NewService(opts Options) (*Service, error) {
	if len(opts.Stores) == 0 {
		return nil, fmt.Errorf("tracking: at least one store is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("tracking: aggregate store is required")
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics("propeller", prometheus.NewRegistry())
	}
	if opts.MaxInflightWrites <= 0 {
		opts.MaxInflightWrites = 64
	}

	s := &Service{
		router:  NewStoreRouter(opts.Stores),
		cache:   NewAggregationCache(opts.Stores, opts.Threshold),
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	s.clock = NewClockTracker(opts.Clock, opts.Location, opts.ClockInterval, s.rollover)
	s.flusher = NewFlushCoordinator(
		s.cache,
		opts.Store,
		s.clock.Current,
		opts.MaxInflightWrites,
		opts.WriteTimeout,
		opts.Logger.Named("flush"),
		opts.Metrics,
	)
	return s, nil
}

// Record resolves the event's store, builds its key from the cached bucket
// and counts it. It reports false when the event was dropped.
func (s *Service) Record(e Event) (models.EventKey, bool) {
	store, ok := s.router.Resolve(e.Params.Store)
	if !ok {
		s.metrics.RecordDrop("unknown_store")
		s.logger.Debug("event for unknown store dropped", zap.String("store", e.Params.Store))
		return models.EventKey{}, false
	}

	key := ToEventKey(e.Params, s.clock.Current())
	delta, flush, err := s.cache.Record(store, key, e.Kind)
	if err != nil {
		s.metrics.RecordDrop("unknown_store")
		return models.EventKey{}, false
	}
	s.metrics.RecordEvent(store, e.Kind.String())

	if flush {
		s.flusher.Write(store, key, delta, ReasonThreshold)
	}
	return key, true
}

func (s *Service) rollover(prev, next models.Bucket) {
	s.metrics.RecordRollover()
	s.logger.Info("hour rollover",
		zap.String("previous_bucket", prev.String()),
		zap.String("current_bucket", next.String()),
	)
	s.flusher.RolloverFlush(false)
}

// Current returns the active bucket.
func (s *Service) Current() models.Bucket {
	return s.clock.Current()
}

// Run keeps the cached clock fresh and flushes stale buckets on rollover
// until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	return s.clock.Run(ctx)
}

// RolloverFlush flushes every bucket but the current one, or all of them.
func (s *Service) RolloverFlush(includeCurrent bool) *Flush {
	return s.flusher.RolloverFlush(includeCurrent)
}

// Drain flushes every bucket, current included, and waits for all writes
// to be acknowledged. If ctx ends first the error wraps ErrDrainIncomplete.
func (s *Service) Drain(ctx context.Context) error {
	flush := s.flusher.RolloverFlush(true)
	if err := s.flusher.Wait(ctx); err != nil {
		pending := s.flusher.Inflight()
		s.logger.Error("drain incomplete",
			zap.Int("pending_writes", pending),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %d writes pending: %w", ErrDrainIncomplete, pending, err)
	}
	s.logger.Info("drain complete",
		zap.Int("writes", flush.Issued()),
		zap.Int("failed", flush.Failed()),
	)
	return nil
}

// Pending returns the in-memory counters of key in store.
func (s *Service) Pending(store string, key models.EventKey) models.Counters {
	return s.cache.Pending(store, key)
}

// Stats describes the cache for diagnostics.
type Stats struct {
	CurrentBucket  string                   `json:"current_bucket"`
	InflightWrites int                      `json:"inflight_writes"`
	Stores         map[string][]BucketStats `json:"stores"`
}

// Stats returns a snapshot of the cache.
func (s *Service) Stats() Stats {
	snap := s.cache.Snapshot()
	for store, buckets := range snap {
		s.metrics.SetPendingBuckets(store, len(buckets))
	}
	return Stats{
		CurrentBucket:  s.clock.Current().String(),
		InflightWrites: s.flusher.Inflight(),
		Stores:         snap,
	}
}
