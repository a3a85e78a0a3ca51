package tracking

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/radiusdt/propeller/internal/metrics"
	"github.com/radiusdt/propeller/internal/models"
	"github.com/radiusdt/propeller/internal/storage"
)

// Flush triggers, used as log fields and metric labels.
const (
	ReasonThreshold = "threshold"
	ReasonRollover  = "rollover"
	ReasonDrain     = "drain"
)

// Flush tracks the writes issued by one rollover. Done is closed once every
// one of them has been acknowledged, successfully or not.
type Flush struct {
	wg     sync.WaitGroup
	done   chan struct{}
	issued int
	failed atomic.Int64
}

func newFlush() *Flush {
	return &Flush{done: make(chan struct{})}
}

// Done returns a channel closed when all writes have completed.
func (f *Flush) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until all writes completed or ctx is done.
func (f *Flush) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Issued returns the number of writes the flush started.
func (f *Flush) Issued() int {
	return f.issued
}

// Failed returns the number of writes that returned an error so far.
func (f *Flush) Failed() int {
	return int(f.failed.Load())
}

// inflight counts writes issued and not yet acknowledged. Waiters park on
// a channel closed when the count drops to zero.
type inflight struct {
	mu      sync.Mutex
	n       int
	waiters []chan struct{}
}

func (t *inflight) add(n int) {
	t.mu.Lock()
	t.n += n
	t.mu.Unlock()
}

func (t *inflight) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n--
	if t.n == 0 {
		for _, ch := range t.waiters {
			close(ch)
		}
		t.waiters = nil
	}
}

func (t *inflight) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

func (t *inflight) wait(ctx context.Context) error {
	t.mu.Lock()
	if t.n == 0 {
		t.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	t.waiters = append(t.waiters, ch)
	t.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushCoordinator turns captured deltas into asynchronous upserts. A
// failed write is logged and its delta discarded.
type FlushCoordinator struct {
	cache        *AggregationCache
	store        storage.AggregateStore
	current      func() models.Bucket
	sem          *semaphore.Weighted
	writeTimeout time.Duration
	writes       inflight
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewFlushCoordinator creates a coordinator writing cache deltas to store.
// current reports the active bucket, which rollover flushes leave alone.
func NewFlushCoordinator(
	cache *AggregationCache,
	store storage.AggregateStore,
	current func() models.Bucket,
	maxInflight int64,
	writeTimeout time.Duration,
	logger *zap.Logger,
	m *metrics.Metrics,
) *FlushCoordinator {
	if maxInflight <= 0 {
		maxInflight = 1
	}
	f := &FlushCoordinator{
		cache:        cache,
		store:        store,
		current:      current,
		sem:          semaphore.NewWeighted(maxInflight),
		writeTimeout: writeTimeout,
		logger:       logger,
		metrics:      m,
	}
	// Deltas count as in flight from the moment they leave the cache.
	cache.onCapture = f.writes.add
	return f
}

// Write issues one upsert for a delta captured from the cache, which
// already counts it as in flight.
func (f *FlushCoordinator) Write(store string, key models.EventKey, delta models.Counters, reason string) {
	f.issue(store, key, delta, reason, nil)
}

// issue blocks while MaxInflightWrites writes are running, so at most that
// many write goroutines exist. batch, when set, has already counted the
// write.
func (f *FlushCoordinator) issue(store string, key models.EventKey, delta models.Counters, reason string, batch *Flush) {
	f.metrics.RecordFlush(reason)

	// Background context: this only waits on other writes, and each of
	// those is bounded by writeTimeout.
	_ = f.sem.Acquire(context.Background(), 1)
	f.metrics.InflightWrites.Inc()

	go func() {
		defer func() {
			f.sem.Release(1)
			f.metrics.InflightWrites.Dec()
			if batch != nil {
				batch.wg.Done()
			}
			f.writes.done()
		}()

		ctx := context.Background()
		if f.writeTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, f.writeTimeout)
			defer cancel()
		}

		start := time.Now()
		err := f.store.Upsert(ctx, store, models.NewAggregate(key, delta))
		f.metrics.RecordWrite(store, err, time.Since(start))
		if err != nil {
			if batch != nil {
				batch.failed.Add(1)
			}
			f.logger.Error("aggregate write failed, delta discarded",
				zap.String("store", store),
				zap.String("id", key.ID()),
				zap.Int64("impressions", delta.Impressions),
				zap.Int64("clicks", delta.Clicks),
				zap.String("reason", reason),
				zap.Error(err),
			)
		}
	}()
}

type storeWrites struct {
	store  string
	writes []pendingWrite
}

// RolloverFlush removes, in every store, each bucket other than the current
// one, or every bucket when includeCurrent is set. The buckets leave the
// cache before it returns; their writes are issued in the background. The
// returned Flush signals completion of exactly those writes.
func (f *FlushCoordinator) RolloverFlush(includeCurrent bool) *Flush {
	reason := ReasonRollover
	if includeCurrent {
		reason = ReasonDrain
	}
	current := f.current()
	keep := func(b models.Bucket) bool {
		return !includeCurrent && b == current
	}

	var detached []storeWrites
	batch := newFlush()
	for _, store := range f.cache.Stores() {
		writes := f.cache.detach(store, keep)
		if len(writes) > 0 {
			detached = append(detached, storeWrites{store: store, writes: writes})
			batch.issued += len(writes)
		}
		f.metrics.SetPendingBuckets(store, f.cache.BucketCount(store))
	}
	batch.wg.Add(batch.issued)

	f.logger.Info("rollover flush issued",
		zap.String("reason", reason),
		zap.String("current_bucket", current.String()),
		zap.Int("writes", batch.issued),
	)

	go func() {
		for _, sw := range detached {
			for _, w := range sw.writes {
				f.issue(sw.store, w.key, w.delta, reason, batch)
			}
		}
		batch.wg.Wait()
		f.logger.Info("rollover flush complete",
			zap.String("reason", reason),
			zap.String("current_bucket", current.String()),
			zap.Int("writes", batch.issued),
			zap.Int("failed", batch.Failed()),
		)
		close(batch.done)
	}()
	return batch
}

// Inflight returns the number of unacknowledged writes.
func (f *FlushCoordinator) Inflight() int {
	return f.writes.count()
}

// Wait blocks until no write is in flight or ctx is done.
func (f *FlushCoordinator) Wait(ctx context.Context) error {
	return f.writes.wait(ctx)
}
