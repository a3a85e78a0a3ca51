package tracking

import (
	"errors"
	"sort"
	"sync"

	"github.com/radiusdt/propeller/internal/models"
)

// ErrUnknownStore is returned when an event targets a store the cache was
// not built for. No cache state is created for it.
var ErrUnknownStore = errors.New("tracking: unknown store")

// timeBucket owns the pending counters of one (day, hour). Once closed it
// has been detached for flushing and accepts no more increments.
type timeBucket struct {
	bucket models.Bucket

	mu      sync.Mutex
	closed  bool
	pending map[models.EventKey]*models.Counters
}

type pendingWrite struct {
	key   models.EventKey
	delta models.Counters
}

// drain closes the bucket and returns its non-zero counters ordered by id.
// capture runs before the lock is released.
func (tb *timeBucket) drain(capture func(n int)) []pendingWrite {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.closed = true
	out := make([]pendingWrite, 0, len(tb.pending))
	for k, c := range tb.pending {
		if c.IsZero() {
			continue
		}
		out = append(out, pendingWrite{key: k, delta: *c})
	}
	tb.pending = nil
	if len(out) > 0 {
		capture(len(out))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key.ID() < out[j].key.ID() })
	return out
}

// storeCache is the independent cache namespace of one store.
type storeCache struct {
	mu      sync.RWMutex
	buckets map[models.Bucket]*timeBucket
}

func (sc *storeCache) bucketFor(b models.Bucket) *timeBucket {
	sc.mu.RLock()
	tb, ok := sc.buckets[b]
	sc.mu.RUnlock()
	if ok {
		return tb
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if tb, ok := sc.buckets[b]; ok {
		return tb
	}
	tb = &timeBucket{
		bucket:  b,
		pending: make(map[models.EventKey]*models.Counters),
	}
	sc.buckets[b] = tb
	return tb
}

// AggregationCache coalesces increments per store, bucket and key. Every
// increment ends up either pending in a bucket or inside exactly one delta
// handed back for writing.
type AggregationCache struct {
	threshold int64
	order     []string
	stores    map[string]*storeCache

	// onCapture is told, while the owning bucket is still locked, how many
	// deltas were just taken out of the cache.
	onCapture func(n int)
}

// NewAggregationCache builds a cache for the given stores. A threshold of
// zero disables early flushing.
func NewAggregationCache(stores []string, threshold int64) *AggregationCache {
	c := &AggregationCache{
		threshold: threshold,
		order:     append([]string(nil), stores...),
		stores:    make(map[string]*storeCache, len(stores)),
		onCapture: func(int) {},
	}
	for _, s := range stores {
		c.stores[s] = &storeCache{buckets: make(map[models.Bucket]*timeBucket)}
	}
	return c
}

// Stores returns the store names in configuration order.
func (c *AggregationCache) Stores() []string {
	return append([]string(nil), c.order...)
}

// Record adds one event of kind to key. When the incremented counter
// reaches the threshold, both counters of the key are captured, reset and
// returned with flush set; the caller owns writing that delta.
func (c *AggregationCache) Record(store string, key models.EventKey, kind models.EventKind) (delta models.Counters, flush bool, err error) {
	sc, ok := c.stores[store]
	if !ok {
		return models.Counters{}, false, ErrUnknownStore
	}

	for {
		tb := sc.bucketFor(key.Bucket())

		tb.mu.Lock()
		if tb.closed {
			// Detached by a concurrent rollover after we looked it up.
			tb.mu.Unlock()
			continue
		}
		cnt, ok := tb.pending[key]
		if !ok {
			cnt = &models.Counters{}
			tb.pending[key] = cnt
		}
		n := cnt.Add(kind)
		if c.threshold > 0 && n >= c.threshold {
			delta = *cnt
			delete(tb.pending, key)
			flush = true
			c.onCapture(1)
		}
		tb.mu.Unlock()
		return delta, flush, nil
	}
}

// detach removes from store every bucket for which keep returns false and
// closes them, returning their pending writes. The store stays locked until
// every detached bucket is drained, so a concurrent detach either sees a
// bucket or sees its writes already captured.
func (c *AggregationCache) detach(store string, keep func(models.Bucket) bool) []pendingWrite {
	sc, ok := c.stores[store]
	if !ok {
		return nil
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	var detached []*timeBucket
	for b, tb := range sc.buckets {
		if keep(b) {
			continue
		}
		detached = append(detached, tb)
		delete(sc.buckets, b)
	}

	sort.Slice(detached, func(i, j int) bool {
		return detached[i].bucket.String() < detached[j].bucket.String()
	})
	var out []pendingWrite
	for _, tb := range detached {
		out = append(out, tb.drain(c.onCapture)...)
	}
	return out
}

// Pending returns the in-memory counters of key.
func (c *AggregationCache) Pending(store string, key models.EventKey) models.Counters {
	sc, ok := c.stores[store]
	if !ok {
		return models.Counters{}
	}
	sc.mu.RLock()
	tb, ok := sc.buckets[key.Bucket()]
	sc.mu.RUnlock()
	if !ok {
		return models.Counters{}
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()
	if cnt, ok := tb.pending[key]; ok {
		return *cnt
	}
	return models.Counters{}
}

// BucketCount returns the number of buckets held for store.
func (c *AggregationCache) BucketCount(store string) int {
	sc, ok := c.stores[store]
	if !ok {
		return 0
	}
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.buckets)
}

// BucketStats summarizes one cached bucket.
type BucketStats struct {
	Bucket      string `json:"bucket"`
	Keys        int    `json:"keys"`
	Impressions int64  `json:"impressions"`
	Clicks      int64  `json:"clicks"`
}

// Snapshot returns per-store bucket summaries ordered by bucket.
func (c *AggregationCache) Snapshot() map[string][]BucketStats {
	out := make(map[string][]BucketStats, len(c.stores))
	for name, sc := range c.stores {
		sc.mu.RLock()
		buckets := make([]*timeBucket, 0, len(sc.buckets))
		for _, tb := range sc.buckets {
			buckets = append(buckets, tb)
		}
		sc.mu.RUnlock()

		stats := make([]BucketStats, 0, len(buckets))
		for _, tb := range buckets {
			st := BucketStats{Bucket: tb.bucket.String()}
			tb.mu.Lock()
			for _, cnt := range tb.pending {
				st.Keys++
				st.Impressions += cnt.Impressions
				st.Clicks += cnt.Clicks
			}
			tb.mu.Unlock()
			stats = append(stats, st)
		}
		sort.Slice(stats, func(i, j int) bool { return stats[i].Bucket < stats[j].Bucket })
		out[name] = stats
	}
	return out
}
