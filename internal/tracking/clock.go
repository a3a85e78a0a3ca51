package tracking

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"

	"github.com/radiusdt/propeller/internal/models"
)

// DefaultClockInterval is how often the tracker re-reads the wall clock.
const DefaultClockInterval = 10 * time.Second

// RolloverFunc is called when the active bucket changes. next is already
// visible through Current when it runs.
type RolloverFunc func(prev, next models.Bucket)

// ClockTracker caches the current (day, hour) so request handling never
// reads the wall clock. The cached value may lag by up to one interval.
type ClockTracker struct {
	clock    quartz.Clock
	loc      *time.Location
	interval time.Duration

	// mu serializes Refresh so each change fires onRollover once.
	mu         sync.Mutex
	current    atomic.Pointer[models.Bucket]
	onRollover RolloverFunc
}

// NewClockTracker reads the clock once and returns a tracker positioned on
// the current bucket.
func NewClockTracker(clock quartz.Clock, loc *time.Location, interval time.Duration, onRollover RolloverFunc) *ClockTracker {
	if interval <= 0 {
		interval = DefaultClockInterval
	}
	if loc == nil {
		loc = time.Local
	}
	c := &ClockTracker{
		clock:      clock,
		loc:        loc,
		interval:   interval,
		onRollover: onRollover,
	}
	b := models.BucketAt(clock.Now("clock", "init"), loc)
	c.current.Store(&b)
	return c
}

// Current returns the cached bucket.
func (c *ClockTracker) Current() models.Bucket {
	return *c.current.Load()
}

// Refresh re-reads the clock and reports whether the bucket changed.
func (c *ClockTracker) Refresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := models.BucketAt(c.clock.Now("clock", "refresh"), c.loc)
	prev := c.Current()
	if next == prev {
		return false
	}
	c.current.Store(&next)
	if c.onRollover != nil {
		c.onRollover(prev, next)
	}
	return true
}

// Run refreshes on every interval until ctx is done.
func (c *ClockTracker) Run(ctx context.Context) error {
	w := c.clock.TickerFunc(ctx, c.interval, func() error {
		c.Refresh()
		return nil
	}, "clock", "ticker")
	err := w.Wait()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
