package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiusdt/propeller/internal/models"
)

func TestBucketAt(t *testing.T) {
	t.Parallel()

	ts := time.Date(2031, time.March, 4, 7, 59, 59, 0, time.UTC)
	b := models.BucketAt(ts, time.UTC)
	assert.Equal(t, models.Bucket{Day: "2031-03-04", Hour: 7}, b)
	assert.Equal(t, "2031-03-04|07", b.String())

	// Same instant seen from UTC+2 lands in a later hour.
	loc := time.FixedZone("plus2", 2*60*60)
	assert.Equal(t, models.Bucket{Day: "2031-03-04", Hour: 9}, models.BucketAt(ts, loc))
}

func TestEventKeyID(t *testing.T) {
	t.Parallel()

	b := models.Bucket{Day: "2031-03-04", Hour: 5}
	k := models.NewEventKey(b, 1, 22, 333)
	assert.Equal(t, "2031-03-04|05|1|22|333", k.ID())
	assert.Equal(t, b, k.Bucket())

	// Identical fields serialize identically and compare equal.
	other := models.NewEventKey(b, 1, 22, 333)
	assert.Equal(t, k, other)
	assert.Equal(t, k.ID(), other.ID())

	assert.NotEqual(t, k.ID(), models.NewEventKey(b, 12, 2, 333).ID())
}

func TestCountersAdd(t *testing.T) {
	t.Parallel()

	var c models.Counters
	require.True(t, c.IsZero())

	assert.EqualValues(t, 1, c.Add(models.Impression))
	assert.EqualValues(t, 2, c.Add(models.Impression))
	assert.EqualValues(t, 1, c.Add(models.Click))
	assert.Equal(t, models.Counters{Impressions: 2, Clicks: 1}, c)
	assert.False(t, c.IsZero())

	sum := c.Plus(models.Counters{Impressions: 3})
	assert.Equal(t, models.Counters{Impressions: 5, Clicks: 1}, sum)
}

func TestAggregateRoundTrip(t *testing.T) {
	t.Parallel()

	k := models.NewEventKey(models.Bucket{Day: "2031-01-01", Hour: 23}, 0, 9, 0)
	agg := models.NewAggregate(k, models.Counters{Impressions: 4, Clicks: 2})
	assert.Equal(t, "2031-01-01|23|0|9|0", agg.ID)
	assert.Equal(t, k, agg.Key())
	assert.Equal(t, models.Counters{Impressions: 4, Clicks: 2}, agg.Delta())
}

func TestEventKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "impression", models.Impression.String())
	assert.Equal(t, "click", models.Click.String())
}
