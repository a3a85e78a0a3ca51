package models

import (
	"fmt"
	"time"
)

// DayLayout is the calendar-date format used for the day dimension.
const DayLayout = "2006-01-02"

// ===========================================
// EVENT KIND
// ===========================================

// EventKind selects which counter an event increments.
type EventKind int

const (
	Impression EventKind = iota
	Click
)

func (k EventKind) String() string {
	switch k {
	case Impression:
		return "impression"
	case Click:
		return "click"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ===========================================
// TIME BUCKET
// ===========================================

// Bucket identifies one hour of one calendar day.
type Bucket struct {
	Day  string `json:"day"`
	Hour int    `json:"hour"`
}

// BucketAt returns the bucket containing t as observed in loc.
func BucketAt(t time.Time, loc *time.Location) Bucket {
	if loc != nil {
		t = t.In(loc)
	}
	return Bucket{Day: t.Format(DayLayout), Hour: t.Hour()}
}

func (b Bucket) String() string {
	return fmt.Sprintf("%s|%02d", b.Day, b.Hour)
}

// ===========================================
// EVENT KEY
// ===========================================

// EventKey is the composite identity of one aggregate row. It is
// comparable and used directly as a map key.
type EventKey struct {
	Day        string
	Hour       int
	ZoneID     uint64
	CampaignID uint64
	BannerID   uint64
}

// NewEventKey builds a key for the given bucket and dimensions.
func NewEventKey(b Bucket, zoneID, campaignID, bannerID uint64) EventKey {
	return EventKey{
		Day:        b.Day,
		Hour:       b.Hour,
		ZoneID:     zoneID,
		CampaignID: campaignID,
		BannerID:   bannerID,
	}
}

// ID returns the store document id: day|HH|zone|campaign|banner.
func (k EventKey) ID() string {
	return fmt.Sprintf("%s|%02d|%d|%d|%d", k.Day, k.Hour, k.ZoneID, k.CampaignID, k.BannerID)
}

// Bucket returns the time bucket the key belongs to.
func (k EventKey) Bucket() Bucket {
	return Bucket{Day: k.Day, Hour: k.Hour}
}

// ===========================================
// PENDING COUNTERS
// ===========================================

// Counters holds the uncommitted impression and click counts for a key.
type Counters struct {
	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`
}

// Add increments the counter selected by kind and returns its new value.
func (c *Counters) Add(kind EventKind) int64 {
	switch kind {
	case Click:
		c.Clicks++
		return c.Clicks
	default:
		c.Impressions++
		return c.Impressions
	}
}

// IsZero reports whether both counters are zero.
func (c Counters) IsZero() bool {
	return c.Impressions == 0 && c.Clicks == 0
}

// Plus returns the element-wise sum of c and o.
func (c Counters) Plus(o Counters) Counters {
	return Counters{
		Impressions: c.Impressions + o.Impressions,
		Clicks:      c.Clicks + o.Clicks,
	}
}

// ===========================================
// AGGREGATE DOCUMENT
// ===========================================

// Aggregate is one additive write to a store: identifying fields are
// replaced, counters are added to whatever the store already holds.
type Aggregate struct {
	ID          string `json:"id"`
	Day         string `json:"day"`
	Hour        int    `json:"hour"`
	ZoneID      uint64 `json:"zone"`
	CampaignID  uint64 `json:"campaign"`
	BannerID    uint64 `json:"banner"`
	Impressions int64  `json:"impressions"`
	Clicks      int64  `json:"clicks"`
}

// NewAggregate pairs a key with the delta to apply for it.
func NewAggregate(k EventKey, delta Counters) Aggregate {
	return Aggregate{
		ID:          k.ID(),
		Day:         k.Day,
		Hour:        k.Hour,
		ZoneID:      k.ZoneID,
		CampaignID:  k.CampaignID,
		BannerID:    k.BannerID,
		Impressions: delta.Impressions,
		Clicks:      delta.Clicks,
	}
}

// Key returns the event key the aggregate was built from.
func (a Aggregate) Key() EventKey {
	return EventKey{
		Day:        a.Day,
		Hour:       a.Hour,
		ZoneID:     a.ZoneID,
		CampaignID: a.CampaignID,
		BannerID:   a.BannerID,
	}
}

// Delta returns the counters carried by the aggregate.
func (a Aggregate) Delta() Counters {
	return Counters{Impressions: a.Impressions, Clicks: a.Clicks}
}
