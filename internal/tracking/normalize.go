package tracking

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/radiusdt/propeller/internal/models"
)

// MultiEventToken separates independent parameter blocks in one query.
const MultiEventToken = "||"

// Query parameter names.
const (
	ParamZone     = "zoneid"
	ParamCampaign = "campaignid"
	ParamBanner   = "bannerid"
	ParamDebug    = "debug"
	ParamStore    = "s"
	ParamDest     = "dest"
)

// Params is one normalized parameter block of a tracking request.
type Params struct {
	ZoneID      uint64
	CampaignID  uint64
	BannerID    uint64
	Debug       uint64
	Store       string
	Destination string
}

// SplitSegments splits a raw query into its parameter blocks. A query
// without blocks still yields one empty segment so that a bare pixel
// request counts as one event with zero ids.
func SplitSegments(rawQuery string) []string {
	parts := strings.Split(rawQuery, MultiEventToken)
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "&")
		if p != "" {
			segments = append(segments, p)
		}
	}
	if len(segments) == 0 {
		segments = append(segments, "")
	}
	return segments
}

// ParseParams normalizes one segment. It never fails: malformed pairs are
// skipped and ids that are missing or not non-negative integers become 0.
func ParseParams(segment string) Params {
	// ParseQuery keeps every pair it could decode; the error only names
	// the first bad one.
	values, _ := url.ParseQuery(segment)
	return Params{
		ZoneID:      parseID(values.Get(ParamZone)),
		CampaignID:  parseID(values.Get(ParamCampaign)),
		BannerID:    parseID(values.Get(ParamBanner)),
		Debug:       parseID(values.Get(ParamDebug)),
		Store:       strings.TrimSpace(values.Get(ParamStore)),
		Destination: values.Get(ParamDest),
	}
}

// parseID accepts decimal values that fit in a signed 64-bit column.
func parseID(v string) uint64 {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 63)
	if err != nil {
		return 0
	}
	return n
}

// ToEventKey builds the key for p in the supplied bucket. The bucket is
// the tracker's cached one; the wall clock is never read here.
func ToEventKey(p Params, b models.Bucket) models.EventKey {
	return models.NewEventKey(b, p.ZoneID, p.CampaignID, p.BannerID)
}

// StoreRouter maps the store parameter onto the configured stores.
type StoreRouter struct {
	stores []string
	known  map[string]struct{}
}

// NewStoreRouter builds a router over the ordered store list; the first
// entry is the default.
func NewStoreRouter(stores []string) *StoreRouter {
	r := &StoreRouter{
		stores: append([]string(nil), stores...),
		known:  make(map[string]struct{}, len(stores)),
	}
	for _, s := range stores {
		r.known[s] = struct{}{}
	}
	return r
}

// Resolve returns the target store for name. An empty name selects the
// default store; an unknown name reports false and must be dropped.
func (r *StoreRouter) Resolve(name string) (string, bool) {
	if name == "" {
		if len(r.stores) == 0 {
			return "", false
		}
		return r.stores[0], true
	}
	if _, ok := r.known[name]; !ok {
		return "", false
	}
	return name, true
}

// Stores returns the configured store names in order.
func (r *StoreRouter) Stores() []string {
	return append([]string(nil), r.stores...)
}
