package httpserver

import (
	"github.com/radiusdt/propeller/internal/models"
	"github.com/radiusdt/propeller/internal/tracking"
)

// Request is a classified tracking request.
type Request struct {
	Kind models.EventKind
	// Destination is the redirect target of a click.
	Destination string
	// Segments holds one normalized parameter block per event.
	Segments []tracking.Params
}

// Classify parses rawQuery into its events. Any segment carrying a
// destination makes the whole request a click; the first non-empty
// destination wins.
func Classify(rawQuery string) Request {
	raw := tracking.SplitSegments(rawQuery)
	req := Request{
		Kind:     models.Impression,
		Segments: make([]tracking.Params, 0, len(raw)),
	}
	for _, seg := range raw {
		p := tracking.ParseParams(seg)
		if p.Destination != "" && req.Destination == "" {
			req.Kind = models.Click
			req.Destination = p.Destination
		}
		req.Segments = append(req.Segments, p)
	}
	return req
}
