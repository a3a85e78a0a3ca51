package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radiusdt/propeller/internal/config"
	"github.com/radiusdt/propeller/internal/metrics"
	"github.com/radiusdt/propeller/internal/middleware"
	"github.com/radiusdt/propeller/internal/models"
	"github.com/radiusdt/propeller/internal/tracking"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	Service  *tracking.Service
	Config   *config.Config
	Logger   *zap.Logger
	Gatherer prometheus.Gatherer
	// Health pings the backing store; nil means always healthy.
	Health func(ctx context.Context) error
}

// Server wraps HTTP handlers around the tracking service.
type Server struct {
	service *tracking.Service
	health  func(ctx context.Context) error
	logger  *zap.Logger
	config  *config.Config
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		service: deps.Service,
		health:  deps.Health,
		logger:  logger.Named("http"),
		config:  deps.Config,
	}

	// Diagnostic endpoints share auth and a rate limiter; tracking does not.
	auth := middleware.NewAuthMiddleware(deps.Config.Auth, logger)
	limiter := middleware.NewRateLimitMiddleware(deps.Config.RateLimit, logger)
	protect := func(h http.Handler) http.Handler {
		return limiter.Handler(auth.Handler(h))
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Cache snapshot
	mux.Handle("/stats", protect(http.HandlerFunc(s.handleStats)))

	// Prometheus metrics
	if deps.Config.Metrics.Enabled && deps.Gatherer != nil {
		mux.Handle(deps.Config.Metrics.Path, protect(metrics.Handler(deps.Gatherer)))
	}

	// Everything else is a tracking request.
	mux.HandleFunc("/", s.handleTrack)

	return mux
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- Stats ----

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.service.Stats())
}

// ---- Tracking ----

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Connection", "close")
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req := Classify(r.URL.RawQuery)
	head := r.Method == http.MethodHead

	switch req.Kind {
	case models.Click:
		writeRedirect(w, req.Destination)
	default:
		writePixel(w, head)
	}

	// Probes get the same response but are not counted.
	if head {
		return
	}
	s.record(req, r.RequestURI, middleware.RequestID(r.Context()))
}

// record counts every segment of req. The response is already on the
// wire, so a failure here is only logged.
func (s *Server) record(req Request, uri, requestID string) {
	defer func() {
		if err := recover(); err != nil {
			s.logger.Error("panic while recording event",
				zap.Any("error", err),
				zap.String("url", uri),
				zap.String("request_id", requestID),
			)
		}
	}()

	for _, p := range req.Segments {
		key, ok := s.service.Record(tracking.Event{Kind: req.Kind, Params: p})
		if p.Debug == 1 {
			s.logger.Info("debug event",
				zap.String("kind", req.Kind.String()),
				zap.String("store", p.Store),
				zap.String("id", key.ID()),
				zap.Uint64("zone_id", p.ZoneID),
				zap.Uint64("campaign_id", p.CampaignID),
				zap.Uint64("banner_id", p.BannerID),
				zap.String("dest", p.Destination),
				zap.Bool("recorded", ok),
				zap.String("request_id", requestID),
			)
		}
	}
}

// ---- Helper Methods ----

func (s *Server) writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, map[string]string{"error": message})
}
