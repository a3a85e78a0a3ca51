package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radiusdt/propeller/internal/config"
	"github.com/radiusdt/propeller/internal/httpserver"
	"github.com/radiusdt/propeller/internal/metrics"
	"github.com/radiusdt/propeller/internal/middleware"
	"github.com/radiusdt/propeller/internal/tracking"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "propeller: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Server.Workers > 0 {
		runtime.GOMAXPROCS(cfg.Server.Workers)
	}

	logger.Info("starting Propeller",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
		zap.Strings("stores", cfg.Tracking.Stores),
		zap.String("driver", cfg.Store.Driver),
		zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)),
	)

	loc, err := cfg.Tracking.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(cfg.Metrics.Namespace, reg)

	// Initialize the backing store
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = be.Close() }()

	svc, err := tracking.NewService(tracking.Options{
		Stores:            cfg.Tracking.Stores,
		Threshold:         cfg.Tracking.FlushThreshold,
		ClockInterval:     cfg.Tracking.ClockInterval,
		Location:          loc,
		WriteTimeout:      cfg.Tracking.WriteTimeout,
		MaxInflightWrites: cfg.Tracking.MaxInflightWrites,
		Store:             be.Store,
		Logger:            logger.Named("tracking"),
		Metrics:           m,
	})
	if err != nil {
		return fmt.Errorf("failed to create tracking service: %w", err)
	}

	handler := httpserver.NewServer(&httpserver.Dependencies{
		Service:  svc,
		Config:   cfg,
		Logger:   logger,
		Gatherer: reg,
		Health:   be.Health,
	})
	handler = middleware.NewLoggingMiddleware(logger).Handler(handler)
	handler = middleware.NewRecoveryMiddleware(logger).Handler(handler)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return svc.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	runErr := g.Wait()

	// No request can reach the cache any more; write out what is left.
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Tracking.DrainTimeout)
	defer cancel()
	if err := svc.Drain(drainCtx); err != nil {
		logger.Error("shutdown drain failed", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}

	logger.Info("server stopped")
	return runErr
}
