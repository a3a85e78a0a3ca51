package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radiusdt/propeller/internal/config"
	"github.com/radiusdt/propeller/internal/database"
	"github.com/radiusdt/propeller/internal/storage"
)

// errMemoryFallback is reported by /health while a configured backend is
// replaced by the in-memory store.
var errMemoryFallback = errors.New("configured store unreachable, counting into memory")

// backend is the aggregate store selected by configuration together with
// its connection lifecycle.
type backend struct {
	Store   storage.AggregateStore
	checker storage.HealthChecker
	// degraded, when set, is returned by Health instead of pinging.
	degraded error
	close    func() error
}

// Health pings the remote store, if any.
func (b *backend) Health(ctx context.Context) error {
	if b.degraded != nil {
		return b.degraded
	}
	if b.checker == nil {
		return nil
	}
	return b.checker.Health(ctx)
}

func (b *backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// openBackend connects the configured driver. An unreachable server is a
// startup error unless the memory fallback is enabled, in which case the
// tracker keeps answering requests and reports itself degraded.
func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	be, err := connect(connectCtx, cfg, logger)
	if err != nil {
		if !cfg.Store.FallbackMemory {
			return nil, fmt.Errorf("failed to connect %s store: %w", cfg.Store.Driver, err)
		}
		logger.Error("store not available, counting into memory; data will be lost on exit",
			zap.String("driver", cfg.Store.Driver),
			zap.Error(err),
		)
		be = &backend{
			Store:    storage.NewMemoryStore(),
			degraded: fmt.Errorf("%w: %s: %v", errMemoryFallback, cfg.Store.Driver, err),
		}
	}

	if se, ok := be.Store.(storage.SchemaEnsurer); ok {
		if err := se.EnsureSchema(connectCtx, cfg.Tracking.Stores); err != nil {
			_ = be.Close()
			return nil, fmt.Errorf("failed to prepare store schema: %w", err)
		}
	}
	return be, nil
}

func connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	collection := cfg.Tracking.Collection

	switch cfg.Store.Driver {
	case "postgres":
		db, err := database.NewPostgresDB(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		return &backend{
			Store:   storage.NewPostgresStore(db.Pool, collection),
			checker: db,
			close:   db.Close,
		}, nil

	case "redis":
		rdb, err := database.NewRedisDB(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return &backend{
			Store:   storage.NewRedisStore(rdb.Client, cfg.Redis.KeyPrefix, collection, cfg.Redis.TTL),
			checker: rdb,
			close:   rdb.Close,
		}, nil

	case "clickhouse":
		ch, err := database.NewClickHouseDB(ctx, cfg.ClickHouse, logger)
		if err != nil {
			return nil, err
		}
		return &backend{
			Store:   storage.NewClickHouseStore(ch.Conn, collection),
			checker: ch,
			close:   ch.Close,
		}, nil

	default:
		return &backend{Store: storage.NewMemoryStore()}, nil
	}
}
