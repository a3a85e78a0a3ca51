package storage

import (
	"context"
	"errors"

	"github.com/radiusdt/propeller/internal/models"
)

// ErrUnknownStore is returned by backends asked to write to a store they
// were not prepared for.
var ErrUnknownStore = errors.New("unknown store")

// =============================================
// AGGREGATE STORE
// =============================================

// AggregateStore persists coalesced counters. Upsert creates the document
// for agg.ID when absent and otherwise adds agg's impressions and clicks to
// the stored counters; identifying fields are overwritten. Several writes
// for the same id, from one process or many, must sum.
type AggregateStore interface {
	Upsert(ctx context.Context, store string, agg models.Aggregate) error
}

// SchemaEnsurer is implemented by backends that need tables created for
// each configured store before the first write.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context, stores []string) error
}

// HealthChecker is implemented by backends with a remote connection.
type HealthChecker interface {
	Health(ctx context.Context) error
}
