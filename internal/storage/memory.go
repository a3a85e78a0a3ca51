package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/radiusdt/propeller/internal/models"
)

// MemoryStore keeps aggregates in memory. It is not durable and resets on
// process restart; main falls back to it when the configured backend is
// unreachable, and tests use it to observe writes.
type MemoryStore struct {
	mu     sync.RWMutex
	stores map[string]map[string]*models.Aggregate
	writes int
}

// NewMemoryStore prepares an empty collection for each named store.
func NewMemoryStore(stores ...string) *MemoryStore {
	m := &MemoryStore{stores: make(map[string]map[string]*models.Aggregate, len(stores))}
	for _, s := range stores {
		m.stores[s] = make(map[string]*models.Aggregate)
	}
	return m
}

// EnsureSchema adds collections for stores not seen before.
func (m *MemoryStore) EnsureSchema(ctx context.Context, stores []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range stores {
		if _, ok := m.stores[s]; !ok {
			m.stores[s] = make(map[string]*models.Aggregate)
		}
	}
	return nil
}

func (m *MemoryStore) Upsert(ctx context.Context, store string, agg models.Aggregate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.stores[store]
	if !ok {
		return fmt.Errorf("memory upsert %s: %w", store, ErrUnknownStore)
	}
	m.writes++

	cur, ok := coll[agg.ID]
	if !ok {
		cp := agg
		coll[agg.ID] = &cp
		return nil
	}
	impressions := cur.Impressions + agg.Impressions
	clicks := cur.Clicks + agg.Clicks
	*cur = agg
	cur.Impressions = impressions
	cur.Clicks = clicks
	return nil
}

// Get returns a copy of the aggregate stored under id.
func (m *MemoryStore) Get(store, id string) (models.Aggregate, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg, ok := m.stores[store][id]
	if !ok {
		return models.Aggregate{}, false
	}
	return *agg, true
}

// List returns every aggregate of a store ordered by id.
func (m *MemoryStore) List(store string) []models.Aggregate {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]models.Aggregate, 0, len(m.stores[store]))
	for _, agg := range m.stores[store] {
		res = append(res, *agg)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Writes returns the number of successful Upsert calls.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
