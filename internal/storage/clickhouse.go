package storage

import (
	"context"
	"fmt"

	"github.com/radiusdt/propeller/internal/models"
)

// chExecer is the subset of clickhouse-go's driver.Conn the store needs.
type chExecer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// ClickHouseStore implements AggregateStore on SummingMergeTree tables.
// Every upsert inserts a delta row; ClickHouse sums impressions and clicks
// of rows sharing the sorting key when parts merge, and readers aggregate
// with sum() to see rows not merged yet.
type ClickHouseStore struct {
	conn       chExecer
	collection string
}

// NewClickHouseStore creates a ClickHouse-backed aggregate store.
func NewClickHouseStore(conn chExecer, collection string) *ClickHouseStore {
	return &ClickHouseStore{conn: conn, collection: collection}
}

func (s *ClickHouseStore) table(store string) string {
	return "`" + store + "_" + s.collection + "`"
}

// EnsureSchema creates the aggregate table of every store.
func (s *ClickHouseStore) EnsureSchema(ctx context.Context, stores []string) error {
	for _, store := range stores {
		err := s.conn.Exec(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id          String,
				day         Date,
				hour        UInt8,
				zone        UInt64,
				campaign    UInt64,
				banner      UInt64,
				impressions Int64,
				clicks      Int64
			)
			ENGINE = SummingMergeTree((impressions, clicks))
			ORDER BY (day, hour, zone, campaign, banner)
		`, s.table(store)))
		if err != nil {
			return fmt.Errorf("failed to create table for store %s: %w", store, err)
		}
	}
	return nil
}

func (s *ClickHouseStore) Upsert(ctx context.Context, store string, agg models.Aggregate) error {
	err := s.conn.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, day, hour, zone, campaign, banner, impressions, clicks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.table(store)),
		agg.ID, agg.Day, uint8(agg.Hour),
		agg.ZoneID, agg.CampaignID, agg.BannerID,
		agg.Impressions, agg.Clicks,
	)
	if err != nil {
		return fmt.Errorf("failed to insert aggregate %s: %w", agg.ID, err)
	}
	return nil
}
