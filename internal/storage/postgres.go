package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/radiusdt/propeller/internal/models"
)

// pgExecer is the subset of *pgxpool.Pool the store needs.
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore implements AggregateStore with one table per store, named
// <store>_<collection>.
type PostgresStore struct {
	db         pgExecer
	collection string
}

// NewPostgresStore creates a PostgreSQL-backed aggregate store.
func NewPostgresStore(db pgExecer, collection string) *PostgresStore {
	return &PostgresStore{db: db, collection: collection}
}

func (s *PostgresStore) table(store string) string {
	return pgx.Identifier{store + "_" + s.collection}.Sanitize()
}

// EnsureSchema creates the aggregate table of every store.
func (s *PostgresStore) EnsureSchema(ctx context.Context, stores []string) error {
	for _, store := range stores {
		_, err := s.db.Exec(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id          TEXT PRIMARY KEY,
				day         TEXT NOT NULL,
				hour        SMALLINT NOT NULL,
				zone        BIGINT NOT NULL,
				campaign    BIGINT NOT NULL,
				banner      BIGINT NOT NULL,
				impressions BIGINT NOT NULL DEFAULT 0,
				clicks      BIGINT NOT NULL DEFAULT 0
			)
		`, s.table(store)))
		if err != nil {
			return fmt.Errorf("failed to create table for store %s: %w", store, err)
		}
	}
	return nil
}

// Upsert inserts the row or adds the delta to the existing counters.
func (s *PostgresStore) Upsert(ctx context.Context, store string, agg models.Aggregate) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s AS t (id, day, hour, zone, campaign, banner, impressions, clicks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			day = EXCLUDED.day,
			hour = EXCLUDED.hour,
			zone = EXCLUDED.zone,
			campaign = EXCLUDED.campaign,
			banner = EXCLUDED.banner,
			impressions = t.impressions + EXCLUDED.impressions,
			clicks = t.clicks + EXCLUDED.clicks
	`, s.table(store)),
		agg.ID, agg.Day, int16(agg.Hour),
		int64(agg.ZoneID), int64(agg.CampaignID), int64(agg.BannerID),
		agg.Impressions, agg.Clicks,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert aggregate %s: %w", agg.ID, err)
	}
	return nil
}
