package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radiusdt/propeller/internal/models"
)

// RedisStore implements AggregateStore with one hash per aggregate.
// Identity fields are set with HSET and counters incremented with HINCRBY
// in a single MULTI/EXEC, so concurrent writers always sum. Each day's ids
// are also collected in a set for reporting scans.
type RedisStore struct {
	client     redis.Cmdable
	prefix     string
	collection string
	ttl        time.Duration
}

// NewRedisStore creates a Redis-backed aggregate store. A zero ttl keeps
// aggregates forever.
func NewRedisStore(client redis.Cmdable, prefix, collection string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client:     client,
		prefix:     prefix,
		collection: collection,
		ttl:        ttl,
	}
}

// DocKey returns the hash key holding the aggregate id of store.
func (s *RedisStore) DocKey(store, id string) string {
	return fmt.Sprintf("%s:%s:%s:%s", s.prefix, store, s.collection, id)
}

// DayIndexKey returns the set collecting a day's aggregate ids.
func (s *RedisStore) DayIndexKey(store, day string) string {
	return fmt.Sprintf("%s:%s:%s:days:%s", s.prefix, store, s.collection, day)
}

func (s *RedisStore) Upsert(ctx context.Context, store string, agg models.Aggregate) error {
	key := s.DocKey(store, agg.ID)
	index := s.DayIndexKey(store, agg.Day)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"day", agg.Day,
			"hour", agg.Hour,
			"zone", agg.ZoneID,
			"campaign", agg.CampaignID,
			"banner", agg.BannerID,
		)
		pipe.HIncrBy(ctx, key, "impressions", agg.Impressions)
		pipe.HIncrBy(ctx, key, "clicks", agg.Clicks)
		pipe.SAdd(ctx, index, agg.ID)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
			pipe.Expire(ctx, index, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert aggregate %s: %w", agg.ID, err)
	}
	return nil
}
