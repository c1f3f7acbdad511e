package usage

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps usage counters in Redis for hot read paths. INCRBY is the
// atomic increment-or-create primitive; SETNX gives seeding its
// skip-on-conflict semantics.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed counter store. The prefix namespaces
// keys so the store can share a Redis database with other subsystems.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if client == nil {
		panic("usage: redis client is required")
	}
	if prefix == "" {
		prefix = "usage"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) counterKey(key Key) string {
	return s.prefix + ":" + key.TenantID.String() + ":" + key.PluginID + ":" + string(key.Metric) + ":" + key.Period
}

func (s *RedisStore) latestKey(tenantID uuid.UUID, pluginID string) string {
	return s.prefix + ":latest:" + tenantID.String() + ":" + pluginID
}

func (s *RedisStore) Increment(ctx context.Context, key Key, amount int64) error {
	return s.client.IncrBy(ctx, s.counterKey(key), amount).Err()
}

func (s *RedisStore) Get(ctx context.Context, key Key) (int64, error) {
	val, err := s.client.Get(ctx, s.counterKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

func (s *RedisStore) Seed(ctx context.Context, keys []Key) error {
	for _, key := range keys {
		if err := s.client.SetNX(ctx, s.counterKey(key), 0, 0).Err(); err != nil {
			return err
		}
	}
	if len(keys) > 0 {
		// Concurrent racers write the same period value, so a plain SET is safe.
		first := keys[0]
		if err := s.client.Set(ctx, s.latestKey(first.TenantID, first.PluginID), first.Period, 0).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) LatestPeriod(ctx context.Context, tenantID uuid.UUID, pluginID string) (string, error) {
	period, err := s.client.Get(ctx, s.latestKey(tenantID, pluginID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return period, nil
}
