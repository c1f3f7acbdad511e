package usage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgQuerier is the subset of pgxpool.Pool the store needs, kept narrow so
// tests and transactions can satisfy it.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists usage counters in the usage_counters table. The
// unique index on (tenant_id, plugin_id, metric, period_key) backs both the
// atomic upsert increment and the skip-on-conflict seeding.
type PostgresStore struct {
	db pgQuerier
}

// NewPostgresStore creates a counter store backed by the given pool.
func NewPostgresStore(db pgQuerier) *PostgresStore {
	if db == nil {
		panic("usage: pg querier is required")
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Increment(ctx context.Context, key Key, amount int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO usage_counters (tenant_id, plugin_id, metric, period_key, value)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, plugin_id, metric, period_key)
		DO UPDATE SET value = usage_counters.value + EXCLUDED.value, updated_at = now()`,
		key.TenantID, key.PluginID, string(key.Metric), key.Period, amount)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (int64, error) {
	var value int64
	err := s.db.QueryRow(ctx, `
		SELECT value FROM usage_counters
		WHERE tenant_id = $1 AND plugin_id = $2 AND metric = $3 AND period_key = $4`,
		key.TenantID, key.PluginID, string(key.Metric), key.Period).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (s *PostgresStore) Seed(ctx context.Context, keys []Key) error {
	for _, key := range keys {
		_, err := s.db.Exec(ctx, `
			INSERT INTO usage_counters (tenant_id, plugin_id, metric, period_key, value)
			VALUES ($1, $2, $3, $4, 0)
			ON CONFLICT (tenant_id, plugin_id, metric, period_key) DO NOTHING`,
			key.TenantID, key.PluginID, string(key.Metric), key.Period)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) LatestPeriod(ctx context.Context, tenantID uuid.UUID, pluginID string) (string, error) {
	var period string
	err := s.db.QueryRow(ctx, `
		SELECT period_key FROM usage_counters
		WHERE tenant_id = $1 AND plugin_id = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		tenantID, pluginID).Scan(&period)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return period, nil
}
