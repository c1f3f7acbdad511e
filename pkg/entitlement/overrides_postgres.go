package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/plugkit/entitlement/pkg/plan"
)

// pgQuerier is the subset of pgxpool.Pool the override source needs.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresOverrides reads tenant exceptions from the override tables. A NULL
// valid_from/valid_to bound is open-ended.
type PostgresOverrides struct {
	db pgQuerier
}

// NewPostgresOverrides creates an override source backed by the given pool.
func NewPostgresOverrides(db pgQuerier) *PostgresOverrides {
	if db == nil {
		panic("entitlement: pg querier is required")
	}
	return &PostgresOverrides{db: db}
}

func (s *PostgresOverrides) FeatureOverride(ctx context.Context, tenantID uuid.UUID, pluginID string, feature plan.Feature, at time.Time) (*FeatureOverride, error) {
	var o FeatureOverride
	err := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, plugin_id, feature, allowed, valid_from, valid_to
		FROM tenant_feature_overrides
		WHERE tenant_id = $1 AND plugin_id = $2 AND feature = $3
		  AND (valid_from IS NULL OR valid_from <= $4)
		  AND (valid_to IS NULL OR valid_to > $4)
		ORDER BY valid_from DESC NULLS LAST
		LIMIT 1`,
		tenantID, pluginID, string(feature), at).
		Scan(&o.ID, &o.TenantID, &o.PluginID, &o.Feature, &o.Allowed, &o.ValidFrom, &o.ValidTo)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Join(ErrOverrideSourceFailed, err)
	}
	return &o, nil
}

func (s *PostgresOverrides) UsageOverride(ctx context.Context, tenantID uuid.UUID, pluginID string, metric plan.Metric, at time.Time) (*UsageOverride, error) {
	var o UsageOverride
	err := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, plugin_id, metric, usage_limit, valid_from, valid_to
		FROM tenant_usage_overrides
		WHERE tenant_id = $1 AND plugin_id = $2 AND metric = $3
		  AND (valid_from IS NULL OR valid_from <= $4)
		  AND (valid_to IS NULL OR valid_to > $4)
		ORDER BY valid_from DESC NULLS LAST
		LIMIT 1`,
		tenantID, pluginID, string(metric), at).
		Scan(&o.ID, &o.TenantID, &o.PluginID, &o.Metric, &o.Limit, &o.ValidFrom, &o.ValidTo)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Join(ErrOverrideSourceFailed, err)
	}
	return &o, nil
}

func (s *PostgresOverrides) CustomPricing(ctx context.Context, tenantID uuid.UUID, pluginID string, at time.Time) (*CustomPricing, error) {
	var c CustomPricing
	var features []string
	var limits []byte
	err := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, plugin_id, features, limits, amount, currency, valid_from, valid_to
		FROM tenant_custom_pricing
		WHERE tenant_id = $1 AND plugin_id = $2
		  AND (valid_from IS NULL OR valid_from <= $3)
		  AND (valid_to IS NULL OR valid_to > $3)
		ORDER BY valid_from DESC NULLS LAST
		LIMIT 1`,
		tenantID, pluginID, at).
		Scan(&c.ID, &c.TenantID, &c.PluginID, &features, &limits, &c.Price.Amount, &c.Price.Currency, &c.ValidFrom, &c.ValidTo)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Join(ErrOverrideSourceFailed, err)
	}

	c.Features = make([]plan.Feature, 0, len(features))
	for _, f := range features {
		c.Features = append(c.Features, plan.Feature(f))
	}
	if len(limits) > 0 {
		if err := json.Unmarshal(limits, &c.Limits); err != nil {
			return nil, errors.Join(ErrOverrideSourceFailed,
				fmt.Errorf("failed to decode custom pricing limits: %w", err))
		}
	}
	return &c, nil
}
