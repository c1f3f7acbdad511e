package usage

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/plugkit/entitlement/pkg/logger"
	"github.com/plugkit/entitlement/pkg/plan"
)

// Meter is the idempotent counter service built on a CounterStore. It is
// stateless and safe to share across concurrent callers.
type Meter struct {
	store CounterStore
	log   *slog.Logger
}

// MeterOption configures a Meter.
type MeterOption func(*Meter)

// WithLogger sets the logger used for rollover diagnostics.
func WithLogger(log *slog.Logger) MeterOption {
	return func(m *Meter) {
		if log != nil {
			m.log = log
		}
	}
}

// NewMeter creates a Meter. Panics if store is nil to fail fast during
// initialization.
func NewMeter(store CounterStore, opts ...MeterOption) *Meter {
	if store == nil {
		panic("usage: CounterStore is required")
	}
	m := &Meter{
		store: store,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsurePeriod lazily rolls counters over to the given period: when the
// most-recently-written period for (tenant, plugin) differs from periodKey,
// zero-valued counters are seeded for every configured metric.
//
// The check-then-create is not atomic against concurrent callers; the store's
// skip-on-conflict Seed semantics make the operation idempotent under races.
func (m *Meter) EnsurePeriod(ctx context.Context, tenantID uuid.UUID, pluginID, periodKey string, metrics []plan.Metric) error {
	if len(metrics) == 0 {
		// Plugin has no capped metrics, nothing to seed.
		return nil
	}

	latest, err := m.store.LatestPeriod(ctx, tenantID, pluginID)
	if err != nil {
		return errors.Join(ErrFailedToSeed, err)
	}
	if latest == periodKey {
		return nil
	}

	keys := make([]Key, 0, len(metrics))
	for _, metric := range metrics {
		keys = append(keys, Key{
			TenantID: tenantID,
			PluginID: pluginID,
			Metric:   metric,
			Period:   periodKey,
		})
	}

	if err := m.store.Seed(ctx, keys); err != nil {
		return errors.Join(ErrFailedToSeed, err)
	}

	m.log.DebugContext(ctx, "seeded usage counters for new period",
		logger.TenantID(tenantID),
		logger.PluginID(pluginID),
		slog.String("period", periodKey),
		slog.Int("metrics", len(metrics)))

	return nil
}

// Increment atomically adds amount to the counter at the given period key.
func (m *Meter) Increment(ctx context.Context, tenantID uuid.UUID, pluginID string, metric plan.Metric, periodKey string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	key := Key{TenantID: tenantID, PluginID: pluginID, Metric: metric, Period: periodKey}
	if err := m.store.Increment(ctx, key, amount); err != nil {
		return errors.Join(ErrFailedToIncrement, err)
	}
	return nil
}

// Read returns the counter value at the given period key, 0 if absent.
func (m *Meter) Read(ctx context.Context, tenantID uuid.UUID, pluginID string, metric plan.Metric, periodKey string) (int64, error) {
	key := Key{TenantID: tenantID, PluginID: pluginID, Metric: metric, Period: periodKey}
	value, err := m.store.Get(ctx, key)
	if err != nil {
		return 0, errors.Join(ErrFailedToRead, err)
	}
	return value, nil
}
