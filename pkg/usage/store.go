package usage

import (
	"context"

	"github.com/google/uuid"

	"github.com/plugkit/entitlement/pkg/plan"
)

// Key identifies one usage counter.
type Key struct {
	TenantID uuid.UUID
	PluginID string
	Metric   plan.Metric
	Period   string
}

// CounterStore defines the persistence contract for usage counters.
//
// Increment must be an atomic increment-or-create; implementations must never
// read-modify-write. Seed must skip keys that already exist so concurrent
// rollovers stay idempotent without coordination.
type CounterStore interface {
	// Increment atomically adds amount to the counter, creating it at amount
	// if absent.
	Increment(ctx context.Context, key Key, amount int64) error

	// Get returns the counter value, or 0 if the counter does not exist.
	Get(ctx context.Context, key Key) (int64, error)

	// Seed creates zero-valued counters for the given keys, silently skipping
	// any that already exist.
	Seed(ctx context.Context, keys []Key) error

	// LatestPeriod returns the most recently written period key for a
	// (tenant, plugin) pair, or "" when no counters exist yet.
	LatestPeriod(ctx context.Context, tenantID uuid.UUID, pluginID string) (string, error)
}
