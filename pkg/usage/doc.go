// Package usage implements the metering side of the entitlement engine: the
// period resolver that names the current metering window and the Meter that
// owns lazy, idempotent period rollover and atomic counter increments.
//
// Counters are keyed by (tenant, plugin, metric, period). The period key
// embeds the owning subscription's ID, so a new subscription instance always
// starts its counters at zero; counters are never deleted.
//
// Correctness under concurrent rollover does not rely on in-process locks:
// the CounterStore must reject or ignore duplicate-key creation, which makes
// seeding idempotent across processes. Increments must be atomic
// increment-or-create; read-modify-write is never used.
//
// Three CounterStore implementations ship with the package: PostgresStore
// (pgx, ON CONFLICT upserts), RedisStore (INCRBY/SETNX) and MemoryStore for
// tests.
package usage
