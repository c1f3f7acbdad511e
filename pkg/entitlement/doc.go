// Package entitlement is the single surface other subsystems call to answer
// "is this tenant allowed to do X right now". It resolves effective feature
// flags and usage ceilings by walking the override hierarchy (tenant
// overrides beat tenant custom pricing, which beats the assigned plan) and
// exposes the four facade operations: CheckLicense, CheckUsageLimit,
// RecordUsage and CheckSubscriptionAccess.
//
// Read-only checks never return an error for "not allowed": denials are
// structured results with a machine-readable reason so callers can present
// upgrade flows. Only transient store failures surface as errors, for the
// caller to retry.
//
// Usage recording is fire-and-forget. RecordUsage hands the increment to a
// detached background recorder whose submission never blocks; recording
// failures are logged, never surfaced, because the correctness of the
// triggering request must not depend on metering.
package entitlement
