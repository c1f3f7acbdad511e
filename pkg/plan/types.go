package plan

import "time"

// Metric identifies a countable, capped resource within a plugin
// (e.g. "api_calls", "products", "storage_mb").
type Metric string

// Feature is an opaque capability token granted by a plan.
type Feature string

// FeatureAll is the wildcard token granting every feature of a plugin.
const FeatureAll Feature = "all"

// Unlimited indicates no ceiling for a metric (-1 chosen for SQL compatibility).
const Unlimited int64 = -1

// Money represents a monetary amount in the smallest currency unit.
// For example, $10.99 USD would be Amount: 1099, Currency: "USD".
type Money struct {
	Amount   int64  // Amount in smallest currency unit (cents for USD)
	Currency string // ISO 4217 currency code
}

// IsZero returns true for a zero-cost amount.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// BillingCycle represents the billing frequency for a subscription plan.
type BillingCycle string

const (
	CycleMonthly   BillingCycle = "monthly"
	CycleQuarterly BillingCycle = "quarterly"
	CycleYearly    BillingCycle = "yearly"
)

// PeriodEnd returns the end of a billing period that starts at the given time.
// Unknown cycles fall back to monthly.
func (c BillingCycle) PeriodEnd(start time.Time) time.Time {
	switch c {
	case CycleQuarterly:
		return start.AddDate(0, 3, 0)
	case CycleYearly:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 1, 0)
	}
}
