package plan

import (
	"slices"
	"time"
)

// Plan describes one purchasable tier of a plugin and its entitlement
// constraints. The ID field should match the payment provider's price ID for
// paid plans so webhook events map back to a plan without extra lookups.
type Plan struct {
	ID          string // provider's price ID (e.g. price_pro_monthly)
	PluginID    string
	Name        string
	Description string
	Tier        int // ordering for upgrade/downgrade checks; 0 is the free tier
	Features    []Feature
	Limits      map[Metric]int64 // Unlimited (-1) or absent means no ceiling
	Price       Money
	Cycle       BillingCycle
	TrialDays   int
	Public      bool // available for self-service signup
}

// IsFree reports whether this is the zero-cost tier. Free-tier subscriptions
// renew internally on a monthly schedule regardless of Cycle.
func (p Plan) IsFree() bool {
	return p.Price.IsZero()
}

// HasFeature reports whether the plan grants a feature, honoring the
// FeatureAll wildcard.
func (p Plan) HasFeature(f Feature) bool {
	return slices.Contains(p.Features, FeatureAll) || slices.Contains(p.Features, f)
}

// Limit returns the ceiling for a metric. The second return value is false
// when the metric is absent from the plan, which callers must treat as
// unlimited.
func (p Plan) Limit(m Metric) (int64, bool) {
	limit, ok := p.Limits[m]
	return limit, ok
}

// TrialEndsAt calculates when the trial period ends.
// Returns startedAt unchanged if the plan has no trial.
func (p Plan) TrialEndsAt(startedAt time.Time) time.Time {
	if p.TrialDays <= 0 {
		return startedAt
	}
	return startedAt.AddDate(0, 0, p.TrialDays).UTC()
}

// IsTrialActive reports whether a trial started at startedAt is still running
// at the given instant.
func (p Plan) IsTrialActive(startedAt, now time.Time) bool {
	return p.TrialDays > 0 && now.Before(p.TrialEndsAt(startedAt))
}

// Comparison contains the differences between two plans. Used to validate
// downgrades and communicate changes to tenants.
type Comparison struct {
	NewFeatures     []Feature
	LostFeatures    []Feature
	IncreasedLimits map[Metric]LimitChange
	DecreasedLimits map[Metric]LimitChange
}

// LimitChange represents a change in a metric ceiling.
type LimitChange struct {
	From int64
	To   int64
}

// HasDecreases returns true if any ceilings shrink when moving to the target.
func (c *Comparison) HasDecreases() bool {
	return len(c.DecreasedLimits) > 0 || len(c.LostFeatures) > 0
}

// Compare returns the differences between current and target plans.
func Compare(current, target *Plan) *Comparison {
	if current == nil || target == nil {
		return nil
	}

	cmp := &Comparison{
		NewFeatures:     make([]Feature, 0),
		LostFeatures:    make([]Feature, 0),
		IncreasedLimits: make(map[Metric]LimitChange),
		DecreasedLimits: make(map[Metric]LimitChange),
	}

	for _, f := range target.Features {
		if !current.HasFeature(f) {
			cmp.NewFeatures = append(cmp.NewFeatures, f)
		}
	}
	for _, f := range current.Features {
		if !target.HasFeature(f) {
			cmp.LostFeatures = append(cmp.LostFeatures, f)
		}
	}

	for metric, targetLimit := range target.Limits {
		currentLimit, exists := current.Limits[metric]
		if !exists {
			// Absent means unlimited, so introducing a ceiling is a decrease.
			if targetLimit != Unlimited {
				cmp.DecreasedLimits[metric] = LimitChange{From: Unlimited, To: targetLimit}
			}
			continue
		}
		if targetLimit == currentLimit {
			continue
		}

		change := LimitChange{From: currentLimit, To: targetLimit}
		switch {
		case currentLimit == Unlimited:
			cmp.DecreasedLimits[metric] = change
		case targetLimit == Unlimited:
			cmp.IncreasedLimits[metric] = change
		case targetLimit > currentLimit:
			cmp.IncreasedLimits[metric] = change
		default:
			cmp.DecreasedLimits[metric] = change
		}
	}

	for metric, currentLimit := range current.Limits {
		if _, exists := target.Limits[metric]; !exists && currentLimit != Unlimited {
			cmp.IncreasedLimits[metric] = LimitChange{From: currentLimit, To: Unlimited}
		}
	}

	return cmp
}
