package entitlement

import (
	"context"
	"time"

	"github.com/plugkit/entitlement/pkg/plan"
	"github.com/plugkit/entitlement/pkg/subscription"
	"github.com/plugkit/entitlement/pkg/usage"
)

// Resolver walks the override hierarchy to compute effective entitlements:
// tenant feature/usage overrides first, then tenant custom pricing, then the
// assigned plan. It is stateless and safe to share.
type Resolver struct {
	catalog   *plan.Catalog
	overrides OverrideSource
	meter     *usage.Meter
	now       func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverClock overrides the wall clock, used by tests.
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver creates a Resolver. Panics if required dependencies are nil to
// fail fast during initialization.
func NewResolver(catalog *plan.Catalog, overrides OverrideSource, meter *usage.Meter, opts ...ResolverOption) *Resolver {
	if catalog == nil {
		panic("entitlement: plan catalog is required")
	}
	if overrides == nil {
		panic("entitlement: override source is required")
	}
	if meter == nil {
		panic("entitlement: usage meter is required")
	}
	r := &Resolver{
		catalog:   catalog,
		overrides: overrides,
		meter:     meter,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FeatureDecision is the resolved allow/deny for one feature.
type FeatureDecision struct {
	Allowed bool
	Mode    Mode
	Source  DecisionSource
	Reason  Reason
}

// ResolveFeature resolves a feature for the subscription's tenant. Resolution
// order: active feature override (its boolean wins verbatim), active custom
// pricing (feature set with wildcard), then the plan's feature set.
func (r *Resolver) ResolveFeature(ctx context.Context, sub *subscription.Subscription, feature plan.Feature) (FeatureDecision, error) {
	now := r.now().UTC()

	override, err := r.overrides.FeatureOverride(ctx, sub.TenantID, sub.PluginID, feature, now)
	if err != nil {
		return FeatureDecision{}, err
	}
	if override != nil {
		d := FeatureDecision{Allowed: override.Allowed, Mode: ModeCommercial, Source: SourceOverride}
		if !d.Allowed {
			d.Reason = ReasonLicenseDenied
		}
		return d, nil
	}

	pricing, err := r.overrides.CustomPricing(ctx, sub.TenantID, sub.PluginID, now)
	if err != nil {
		return FeatureDecision{}, err
	}
	if pricing != nil {
		d := FeatureDecision{Allowed: pricing.HasFeature(feature), Mode: ModeCommercial, Source: SourceCustomPricing}
		if !d.Allowed {
			d.Reason = ReasonLicenseDenied
		}
		return d, nil
	}

	p, err := r.catalog.Plan(sub.PlanID)
	if err != nil {
		return FeatureDecision{}, err
	}
	d := FeatureDecision{Allowed: p.HasFeature(feature), Mode: ModeStandard, Source: SourcePlan}
	if !d.Allowed {
		d.Reason = ReasonFeatureNotInPlan
	}
	return d, nil
}

// LimitDecision is the resolved ceiling state for one metric.
type LimitDecision struct {
	Allowed    bool
	Unlimited  bool
	Current    int64
	Limit      int64
	Percentage int
	Mode       Mode
	Source     DecisionSource
	Reason     Reason
}

// ResolveUsageLimit resolves the effective ceiling for a metric with the same
// three-tier precedence as features. A ceiling of plan.Unlimited or an absent
// metric skips the meter read entirely.
func (r *Resolver) ResolveUsageLimit(ctx context.Context, sub *subscription.Subscription, metric plan.Metric) (LimitDecision, error) {
	now := r.now().UTC()

	limit, mode, source, err := r.effectiveLimit(ctx, sub, metric, now)
	if err != nil {
		return LimitDecision{}, err
	}

	if limit == plan.Unlimited {
		return LimitDecision{Allowed: true, Unlimited: true, Limit: plan.Unlimited, Mode: mode, Source: source}, nil
	}

	periodKey := usage.PeriodKey(sub.ID, sub.CurrentPeriodStart, sub.PeriodFree())
	current, err := r.meter.Read(ctx, sub.TenantID, sub.PluginID, metric, periodKey)
	if err != nil {
		return LimitDecision{}, err
	}

	d := LimitDecision{
		Allowed:    current < limit,
		Current:    current,
		Limit:      limit,
		Percentage: usagePercentage(current, limit),
		Mode:       mode,
		Source:     source,
	}
	if !d.Allowed {
		d.Reason = ReasonLimitExceeded
	}
	return d, nil
}

func (r *Resolver) effectiveLimit(ctx context.Context, sub *subscription.Subscription, metric plan.Metric, now time.Time) (int64, Mode, DecisionSource, error) {
	override, err := r.overrides.UsageOverride(ctx, sub.TenantID, sub.PluginID, metric, now)
	if err != nil {
		return 0, "", "", err
	}
	if override != nil {
		return override.Limit, ModeCommercial, SourceOverride, nil
	}

	pricing, err := r.overrides.CustomPricing(ctx, sub.TenantID, sub.PluginID, now)
	if err != nil {
		return 0, "", "", err
	}
	if pricing != nil {
		if limit, ok := pricing.Limits[metric]; ok {
			return limit, ModeCommercial, SourceCustomPricing, nil
		}
		// Custom pricing without a ceiling for this metric lifts it.
		return plan.Unlimited, ModeCommercial, SourceCustomPricing, nil
	}

	p, err := r.catalog.Plan(sub.PlanID)
	if err != nil {
		return 0, "", "", err
	}
	limit, ok := p.Limit(metric)
	if !ok {
		return plan.Unlimited, ModeStandard, SourcePlan, nil
	}
	return limit, ModeStandard, SourcePlan, nil
}

func usagePercentage(current, limit int64) int {
	if limit == plan.Unlimited {
		return -1
	}
	if limit == 0 {
		return 100
	}
	return min(int((current*100)/limit), 100)
}
