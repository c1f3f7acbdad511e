package plan

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Source defines how plans are loaded into the catalog.
type Source interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

// Catalog holds the validated, immutable plan configuration for every plugin.
// The maps are never mutated after construction, so a single Catalog is safe
// to share across concurrent callers.
type Catalog struct {
	plans   map[string]Plan
	byPlug  map[string][]Plan
	metrics map[string][]Metric
}

// NewCatalog loads and validates plans from the source. It fails fast on
// configuration errors so a misconfigured plugin prevents startup rather than
// producing wrong entitlement decisions at runtime.
func NewCatalog(ctx context.Context, src Source) (*Catalog, error) {
	if src == nil {
		panic("plan: Source is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	if err := validate(plans); err != nil {
		return nil, err
	}

	c := &Catalog{
		plans:   plans,
		byPlug:  make(map[string][]Plan),
		metrics: make(map[string][]Metric),
	}

	for _, p := range plans {
		c.byPlug[p.PluginID] = append(c.byPlug[p.PluginID], p)
	}
	for pluginID, list := range c.byPlug {
		slices.SortFunc(list, func(a, b Plan) int { return a.Tier - b.Tier })

		// The metric set to seed for a new period is the union of every
		// capped metric across the plugin's plans.
		var metrics []Metric
		for _, p := range list {
			for m := range p.Limits {
				if !slices.Contains(metrics, m) {
					metrics = append(metrics, m)
				}
			}
		}
		slices.Sort(metrics)
		c.metrics[pluginID] = metrics
	}

	return c, nil
}

// Plan returns the plan with the given ID.
func (c *Catalog) Plan(planID string) (Plan, error) {
	p, ok := c.plans[planID]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p, nil
}

// PluginPlans returns the plugin's plans ordered by tier, lowest first.
func (c *Catalog) PluginPlans(pluginID string) []Plan {
	return c.byPlug[pluginID]
}

// HasPlans reports whether the plugin has any plan configured. Plugins
// without plans are unmetered: every entitlement check passes.
func (c *Catalog) HasPlans(pluginID string) bool {
	return len(c.byPlug[pluginID]) > 0
}

// Metrics returns the configured metric names for a plugin, sorted.
func (c *Catalog) Metrics(pluginID string) []Metric {
	return c.metrics[pluginID]
}

// validate ensures plan configurations are internally consistent.
func validate(plans map[string]Plan) error {
	for planID, p := range plans {
		if p.ID != planID {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan ID mismatch: map key %s != plan.ID %s", planID, p.ID))
		}
		if p.PluginID == "" {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has no plugin ID", planID))
		}
		if p.TrialDays < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative trial days: %d", planID, p.TrialDays))
		}
		if p.Price.Amount < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative price: %d", planID, p.Price.Amount))
		}
		if !p.Price.IsZero() && p.Price.Currency == "" {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has a price without currency", planID))
		}
	}
	return nil
}
