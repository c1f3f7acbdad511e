package entitlement

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plugkit/entitlement/pkg/plan"
)

// FeatureOverride is a time-bounded tenant-specific feature exception. Its
// boolean wins verbatim over custom pricing and plan entitlements.
type FeatureOverride struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	PluginID  string
	Feature   plan.Feature
	Allowed   bool
	ValidFrom *time.Time
	ValidTo   *time.Time
}

// ActiveAt reports whether the override applies at the given time.
func (o FeatureOverride) ActiveAt(at time.Time) bool {
	return activeWindow(o.ValidFrom, o.ValidTo, at)
}

// UsageOverride is a time-bounded tenant-specific ceiling exception.
type UsageOverride struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	PluginID  string
	Metric    plan.Metric
	Limit     int64 // plan.Unlimited lifts the ceiling entirely
	ValidFrom *time.Time
	ValidTo   *time.Time
}

// ActiveAt reports whether the override applies at the given time.
func (o UsageOverride) ActiveAt(at time.Time) bool {
	return activeWindow(o.ValidFrom, o.ValidTo, at)
}

// CustomPricing is a negotiated, time-bounded replacement for the tenant's
// plan-level feature set and ceilings. It yields to explicit overrides.
type CustomPricing struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	PluginID  string
	Features  []plan.Feature
	Limits    map[plan.Metric]int64
	Price     plan.Money
	ValidFrom *time.Time
	ValidTo   *time.Time
}

// ActiveAt reports whether the agreement applies at the given time.
func (c CustomPricing) ActiveAt(at time.Time) bool {
	return activeWindow(c.ValidFrom, c.ValidTo, at)
}

// HasFeature reports whether the agreement grants a feature, honoring the
// plan.FeatureAll wildcard.
func (c CustomPricing) HasFeature(f plan.Feature) bool {
	for _, feature := range c.Features {
		if feature == plan.FeatureAll || feature == f {
			return true
		}
	}
	return false
}

func activeWindow(from, to *time.Time, at time.Time) bool {
	if from != nil && at.Before(*from) {
		return false
	}
	if to != nil && !at.Before(*to) {
		return false
	}
	return true
}

// OverrideSource supplies the tenant-specific exceptions consulted by the
// Resolver. Lookups return nil (not an error) when no exception is active at
// the given time.
type OverrideSource interface {
	FeatureOverride(ctx context.Context, tenantID uuid.UUID, pluginID string, feature plan.Feature, at time.Time) (*FeatureOverride, error)
	UsageOverride(ctx context.Context, tenantID uuid.UUID, pluginID string, metric plan.Metric, at time.Time) (*UsageOverride, error)
	CustomPricing(ctx context.Context, tenantID uuid.UUID, pluginID string, at time.Time) (*CustomPricing, error)
}

// MemoryOverrides is an in-memory OverrideSource for tests and static
// configuration.
type MemoryOverrides struct {
	mu       sync.RWMutex
	features []FeatureOverride
	usage    []UsageOverride
	pricing  []CustomPricing
}

// NewMemoryOverrides creates an empty in-memory override source.
func NewMemoryOverrides() *MemoryOverrides {
	return &MemoryOverrides{}
}

// AddFeatureOverride registers a feature exception.
func (s *MemoryOverrides) AddFeatureOverride(o FeatureOverride) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features = append(s.features, o)
}

// AddUsageOverride registers a ceiling exception.
func (s *MemoryOverrides) AddUsageOverride(o UsageOverride) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, o)
}

// AddCustomPricing registers a custom pricing agreement.
func (s *MemoryOverrides) AddCustomPricing(c CustomPricing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pricing = append(s.pricing, c)
}

func (s *MemoryOverrides) FeatureOverride(ctx context.Context, tenantID uuid.UUID, pluginID string, feature plan.Feature, at time.Time) (*FeatureOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.features {
		o := s.features[i]
		if o.TenantID == tenantID && o.PluginID == pluginID && o.Feature == feature && o.ActiveAt(at) {
			return &o, nil
		}
	}
	return nil, nil
}

func (s *MemoryOverrides) UsageOverride(ctx context.Context, tenantID uuid.UUID, pluginID string, metric plan.Metric, at time.Time) (*UsageOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.usage {
		o := s.usage[i]
		if o.TenantID == tenantID && o.PluginID == pluginID && o.Metric == metric && o.ActiveAt(at) {
			return &o, nil
		}
	}
	return nil, nil
}

func (s *MemoryOverrides) CustomPricing(ctx context.Context, tenantID uuid.UUID, pluginID string, at time.Time) (*CustomPricing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.pricing {
		c := s.pricing[i]
		if c.TenantID == tenantID && c.PluginID == pluginID && c.ActiveAt(at) {
			return &c, nil
		}
	}
	return nil, nil
}
