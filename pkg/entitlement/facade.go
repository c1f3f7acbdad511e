package entitlement

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/plugkit/entitlement/pkg/logger"
	"github.com/plugkit/entitlement/pkg/plan"
	"github.com/plugkit/entitlement/pkg/subscription"
	"github.com/plugkit/entitlement/pkg/usage"
)

// Service is the entitlement facade consumed by the web/API layer and by
// feature plugins. Every check first reconciles the subscription against the
// clock (lazy rollover), then resolves the effective entitlement.
type Service struct {
	catalog  *plan.Catalog
	store    subscription.Store
	renewal  *subscription.Coordinator
	resolver *Resolver
	meter    *usage.Meter
	rec      *recorder
	log      *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceConfig)

type serviceConfig struct {
	log             *slog.Logger
	recorderBuffer  int
	recorderWorkers int
}

// WithServiceLogger sets the logger.
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(c *serviceConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRecorderBuffer sets the usage-recording queue capacity.
func WithRecorderBuffer(n int) ServiceOption {
	return func(c *serviceConfig) { c.recorderBuffer = n }
}

// WithRecorderWorkers sets the number of background recording workers.
func WithRecorderWorkers(n int) ServiceOption {
	return func(c *serviceConfig) { c.recorderWorkers = n }
}

// NewService creates the facade and starts its background usage recorder.
// Panics if required dependencies are nil to fail fast during initialization.
// Call Close to stop the recorder.
func NewService(catalog *plan.Catalog, store subscription.Store, renewal *subscription.Coordinator, resolver *Resolver, meter *usage.Meter, opts ...ServiceOption) *Service {
	if catalog == nil {
		panic("entitlement: plan catalog is required")
	}
	if store == nil {
		panic("entitlement: subscription store is required")
	}
	if renewal == nil {
		panic("entitlement: renewal coordinator is required")
	}
	if resolver == nil {
		panic("entitlement: resolver is required")
	}
	if meter == nil {
		panic("entitlement: usage meter is required")
	}

	cfg := &serviceConfig{log: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Service{
		catalog:  catalog,
		store:    store,
		renewal:  renewal,
		resolver: resolver,
		meter:    meter,
		log:      cfg.log,
	}
	s.rec = newRecorder(cfg.recorderBuffer, cfg.recorderWorkers, s.record, cfg.log)
	return s
}

// Close stops the background recorder.
func (s *Service) Close() {
	s.rec.close()
}

// CheckLicense reports whether the tenant may use a plugin feature. Pass an
// empty feature to check plugin access as a whole. Denials are results, not
// errors; only transient store failures return an error.
func (s *Service) CheckLicense(ctx context.Context, tenantID uuid.UUID, pluginID string, feature plan.Feature) (LicenseResult, error) {
	// Unmetered plugins short-circuit before any subscription or override
	// lookup.
	if !s.catalog.HasPlans(pluginID) {
		return LicenseResult{Valid: true, Mode: ModeFree}, nil
	}

	sub, err := s.renewal.Reconcile(ctx, tenantID, pluginID)
	if errors.Is(err, subscription.ErrNotFound) {
		reason, err := s.missingReason(ctx, tenantID, pluginID)
		if err != nil {
			return LicenseResult{}, err
		}
		return LicenseResult{
			Valid:       false,
			Reason:      reason,
			Mode:        ModeStandard,
			UpgradeHint: s.upgradeHint(pluginID),
		}, nil
	}
	if err != nil {
		return LicenseResult{}, err
	}

	if feature == "" {
		return LicenseResult{Valid: true, Mode: ModeStandard, Source: SourcePlan}, nil
	}

	d, err := s.resolver.ResolveFeature(ctx, sub, feature)
	if err != nil {
		return LicenseResult{}, err
	}
	res := LicenseResult{Valid: d.Allowed, Reason: d.Reason, Mode: d.Mode, Source: d.Source}
	if !res.Valid && d.Mode == ModeStandard {
		res.UpgradeHint = s.upgradeHint(pluginID)
	}
	return res, nil
}

// CheckUsageLimit reports whether the tenant may consume one more unit of a
// capped metric.
func (s *Service) CheckUsageLimit(ctx context.Context, tenantID uuid.UUID, pluginID string, metric plan.Metric) (LimitResult, error) {
	if !s.catalog.HasPlans(pluginID) {
		return LimitResult{Allowed: true, Unlimited: true, Limit: plan.Unlimited, Mode: ModeFree}, nil
	}

	sub, err := s.renewal.Reconcile(ctx, tenantID, pluginID)
	if errors.Is(err, subscription.ErrNotFound) {
		reason, err := s.missingReason(ctx, tenantID, pluginID)
		if err != nil {
			return LimitResult{}, err
		}
		return LimitResult{Allowed: false, Reason: reason, Mode: ModeStandard}, nil
	}
	if err != nil {
		return LimitResult{}, err
	}

	if err := s.ensurePeriod(ctx, sub); err != nil {
		return LimitResult{}, err
	}

	d, err := s.resolver.ResolveUsageLimit(ctx, sub, metric)
	if err != nil {
		return LimitResult{}, err
	}
	return LimitResult{
		Allowed:    d.Allowed,
		Unlimited:  d.Unlimited,
		Current:    d.Current,
		Limit:      d.Limit,
		Percentage: d.Percentage,
		Mode:       d.Mode,
		Source:     d.Source,
		Reason:     d.Reason,
	}, nil
}

// RecordUsage registers consumption of a metric. It is fire-and-forget: the
// increment runs detached from the calling request, submission never blocks,
// and failures are logged, not surfaced. A non-positive amount counts as 1.
func (s *Service) RecordUsage(tenantID uuid.UUID, pluginID string, metric plan.Metric, amount int64) {
	if amount <= 0 {
		amount = 1
	}
	task := recordTask{TenantID: tenantID, PluginID: pluginID, Metric: metric, Amount: amount}
	if !s.rec.submit(task) {
		s.log.Warn("usage recording buffer full, dropping increment",
			logger.TenantID(tenantID),
			logger.PluginID(pluginID),
			logger.Metric(string(metric)))
	}
}

// CheckSubscriptionAccess checks subscription status rather than plan-feature
// membership. A past_due subscription keeps access with a PAYMENT_OVERDUE
// warning for the grace period; a canceled one is denied with
// SUBSCRIPTION_CANCELED.
func (s *Service) CheckSubscriptionAccess(ctx context.Context, tenantID uuid.UUID, pluginID string, feature plan.Feature) (AccessResult, error) {
	if !s.catalog.HasPlans(pluginID) {
		return AccessResult{Allowed: true}, nil
	}

	sub, err := s.renewal.Reconcile(ctx, tenantID, pluginID)
	if errors.Is(err, subscription.ErrNotFound) {
		reason, err := s.missingReason(ctx, tenantID, pluginID)
		if err != nil {
			return AccessResult{}, err
		}
		return AccessResult{Allowed: false, Reason: reason}, nil
	}
	if err != nil {
		return AccessResult{}, err
	}

	res := AccessResult{Allowed: true, Subscription: sub}
	if sub.Status == subscription.StatusPastDue {
		res.Warning = ReasonPaymentOverdue
	}

	if feature != "" {
		d, err := s.resolver.ResolveFeature(ctx, sub, feature)
		if err != nil {
			return AccessResult{}, err
		}
		if !d.Allowed {
			res.Allowed = false
			res.Reason = d.Reason
		}
	}
	return res, nil
}

// AllUsage returns the resolved ceiling state for every configured metric of
// the plugin, for dashboards and admin views.
func (s *Service) AllUsage(ctx context.Context, tenantID uuid.UUID, pluginID string) (map[plan.Metric]LimitResult, error) {
	metrics := s.catalog.Metrics(pluginID)
	result := make(map[plan.Metric]LimitResult, len(metrics))
	for _, metric := range metrics {
		lr, err := s.CheckUsageLimit(ctx, tenantID, pluginID, metric)
		if err != nil {
			return nil, err
		}
		result[metric] = lr
	}
	return result, nil
}

// record is the detached recording path: re-run lazy rollover, re-resolve the
// current period, perform one atomic increment.
func (s *Service) record(ctx context.Context, task recordTask) error {
	sub, err := s.renewal.Reconcile(ctx, task.TenantID, task.PluginID)
	if err != nil {
		return err
	}
	periodKey := usage.PeriodKey(sub.ID, sub.CurrentPeriodStart, sub.PeriodFree())
	if err := s.meter.EnsurePeriod(ctx, task.TenantID, task.PluginID, periodKey, s.catalog.Metrics(task.PluginID)); err != nil {
		return err
	}
	return s.meter.Increment(ctx, task.TenantID, task.PluginID, task.Metric, periodKey, task.Amount)
}

func (s *Service) ensurePeriod(ctx context.Context, sub *subscription.Subscription) error {
	periodKey := usage.PeriodKey(sub.ID, sub.CurrentPeriodStart, sub.PeriodFree())
	return s.meter.EnsurePeriod(ctx, sub.TenantID, sub.PluginID, periodKey, s.catalog.Metrics(sub.PluginID))
}

// missingReason distinguishes a tenant that never subscribed from one whose
// subscription was canceled.
func (s *Service) missingReason(ctx context.Context, tenantID uuid.UUID, pluginID string) (Reason, error) {
	latest, err := s.store.FindLatest(ctx, tenantID, pluginID)
	if errors.Is(err, subscription.ErrNotFound) {
		return ReasonSubscriptionRequired, nil
	}
	if err != nil {
		return "", err
	}
	if latest.IsCanceled() {
		return ReasonSubscriptionCanceled, nil
	}
	return ReasonSubscriptionRequired, nil
}

// upgradeHint suggests the lowest public paid tier of the plugin.
func (s *Service) upgradeHint(pluginID string) string {
	for _, p := range s.catalog.PluginPlans(pluginID) {
		if p.Public && !p.IsFree() {
			return p.ID
		}
	}
	return ""
}
