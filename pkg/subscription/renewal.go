package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/plugkit/entitlement/pkg/logger"
	"github.com/plugkit/entitlement/pkg/plan"
	"github.com/plugkit/entitlement/pkg/usage"
)

// LazyRenewalReason marks cancellation changes produced by rollover so they
// are distinguishable from tenant-initiated cancellations.
const LazyRenewalReason = "renewed via lazy rollover"

// Coordinator reconciles subscriptions against the clock at read time instead
// of running a scheduled job.
type Coordinator struct {
	store   Store
	catalog *plan.Catalog
	meter   *usage.Meter
	log     *slog.Logger
	now     func() time.Time
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(log *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithCoordinatorClock overrides the wall clock, used by tests.
func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator creates a Coordinator. Panics if required dependencies are
// nil to fail fast during initialization.
func NewCoordinator(store Store, catalog *plan.Catalog, meter *usage.Meter, opts ...CoordinatorOption) *Coordinator {
	if store == nil {
		panic("subscription: Store is required")
	}
	if catalog == nil {
		panic("subscription: plan catalog is required")
	}
	if meter == nil {
		panic("subscription: usage meter is required")
	}
	c := &Coordinator{
		store:   store,
		catalog: catalog,
		meter:   meter,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reconcile returns the tenant's current subscription for the plugin after
// applying lazy rollover. A lapsed zero-cost subscription is canceled and
// replaced by a fresh instance starting now, unless the tenant scheduled a
// cancellation at period end, in which case the lapse finalizes it and no
// successor is created. A lapsed paid subscription is returned unchanged with
// a logged warning, since its renewal must be confirmed by the billing
// provider. Returns ErrNotFound when the tenant has no current subscription.
func (c *Coordinator) Reconcile(ctx context.Context, tenantID uuid.UUID, pluginID string) (*Subscription, error) {
	sub, err := c.store.FindCurrent(ctx, tenantID, pluginID)
	if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	if !sub.IsLapsed(now) {
		return sub, nil
	}

	p, err := c.catalog.Plan(sub.PlanID)
	if err != nil {
		return nil, err
	}

	if !p.IsFree() {
		c.log.WarnContext(ctx, "paid subscription lapsed, awaiting billing confirmation",
			logger.SubscriptionID(sub.ID),
			logger.TenantID(tenantID),
			logger.PluginID(pluginID),
			slog.Time("period_end", sub.CurrentPeriodEnd))
		return sub, nil
	}

	if sub.CancelAtPeriodEnd {
		if err := c.finalizeCancellation(ctx, sub, now); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	return c.renewFree(ctx, sub, p, now)
}

// finalizeCancellation flips a lapsed cancel-at-period-end subscription into
// its terminal state instead of rolling it over. The tenant's ChangeCanceled
// row was already written when the cancellation was requested, so only the
// status flip and an event are recorded here.
func (c *Coordinator) finalizeCancellation(ctx context.Context, sub *Subscription, now time.Time) error {
	sub.Status = StatusCanceled
	sub.CanceledAt = &now
	sub.UpdatedAt = now

	audit := Audit{Event: &Event{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Type:           "subscription.canceled",
		Source:         "renewal",
		Status:         EventProcessed,
		CreatedAt:      now,
	}}
	if err := c.store.Update(ctx, sub, audit); err != nil {
		return err
	}

	c.log.InfoContext(ctx, "finalized cancellation at period end",
		logger.SubscriptionID(sub.ID),
		logger.TenantID(sub.TenantID),
		logger.PluginID(sub.PluginID))
	return nil
}

// renewFree cancels the lapsed zero-cost instance and creates its successor
// in one atomic commit, linking the two via metadata.
func (c *Coordinator) renewFree(ctx context.Context, old *Subscription, p plan.Plan, now time.Time) (*Subscription, error) {
	successor := &Subscription{
		ID:                 uuid.New(),
		TenantID:           old.TenantID,
		PluginID:           old.PluginID,
		PlanID:             old.PlanID,
		Status:             StatusActive,
		Cycle:              old.Cycle,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		Amount:             p.Price,
		AutoRenew:          old.AutoRenew,
		Metadata:           map[string]string{MetadataPredecessorID: old.ID.String()},
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	old.Status = StatusCanceled
	old.CanceledAt = &now
	old.UpdatedAt = now

	cancellation := Audit{
		Change: &Change{
			ID:             uuid.New(),
			SubscriptionID: old.ID,
			Kind:           ChangeCanceled,
			FromPlanID:     old.PlanID,
			ToPlanID:       old.PlanID,
			EffectiveAt:    now,
			Reason:         LazyRenewalReason,
			Initiator:      "system",
			CreatedAt:      now,
		},
	}
	creation := Audit{
		Change: &Change{
			ID:             uuid.New(),
			SubscriptionID: successor.ID,
			Kind:           ChangeCreated,
			ToPlanID:       successor.PlanID,
			EffectiveAt:    now,
			Reason:         LazyRenewalReason,
			Initiator:      "system",
			CreatedAt:      now,
		},
	}
	renewal := Audit{
		Change: &Change{
			ID:             uuid.New(),
			SubscriptionID: successor.ID,
			Kind:           ChangeRenewed,
			FromPlanID:     old.PlanID,
			ToPlanID:       successor.PlanID,
			EffectiveAt:    now,
			Reason:         LazyRenewalReason,
			Initiator:      "system",
			CreatedAt:      now,
		},
		Event: &Event{
			ID:             uuid.New(),
			SubscriptionID: successor.ID,
			Type:           "subscription.renewed",
			Source:         "renewal",
			Status:         EventProcessed,
			CreatedAt:      now,
		},
	}

	if err := c.store.Replace(ctx, old, successor, cancellation, creation, renewal); err != nil {
		return nil, err
	}

	periodKey := usage.PeriodKey(successor.ID, successor.CurrentPeriodStart, true)
	if err := c.meter.EnsurePeriod(ctx, successor.TenantID, successor.PluginID, periodKey, c.catalog.Metrics(successor.PluginID)); err != nil {
		c.log.WarnContext(ctx, "failed to seed counters after lazy renewal",
			logger.SubscriptionID(successor.ID),
			logger.Error(err))
	}

	c.log.InfoContext(ctx, "lazily renewed zero-cost subscription",
		slog.String("old_subscription_id", old.ID.String()),
		slog.String("new_subscription_id", successor.ID.String()),
		logger.TenantID(successor.TenantID),
		logger.PluginID(successor.PluginID))

	return successor, nil
}
