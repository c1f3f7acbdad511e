package subscription

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/plugkit/entitlement/pkg/logger"
	"github.com/plugkit/entitlement/pkg/plan"
	"github.com/plugkit/entitlement/pkg/usage"
)

// Installer is the external collaborator that materializes a plugin
// installation record when a subscription is created.
type Installer interface {
	UpsertInstallation(ctx context.Context, tenantID uuid.UUID, pluginID string) error
}

// Manager owns the subscription state machine. All subscription mutations go
// through it so every commercially meaningful transition leaves an atomic
// audit trail.
type Manager struct {
	store     Store
	catalog   *plan.Catalog
	meter     *usage.Meter
	installer Installer
	log       *slog.Logger
	now       func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithInstaller registers the plugin-installation collaborator invoked on
// subscription creation. Installation failures are logged, not surfaced.
func WithInstaller(installer Installer) ManagerOption {
	return func(m *Manager) { m.installer = installer }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithManagerClock overrides the wall clock, used by tests.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a Manager. Panics if required dependencies are nil to
// fail fast during initialization.
func NewManager(store Store, catalog *plan.Catalog, meter *usage.Meter, opts ...ManagerOption) *Manager {
	if store == nil {
		panic("subscription: Store is required")
	}
	if catalog == nil {
		panic("subscription: plan catalog is required")
	}
	if meter == nil {
		panic("subscription: usage meter is required")
	}
	m := &Manager{
		store:   store,
		catalog: catalog,
		meter:   meter,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateOptions carries optional attributes for subscription creation.
type CreateOptions struct {
	Initiator          string // admin user, "self_service", "system"
	Reason             string
	Source             string // event-log source tag, defaults to "lifecycle"
	AutoRenew          bool
	ProviderSubID      string
	ProviderCustomerID string
	Metadata           map[string]string
}

// Create starts a new subscription for the tenant. The subscription begins
// trialing when the plan has trial days, active otherwise. Counters for the
// new metering period are seeded and a created change/event pair is written.
func (m *Manager) Create(ctx context.Context, tenantID uuid.UUID, pluginID, planID string, opts CreateOptions) (*Subscription, error) {
	p, err := m.catalog.Plan(planID)
	if err != nil {
		return nil, err
	}
	if p.PluginID != pluginID {
		return nil, ErrPlanMismatch
	}

	// The storage schema also carries a partial unique index, but the
	// invariant is enforced here explicitly so stores without one stay safe.
	if _, err := m.store.FindCurrent(ctx, tenantID, pluginID); err == nil {
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := m.now().UTC()
	sub := &Subscription{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		PluginID:           pluginID,
		PlanID:             planID,
		Status:             StatusActive,
		Cycle:              p.Cycle,
		CurrentPeriodStart: now,
		Amount:             p.Price,
		AutoRenew:          opts.AutoRenew,
		ProviderSubID:      opts.ProviderSubID,
		ProviderCustomerID: opts.ProviderCustomerID,
		Metadata:           maps.Clone(opts.Metadata),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if p.IsFree() {
		// The zero-cost tier renews monthly regardless of the plan's cycle.
		sub.CurrentPeriodEnd = now.AddDate(0, 1, 0)
	} else {
		sub.CurrentPeriodEnd = p.Cycle.PeriodEnd(now)
	}

	if p.TrialDays > 0 {
		trialEnd := p.TrialEndsAt(now)
		sub.Status = StatusTrialing
		sub.TrialStart = &now
		sub.TrialEnd = &trialEnd
	}

	audit := Audit{
		Change: m.newChange(sub, ChangeCreated, "", planID, 0, p.Price.Amount, now, opts.Reason, opts.Initiator),
		Event:  m.newEvent(sub.ID, "subscription.created", opts.Source),
	}
	if err := m.store.Create(ctx, sub, audit); err != nil {
		return nil, err
	}

	m.seedCounters(ctx, sub)

	if m.installer != nil {
		if err := m.installer.UpsertInstallation(ctx, tenantID, pluginID); err != nil {
			m.log.WarnContext(ctx, "failed to upsert plugin installation",
				logger.TenantID(tenantID),
				logger.PluginID(pluginID),
				logger.Error(err))
		}
	}

	return sub, nil
}

// Patch is a partial subscription update. Nil fields are left unchanged.
type Patch struct {
	PlanID             *string
	Status             *Status
	Amount             *plan.Money
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  *bool
	AutoRenew          *bool
	ResumeAt           *time.Time
	ProviderSubID      *string
	Metadata           map[string]string
	Reason             string
	Initiator          string
}

// Update applies a generic field patch. A change/event pair is written only
// when the patch cancels the subscription or moves it between plans; pure
// bookkeeping updates keep the audit trail free of webhook noise.
func (m *Manager) Update(ctx context.Context, id uuid.UUID, patch Patch) (*Subscription, error) {
	sub, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	oldStatus := sub.Status
	oldPlanID := sub.PlanID
	oldAmount := sub.Amount.Amount
	now := m.now().UTC()

	if patch.Status != nil && *patch.Status != sub.Status {
		if !CanTransition(sub.Status, *patch.Status) {
			return nil, ErrInvalidTransition
		}
		sub.Status = *patch.Status
	}
	if patch.PlanID != nil && *patch.PlanID != sub.PlanID {
		p, err := m.catalog.Plan(*patch.PlanID)
		if err != nil {
			return nil, err
		}
		if p.PluginID != sub.PluginID {
			return nil, ErrPlanMismatch
		}
		sub.PlanID = *patch.PlanID
		sub.Cycle = p.Cycle
	}
	if patch.Amount != nil {
		sub.Amount = *patch.Amount
	}
	if patch.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = patch.CurrentPeriodStart.UTC()
	}
	if patch.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = patch.CurrentPeriodEnd.UTC()
	}
	if patch.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *patch.CancelAtPeriodEnd
	}
	if patch.AutoRenew != nil {
		sub.AutoRenew = *patch.AutoRenew
	}
	if patch.ResumeAt != nil {
		resumeAt := patch.ResumeAt.UTC()
		sub.ResumeAt = &resumeAt
	}
	if len(patch.Metadata) > 0 {
		if sub.Metadata == nil {
			sub.Metadata = make(map[string]string, len(patch.Metadata))
		}
		maps.Copy(sub.Metadata, patch.Metadata)
	}
	sub.UpdatedAt = now

	var audit Audit
	switch {
	case oldStatus != StatusCanceled && sub.Status == StatusCanceled:
		sub.CanceledAt = &now
		audit = Audit{
			Change: m.newChange(sub, ChangeCanceled, oldPlanID, sub.PlanID, oldAmount, sub.Amount.Amount, now, patch.Reason, patch.Initiator),
			Event:  m.newEvent(sub.ID, "subscription.canceled", ""),
		}
	case sub.PlanID != oldPlanID:
		kind := ChangeUpdated
		if sub.Amount.Amount > oldAmount {
			kind = ChangeUpgraded
		} else if sub.Amount.Amount < oldAmount {
			kind = ChangeDowngraded
		}
		audit = Audit{
			Change: m.newChange(sub, kind, oldPlanID, sub.PlanID, oldAmount, sub.Amount.Amount, now, patch.Reason, patch.Initiator),
			Event:  m.newEvent(sub.ID, "subscription.updated", ""),
		}
	}

	if err := m.store.Update(ctx, sub, audit); err != nil {
		return nil, err
	}
	return sub, nil
}

// Cancel terminates the subscription. With atPeriodEnd the status is left
// untouched and only the flag is set; the actual flip to canceled is driven
// by an external trigger at period end. Without it the subscription is
// canceled immediately.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID, atPeriodEnd bool, reason string) (*Subscription, error) {
	sub, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == StatusCanceled {
		return nil, ErrAlreadyCanceled
	}

	now := m.now().UTC()
	effective := now
	if atPeriodEnd {
		sub.CancelAtPeriodEnd = true
		effective = sub.CurrentPeriodEnd
	} else {
		sub.Status = StatusCanceled
		sub.CanceledAt = &now
	}
	sub.UpdatedAt = now

	audit := Audit{
		Change: m.newChange(sub, ChangeCanceled, sub.PlanID, sub.PlanID, sub.Amount.Amount, sub.Amount.Amount, effective, reason, ""),
		Event:  m.newEvent(sub.ID, "subscription.canceled", ""),
	}
	if err := m.store.Update(ctx, sub, audit); err != nil {
		return nil, err
	}
	return sub, nil
}

// Pause suspends an active subscription, optionally until resumeAt.
func (m *Manager) Pause(ctx context.Context, id uuid.UUID, resumeAt *time.Time) (*Subscription, error) {
	sub, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusActive {
		return nil, ErrInvalidTransition
	}

	now := m.now().UTC()
	sub.PausedAt = &now
	if resumeAt != nil {
		at := resumeAt.UTC()
		sub.ResumeAt = &at
	}
	sub.UpdatedAt = now

	audit := Audit{Event: m.newEvent(sub.ID, "subscription.paused", "")}
	if err := m.store.Update(ctx, sub, audit); err != nil {
		return nil, err
	}
	return sub, nil
}

// Resume lifts a pause.
func (m *Manager) Resume(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	sub, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.PausedAt == nil {
		return nil, ErrNotPaused
	}

	sub.PausedAt = nil
	sub.ResumeAt = nil
	sub.UpdatedAt = m.now().UTC()

	audit := Audit{Event: m.newEvent(sub.ID, "subscription.resumed", "")}
	if err := m.store.Update(ctx, sub, audit); err != nil {
		return nil, err
	}
	return sub, nil
}

// ScheduleDowngrade books a move to a strictly lower tier at period end.
// Status and plan stay unchanged until then; only cancelAtPeriodEnd is set,
// and the downgrade is recorded with its future effective date. The current
// usage must already fit the target plan's ceilings.
func (m *Manager) ScheduleDowngrade(ctx context.Context, id uuid.UUID, targetPlanID, reason string) (*Subscription, error) {
	sub, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == StatusCanceled {
		return nil, ErrAlreadyCanceled
	}

	current, err := m.catalog.Plan(sub.PlanID)
	if err != nil {
		return nil, err
	}
	target, err := m.catalog.Plan(targetPlanID)
	if err != nil {
		return nil, err
	}
	if target.PluginID != sub.PluginID {
		return nil, ErrPlanMismatch
	}
	if target.Tier >= current.Tier {
		return nil, ErrInvalidDowngrade
	}

	if err := m.checkUsageFits(ctx, sub, &current, &target); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	sub.CancelAtPeriodEnd = true
	sub.UpdatedAt = now

	audit := Audit{
		Change: m.newChange(sub, ChangeDowngraded, current.ID, target.ID, current.Price.Amount, target.Price.Amount, sub.CurrentPeriodEnd, reason, ""),
		Event:  m.newEvent(sub.ID, "subscription.downgrade_scheduled", ""),
	}
	if err := m.store.Update(ctx, sub, audit); err != nil {
		return nil, err
	}
	return sub, nil
}

// CancelDowngrade reverses a scheduled downgrade before the period ends,
// clearing the flag and removing the still-pending downgrade change row.
func (m *Manager) CancelDowngrade(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	sub, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sub.CancelAtPeriodEnd {
		return nil, ErrNoPendingChange
	}

	now := m.now().UTC()
	if sub.CurrentPeriodEnd.Before(now) {
		return nil, ErrPeriodEnded
	}

	if err := m.store.DeletePendingChange(ctx, sub.ID, ChangeDowngraded); err != nil {
		return nil, err
	}

	sub.CancelAtPeriodEnd = false
	sub.UpdatedAt = now

	audit := Audit{
		Change: m.newChange(sub, ChangeDowngradeCanceled, sub.PlanID, sub.PlanID, sub.Amount.Amount, sub.Amount.Amount, now, "", ""),
		Event:  m.newEvent(sub.ID, "subscription.downgrade_canceled", ""),
	}
	if err := m.store.Update(ctx, sub, audit); err != nil {
		return nil, err
	}
	return sub, nil
}

// checkUsageFits rejects a downgrade when current-period usage already
// exceeds any ceiling that shrinks in the target plan.
func (m *Manager) checkUsageFits(ctx context.Context, sub *Subscription, current, target *plan.Plan) error {
	cmp := plan.Compare(current, target)
	if cmp == nil || len(cmp.DecreasedLimits) == 0 {
		return nil
	}

	periodKey := usage.PeriodKey(sub.ID, sub.CurrentPeriodStart, sub.PeriodFree())
	for metric, change := range cmp.DecreasedLimits {
		if change.To == plan.Unlimited {
			continue
		}
		used, err := m.meter.Read(ctx, sub.TenantID, sub.PluginID, metric, periodKey)
		if err != nil {
			return err
		}
		if used > change.To {
			return errors.Join(ErrInvalidDowngrade, ErrUsageTooHigh)
		}
	}
	return nil
}

func (m *Manager) seedCounters(ctx context.Context, sub *Subscription) {
	periodKey := usage.PeriodKey(sub.ID, sub.CurrentPeriodStart, sub.PeriodFree())
	err := m.meter.EnsurePeriod(ctx, sub.TenantID, sub.PluginID, periodKey, m.catalog.Metrics(sub.PluginID))
	if err != nil {
		m.log.WarnContext(ctx, "failed to seed usage counters",
			logger.SubscriptionID(sub.ID),
			slog.String("period", periodKey),
			logger.Error(err))
	}
}

func (m *Manager) newChange(sub *Subscription, kind ChangeKind, fromPlan, toPlan string, fromAmount, toAmount int64, effectiveAt time.Time, reason, initiator string) *Change {
	return &Change{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Kind:           kind,
		FromPlanID:     fromPlan,
		ToPlanID:       toPlan,
		FromAmount:     fromAmount,
		ToAmount:       toAmount,
		Currency:       sub.Amount.Currency,
		EffectiveAt:    effectiveAt,
		Reason:         reason,
		Initiator:      initiator,
		CreatedAt:      m.now().UTC(),
	}
}

func (m *Manager) newEvent(subscriptionID uuid.UUID, eventType, source string) *Event {
	if source == "" {
		source = "lifecycle"
	}
	return &Event{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		Type:           eventType,
		Source:         source,
		Status:         EventProcessed,
		CreatedAt:      m.now().UTC(),
	}
}
