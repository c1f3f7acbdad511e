package subscription

import (
	"time"

	"github.com/google/uuid"

	"github.com/plugkit/entitlement/pkg/plan"
)

// MetadataPredecessorID links a lazily-renewed subscription to the instance
// it replaced.
const MetadataPredecessorID = "predecessor_id"

// Subscription represents a tenant's subscription to one plugin plan. At most
// one subscription per (tenant, plugin) pair may be current (trialing, active
// or past_due) at a time; the Manager enforces this at creation and the
// storage schema backs it with a partial unique index.
type Subscription struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	PluginID           string
	PlanID             string
	Status             Status
	Cycle              plan.BillingCycle
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	PausedAt           *time.Time
	ResumeAt           *time.Time
	Amount             plan.Money
	AutoRenew          bool
	ProviderSubID      string // billing processor correlation id, opaque here
	ProviderCustomerID string
	Metadata           map[string]string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsCurrent reports whether the subscription still grants access
// (trialing, active or past_due).
func (s *Subscription) IsCurrent() bool {
	switch s.Status {
	case StatusTrialing, StatusActive, StatusPastDue:
		return true
	default:
		return false
	}
}

// IsCanceled reports whether the subscription reached its terminal state.
func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// IsPaused reports whether the subscription is currently paused.
func (s *Subscription) IsPaused() bool {
	return s.PausedAt != nil
}

// IsLapsed reports whether the current billing period ended before now.
func (s *Subscription) IsLapsed(now time.Time) bool {
	return s.CurrentPeriodEnd.Before(now)
}

// PeriodFree reports whether metering should use free-tier (monthly) period
// granularity, which is the case for zero-cost subscriptions.
func (s *Subscription) PeriodFree() bool {
	return s.Amount.IsZero()
}
