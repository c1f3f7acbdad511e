package subscription

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a subscription.
type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// ChangeKind classifies an entry in the subscription audit trail.
type ChangeKind string

const (
	ChangeCreated           ChangeKind = "created"
	ChangeUpgraded          ChangeKind = "upgraded"
	ChangeDowngraded        ChangeKind = "downgraded"
	ChangeCanceled          ChangeKind = "canceled"
	ChangeRenewed           ChangeKind = "renewed"
	ChangeDowngradeCanceled ChangeKind = "downgrade_canceled"
	ChangeUpdated           ChangeKind = "updated"
)

// Change is an immutable audit row recording a commercially meaningful
// subscription transition. Pure bookkeeping updates do not produce changes.
type Change struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	Kind           ChangeKind
	FromPlanID     string
	ToPlanID       string
	FromAmount     int64
	ToAmount       int64
	Currency       string
	EffectiveAt    time.Time
	Reason         string
	Initiator      string
	CreatedAt      time.Time
}

// EventStatus tracks processing of an event-log row.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventProcessed EventStatus = "processed"
	EventFailed    EventStatus = "failed"
)

// Event is an immutable event-log row, primarily fed by billing-provider
// webhooks but also written for internal lifecycle operations.
type Event struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	Type           string
	Source         string
	Payload        json.RawMessage
	Status         EventStatus
	CreatedAt      time.Time
}

// Audit bundles the rows written atomically together with a subscription
// mutation. Either field may be nil.
type Audit struct {
	Change *Change
	Event  *Event
}
