package subscription

import (
	"context"

	"github.com/google/uuid"
)

// Store defines the persistence contract for subscriptions and their audit
// trail. Mutating methods that carry an Audit must commit the subscription
// row and the audit rows in a single transaction.
type Store interface {
	// GetByID retrieves a subscription by its ID.
	// Returns ErrNotFound if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// GetByProviderID retrieves a subscription by the billing processor's
	// correlation id. Returns ErrNotFound if it does not exist.
	GetByProviderID(ctx context.Context, providerSubID string) (*Subscription, error)

	// FindCurrent returns the tenant's trialing/active/past_due subscription
	// for the plugin. Returns ErrNotFound when none exists.
	FindCurrent(ctx context.Context, tenantID uuid.UUID, pluginID string) (*Subscription, error)

	// FindLatest returns the tenant's most recently created subscription for
	// the plugin regardless of status. Returns ErrNotFound when none exists.
	FindLatest(ctx context.Context, tenantID uuid.UUID, pluginID string) (*Subscription, error)

	// Create persists a new subscription together with its audit rows.
	// Must return ErrAlreadyExists when a current subscription already exists
	// for the (tenant, plugin) pair.
	Create(ctx context.Context, sub *Subscription, audit Audit) error

	// Update persists subscription changes together with its audit rows.
	Update(ctx context.Context, sub *Subscription, audit Audit) error

	// Replace atomically commits the lapsed predecessor and its successor
	// with all accompanying audit rows in one transaction. Used only by lazy
	// renewal.
	Replace(ctx context.Context, old, new *Subscription, audits ...Audit) error

	// DeletePendingChange removes a not-yet-effective change row of the given
	// kind, returning ErrNoPendingChange if none exists.
	DeletePendingChange(ctx context.Context, subscriptionID uuid.UUID, kind ChangeKind) error

	// AppendEvent records an event-log row outside a subscription mutation.
	AppendEvent(ctx context.Context, event *Event) error
}
