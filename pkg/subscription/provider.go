package subscription

import (
	"context"
	"encoding/json"
)

// BillingEventType is the normalized billing event type. Each provider
// adapter maps its specific webhook events to these.
type BillingEventType string

const (
	EventPaymentSucceeded     BillingEventType = "payment_succeeded"
	EventPaymentFailed        BillingEventType = "payment_failed"
	EventProviderCanceled     BillingEventType = "subscription_canceled"
	EventProviderResumed      BillingEventType = "subscription_resumed"
	EventProviderPlanChanged  BillingEventType = "subscription_updated"
	EventProviderUnrecognized BillingEventType = "unrecognized"
)

// BillingEvent is a normalized, externally-confirmed billing event. The
// payload stays opaque to the engine and is preserved on the event-log row.
type BillingEvent struct {
	Type          BillingEventType
	ProviderEvent string // original provider event name
	ProviderSubID string // provider's subscription correlation id
	PlanID        string // provider price id, when the event carries one
	Payload       json.RawMessage
}

// WebhookParser validates and normalizes raw provider webhook payloads into
// BillingEvents. Implementations must verify the signature to prevent
// spoofed billing confirmations.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*BillingEvent, error)
}
