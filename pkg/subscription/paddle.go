package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds configuration for the Paddle webhook adapter.
type PaddleConfig struct {
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
}

// PaddleParser normalizes Paddle webhooks into BillingEvents. It only parses
// and verifies; checkout and portal mechanics live with the external
// processor and never enter this engine.
type PaddleParser struct {
	verifier *paddle.WebhookVerifier
}

// NewPaddleParser creates a Paddle webhook adapter.
func NewPaddleParser(cfg PaddleConfig) (*PaddleParser, error) {
	if cfg.WebhookSecret == "" {
		return nil, errors.New("subscription: paddle webhook secret is required")
	}
	return &PaddleParser{
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

// ParseWebhook verifies the Paddle signature and maps the payload to a
// normalized BillingEvent.
func (p *PaddleParser) ParseWebhook(ctx context.Context, payload []byte, signature string) (*BillingEvent, error) {
	// The SDK verifier operates on an http.Request, so wrap the raw payload.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("subscription: failed to build verification request: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, fmt.Errorf("subscription: webhook verification error: %w", err)
	}
	if !valid {
		return nil, errors.New("subscription: webhook signature verification failed")
	}

	var envelope struct {
		EventType string         `json:"event_type"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("subscription: failed to parse webhook payload: %w", err)
	}

	evt := &BillingEvent{
		Type:          mapPaddleEventType(envelope.EventType),
		ProviderEvent: envelope.EventType,
		Payload:       payload,
	}

	// Transactions carry subscription_id; subscription events carry id.
	if subID, ok := envelope.Data["subscription_id"].(string); ok {
		evt.ProviderSubID = subID
	} else if id, ok := envelope.Data["id"].(string); ok {
		evt.ProviderSubID = id
	}

	if items, ok := envelope.Data["items"].([]any); ok && len(items) > 0 {
		if item, ok := items[0].(map[string]any); ok {
			if priceID, ok := item["price_id"].(string); ok {
				evt.PlanID = priceID
			} else if price, ok := item["price"].(map[string]any); ok {
				if priceID, ok := price["id"].(string); ok {
					evt.PlanID = priceID
				}
			}
		}
	}

	return evt, nil
}

func mapPaddleEventType(providerEvent string) BillingEventType {
	switch providerEvent {
	case "transaction.completed", "transaction.payment_succeeded":
		return EventPaymentSucceeded
	case "transaction.payment_failed":
		return EventPaymentFailed
	case "subscription.canceled":
		return EventProviderCanceled
	case "subscription.resumed":
		return EventProviderResumed
	case "subscription.updated":
		return EventProviderPlanChanged
	default:
		return EventProviderUnrecognized
	}
}
