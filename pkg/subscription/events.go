package subscription

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/plugkit/entitlement/pkg/logger"
)

// HandleBillingEvent is the ingress for externally-confirmed billing events.
// A succeeded payment reactivates the subscription and starts the externally
// confirmed billing period; a failed payment marks it past_due, preserving
// access for the grace period. Every event leaves an event-log row, committed
// atomically with the mutation it causes.
//
// subscriptionID may be nil, in which case the event is correlated through
// the provider's subscription id.
func (m *Manager) HandleBillingEvent(ctx context.Context, evt BillingEvent, subscriptionID *uuid.UUID) error {
	var sub *Subscription
	var err error
	if subscriptionID != nil {
		sub, err = m.store.GetByID(ctx, *subscriptionID)
	} else {
		sub, err = m.store.GetByProviderID(ctx, evt.ProviderSubID)
	}
	if err != nil {
		return err
	}

	now := m.now().UTC()
	event := &Event{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Type:           string(evt.Type),
		Source:         "billing",
		Payload:        evt.Payload,
		Status:         EventProcessed,
		CreatedAt:      now,
	}

	switch evt.Type {
	case EventPaymentSucceeded:
		return m.applyPaidRenewal(ctx, sub, event)

	case EventPaymentFailed:
		if sub.Status == StatusCanceled {
			event.Status = EventFailed
			return m.store.AppendEvent(ctx, event)
		}
		// Status moves to past_due; the grace period keeps access until the
		// provider resolves or cancels. Pure status bookkeeping, no change row.
		sub.Status = StatusPastDue
		sub.UpdatedAt = now
		return m.store.Update(ctx, sub, Audit{Event: event})

	case EventProviderCanceled:
		if sub.Status == StatusCanceled {
			event.Status = EventFailed
			return m.store.AppendEvent(ctx, event)
		}
		sub.Status = StatusCanceled
		sub.CanceledAt = &now
		sub.UpdatedAt = now
		audit := Audit{
			Change: m.newChange(sub, ChangeCanceled, sub.PlanID, sub.PlanID, sub.Amount.Amount, sub.Amount.Amount, now, "canceled by billing provider", "billing"),
			Event:  event,
		}
		return m.store.Update(ctx, sub, audit)

	case EventProviderResumed:
		sub.CancelAtPeriodEnd = false
		if sub.Status == StatusPastDue {
			sub.Status = StatusActive
		}
		sub.UpdatedAt = now
		return m.store.Update(ctx, sub, Audit{Event: event})

	case EventProviderPlanChanged:
		if evt.PlanID == "" || evt.PlanID == sub.PlanID {
			return m.store.Update(ctx, sub, Audit{Event: event})
		}
		p, err := m.catalog.Plan(evt.PlanID)
		if err != nil {
			event.Status = EventFailed
			if appendErr := m.store.AppendEvent(ctx, event); appendErr != nil {
				m.log.ErrorContext(ctx, "failed to record billing event", logger.Error(appendErr))
			}
			return err
		}
		oldPlanID, oldAmount := sub.PlanID, sub.Amount.Amount
		sub.PlanID = p.ID
		sub.Amount = p.Price
		sub.Cycle = p.Cycle
		sub.UpdatedAt = now
		kind := ChangeUpdated
		if p.Price.Amount > oldAmount {
			kind = ChangeUpgraded
		} else if p.Price.Amount < oldAmount {
			kind = ChangeDowngraded
		}
		audit := Audit{
			Change: m.newChange(sub, kind, oldPlanID, p.ID, oldAmount, p.Price.Amount, now, "plan changed by billing provider", "billing"),
			Event:  event,
		}
		return m.store.Update(ctx, sub, audit)

	default:
		m.log.InfoContext(ctx, "ignoring unrecognized billing event",
			slog.String("provider_event", evt.ProviderEvent),
			logger.SubscriptionID(sub.ID))
		event.Status = EventPending
		return m.store.AppendEvent(ctx, event)
	}
}

// applyPaidRenewal reactivates the subscription and opens the billing period
// the provider just confirmed. Counters for the new period key are seeded so
// usage starts from zero.
func (m *Manager) applyPaidRenewal(ctx context.Context, sub *Subscription, event *Event) error {
	now := m.now().UTC()

	if sub.Status == StatusCanceled {
		event.Status = EventFailed
		return m.store.AppendEvent(ctx, event)
	}

	oldStatus := sub.Status
	sub.Status = StatusActive
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = sub.Cycle.PeriodEnd(now)
	sub.UpdatedAt = now

	audit := Audit{
		Change: m.newChange(sub, ChangeRenewed, sub.PlanID, sub.PlanID, sub.Amount.Amount, sub.Amount.Amount, now, "payment confirmed", "billing"),
		Event:  event,
	}
	if err := m.store.Update(ctx, sub, audit); err != nil {
		return err
	}

	m.seedCounters(ctx, sub)

	if oldStatus == StatusPastDue {
		m.log.InfoContext(ctx, "subscription recovered from past_due",
			logger.SubscriptionID(sub.ID))
	}
	return nil
}
