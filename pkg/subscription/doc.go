// Package subscription owns the subscription lifecycle of the entitlement
// engine: the status state machine (trialing, active, past_due, canceled),
// creation/cancellation/pause/resume, scheduled downgrades, proration
// arithmetic, lazy renewal and the ingress for externally-confirmed billing
// events.
//
// Subscriptions are mutated only through the Manager, which wraps every
// multi-row change (subscription update + SubscriptionChange +
// SubscriptionEvent) in one atomic store commit so a crash never leaves an
// orphaned audit trail. Subscriptions are never physically deleted;
// cancellation is a status transition and history is preserved in the audit
// rows.
//
// The Coordinator reconciles a subscription against the clock on every
// entitlement check. A lapsed zero-cost subscription is renewed lazily by
// canceling the old instance and creating a linked successor; a lapsed paid
// subscription is returned unchanged, since paid renewal is confirmed only by
// the billing provider and observed through HandleBillingEvent.
package subscription
