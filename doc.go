// Package entitlement wires the subscription and metered-usage engine into a
// single construction point for plugin-based SaaS platforms.
//
// The engine answers three questions for every tenant and plugin: is the
// subscription alive, is this feature licensed, and is there quota left for
// this metric. Subscriptions roll over lazily on read, usage counters are
// period-scoped and idempotently seeded, and per-tenant overrides take
// precedence over custom pricing, which takes precedence over the plan.
//
//	var cfg entitlement.Config
//	config.MustLoad(&cfg)
//
//	engine, err := entitlement.New(ctx, planSource, cfg)
//	if err != nil {
//		return err
//	}
//	defer engine.Close()
//
//	res, err := engine.Entitlements.CheckLicense(ctx, tenantID, "crm", "export")
//
// The subpackages stand alone for callers that need finer control: pkg/plan
// holds the catalog, pkg/subscription the lifecycle and billing-provider
// integration, pkg/usage the metering stores, and pkg/entitlement the
// resolution facade.
package entitlement
