// Package plan defines the static pricing configuration consumed by the
// entitlement engine: per-plugin plans with feature sets, metric ceilings,
// tier ordering, trial windows and billing cycles.
//
// Plans are loaded once at startup through a Source and validated into an
// immutable Catalog. Feature sets and limit maps are typed value objects
// parsed at load time, never re-parsed on the check path.
//
// # Usage
//
//	catalog, err := plan.NewCatalog(ctx, plan.NewInMemSource(plans))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	p, err := catalog.Plan("price_pro_monthly")
//
// A ceiling of plan.Unlimited (-1) or an absent metric means no limit. The
// plan.FeatureAll token grants every feature of the plugin.
package plan
