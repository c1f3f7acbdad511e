package entitlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugkit/entitlement/pkg/entitlement"
	"github.com/plugkit/entitlement/pkg/plan"
	"github.com/plugkit/entitlement/pkg/subscription"
	"github.com/plugkit/entitlement/pkg/usage"
)

type serviceFixture struct {
	store     *subscription.MemoryStore
	meter     *usage.Meter
	manager   *subscription.Manager
	overrides *entitlement.MemoryOverrides
	service   *entitlement.Service
	now       *time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	catalog := newTestCatalog(t)

	f := &serviceFixture{
		store:     subscription.NewMemoryStore(),
		meter:     usage.NewMeter(usage.NewMemoryStore()),
		overrides: entitlement.NewMemoryOverrides(),
		now:       &now,
	}
	clock := func() time.Time { return *f.now }

	f.manager = subscription.NewManager(f.store, catalog, f.meter,
		subscription.WithManagerClock(clock))
	coordinator := subscription.NewCoordinator(f.store, catalog, f.meter,
		subscription.WithCoordinatorClock(clock))
	resolver := entitlement.NewResolver(catalog, f.overrides, f.meter,
		entitlement.WithResolverClock(clock))

	f.service = entitlement.NewService(catalog, f.store, coordinator, resolver, f.meter)
	t.Cleanup(f.service.Close)
	return f
}

func TestServiceCheckLicense(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("unmetered plugin is always licensed", func(t *testing.T) {
		f := newServiceFixture(t)

		res, err := f.service.CheckLicense(ctx, tenantID, "notes", "anything")
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Equal(t, entitlement.ModeFree, res.Mode)
	})

	t.Run("no subscription", func(t *testing.T) {
		f := newServiceFixture(t)

		res, err := f.service.CheckLicense(ctx, tenantID, "crm", "export")
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, entitlement.ReasonSubscriptionRequired, res.Reason)
		assert.Equal(t, "crm_pro", res.UpgradeHint)
	})

	t.Run("canceled subscription", func(t *testing.T) {
		f := newServiceFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)
		_, err = f.manager.Cancel(ctx, sub.ID, false, "")
		require.NoError(t, err)

		res, err := f.service.CheckLicense(ctx, tenantID, "crm", "export")
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, entitlement.ReasonSubscriptionCanceled, res.Reason)
	})

	t.Run("empty feature checks validity only", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.manager.Create(ctx, tenantID, "crm", "crm_free", subscription.CreateOptions{})
		require.NoError(t, err)

		res, err := f.service.CheckLicense(ctx, tenantID, "crm", "")
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Equal(t, entitlement.ModeStandard, res.Mode)
	})

	t.Run("plan denial carries an upgrade hint", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.manager.Create(ctx, tenantID, "crm", "crm_free", subscription.CreateOptions{})
		require.NoError(t, err)

		res, err := f.service.CheckLicense(ctx, tenantID, "crm", "export")
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, entitlement.ReasonFeatureNotInPlan, res.Reason)
		assert.Equal(t, "crm_pro", res.UpgradeHint)
	})

	t.Run("override grants beyond the plan", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.manager.Create(ctx, tenantID, "crm", "crm_free", subscription.CreateOptions{})
		require.NoError(t, err)

		f.overrides.AddFeatureOverride(entitlement.FeatureOverride{
			ID: uuid.New(), TenantID: tenantID, PluginID: "crm",
			Feature: "export", Allowed: true,
		})

		res, err := f.service.CheckLicense(ctx, tenantID, "crm", "export")
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Equal(t, entitlement.ModeCommercial, res.Mode)
		assert.Equal(t, entitlement.SourceOverride, res.Source)
	})

	t.Run("cancellation at period end ends access when the period lapses", func(t *testing.T) {
		f := newServiceFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_free", subscription.CreateOptions{})
		require.NoError(t, err)
		_, err = f.manager.Cancel(ctx, sub.ID, true, "tenant request")
		require.NoError(t, err)

		// Access continues until the paid-for period runs out.
		res, err := f.service.CheckLicense(ctx, tenantID, "crm", "contacts")
		require.NoError(t, err)
		assert.True(t, res.Valid)

		*f.now = f.now.AddDate(0, 1, 1)

		res, err = f.service.CheckLicense(ctx, tenantID, "crm", "contacts")
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, entitlement.ReasonSubscriptionCanceled, res.Reason)
	})

	t.Run("lapsed free subscription rolls over transparently", func(t *testing.T) {
		f := newServiceFixture(t)
		old, err := f.manager.Create(ctx, tenantID, "crm", "crm_free", subscription.CreateOptions{})
		require.NoError(t, err)

		*f.now = f.now.AddDate(0, 1, 3)

		res, err := f.service.CheckLicense(ctx, tenantID, "crm", "contacts")
		require.NoError(t, err)
		assert.True(t, res.Valid)

		current, err := f.store.FindCurrent(ctx, tenantID, "crm")
		require.NoError(t, err)
		assert.NotEqual(t, old.ID, current.ID)
	})
}

func TestServiceCheckUsageLimit(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("unmetered plugin has no ceilings", func(t *testing.T) {
		f := newServiceFixture(t)

		res, err := f.service.CheckUsageLimit(ctx, tenantID, "notes", "anything")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.True(t, res.Unlimited)
		assert.Equal(t, entitlement.ModeFree, res.Mode)
	})

	t.Run("no subscription", func(t *testing.T) {
		f := newServiceFixture(t)

		res, err := f.service.CheckUsageLimit(ctx, tenantID, "crm", "contacts")
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, entitlement.ReasonSubscriptionRequired, res.Reason)
	})

	t.Run("seeds the period and reports headroom", func(t *testing.T) {
		f := newServiceFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_free", subscription.CreateOptions{})
		require.NoError(t, err)

		periodKey := usage.PeriodKey(sub.ID, sub.CurrentPeriodStart, true)
		require.NoError(t, f.meter.Increment(ctx, tenantID, "crm", "contacts", periodKey, 99))

		res, err := f.service.CheckUsageLimit(ctx, tenantID, "crm", "contacts")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(99), res.Current)
		assert.Equal(t, int64(100), res.Limit)
		assert.Equal(t, 99, res.Percentage)
	})

	t.Run("denies at the ceiling", func(t *testing.T) {
		f := newServiceFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_free", subscription.CreateOptions{})
		require.NoError(t, err)

		periodKey := usage.PeriodKey(sub.ID, sub.CurrentPeriodStart, true)
		require.NoError(t, f.meter.Increment(ctx, tenantID, "crm", "contacts", periodKey, 100))

		res, err := f.service.CheckUsageLimit(ctx, tenantID, "crm", "contacts")
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, entitlement.ReasonLimitExceeded, res.Reason)
	})

	t.Run("rollover resets usage for the new period", func(t *testing.T) {
		f := newServiceFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_free", subscription.CreateOptions{})
		require.NoError(t, err)

		periodKey := usage.PeriodKey(sub.ID, sub.CurrentPeriodStart, true)
		require.NoError(t, f.meter.Increment(ctx, tenantID, "crm", "contacts", periodKey, 100))

		*f.now = f.now.AddDate(0, 1, 3)

		res, err := f.service.CheckUsageLimit(ctx, tenantID, "crm", "contacts")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Zero(t, res.Current)
	})
}

func TestServiceRecordUsage(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("records asynchronously against the current period", func(t *testing.T) {
		f := newServiceFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_free", subscription.CreateOptions{})
		require.NoError(t, err)

		f.service.RecordUsage(tenantID, "crm", "contacts", 3)

		periodKey := usage.PeriodKey(sub.ID, sub.CurrentPeriodStart, true)
		require.Eventually(t, func() bool {
			v, err := f.meter.Read(ctx, tenantID, "crm", "contacts", periodKey)
			return err == nil && v == 3
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("non-positive amount counts as one", func(t *testing.T) {
		f := newServiceFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_free", subscription.CreateOptions{})
		require.NoError(t, err)

		f.service.RecordUsage(tenantID, "crm", "contacts", 0)

		periodKey := usage.PeriodKey(sub.ID, sub.CurrentPeriodStart, true)
		require.Eventually(t, func() bool {
			v, err := f.meter.Read(ctx, tenantID, "crm", "contacts", periodKey)
			return err == nil && v == 1
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestServiceCheckSubscriptionAccess(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("active subscription", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)

		res, err := f.service.CheckSubscriptionAccess(ctx, tenantID, "crm", "")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Empty(t, res.Warning)
		require.NotNil(t, res.Subscription)
	})

	t.Run("past_due keeps access with a warning", func(t *testing.T) {
		f := newServiceFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)

		require.NoError(t, f.manager.HandleBillingEvent(ctx, subscription.BillingEvent{
			Type: subscription.EventPaymentFailed,
		}, &sub.ID))

		res, err := f.service.CheckSubscriptionAccess(ctx, tenantID, "crm", "")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, entitlement.ReasonPaymentOverdue, res.Warning)
	})

	t.Run("canceled subscription is denied", func(t *testing.T) {
		f := newServiceFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)
		_, err = f.manager.Cancel(ctx, sub.ID, false, "")
		require.NoError(t, err)

		res, err := f.service.CheckSubscriptionAccess(ctx, tenantID, "crm", "")
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, entitlement.ReasonSubscriptionCanceled, res.Reason)
	})

	t.Run("feature denial overrides subscription access", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.manager.Create(ctx, tenantID, "crm", "crm_free", subscription.CreateOptions{})
		require.NoError(t, err)

		res, err := f.service.CheckSubscriptionAccess(ctx, tenantID, "crm", "export")
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, entitlement.ReasonFeatureNotInPlan, res.Reason)
	})
}

func TestServiceAllUsage(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	f := newServiceFixture(t)
	sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
	require.NoError(t, err)

	periodKey := usage.PeriodKey(sub.ID, sub.CurrentPeriodStart, false)
	require.NoError(t, f.meter.Increment(ctx, tenantID, "crm", "api_calls", periodKey, 1000))

	all, err := f.service.AllUsage(ctx, tenantID, "crm")
	require.NoError(t, err)

	require.Contains(t, all, plan.Metric("api_calls"))
	require.Contains(t, all, plan.Metric("contacts"))
	assert.Equal(t, int64(1000), all["api_calls"].Current)
	assert.Equal(t, int64(5000), all["api_calls"].Limit)
	assert.True(t, all["contacts"].Allowed)
}
