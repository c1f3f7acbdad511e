package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugkit/entitlement/pkg/plan"
	"github.com/plugkit/entitlement/pkg/subscription"
	"github.com/plugkit/entitlement/pkg/usage"
)

func testPlans() map[string]plan.Plan {
	return map[string]plan.Plan{
		"crm_free": {
			ID:       "crm_free",
			PluginID: "crm",
			Name:     "Free",
			Tier:     0,
			Features: []plan.Feature{"contacts"},
			Limits:   map[plan.Metric]int64{"contacts": 100},
			Cycle:    plan.CycleMonthly,
			Public:   true,
		},
		"crm_pro": {
			ID:       "crm_pro",
			PluginID: "crm",
			Name:     "Pro",
			Tier:     1,
			Features: []plan.Feature{"contacts", "export"},
			Limits:   map[plan.Metric]int64{"contacts": 10000, "api_calls": 5000},
			Price:    plan.Money{Amount: 1000, Currency: "USD"},
			Cycle:    plan.CycleMonthly,
			Public:   true,
		},
		"crm_premium": {
			ID:       "crm_premium",
			PluginID: "crm",
			Name:     "Premium",
			Tier:     2,
			Features: []plan.Feature{plan.FeatureAll},
			Price:    plan.Money{Amount: 3000, Currency: "USD"},
			Cycle:    plan.CycleMonthly,
			Public:   true,
		},
		"crm_trial": {
			ID:        "crm_trial",
			PluginID:  "crm",
			Name:      "Pro with trial",
			Tier:      1,
			Features:  []plan.Feature{"contacts", "export"},
			Price:     plan.Money{Amount: 1000, Currency: "USD"},
			Cycle:     plan.CycleMonthly,
			TrialDays: 14,
		},
		"billing_basic": {
			ID:       "billing_basic",
			PluginID: "billing",
			Tier:     0,
			Cycle:    plan.CycleMonthly,
		},
	}
}

func newTestCatalog(t *testing.T) *plan.Catalog {
	t.Helper()
	c, err := plan.NewCatalog(context.Background(), plan.NewInMemSource(testPlans()))
	require.NoError(t, err)
	return c
}

type fixture struct {
	store   *subscription.MemoryStore
	meter   *usage.Meter
	manager *subscription.Manager
	now     *time.Time
}

// newFixture wires a manager against in-memory stores with an adjustable
// clock. The base time is anchored to the real clock so audit rows with
// period-end effective dates stay in the future.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	f := &fixture{
		store: subscription.NewMemoryStore(),
		meter: usage.NewMeter(usage.NewMemoryStore()),
		now:   &now,
	}
	f.manager = subscription.NewManager(f.store, newTestCatalog(t), f.meter,
		subscription.WithManagerClock(func() time.Time { return *f.now }))
	return f
}

func (f *fixture) advance(d time.Duration) {
	*f.now = f.now.Add(d)
}

func TestManagerCreate(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("free plan starts active with a monthly period", func(t *testing.T) {
		f := newFixture(t)

		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_free", subscription.CreateOptions{
			Initiator: "self_service",
		})
		require.NoError(t, err)

		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.Equal(t, *f.now, sub.CurrentPeriodStart)
		assert.Equal(t, f.now.AddDate(0, 1, 0), sub.CurrentPeriodEnd)
		assert.True(t, sub.PeriodFree())

		changes := f.store.Changes()
		require.Len(t, changes, 1)
		assert.Equal(t, subscription.ChangeCreated, changes[0].Kind)
		assert.Equal(t, "crm_free", changes[0].ToPlanID)
		assert.Equal(t, "self_service", changes[0].Initiator)

		events := f.store.Events()
		require.Len(t, events, 1)
		assert.Equal(t, "subscription.created", events[0].Type)
	})

	t.Run("seeds zero counters for the new period", func(t *testing.T) {
		f := newFixture(t)

		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_free", subscription.CreateOptions{})
		require.NoError(t, err)

		periodKey := usage.PeriodKey(sub.ID, sub.CurrentPeriodStart, true)
		v, err := f.meter.Read(ctx, tenantID, "crm", "contacts", periodKey)
		require.NoError(t, err)
		assert.Zero(t, v)
	})

	t.Run("trial plan starts trialing", func(t *testing.T) {
		f := newFixture(t)

		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_trial", subscription.CreateOptions{})
		require.NoError(t, err)

		assert.Equal(t, subscription.StatusTrialing, sub.Status)
		require.NotNil(t, sub.TrialStart)
		require.NotNil(t, sub.TrialEnd)
		assert.Equal(t, f.now.AddDate(0, 0, 14), *sub.TrialEnd)
	})

	t.Run("second current subscription is rejected", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.manager.Create(ctx, tenantID, "crm", "crm_free", subscription.CreateOptions{})
		require.NoError(t, err)

		_, err = f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.ErrorIs(t, err, subscription.ErrAlreadyExists)
	})

	t.Run("allowed again after cancellation", func(t *testing.T) {
		f := newFixture(t)

		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_free", subscription.CreateOptions{})
		require.NoError(t, err)

		_, err = f.manager.Cancel(ctx, sub.ID, false, "tenant request")
		require.NoError(t, err)

		_, err = f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)
	})

	t.Run("plan from another plugin is rejected", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.manager.Create(ctx, tenantID, "crm", "billing_basic", subscription.CreateOptions{})
		require.ErrorIs(t, err, subscription.ErrPlanMismatch)
	})

	t.Run("unknown plan", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.manager.Create(ctx, tenantID, "crm", "nope", subscription.CreateOptions{})
		require.ErrorIs(t, err, plan.ErrPlanNotFound)
	})
}

func TestManagerUpdate(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("plan change records an upgrade", func(t *testing.T) {
		f := newFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)

		planID := "crm_premium"
		amount := plan.Money{Amount: 3000, Currency: "USD"}
		updated, err := f.manager.Update(ctx, sub.ID, subscription.Patch{
			PlanID: &planID,
			Amount: &amount,
			Reason: "tenant upgrade",
		})
		require.NoError(t, err)
		assert.Equal(t, "crm_premium", updated.PlanID)

		changes := f.store.Changes()
		require.Len(t, changes, 2)
		assert.Equal(t, subscription.ChangeUpgraded, changes[1].Kind)
		assert.Equal(t, "crm_pro", changes[1].FromPlanID)
		assert.Equal(t, int64(1000), changes[1].FromAmount)
		assert.Equal(t, int64(3000), changes[1].ToAmount)
	})

	t.Run("bookkeeping update writes no audit", func(t *testing.T) {
		f := newFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)

		providerID := "sub_paddle_123"
		_, err = f.manager.Update(ctx, sub.ID, subscription.Patch{ProviderSubID: &providerID})
		require.NoError(t, err)

		assert.Len(t, f.store.Changes(), 1) // only the creation row
	})

	t.Run("illegal status transition", func(t *testing.T) {
		f := newFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)

		_, err = f.manager.Cancel(ctx, sub.ID, false, "")
		require.NoError(t, err)

		active := subscription.StatusActive
		_, err = f.manager.Update(ctx, sub.ID, subscription.Patch{Status: &active})
		require.ErrorIs(t, err, subscription.ErrInvalidTransition)
	})

	t.Run("status cancellation stamps canceled_at", func(t *testing.T) {
		f := newFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)

		canceled := subscription.StatusCanceled
		updated, err := f.manager.Update(ctx, sub.ID, subscription.Patch{Status: &canceled})
		require.NoError(t, err)

		require.NotNil(t, updated.CanceledAt)
		changes := f.store.Changes()
		assert.Equal(t, subscription.ChangeCanceled, changes[len(changes)-1].Kind)
	})
}

func TestManagerCancel(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("immediate", func(t *testing.T) {
		f := newFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)

		canceled, err := f.manager.Cancel(ctx, sub.ID, false, "tenant request")
		require.NoError(t, err)

		assert.Equal(t, subscription.StatusCanceled, canceled.Status)
		require.NotNil(t, canceled.CanceledAt)
		assert.Equal(t, *f.now, *canceled.CanceledAt)
	})

	t.Run("at period end keeps access until then", func(t *testing.T) {
		f := newFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)

		flagged, err := f.manager.Cancel(ctx, sub.ID, true, "tenant request")
		require.NoError(t, err)

		assert.Equal(t, subscription.StatusActive, flagged.Status)
		assert.True(t, flagged.CancelAtPeriodEnd)
		assert.Nil(t, flagged.CanceledAt)

		changes := f.store.Changes()
		last := changes[len(changes)-1]
		assert.Equal(t, subscription.ChangeCanceled, last.Kind)
		assert.Equal(t, sub.CurrentPeriodEnd, last.EffectiveAt)
	})

	t.Run("already canceled", func(t *testing.T) {
		f := newFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)

		_, err = f.manager.Cancel(ctx, sub.ID, false, "")
		require.NoError(t, err)

		_, err = f.manager.Cancel(ctx, sub.ID, false, "")
		require.ErrorIs(t, err, subscription.ErrAlreadyCanceled)
	})
}

func TestManagerPauseResume(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("pause and resume", func(t *testing.T) {
		f := newFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)

		resumeAt := f.now.AddDate(0, 0, 7)
		paused, err := f.manager.Pause(ctx, sub.ID, &resumeAt)
		require.NoError(t, err)
		assert.True(t, paused.IsPaused())
		require.NotNil(t, paused.ResumeAt)

		resumed, err := f.manager.Resume(ctx, sub.ID)
		require.NoError(t, err)
		assert.False(t, resumed.IsPaused())
		assert.Nil(t, resumed.ResumeAt)
	})

	t.Run("only active subscriptions pause", func(t *testing.T) {
		f := newFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_trial", subscription.CreateOptions{})
		require.NoError(t, err)

		_, err = f.manager.Pause(ctx, sub.ID, nil)
		require.ErrorIs(t, err, subscription.ErrInvalidTransition)
	})

	t.Run("resume without pause", func(t *testing.T) {
		f := newFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)

		_, err = f.manager.Resume(ctx, sub.ID)
		require.ErrorIs(t, err, subscription.ErrNotPaused)
	})
}

func TestManagerScheduleDowngrade(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("books the downgrade at period end", func(t *testing.T) {
		f := newFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)

		updated, err := f.manager.ScheduleDowngrade(ctx, sub.ID, "crm_free", "cost cutting")
		require.NoError(t, err)

		assert.True(t, updated.CancelAtPeriodEnd)
		assert.Equal(t, "crm_pro", updated.PlanID) // plan unchanged until period end

		changes := f.store.Changes()
		last := changes[len(changes)-1]
		assert.Equal(t, subscription.ChangeDowngraded, last.Kind)
		assert.Equal(t, "crm_free", last.ToPlanID)
		assert.Equal(t, sub.CurrentPeriodEnd, last.EffectiveAt)
	})

	t.Run("rejects a same-or-higher tier", func(t *testing.T) {
		f := newFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)

		_, err = f.manager.ScheduleDowngrade(ctx, sub.ID, "crm_premium", "")
		require.ErrorIs(t, err, subscription.ErrInvalidDowngrade)
	})

	t.Run("rejects when usage exceeds the target ceiling", func(t *testing.T) {
		f := newFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)

		periodKey := usage.PeriodKey(sub.ID, sub.CurrentPeriodStart, sub.PeriodFree())
		require.NoError(t, f.meter.Increment(ctx, tenantID, "crm", "contacts", periodKey, 150))

		_, err = f.manager.ScheduleDowngrade(ctx, sub.ID, "crm_free", "")
		require.ErrorIs(t, err, subscription.ErrInvalidDowngrade)
		require.ErrorIs(t, err, subscription.ErrUsageTooHigh)
	})

	t.Run("usage within the target ceiling passes", func(t *testing.T) {
		f := newFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)

		periodKey := usage.PeriodKey(sub.ID, sub.CurrentPeriodStart, sub.PeriodFree())
		require.NoError(t, f.meter.Increment(ctx, tenantID, "crm", "contacts", periodKey, 80))

		_, err = f.manager.ScheduleDowngrade(ctx, sub.ID, "crm_free", "")
		require.NoError(t, err)
	})
}

func TestManagerCancelDowngrade(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("clears the flag and the pending change", func(t *testing.T) {
		f := newFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)

		_, err = f.manager.ScheduleDowngrade(ctx, sub.ID, "crm_free", "")
		require.NoError(t, err)

		updated, err := f.manager.CancelDowngrade(ctx, sub.ID)
		require.NoError(t, err)
		assert.False(t, updated.CancelAtPeriodEnd)

		changes := f.store.Changes()
		for _, c := range changes {
			assert.NotEqual(t, subscription.ChangeDowngraded, c.Kind)
		}
		assert.Equal(t, subscription.ChangeDowngradeCanceled, changes[len(changes)-1].Kind)
	})

	t.Run("nothing pending", func(t *testing.T) {
		f := newFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)

		_, err = f.manager.CancelDowngrade(ctx, sub.ID)
		require.ErrorIs(t, err, subscription.ErrNoPendingChange)
	})

	t.Run("period already ended", func(t *testing.T) {
		f := newFixture(t)
		sub, err := f.manager.Create(ctx, tenantID, "crm", "crm_pro", subscription.CreateOptions{})
		require.NoError(t, err)

		_, err = f.manager.ScheduleDowngrade(ctx, sub.ID, "crm_free", "")
		require.NoError(t, err)

		f.advance(32 * 24 * time.Hour)

		_, err = f.manager.CancelDowngrade(ctx, sub.ID)
		require.ErrorIs(t, err, subscription.ErrPeriodEnded)
	})
}
