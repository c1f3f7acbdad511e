package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/plugkit/entitlement/pkg/pg"
)

// pgPool is the subset of pgxpool.Pool the store needs.
type pgPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists subscriptions and their audit trail. Multi-row
// mutations run in one transaction, and the partial unique index on
// (tenant_id, plugin_id) for current statuses backs the single-current-
// subscription invariant at the storage level.
type PostgresStore struct {
	db pgPool
}

// NewPostgresStore creates a subscription store backed by the given pool.
func NewPostgresStore(db pgPool) *PostgresStore {
	if db == nil {
		panic("subscription: pg pool is required")
	}
	return &PostgresStore{db: db}
}

const subscriptionColumns = `id, tenant_id, plugin_id, plan_id, status, cycle,
	current_period_start, current_period_end, trial_start, trial_end,
	cancel_at_period_end, canceled_at, paused_at, resume_at,
	amount, currency, auto_renew, provider_sub_id, provider_customer_id,
	metadata, created_at, updated_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var s Subscription
	var metadata []byte
	err := row.Scan(
		&s.ID, &s.TenantID, &s.PluginID, &s.PlanID, &s.Status, &s.Cycle,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.TrialStart, &s.TrialEnd,
		&s.CancelAtPeriodEnd, &s.CanceledAt, &s.PausedAt, &s.ResumeAt,
		&s.Amount.Amount, &s.Amount.Currency, &s.AutoRenew, &s.ProviderSubID, &s.ProviderCustomerID,
		&metadata, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return nil, fmt.Errorf("subscription: failed to decode metadata: %w", err)
		}
	}
	return &s, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (s *PostgresStore) GetByProviderID(ctx context.Context, providerSubID string) (*Subscription, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider_sub_id = $1
		 ORDER BY created_at DESC LIMIT 1`, providerSubID)
	return scanSubscription(row)
}

func (s *PostgresStore) FindCurrent(ctx context.Context, tenantID uuid.UUID, pluginID string) (*Subscription, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE tenant_id = $1 AND plugin_id = $2 AND status IN ('trialing', 'active', 'past_due')
		 ORDER BY created_at DESC LIMIT 1`, tenantID, pluginID)
	return scanSubscription(row)
}

func (s *PostgresStore) FindLatest(ctx context.Context, tenantID uuid.UUID, pluginID string) (*Subscription, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE tenant_id = $1 AND plugin_id = $2
		 ORDER BY created_at DESC LIMIT 1`, tenantID, pluginID)
	return scanSubscription(row)
}

func (s *PostgresStore) Create(ctx context.Context, sub *Subscription, audit Audit) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := insertSubscription(ctx, tx, sub); err != nil {
			return err
		}
		return insertAudit(ctx, tx, audit)
	})
}

func (s *PostgresStore) Update(ctx context.Context, sub *Subscription, audit Audit) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := updateSubscription(ctx, tx, sub); err != nil {
			return err
		}
		return insertAudit(ctx, tx, audit)
	})
}

func (s *PostgresStore) Replace(ctx context.Context, old, new *Subscription, audits ...Audit) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := updateSubscription(ctx, tx, old); err != nil {
			return err
		}
		if err := insertSubscription(ctx, tx, new); err != nil {
			return err
		}
		for _, audit := range audits {
			if err := insertAudit(ctx, tx, audit); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) DeletePendingChange(ctx context.Context, subscriptionID uuid.UUID, kind ChangeKind) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM subscription_changes
		 WHERE subscription_id = $1 AND kind = $2 AND effective_at > now()`,
		subscriptionID, string(kind))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoPendingChange
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event *Event) error {
	return insertEvent(ctx, s.db, event)
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertSubscription(ctx context.Context, tx pgExecer, sub *Subscription) error {
	metadata, err := encodeMetadata(sub.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		sub.ID, sub.TenantID, sub.PluginID, sub.PlanID, string(sub.Status), string(sub.Cycle),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialStart, sub.TrialEnd,
		sub.CancelAtPeriodEnd, sub.CanceledAt, sub.PausedAt, sub.ResumeAt,
		sub.Amount.Amount, sub.Amount.Currency, sub.AutoRenew, sub.ProviderSubID, sub.ProviderCustomerID,
		metadata, sub.CreatedAt, sub.UpdatedAt)
	if pg.IsDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	return err
}

func updateSubscription(ctx context.Context, tx pgExecer, sub *Subscription) error {
	metadata, err := encodeMetadata(sub.Metadata)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE subscriptions SET
			plan_id = $2, status = $3, cycle = $4,
			current_period_start = $5, current_period_end = $6,
			trial_start = $7, trial_end = $8,
			cancel_at_period_end = $9, canceled_at = $10, paused_at = $11, resume_at = $12,
			amount = $13, currency = $14, auto_renew = $15,
			provider_sub_id = $16, provider_customer_id = $17,
			metadata = $18, updated_at = $19
		WHERE id = $1`,
		sub.ID, sub.PlanID, string(sub.Status), string(sub.Cycle),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialStart, sub.TrialEnd,
		sub.CancelAtPeriodEnd, sub.CanceledAt, sub.PausedAt, sub.ResumeAt,
		sub.Amount.Amount, sub.Amount.Currency, sub.AutoRenew,
		sub.ProviderSubID, sub.ProviderCustomerID,
		metadata, sub.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func insertAudit(ctx context.Context, tx pgExecer, audit Audit) error {
	if audit.Change != nil {
		if err := insertChange(ctx, tx, audit.Change); err != nil {
			return err
		}
	}
	if audit.Event != nil {
		if err := insertEvent(ctx, tx, audit.Event); err != nil {
			return err
		}
	}
	return nil
}

func insertChange(ctx context.Context, tx pgExecer, c *Change) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO subscription_changes
			(id, subscription_id, kind, from_plan_id, to_plan_id, from_amount, to_amount,
			 currency, effective_at, reason, initiator, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.SubscriptionID, string(c.Kind), c.FromPlanID, c.ToPlanID,
		c.FromAmount, c.ToAmount, c.Currency, c.EffectiveAt, c.Reason, c.Initiator, c.CreatedAt)
	return err
}

func insertEvent(ctx context.Context, tx pgExecer, e *Event) error {
	payload := e.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO subscription_events
			(id, subscription_id, type, source, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.SubscriptionID, e.Type, e.Source, []byte(payload), string(e.Status), e.CreatedAt)
	return err
}

func encodeMetadata(metadata map[string]string) ([]byte, error) {
	if metadata == nil {
		return []byte(`{}`), nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("subscription: failed to encode metadata: %w", err)
	}
	return encoded, nil
}
