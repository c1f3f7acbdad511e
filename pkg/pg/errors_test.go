package pg_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/plugkit/entitlement/pkg/pg"
)

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, pg.IsNotFoundError(pgx.ErrNoRows))
	assert.True(t, pg.IsNotFoundError(fmt.Errorf("query: %w", pgx.ErrNoRows)))
	assert.False(t, pg.IsNotFoundError(nil))
	assert.False(t, pg.IsNotFoundError(errors.New("boom")))
}

func TestIsTxClosedError(t *testing.T) {
	assert.True(t, pg.IsTxClosedError(pgx.ErrTxClosed))
	assert.False(t, pg.IsTxClosedError(nil))
	assert.False(t, pg.IsTxClosedError(pgx.ErrNoRows))
}

func TestIsDuplicateKeyError(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "idx_subscriptions_current"}

	assert.True(t, pg.IsDuplicateKeyError(dup))
	assert.True(t, pg.IsDuplicateKeyError(fmt.Errorf("insert: %w", dup)))
	assert.False(t, pg.IsDuplicateKeyError(nil))
	assert.False(t, pg.IsDuplicateKeyError(&pgconn.PgError{Code: "23503"}))
	assert.False(t, pg.IsDuplicateKeyError(errors.New("boom")))
}

func TestIsForeignKeyViolationError(t *testing.T) {
	fk := &pgconn.PgError{Code: "23503"}

	assert.True(t, pg.IsForeignKeyViolationError(fk))
	assert.True(t, pg.IsForeignKeyViolationError(fmt.Errorf("insert: %w", fk)))
	assert.False(t, pg.IsForeignKeyViolationError(nil))
	assert.False(t, pg.IsForeignKeyViolationError(&pgconn.PgError{Code: "23505"}))
}
