// Package pg manages the PostgreSQL connection pool, schema migrations, and
// connection health for the entitlement engine.
//
// Connect builds a pgxpool.Pool from environment-driven Config, retrying
// transient startup failures. Migrate applies goose SQL migrations, either
// from a directory on disk or from an embedded filesystem.
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, log); err != nil {
//		return err
//	}
//
// The error helpers (IsDuplicateKeyError, IsNotFoundError) classify driver
// errors so callers can branch without importing pgx directly.
package pg
