package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	facade "github.com/plugkit/entitlement/pkg/entitlement"
	"github.com/plugkit/entitlement/pkg/logger"
	"github.com/plugkit/entitlement/pkg/pg"
	"github.com/plugkit/entitlement/pkg/plan"
	"github.com/plugkit/entitlement/pkg/redis"
	"github.com/plugkit/entitlement/pkg/subscription"
	"github.com/plugkit/entitlement/pkg/usage"
)

// Config holds everything the engine needs, loadable in one call with
// pkg/config.
type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"APP_NAME" envDefault:"entitlement"`

	Postgres pg.Config
	Redis    redis.Config
	Paddle   subscription.PaddleConfig

	// CounterBackend selects where hot-path usage counters live:
	// "postgres" (default) or "redis".
	CounterBackend  string `env:"USAGE_COUNTER_BACKEND" envDefault:"postgres"`
	CounterPrefix   string `env:"USAGE_COUNTER_PREFIX" envDefault:"usage"`
	RecorderBuffer  int    `env:"USAGE_RECORDER_BUFFER" envDefault:"1024"`
	RecorderWorkers int    `env:"USAGE_RECORDER_WORKERS" envDefault:"1"`

	SkipMigrations bool `env:"PG_SKIP_MIGRATIONS" envDefault:"false"`
}

// Engine is the composed entitlement system. Fields expose the operational
// surfaces; everything shares one catalog, one meter, and one store.
type Engine struct {
	Catalog       *plan.Catalog
	Subscriptions *subscription.Manager
	Renewal       *subscription.Coordinator
	Entitlements  *facade.Service
	Meter         *usage.Meter
	Webhooks      subscription.WebhookParser

	pool      *pgxpool.Pool
	redis     *goredis.Client
	log       *slog.Logger
	closeOnce sync.Once
}

// Option configures engine construction.
type Option func(*engineConfig)

type engineConfig struct {
	log       *slog.Logger
	overrides facade.OverrideSource
	installer subscription.Installer
}

// WithLogger sets the logger for all components. Defaults to a logger built
// from Config.Environment.
func WithLogger(log *slog.Logger) Option {
	return func(c *engineConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// WithOverrideSource replaces the Postgres-backed override source, mainly for
// platforms that manage overrides elsewhere.
func WithOverrideSource(src facade.OverrideSource) Option {
	return func(c *engineConfig) {
		if src != nil {
			c.overrides = src
		}
	}
}

// WithInstaller registers a hook invoked after each new subscription is
// persisted.
func WithInstaller(installer subscription.Installer) Option {
	return func(c *engineConfig) {
		if installer != nil {
			c.installer = installer
		}
	}
}

// New connects storage, applies migrations, and assembles the engine. The
// plan source supplies the static catalog; it is validated here and never
// reloaded.
func New(ctx context.Context, source plan.Source, cfg Config, opts ...Option) (*Engine, error) {
	if source == nil {
		return nil, errors.New("entitlement: plan source is required")
	}

	ec := &engineConfig{}
	for _, opt := range opts {
		opt(ec)
	}
	log := ec.log
	if log == nil {
		log = logger.New(logger.WithEnvironment(cfg.Environment, cfg.ServiceName))
	}

	catalog, err := plan.NewCatalog(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("entitlement: failed to build plan catalog: %w", err)
	}

	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("entitlement: failed to connect to postgres: %w", err)
	}
	if !cfg.SkipMigrations {
		if err := pg.Migrate(ctx, pool, cfg.Postgres, log); err != nil {
			pool.Close()
			return nil, fmt.Errorf("entitlement: failed to apply migrations: %w", err)
		}
	}

	var redisClient *goredis.Client
	var counters usage.CounterStore
	switch cfg.CounterBackend {
	case "redis":
		redisClient, err = redis.Connect(ctx, cfg.Redis)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("entitlement: failed to connect to redis: %w", err)
		}
		counters = usage.NewRedisStore(redisClient, cfg.CounterPrefix)
	case "", "postgres":
		counters = usage.NewPostgresStore(pool)
	default:
		pool.Close()
		return nil, fmt.Errorf("entitlement: unknown counter backend %q", cfg.CounterBackend)
	}

	meter := usage.NewMeter(counters, usage.WithLogger(log))
	store := subscription.NewPostgresStore(pool)

	overrides := ec.overrides
	if overrides == nil {
		overrides = facade.NewPostgresOverrides(pool)
	}

	managerOpts := []subscription.ManagerOption{subscription.WithManagerLogger(log)}
	if ec.installer != nil {
		managerOpts = append(managerOpts, subscription.WithInstaller(ec.installer))
	}
	manager := subscription.NewManager(store, catalog, meter, managerOpts...)
	coordinator := subscription.NewCoordinator(store, catalog, meter,
		subscription.WithCoordinatorLogger(log))

	resolver := facade.NewResolver(catalog, overrides, meter)
	service := facade.NewService(catalog, store, coordinator, resolver, meter,
		facade.WithServiceLogger(log),
		facade.WithRecorderBuffer(cfg.RecorderBuffer),
		facade.WithRecorderWorkers(cfg.RecorderWorkers))

	var webhooks subscription.WebhookParser
	if cfg.Paddle.WebhookSecret != "" {
		webhooks, err = subscription.NewPaddleParser(cfg.Paddle)
		if err != nil {
			service.Close()
			pool.Close()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			return nil, fmt.Errorf("entitlement: failed to init paddle parser: %w", err)
		}
	}

	return &Engine{
		Catalog:       catalog,
		Subscriptions: manager,
		Renewal:       coordinator,
		Entitlements:  service,
		Meter:         meter,
		Webhooks:      webhooks,
		pool:          pool,
		redis:         redisClient,
		log:           log,
	}, nil
}

// Healthchecks returns probes for the engine's storage backends.
func (e *Engine) Healthchecks() []func(context.Context) error {
	checks := []func(context.Context) error{pg.Healthcheck(e.pool)}
	if e.redis != nil {
		checks = append(checks, redis.Healthcheck(e.redis))
	}
	return checks
}

// Close stops the background usage recorder and releases storage connections.
// Safe to call multiple times and from concurrent goroutines.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.Entitlements.Close()
		e.pool.Close()
		if e.redis != nil {
			if err := e.redis.Close(); err != nil {
				e.log.Error("failed to close redis client", logger.Error(err))
			}
		}
	})
}
