package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	billingApp "github.com/felixgeelhaar/billsync/internal/billing/application"
	"github.com/felixgeelhaar/billsync/internal/billing/application/ingest"
	billingDomain "github.com/felixgeelhaar/billsync/internal/billing/domain"
	"github.com/felixgeelhaar/billsync/internal/billing/infrastructure/lock"
	"github.com/felixgeelhaar/billsync/internal/billing/infrastructure/notify"
	billingPersistence "github.com/felixgeelhaar/billsync/internal/billing/infrastructure/persistence"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/convert"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/database/postgres"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/docstore"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/security"
	"github.com/felixgeelhaar/billsync/pkg/config"
	"github.com/felixgeelhaar/billsync/pkg/observability"
)

// Container holds all application dependencies.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	// Storage
	DB      *pgxpool.Pool
	LocalDB *sql.DB
	Storage *docstore.Facade

	// Infrastructure
	RedisClient    *redis.Client
	Locker         lock.Locker
	Notifier       *notify.Async
	EventPublisher eventbus.Publisher

	// Observability
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Health   *observability.HealthRegistry

	// Repositories
	SubscriptionRepo billingDomain.SubscriptionRepository
	InvoiceRepo      billingDomain.InvoiceRepository
	PaymentRepo      billingDomain.PaymentRepository
	UserRepo         billingDomain.UserRepository

	// Application
	Pipeline       *ingest.Pipeline
	BillingService *billingApp.Service
}

// NewContainer creates a new dependency injection container.
// A configured primary that cannot be reached at startup is not fatal; the
// container then serves from the local store until a probe succeeds.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: logger,
	}

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = observability.NewMetrics(c.Registry)
	c.Health = observability.NewHealthRegistry()

	// The locker comes first: the facade serializes collection writes with it.
	if err := c.initLocker(ctx); err != nil {
		return nil, err
	}

	local, err := c.openLocalStore(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}

	var primary docstore.Store
	if !cfg.LocalMode() {
		primary = c.openPrimaryStore(ctx)
	} else {
		logger.Info("no primary store configured, running on the local store")
	}

	c.Storage = docstore.NewFacade(primary, local, docstore.FacadeConfig{
		PrimaryTimeout:   cfg.PrimaryTimeout,
		FailureThreshold: convert.IntToUint32Clamped(cfg.BreakerFailureThreshold),
		OpenTimeout:      cfg.BreakerOpenTimeout,
		MirrorWrites:     cfg.LocalMirrorWrites,
		Locker:           c.Locker,
		Logger:           logger,
		Metrics:          c.Metrics,
	})
	_ = c.Storage.Probe(ctx)

	c.Health.Register("storage", observability.StorageHealthChecker(func() observability.StorageSnapshot {
		s := c.Storage.Status()
		return observability.StorageSnapshot{
			DBType:    s.DBType,
			State:     string(s.State),
			Connected: s.Connected,
			Error:     s.ErrorString(),
		}
	}))

	// Repositories
	c.SubscriptionRepo = billingPersistence.NewSubscriptionRepository(c.Storage)
	c.InvoiceRepo = billingPersistence.NewInvoiceRepository(c.Storage)
	c.PaymentRepo = billingPersistence.NewPaymentRepository(c.Storage)
	c.UserRepo = billingPersistence.NewUserRepository(c.Storage)

	// Notifier
	var notifier billingDomain.Notifier = notify.NewNoop(logger)
	if cfg.PostmarkServerToken != "" {
		notifier = notify.NewPostmarkNotifier(cfg.PostmarkServerToken, cfg.PostmarkFrom, cfg.AppBaseURL, c.UserRepo)
		logger.Info("postmark notifier enabled")
	}
	c.Notifier = notify.NewAsync(notifier, cfg.NotifyTimeout, logger, c.Metrics)

	c.Pipeline, err = ingest.New(ingest.Dependencies{
		Subscriptions: c.SubscriptionRepo,
		Invoices:      c.InvoiceRepo,
		Payments:      c.PaymentRepo,
		Users:         c.UserRepo,
		Notifier:      c.Notifier,
		Locker:        c.Locker,
		Logger:        logger,
		Metrics:       c.Metrics,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to build event pipeline: %w", err)
	}

	c.BillingService = billingApp.NewService(c.SubscriptionRepo, c.InvoiceRepo, c.UserRepo)

	consumer := ingest.NewConsumer(c.Pipeline)
	if cfg.RabbitMQURL != "" {
		publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, cfg.EventsQueue, consumer.EventTypes(), logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, using in-process event bus", "error", err)
		} else {
			c.EventPublisher = publisher
		}
	}
	if c.EventPublisher == nil {
		bus := eventbus.NewInProcessEventBus(logger)
		bus.RegisterConsumer(consumer)
		c.EventPublisher = bus
	}

	return c, nil
}

func (c *Container) openLocalStore(ctx context.Context) (*docstore.SQLiteStore, error) {
	path, err := security.ValidateFilePath(c.Config.SQLitePath())
	if err != nil {
		return nil, fmt.Errorf("invalid local store path: %w", err)
	}

	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if err := migrations.RunSQLiteMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate local store: %w", err)
	}
	c.LocalDB = db

	c.Logger.Info("local store ready", "path", path)
	return docstore.NewSQLiteStore(db), nil
}

// openPrimaryStore returns nil when the primary cannot be used at all, which
// leaves the facade in local-only mode.
func (c *Container) openPrimaryStore(ctx context.Context) docstore.Store {
	if driver := database.DetectDriver(c.Config.DatabaseURL); driver != database.DriverPostgres {
		c.Logger.Warn("DATABASE_URL is not a Postgres URL, running on the local store", "driver", driver.String())
		return nil
	}

	pool, err := postgres.Open(ctx, database.Config{
		URL:            c.Config.DatabaseURL,
		MaxConns:       c.Config.PrimaryMaxConns,
		ConnectTimeout: c.Config.PrimaryTimeout,
	})
	if err != nil {
		c.Logger.Warn("primary store unavailable, running on the local store", "error", err)
		return nil
	}

	migrateCtx, cancel := context.WithTimeout(ctx, c.Config.PrimaryTimeout)
	defer cancel()
	if err := migrations.RunPostgresMigrations(migrateCtx, pool); err != nil {
		// The pool stays; the facade degrades on first use and recovers via probes.
		c.Logger.Warn("primary store migrations failed", "error", err)
	} else {
		c.Logger.Info("primary store ready")
	}

	c.DB = pool
	return docstore.NewPostgresStore(pool)
}

func (c *Container) initLocker(ctx context.Context) error {
	if c.Config.LockBackend != config.LockBackendRedis {
		c.Locker = lock.NewKeyedMutex()
		return nil
	}

	opts, err := redis.ParseURL(c.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	c.RedisClient = client

	locker := lock.NewRedisLocker(client, lock.RedisLockerConfig{
		TTL:    c.Config.LockTTL,
		Logger: c.Logger,
	})
	c.Locker = locker
	c.Health.Register("redis", observability.RedisHealthChecker(locker.Ping))
	c.Logger.Info("connected to Redis", "addr", opts.Addr)
	return nil
}

// Close cleans up all resources.
func (c *Container) Close() {
	if c.Notifier != nil {
		c.Notifier.Wait()
	}

	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Warn("error closing event publisher", "error", err)
		}
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("error closing Redis connection", "error", err)
		} else {
			c.Logger.Info("Redis connection closed")
		}
	}

	// The facade owns both store handles once it exists.
	if c.Storage != nil {
		if err := c.Storage.Close(); err != nil {
			c.Logger.Warn("error closing storage", "error", err)
		}
		c.Logger.Info("storage closed")
		return
	}
	if c.DB != nil {
		c.DB.Close()
	}
	if c.LocalDB != nil {
		if err := c.LocalDB.Close(); err != nil {
			c.Logger.Warn("error closing SQLite connection", "error", err)
		}
	}
}
