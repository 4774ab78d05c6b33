// Package app assembles the OptiFlow runtime from a Config: metrics, the
// model store, the solving capabilities, the event publisher, the result
// archive and the orchestration service.  Both the API server and the
// in-process CLI start from here.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/turtacn/OptiFlow/internal/application/orchestration"
	"github.com/turtacn/OptiFlow/internal/config"
	"github.com/turtacn/OptiFlow/internal/domain/model"
	"github.com/turtacn/OptiFlow/internal/infrastructure/database/memory"
	pgstore "github.com/turtacn/OptiFlow/internal/infrastructure/database/postgres"
	redisstore "github.com/turtacn/OptiFlow/internal/infrastructure/database/redis"
	"github.com/turtacn/OptiFlow/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/OptiFlow/internal/infrastructure/solver/lp"
	"github.com/turtacn/OptiFlow/internal/infrastructure/solver/vrp"
	"github.com/turtacn/OptiFlow/internal/infrastructure/storage/minio"
	"github.com/turtacn/OptiFlow/internal/interfaces/http/handlers"
)

// Version is stamped at build time.
var Version = "dev"

// App holds the assembled runtime.  Close releases it in reverse order.
type App struct {
	Config    *config.Config
	Logger    logging.Logger
	Collector prometheus.MetricsCollector
	Metrics   *prometheus.AppMetrics
	Store     model.Store
	Service   orchestration.Service

	checkers []handlers.HealthChecker
	closers  []func() error
}

// Option adjusts assembly, mostly for tests.
type Option func(*options)

type options struct {
	store     model.Store
	events    orchestration.EventPublisher
	archive   orchestration.ResultArchiver
	collector prometheus.MetricsCollector
}

// WithStore replaces the configured store backend.
func WithStore(s model.Store) Option { return func(o *options) { o.store = s } }

// WithEvents replaces the configured event publisher.
func WithEvents(p orchestration.EventPublisher) Option { return func(o *options) { o.events = p } }

// WithArchive replaces the configured result archive.
func WithArchive(r orchestration.ResultArchiver) Option { return func(o *options) { o.archive = r } }

// WithCollector replaces the configured metrics collector.
func WithCollector(c prometheus.MetricsCollector) Option {
	return func(o *options) { o.collector = c }
}

// New wires every component named by cfg.  On error everything already
// opened is closed.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger, opts ...Option) (a *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger = logging.OrNop(logger)
	built := &App{Config: cfg, Logger: logger}
	a = built
	defer func() {
		if err != nil {
			built.Close()
			a = nil
		}
	}()

	if a.Collector, err = newCollector(cfg.Metrics, o.collector, logger); err != nil {
		return nil, err
	}
	a.Metrics = prometheus.NewAppMetrics(a.Collector)

	backend := cfg.Store.Backend
	if o.store != nil {
		a.Store, backend = o.store, "custom"
	} else if a.Store, err = a.openStore(ctx, cfg, logger); err != nil {
		return nil, err
	}

	events := o.events
	if events == nil && cfg.Kafka.Enabled {
		if events, err = a.openEvents(cfg.Kafka, logger); err != nil {
			return nil, err
		}
	}

	archive := o.archive
	if archive == nil && cfg.Archive.Enabled {
		if archive, err = a.openArchive(ctx, cfg.Archive, logger); err != nil {
			return nil, err
		}
	}

	registry, err := orchestration.Catalog()
	if err != nil {
		return nil, fmt.Errorf("app: flow catalog: %w", err)
	}
	solver := lp.NewSolver(lp.Config{
		TimeLimit: cfg.Solver.TimeLimit,
		MaxNodes:  cfg.Solver.MaxNodes,
		Tolerance: cfg.Solver.Tolerance,
	}, logger)

	svc, err := orchestration.NewService(orchestration.ServiceConfig{
		Registry: registry,
		Store:    a.Store,
		LP:       solver,
		MIP:      solver,
		Router:   vrp.NewSolver(logger),
		Metrics:  orchestration.NewSolveMetrics(a.Metrics, backend),
		Events:   events,
		Archive:  archive,
		Logger:   logger,
		Version:  Version,
	})
	if err != nil {
		return nil, fmt.Errorf("app: orchestration service: %w", err)
	}
	a.Service = svc
	a.checkers = append(a.checkers, handlers.NamedCheck("model_store", svc.Ping))
	// The service drains pending events before the publisher closes.
	a.closers = append(a.closers, svc.Close)

	logger.Info("optiflow assembled",
		logging.String("version", Version),
		logging.String("store", backend),
		logging.Bool("events", events != nil),
		logging.Bool("archive", archive != nil),
		logging.Bool("metrics", cfg.Metrics.Enabled),
		logging.Int("flows", len(registry.Keys())))
	return a, nil
}

func newCollector(cfg config.MetricsConfig, override prometheus.MetricsCollector, logger logging.Logger) (prometheus.MetricsCollector, error) {
	if override != nil {
		return override, nil
	}
	if !cfg.Enabled {
		return prometheus.NewNoopCollector(), nil
	}
	c, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            cfg.Namespace,
		EnableProcessMetrics: cfg.EnableProcessMetrics,
		EnableGoMetrics:      cfg.EnableGoMetrics,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("app: metrics: %w", err)
	}
	return c, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config, logger logging.Logger) (model.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		client, err := redisstore.NewClient(ctx, redisstore.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("app: redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return redisstore.NewModelStore(client,
			redisstore.WithTTL(cfg.Store.TTL),
			redisstore.WithKeyPrefix(cfg.Store.KeyPrefix),
			redisstore.WithLogger(logger),
		), nil
	case config.StorePostgres:
		conn, err := OpenPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("app: postgres: %w", err)
		}
		a.closers = append(a.closers, conn.Close)
		if cfg.Postgres.AutoMigrate {
			if err := conn.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("app: postgres: %w", err)
			}
		}
		return pgstore.NewModelStore(conn,
			pgstore.WithTTL(cfg.Store.TTL),
			pgstore.WithLogger(logger),
		), nil
	case config.StoreMemory, "":
		return memory.NewStore(memory.WithTTL(cfg.Store.TTL), memory.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("app: unknown store backend %q", cfg.Store.Backend)
	}
}

// OpenPostgres connects to the postgres store database described by cfg.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig, logger logging.Logger) (*pgstore.Connection, error) {
	return pgstore.NewConnection(ctx, pgstore.Config{
		Host:             cfg.Host,
		Port:             cfg.Port,
		Database:         cfg.Database,
		Username:         cfg.Username,
		Password:         cfg.Password,
		SSLMode:          cfg.SSLMode,
		MaxOpenConns:     cfg.MaxOpenConns,
		MaxIdleConns:     cfg.MaxIdleConns,
		ConnMaxLifetime:  cfg.ConnMaxLifetime,
		StatementTimeout: cfg.StatementTimeout,
	}, logger)
}

func (a *App) openEvents(cfg config.KafkaConfig, logger logging.Logger) (orchestration.EventPublisher, error) {
	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Brokers,
		Acks:         acksName(cfg.RequiredAcks),
		MaxRetries:   cfg.MaxAttempts,
		BatchTimeout: cfg.BatchTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("app: kafka: %w", err)
	}
	pub := kafka.NewEventPublisher(producer, cfg.Topic, logger)
	a.closers = append(a.closers, pub.Close)
	return pub, nil
}

func (a *App) openArchive(ctx context.Context, cfg config.ArchiveConfig, logger logging.Logger) (orchestration.ResultArchiver, error) {
	archive, err := minio.NewResultArchive(ctx, minio.Config{
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		UseSSL:          cfg.UseSSL,
		Region:          cfg.Region,
		Bucket:          cfg.Bucket,
		Prefix:          cfg.Prefix,
		RetentionDays:   cfg.RetentionDays,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("app: archive: %w", err)
	}
	a.checkers = append(a.checkers, handlers.NamedCheck("result_archive", archive.Ping))
	return archive, nil
}

// acksName maps the numeric required_acks setting onto the producer's names.
func acksName(n int) string {
	switch {
	case n < 0:
		return "all"
	case n == 0:
		return "none"
	default:
		return "one"
	}
}

// HealthCheckers lists the dependencies the readiness probe verifies.
func (a *App) HealthCheckers() []handlers.HealthChecker {
	return append([]handlers.HealthChecker(nil), a.checkers...)
}

// MetricsHandler serves the collector, or nil when metrics are disabled.
func (a *App) MetricsHandler() http.Handler {
	if !a.Config.Metrics.Enabled {
		return nil
	}
	return a.Collector.Handler()
}

// Close releases every component, newest first.  Errors are logged.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("component close failed", logging.Err(err))
		}
	}
	a.closers = nil
}

//Personal.AI order the ending
