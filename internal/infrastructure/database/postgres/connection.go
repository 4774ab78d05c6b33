// Package postgres is the PostgreSQL-backed model store with its connection
// pool and embedded schema migrations.  Queries run on a pgx pool; the
// database/sql handle only serves golang-migrate.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/OptiFlow/pkg/errors"
)

// Config holds connection parameters.
type Config struct {
	Host             string
	Port             int
	Database         string
	Username         string
	Password         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	ConnMaxIdleTime  time.Duration
	StatementTimeout time.Duration
	ConnectTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = c.MaxOpenConns / 2
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.StatementTimeout == 0 {
		c.StatementTimeout = 30 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
}

// pgxPool is the part of *pgxpool.Pool a Connection owns.
type pgxPool interface {
	pgxQuerier
	Close()
}

// sqlOpen and poolOpen are swapped in tests.
var (
	sqlOpen  = sql.Open
	poolOpen = func(ctx context.Context, cfg *pgxpool.Config) (pgxPool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return pool, nil
	}
)

// Connection owns the pgx pool and the database/sql handle used for
// migrations.
type Connection struct {
	db     *sql.DB
	pool   pgxPool
	logger logging.Logger
	once   sync.Once
}

// NewConnection opens both handles and pings them.  A failed ping closes
// what was opened and returns a service-unavailable error.
func NewConnection(ctx context.Context, cfg Config, logger logging.Logger) (*Connection, error) {
	cfg.applyDefaults()
	logger = logging.OrNop(logger).Named("postgres")

	db, err := sqlOpen("postgres", buildDSN(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "open database")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "database connection failed")
	}

	poolCfg, err := pgxpool.ParseConfig(buildDSN(cfg))
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "parse pool config")
	}
	configurePool(poolCfg, cfg)
	pool, err := poolOpen(ctx, poolCfg)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "open pool")
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "database connection failed")
	}

	logger.Info("postgres connected",
		logging.String("host", cfg.Host),
		logging.Int("port", cfg.Port),
		logging.String("database", cfg.Database))
	return &Connection{db: db, pool: pool, logger: logger}, nil
}

// NewConnectionWithDB wraps an existing database/sql handle without a pgx
// pool.  Such a connection serves migrations only.
func NewConnectionWithDB(db *sql.DB, logger logging.Logger) *Connection {
	return &Connection{db: db, logger: logging.OrNop(logger).Named("postgres")}
}

// configurePool maps the pool settings onto a pgx pool config.  Zero values
// keep pgx's defaults.
func configurePool(pc *pgxpool.Config, cfg Config) {
	if cfg.MaxOpenConns > 0 {
		pc.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pc.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
}

// DB returns the database/sql handle.
func (c *Connection) DB() *sql.DB { return c.db }

// Ping checks both handles and warns when most connections are busy.
func (c *Connection) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "database health check failed")
	}
	if c.pool != nil {
		if err := c.pool.Ping(ctx); err != nil {
			return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "database pool health check failed")
		}
	}
	if stats := c.db.Stats(); stats.OpenConnections > 0 {
		if usage := float64(stats.InUse) / float64(stats.OpenConnections); usage > 0.8 {
			c.logger.Warn("high connection pool usage",
				logging.Int("in_use", stats.InUse),
				logging.Int("open", stats.OpenConnections),
				logging.Float64("usage", usage))
		}
	}
	return nil
}

// Migrate applies the embedded schema.
func (c *Connection) Migrate(ctx context.Context) error {
	m, err := NewMigrator(ctx, c.db)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "prepare migrations")
	}
	defer m.Close()
	if err := m.Up(); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "migrate schema")
	}
	version, dirty, err := m.Status()
	if err != nil {
		c.logger.Warn("migration version unavailable", logging.Err(err))
	}
	c.logger.Info("schema migrated", logging.Int64("version", int64(version)), logging.Bool("dirty", dirty))
	return nil
}

// Close closes both handles once.
func (c *Connection) Close() error {
	var err error
	c.once.Do(func() {
		if c.pool != nil {
			c.pool.Close()
		}
		if err = c.db.Close(); err != nil {
			c.logger.Error("close failed", logging.Err(err))
			return
		}
		c.logger.Info("postgres connection closed")
	})
	return err
}

func buildDSN(cfg Config) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   cfg.Database,
	}
	q := u.Query()
	q.Set("sslmode", cfg.SSLMode)
	q.Set("connect_timeout", fmt.Sprintf("%d", int(cfg.ConnectTimeout.Seconds())))
	q.Set("statement_timeout", fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds()))
	u.RawQuery = q.Encode()
	return u.String()
}

//Personal.AI order the ending
