// Package config defines the configuration structures of OptiFlow.  No I/O
// lives here; loading is in loader.go and defaults in defaults.go.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sections
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// GRPCConfig holds the health/reflection gRPC listener.
type GRPCConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	Port       int  `mapstructure:"port"`
	Reflection bool `mapstructure:"reflection"`
}

// SolverConfig holds the defaults applied when a model's parameters omit a
// solver knob.
type SolverConfig struct {
	TimeLimit time.Duration `mapstructure:"time_limit"`
	MaxNodes  int           `mapstructure:"max_nodes"`
	Tolerance float64       `mapstructure:"tolerance"`
}

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// StoreConfig selects and tunes the model store.
type StoreConfig struct {
	Backend   string        `mapstructure:"backend"` // memory | redis | postgres
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PostgresConfig holds the postgres store connection.
type PostgresConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Database         string        `mapstructure:"database"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	SSLMode          string        `mapstructure:"ssl_mode"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	AutoMigrate      bool          `mapstructure:"auto_migrate"`
}

// ArchiveConfig holds the object-storage result archive.
type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	RetentionDays   int    `mapstructure:"retention_days"`
}

// KafkaConfig holds the solve-event producer parameters.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RequiredAcks int           `mapstructure:"required_acks"`
}

// MetricsConfig holds the prometheus settings.
type MetricsConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	Path                 string `mapstructure:"path"`
	Namespace            string `mapstructure:"namespace"`
	EnableProcessMetrics bool   `mapstructure:"enable_process_metrics"`
	EnableGoMetrics      bool   `mapstructure:"enable_go_metrics"`
}

// LogConfig is the logging section.
type LogConfig = logging.LogConfig

// ─────────────────────────────────────────────────────────────────────────────
// Root
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Solver   SolverConfig   `mapstructure:"solver"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate checks a defaulted Config and returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	if c.Server.MaxBodySize < 0 {
		return fmt.Errorf("config: server.max_body_size must be ≥ 0, got %d", c.Server.MaxBodySize)
	}
	if c.GRPC.Enabled && (c.GRPC.Port < 1 || c.GRPC.Port > 65535) {
		return fmt.Errorf("config: grpc.port %d is out of range [1, 65535]", c.GRPC.Port)
	}
	if c.GRPC.Enabled && c.GRPC.Port == c.Server.Port {
		return fmt.Errorf("config: grpc.port must differ from server.port")
	}

	if c.Solver.TimeLimit <= 0 {
		return fmt.Errorf("config: solver.time_limit must be positive, got %s", c.Solver.TimeLimit)
	}
	if c.Solver.MaxNodes < 1 {
		return fmt.Errorf("config: solver.max_nodes must be ≥ 1, got %d", c.Solver.MaxNodes)
	}
	if c.Solver.Tolerance <= 0 || c.Solver.Tolerance >= 1 {
		return fmt.Errorf("config: solver.tolerance %v is out of range (0, 1)", c.Solver.Tolerance)
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required when store.backend is redis")
		}
	case StorePostgres:
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			return fmt.Errorf("config: postgres.host and postgres.database are required when store.backend is postgres")
		}
	default:
		return fmt.Errorf("config: store.backend %q is invalid; expected memory|redis|postgres", c.Store.Backend)
	}
	if c.Store.TTL <= 0 {
		return fmt.Errorf("config: store.ttl must be positive, got %s", c.Store.TTL)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("config: kafka.topic is required when kafka is enabled")
		}
	}

	if c.Archive.Enabled {
		if c.Archive.Endpoint == "" || c.Archive.Bucket == "" {
			return fmt.Errorf("config: archive.endpoint and archive.bucket are required when the archive is enabled")
		}
		if c.Archive.RetentionDays < 0 {
			return fmt.Errorf("config: archive.retention_days must be ≥ 0, got %d", c.Archive.RetentionDays)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("config: metrics.namespace is required when metrics are enabled")
	}

	switch c.Log.Level {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}
	return nil
}

//Personal.AI order the ending
