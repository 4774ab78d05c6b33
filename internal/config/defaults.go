package config

import (
	"time"

	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultServerHost      = "0.0.0.0"
	DefaultServerPort      = 8080
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 120 * time.Second
	DefaultMaxBodySize     = 10 << 20
	DefaultShutdownTimeout = 15 * time.Second

	DefaultGRPCPort = 9090

	DefaultSolverTimeLimit = 30 * time.Second
	DefaultSolverMaxNodes  = 20000
	DefaultSolverTolerance = 1e-9

	DefaultStoreBackend = StoreMemory
	DefaultStoreTTL     = 24 * time.Hour
	DefaultKeyPrefix    = "optiflow:model:"

	DefaultRedisAddr     = "localhost:6379"
	DefaultRedisPoolSize = 10

	DefaultPostgresPort     = 5432
	DefaultPostgresDatabase = "optiflow"
	DefaultPostgresSSLMode  = "disable"
	DefaultPostgresMaxOpen  = 10

	DefaultArchiveRegion    = "us-east-1"
	DefaultArchiveBucket    = "optiflow-results"
	DefaultArchivePrefix    = "results/"
	DefaultArchiveRetention = 30

	DefaultKafkaBroker  = "localhost:9092"
	DefaultKafkaTopic   = "optiflow.solve.completed"
	DefaultKafkaBatch   = 50 * time.Millisecond
	DefaultKafkaRetries = 3

	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "optiflow"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// registerDefaults declares every key on v so that OPTIFLOW_* variables bind
// even when no file mentions the key.
func registerDefaults(v *viper.Viper) {
	v.SetDefault("server.host", DefaultServerHost)
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.read_timeout", DefaultReadTimeout)
	v.SetDefault("server.write_timeout", DefaultWriteTimeout)
	v.SetDefault("server.max_body_size", DefaultMaxBodySize)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.port", DefaultGRPCPort)
	v.SetDefault("grpc.reflection", true)

	v.SetDefault("solver.time_limit", DefaultSolverTimeLimit)
	v.SetDefault("solver.max_nodes", DefaultSolverMaxNodes)
	v.SetDefault("solver.tolerance", DefaultSolverTolerance)

	v.SetDefault("store.backend", DefaultStoreBackend)
	v.SetDefault("store.ttl", DefaultStoreTTL)
	v.SetDefault("store.key_prefix", DefaultKeyPrefix)

	v.SetDefault("redis.addr", DefaultRedisAddr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", DefaultRedisPoolSize)
	v.SetDefault("redis.min_idle_conns", 0)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("postgres.host", "")
	v.SetDefault("postgres.port", DefaultPostgresPort)
	v.SetDefault("postgres.database", DefaultPostgresDatabase)
	v.SetDefault("postgres.username", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.ssl_mode", DefaultPostgresSSLMode)
	v.SetDefault("postgres.max_open_conns", DefaultPostgresMaxOpen)
	v.SetDefault("postgres.max_idle_conns", 0)
	v.SetDefault("postgres.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("postgres.statement_timeout", 30*time.Second)
	v.SetDefault("postgres.auto_migrate", true)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key_id", "")
	v.SetDefault("archive.secret_access_key", "")
	v.SetDefault("archive.use_ssl", false)
	v.SetDefault("archive.region", DefaultArchiveRegion)
	v.SetDefault("archive.bucket", DefaultArchiveBucket)
	v.SetDefault("archive.prefix", DefaultArchivePrefix)
	v.SetDefault("archive.retention_days", DefaultArchiveRetention)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{DefaultKafkaBroker})
	v.SetDefault("kafka.topic", DefaultKafkaTopic)
	v.SetDefault("kafka.batch_timeout", DefaultKafkaBatch)
	v.SetDefault("kafka.max_attempts", DefaultKafkaRetries)
	v.SetDefault("kafka.required_acks", 1)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", DefaultMetricsPath)
	v.SetDefault("metrics.namespace", DefaultMetricsNamespace)
	v.SetDefault("metrics.enable_process_metrics", true)
	v.SetDefault("metrics.enable_go_metrics", true)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
}

// ApplyDefaults fills zero-value fields of cfg.  Set values always win.
// Booleans are left alone; their defaults come from registerDefaults.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultServerHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.GRPC.Port == 0 {
		cfg.GRPC.Port = DefaultGRPCPort
	}

	if cfg.Solver.TimeLimit == 0 {
		cfg.Solver.TimeLimit = DefaultSolverTimeLimit
	}
	if cfg.Solver.MaxNodes == 0 {
		cfg.Solver.MaxNodes = DefaultSolverMaxNodes
	}
	if cfg.Solver.Tolerance == 0 {
		cfg.Solver.Tolerance = DefaultSolverTolerance
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	if cfg.Store.TTL == 0 {
		cfg.Store.TTL = DefaultStoreTTL
	}
	if cfg.Store.KeyPrefix == "" {
		cfg.Store.KeyPrefix = DefaultKeyPrefix
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = DefaultRedisPoolSize
	}

	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = DefaultPostgresPort
	}
	if cfg.Postgres.Database == "" {
		cfg.Postgres.Database = DefaultPostgresDatabase
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = DefaultPostgresSSLMode
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = DefaultPostgresMaxOpen
	}

	if cfg.Archive.Region == "" {
		cfg.Archive.Region = DefaultArchiveRegion
	}
	if cfg.Archive.Bucket == "" {
		cfg.Archive.Bucket = DefaultArchiveBucket
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = DefaultArchivePrefix
	}

	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = DefaultKafkaTopic
	}
	if cfg.Kafka.BatchTimeout == 0 {
		cfg.Kafka.BatchTimeout = DefaultKafkaBatch
	}
	if cfg.Kafka.MaxAttempts == 0 {
		cfg.Kafka.MaxAttempts = DefaultKafkaRetries
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

// NewDefaultConfig returns a Config populated only with defaults.
func NewDefaultConfig() *Config {
	cfg := &Config{
		GRPC:     GRPCConfig{Enabled: true, Reflection: true},
		Kafka:    KafkaConfig{Brokers: []string{DefaultKafkaBroker}, RequiredAcks: 1},
		Postgres: PostgresConfig{AutoMigrate: true},
		Archive:  ArchiveConfig{RetentionDays: DefaultArchiveRetention},
		Metrics:  MetricsConfig{Enabled: true, EnableProcessMetrics: true, EnableGoMetrics: true},
		Server:   ServerConfig{CORSOrigins: []string{"*"}},
	}
	ApplyDefaults(cfg)
	return cfg
}

//Personal.AI order the ending
