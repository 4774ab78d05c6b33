package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults_FillsZeroValues(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultSolverTimeLimit, cfg.Solver.TimeLimit)
	assert.Equal(t, DefaultSolverMaxNodes, cfg.Solver.MaxNodes)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Store.TTL)
	assert.Equal(t, DefaultKeyPrefix, cfg.Store.KeyPrefix)
	assert.Equal(t, DefaultKafkaTopic, cfg.Kafka.Topic)
	assert.Equal(t, DefaultPostgresPort, cfg.Postgres.Port)
	assert.Equal(t, DefaultPostgresDatabase, cfg.Postgres.Database)
	assert.Equal(t, DefaultArchiveBucket, cfg.Archive.Bucket)
	assert.Equal(t, DefaultArchivePrefix, cfg.Archive.Prefix)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Log.Format)
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 9000},
		Store:  StoreConfig{Backend: StoreRedis, TTL: time.Hour},
		Log:    LogConfig{Level: "debug"},
	}
	ApplyDefaults(cfg)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, StoreRedis, cfg.Store.Backend)
	assert.Equal(t, time.Hour, cfg.Store.TTL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyDefaults_Nil(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}

//Personal.AI order the ending
