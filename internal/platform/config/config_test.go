package config_test

import (
	"testing"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/platform/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, config.StorePostgres, cfg.StoreBackend)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, 2*time.Minute, cfg.RunLeaseDuration)
	assert.Equal(t, 30*time.Second, cfg.RunHeartbeatInterval)
	assert.Equal(t, time.Hour, cfg.RunMaxDuration)
	assert.Equal(t, 10, cfg.DefaultMaxSubAccounts)
	assert.InDelta(t, 0.1, cfg.SimulatedFailureRate, 1e-9)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("RUN_LEASE_DURATION", "90s")
	t.Setenv("RUN_HEARTBEAT_INTERVAL", "15s")
	t.Setenv("RUN_MAX_DURATION", "30m")
	t.Setenv("SIMULATED_FAILURE_RATE", "0")
	t.Setenv("MIGRATION_PAGE_SIZE", "25")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, config.StoreMemory, cfg.StoreBackend)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 8, cfg.WorkerConcurrency)
	assert.Equal(t, 90*time.Second, cfg.RunLeaseDuration)
	assert.Equal(t, 15*time.Second, cfg.RunHeartbeatInterval)
	assert.Equal(t, 30*time.Minute, cfg.RunMaxDuration)
	assert.Zero(t, cfg.SimulatedFailureRate)
	assert.Equal(t, 25, cfg.MigrationPageSize)
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("STORE_BACKEND", "cassandra")
	t.Setenv("WORKER_CONCURRENCY", "-3")
	t.Setenv("RUN_MAX_DURATION", "soon")
	t.Setenv("RUN_LEASE_DURATION", "60s")
	t.Setenv("RUN_HEARTBEAT_INTERVAL", "2m")
	t.Setenv("SIMULATED_FAILURE_RATE", "1.5")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, config.StorePostgres, cfg.StoreBackend)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, time.Hour, cfg.RunMaxDuration)
	assert.Equal(t, 20*time.Second, cfg.RunHeartbeatInterval, "heartbeat must fit inside the lease")
	assert.InDelta(t, 0.1, cfg.SimulatedFailureRate, 1e-9)
}
