package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	// Each sub-config should be non-zero
	assert.NotZero(t, cfg.Server)
	assert.NotZero(t, cfg.Batch)
	assert.NotZero(t, cfg.Backend)
	assert.NotZero(t, cfg.Bot)
	assert.NotZero(t, cfg.Launcher)
	assert.NotZero(t, cfg.Redis)
	assert.NotZero(t, cfg.Database)
	assert.NotZero(t, cfg.Log)
	assert.NotZero(t, cfg.Telemetry)

	assert.NoError(t, cfg.Validate())
}

// --- Individual Default*Config functions ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 10*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 40*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.InDelta(t, 100, cfg.RateLimitRPS, 0.001)
	assert.Equal(t, 200, cfg.RateLimitBurst)
}

func TestDefaultBatchConfig(t *testing.T) {
	cfg := DefaultBatchConfig()
	assert.Equal(t, 2*time.Second, cfg.Window)
	assert.Equal(t, 0, cfg.MaxBatchSize, "unbounded by default")
	assert.Equal(t, 1024, cfg.MailboxSize)
	assert.Equal(t, 30*time.Second, cfg.BackendTimeout)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.InitialDelay)
}

func TestDefaultBackendConfig(t *testing.T) {
	cfg := DefaultBackendConfig()
	assert.Equal(t, "127.0.0.1:50051", cfg.Address)
	assert.Equal(t, 50051, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	assert.Zero(t, cfg.EchoDelay)
	assert.True(t, cfg.EnableReflection)
	assert.Equal(t, 5, cfg.Breaker.Threshold)
	assert.Equal(t, 10*time.Second, cfg.Breaker.ResetTimeout)
}

func TestDefaultBotConfig(t *testing.T) {
	cfg := DefaultBotConfig()
	assert.Equal(t, "telegram", cfg.Transport)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.RouterURL)
	assert.Empty(t, cfg.TelegramToken)
	assert.Equal(t, "https://api.telegram.org", cfg.TelegramAPIURL)
	assert.Equal(t, 30*time.Second, cfg.PollTimeout)
	assert.Equal(t, 35*time.Second, cfg.RequestTimeout)
	assert.InDelta(t, 1, cfg.ChatRateLimit, 0.001)
	assert.Equal(t, 3, cfg.ChatBurst)
}

func TestDefaultLauncherConfig(t *testing.T) {
	cfg := DefaultLauncherConfig()
	assert.Empty(t, cfg.Binary)
	assert.Equal(t, 100*time.Millisecond, cfg.StartDelay)
	assert.Equal(t, 100*time.Millisecond, cfg.GracePeriod)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 2, cfg.MinIdleConns)
	assert.Equal(t, "dynbatch:idempotency:", cfg.KeyPrefix)
	assert.Equal(t, 10*time.Minute, cfg.IdempotencyTTL)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, "dynbatch.db", cfg.Name)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 10, cfg.MaxOpenConns)
	assert.Equal(t, 2, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 10000, cfg.RetainRecords)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "dynbatch", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}
