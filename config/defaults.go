// =============================================================================
// 📦 dynbatch 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/markovalexander/dynamic-batching-tg/internal/circuitbreaker"
	"github.com/markovalexander/dynamic-batching-tg/internal/retry"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Batch:     DefaultBatchConfig(),
		Backend:   DefaultBackendConfig(),
		Bot:       DefaultBotConfig(),
		Launcher:  DefaultLauncherConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "127.0.0.1",
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    40 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RequestTimeout:  30 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultBatchConfig 返回默认批处理配置
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Window:         2 * time.Second,
		MaxBatchSize:   0,
		MailboxSize:    1024,
		BackendTimeout: 30 * time.Second,
		Retry:          *retry.DefaultPolicy(),
	}
}

// DefaultBackendConfig 返回默认后端配置
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		Address:          "127.0.0.1:50051",
		Port:             50051,
		DialTimeout:      5 * time.Second,
		EchoDelay:        0,
		EnableReflection: true,
		Breaker:          *circuitbreaker.DefaultConfig(),
	}
}

// DefaultBotConfig 返回默认聊天机器人配置
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Transport:      "telegram",
		RouterURL:      "http://127.0.0.1:8080",
		TelegramAPIURL: "https://api.telegram.org",
		PollTimeout:    30 * time.Second,
		WebSocketAddr:  "127.0.0.1:8090",
		RequestTimeout: 35 * time.Second,
		ChatRateLimit:  1,
		ChatBurst:      3,
	}
}

// DefaultLauncherConfig 返回默认编排配置
func DefaultLauncherConfig() LauncherConfig {
	return LauncherConfig{
		StartDelay:   100 * time.Millisecond,
		GracePeriod:  100 * time.Millisecond,
		PollInterval: 100 * time.Millisecond,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:        false,
		Addr:           "localhost:6379",
		Password:       "",
		DB:             0,
		PoolSize:       10,
		MinIdleConns:   2,
		KeyPrefix:      "dynbatch:idempotency:",
		IdempotencyTTL: 10 * time.Minute,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Enabled:         true,
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "dynbatch",
		Password:        "",
		Name:            "dynbatch.db",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		RetainRecords:   10000,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "dynbatch",
		SampleRate:   0.1,
	}
}
