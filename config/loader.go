// =============================================================================
// 📦 dynbatch 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("DYNBATCH").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/markovalexander/dynamic-batching-tg/internal/circuitbreaker"
	"github.com/markovalexander/dynamic-batching-tg/internal/retry"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 dynbatch 的完整配置结构
type Config struct {
	// Server 路由 HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Batch 动态批处理配置
	Batch BatchConfig `yaml:"batch" env:"BATCH"`

	// Backend 回复后端（gRPC）配置
	Backend BackendConfig `yaml:"backend" env:"BACKEND"`

	// Bot 聊天机器人配置
	Bot BotConfig `yaml:"bot" env:"BOT"`

	// Launcher 进程编排配置
	Launcher LauncherConfig `yaml:"launcher" env:"LAUNCHER"`

	// Redis 幂等缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 批次历史存储配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 路由 HTTP 服务配置
type ServerConfig struct {
	// 监听主机
	Host string `yaml:"host" env:"HOST"`
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 单个 /process_message 请求的最长等待时间
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// 每秒请求数限制，0 表示不限流
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// BatchConfig 动态批处理配置
type BatchConfig struct {
	// 唤醒后的聚合窗口
	Window time.Duration `yaml:"window" env:"WINDOW"`
	// 单批最大请求数，0 表示不限制
	MaxBatchSize int `yaml:"max_batch_size" env:"MAX_BATCH_SIZE"`
	// Queue Actor mailbox 容量
	MailboxSize int `yaml:"mailbox_size" env:"MAILBOX_SIZE"`
	// 单次后端调用超时
	BackendTimeout time.Duration `yaml:"backend_timeout" env:"BACKEND_TIMEOUT"`
	// 后端调用重试策略
	Retry retry.Policy `yaml:"retry" env:"RETRY"`
}

// BackendConfig 回复后端配置
type BackendConfig struct {
	// 路由连接的后端地址
	Address string `yaml:"address" env:"ADDRESS"`
	// 后端服务监听端口
	Port int `yaml:"port" env:"PORT"`
	// 等待连接 READY 的超时
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	// 回显生成器的模拟处理耗时
	EchoDelay time.Duration `yaml:"echo_delay" env:"ECHO_DELAY"`
	// 是否注册 gRPC reflection
	EnableReflection bool `yaml:"enable_reflection" env:"ENABLE_REFLECTION"`
	// 熔断配置
	Breaker circuitbreaker.Config `yaml:"breaker" env:"BREAKER"`
}

// BotConfig 聊天机器人配置
type BotConfig struct {
	// 传输方式: telegram, websocket
	Transport string `yaml:"transport" env:"TRANSPORT"`
	// 路由服务地址
	RouterURL string `yaml:"router_url" env:"ROUTER_URL"`
	// Telegram Bot Token
	TelegramToken string `yaml:"telegram_token" env:"TELEGRAM_TOKEN"`
	// Telegram Bot API 地址
	TelegramAPIURL string `yaml:"telegram_api_url" env:"TELEGRAM_API_URL"`
	// 长轮询超时
	PollTimeout time.Duration `yaml:"poll_timeout" env:"POLL_TIMEOUT"`
	// WebSocket 监听地址
	WebSocketAddr string `yaml:"websocket_addr" env:"WEBSOCKET_ADDR"`
	// 调用路由的超时
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// 每个会话每秒消息数
	ChatRateLimit float64 `yaml:"chat_rate_limit" env:"CHAT_RATE_LIMIT"`
	// 每个会话突发消息数
	ChatBurst int `yaml:"chat_burst" env:"CHAT_BURST"`
}

// LauncherConfig 进程编排配置
type LauncherConfig struct {
	// 子进程可执行文件，空表示当前程序
	Binary string `yaml:"binary" env:"BINARY"`
	// 启动后端后等待多久再启动路由
	StartDelay time.Duration `yaml:"start_delay" env:"START_DELAY"`
	// SIGTERM 后等待多久发送 SIGKILL
	GracePeriod time.Duration `yaml:"grace_period" env:"GRACE_PERIOD"`
	// 存活检查间隔
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用；关闭时幂等缓存使用内存实现
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 是否使用 TLS 连接
	TLS bool `yaml:"tls" env:"TLS"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 幂等键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 幂等结果保留时间
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl" env:"IDEMPOTENCY_TTL"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 是否记录批次历史
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 驱动类型: sqlite, postgres, mysql
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 保留的历史记录条数，0 表示不清理
	RetainRecords int `yaml:"retain_records" env:"RETAIN_RECORDS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "DYNBATCH",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置；文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段，键名为 PREFIX_SECTION_FIELD
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	validPort := func(name string, port int) {
		if port <= 0 || port > 65535 {
			errs = append(errs, "invalid "+name)
		}
	}
	validPort("HTTP port", c.Server.HTTPPort)
	validPort("metrics port", c.Server.MetricsPort)
	validPort("backend port", c.Backend.Port)

	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, "request_timeout must be positive")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "rate_limit_rps must not be negative")
	}

	if c.Batch.Window <= 0 {
		errs = append(errs, "batch window must be positive")
	}
	if c.Batch.MaxBatchSize < 0 {
		errs = append(errs, "max_batch_size must not be negative")
	}
	if c.Batch.MailboxSize <= 0 {
		errs = append(errs, "mailbox_size must be positive")
	}
	if c.Batch.Retry.MaxRetries < 0 {
		errs = append(errs, "retry max_retries must not be negative")
	}

	if c.Backend.Address == "" {
		errs = append(errs, "backend address is required")
	}

	switch c.Bot.Transport {
	case "telegram", "websocket":
	default:
		errs = append(errs, fmt.Sprintf("unknown bot transport %q", c.Bot.Transport))
	}
	if c.Bot.ChatRateLimit < 0 {
		errs = append(errs, "chat_rate_limit must not be negative")
	}

	if c.Database.Enabled {
		switch c.Database.Driver {
		case "sqlite", "postgres", "mysql":
		default:
			errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// HTTPAddr 返回路由 HTTP 监听地址
func (s *ServerConfig) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

// MetricsAddr 返回 metrics 监听地址
func (s *ServerConfig) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.MetricsPort)
}
