// =============================================================================
// dynbatch 主入口
// =============================================================================
// 一个二进制，多个角色：
//
//	dynbatch router                   # 动态批处理路由（HTTP → gRPC 后端）
//	dynbatch server                   # 回复后端（gRPC ReplyService）
//	dynbatch bot                      # 聊天机器人（Telegram / WebSocket）
//	dynbatch launch                   # 按顺序启动以上三个进程并监管
//	dynbatch version                  # 显示版本信息
//	dynbatch health                   # 健康检查
// =============================================================================

package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/markovalexander/dynamic-batching-tg/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "router":
		runRouter(os.Args[2:])
	case "server":
		runBackend(os.Args[2:])
	case "bot":
		runBot(os.Args[2:])
	case "launch":
		runLaunch(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// loadConfig 加载并校验配置，失败直接退出
func loadConfig(path string, override func(*config.Config)) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 命令行参数优先级最高
	if override != nil {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// overrideHostPort 把 host:port 拆分写入配置，解析失败直接退出
func overrideHostPort(addr string, host *string, port *int) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid address %q: %v\n", addr, err)
		os.Exit(1)
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid port in %q: %v\n", addr, err)
		os.Exit(1)
	}
	if h != "" {
		*host = h
	}
	*port = n
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://127.0.0.1:8080", "Router address")
	endpoint := fs.String("endpoint", "/health", "Health endpoint (/health or /ready)")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(*addr, "/") + *endpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("dynbatch %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`dynbatch - dynamic batching reply service

Usage:
  dynbatch <command> [options]

Commands:
  router    Start the batching router (HTTP API in front of the reply backend)
  server    Start the gRPC reply backend
  bot       Start the chat bot (telegram or websocket transport)
  launch    Start backend, router and bot as supervised child processes
  version   Show version information
  health    Check router health
  migrate   Manage the batch history schema (see 'dynbatch migrate help')
  help      Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)

Options for 'router':
  --address <host:port>        HTTP listen address
  --grpc-address <host:port>   Reply backend address
  --metrics-address <host:port>

Options for 'server':
  --port <port>                gRPC listen port
  --echo-delay <duration>      Simulated processing time per batch

Options for 'bot':
  --reply-server-address <host:port>
  --tg-token <token>           Telegram bot token (or TG_TOKEN)
  --transport <telegram|websocket>

Options for 'launch':
  --reply-server-address <host>
  --reply-server-port <port>
  --grpc-port <port>
  --tg-token <token>           Telegram bot token (or TG_TOKEN)

Examples:
  dynbatch launch --tg-token $TG_TOKEN
  dynbatch router --config /etc/dynbatch/config.yaml
  dynbatch bot --transport websocket
  dynbatch health --addr http://127.0.0.1:8080 --endpoint /ready
  dynbatch migrate up --config /etc/dynbatch/config.yaml
  dynbatch version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// initLogger 按配置构建 logger，返回的 AtomicLevel 用于热重载日志级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       cfg.Format == "console",
		Encoding:          "json",
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger, level
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
