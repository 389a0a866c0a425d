package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/markovalexander/dynamic-batching-tg/config"
	"github.com/markovalexander/dynamic-batching-tg/internal/server"
	"github.com/markovalexander/dynamic-batching-tg/internal/telemetry"
	"github.com/markovalexander/dynamic-batching-tg/reply"
)

// =============================================================================
// 📡 server 命令：gRPC 回复后端
// =============================================================================

func runBackend(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	port := fs.Int("port", 0, "gRPC listen port")
	echoDelay := fs.Duration("echo-delay", -1, "Simulated processing time per batch")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath, func(cfg *config.Config) {
		if *port > 0 {
			cfg.Backend.Port = *port
		}
		if *echoDelay >= 0 {
			cfg.Backend.EchoDelay = *echoDelay
		}
	})

	logger, _ := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting dynbatch reply backend",
		zap.String("version", Version),
		zap.Int("port", cfg.Backend.Port),
		zap.Duration("echo_delay", cfg.Backend.EchoDelay),
	)

	providers, err := telemetry.Init(cfg.Telemetry, "backend", logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = serveBackend(ctx, cfg, reply.EchoGenerator{Delay: cfg.Backend.EchoDelay}, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if providers != nil {
		_ = providers.Shutdown(shutdownCtx)
	}

	if err != nil {
		logger.Error("reply backend stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("dynbatch reply backend stopped")
}

// serveBackend 注册 ReplyService 并阻塞直到 ctx 结束
func serveBackend(ctx context.Context, cfg *config.Config, generator reply.Generator, logger *zap.Logger) error {
	grpcCfg := server.DefaultGRPCConfig()
	grpcCfg.Addr = fmt.Sprintf(":%d", cfg.Backend.Port)
	grpcCfg.EnableReflection = cfg.Backend.EnableReflection
	grpcCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout

	mgr := server.NewGRPCManager(grpcCfg, logger)
	reply.RegisterReplyServiceServer(mgr.Server(), reply.NewServer(generator, logger))
	mgr.SetServing(reply.ServiceName, true)
	mgr.SetServing("", true)

	return mgr.Run(ctx)
}
