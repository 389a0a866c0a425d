package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/markovalexander/dynamic-batching-tg/launcher"
)

// =============================================================================
// 🚀 launch 命令：以子进程方式启动 server → router → bot
// =============================================================================

func runLaunch(args []string) {
	fs := flag.NewFlagSet("launch", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (passed to every child)")
	replyHost := fs.String("reply-server-address", "127.0.0.1", "Router listen host")
	replyPort := fs.Int("reply-server-port", 8080, "Router listen port")
	grpcPort := fs.Int("grpc-port", 50051, "Reply backend port")
	token := fs.String("tg-token", os.Getenv("TG_TOKEN"), "Telegram bot token (or TG_TOKEN)")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath, nil)
	logger, _ := initLogger(cfg.Log)
	defer logger.Sync()

	binary := cfg.Launcher.Binary
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			logger.Error("cannot resolve own executable", zap.Error(err))
			_ = logger.Sync()
			os.Exit(1)
		}
		binary = self
	}

	routerAddr := net.JoinHostPort(*replyHost, strconv.Itoa(*replyPort))
	common := []string{}
	if *configPath != "" {
		common = append(common, "--config", *configPath)
	}

	botCmd := launcher.Command{
		Name: "bot",
		Path: binary,
		Args: append([]string{"bot", "--reply-server-address", routerAddr}, common...),
	}
	// token 走环境变量，不出现在进程参数里
	if *token != "" {
		botCmd.Env = []string{"DYNBATCH_BOT_TELEGRAM_TOKEN=" + *token}
	}

	l := launcher.New(launcher.Config{
		Backend: launcher.Command{
			Name: "server",
			Path: binary,
			Args: append([]string{"server", "--port", strconv.Itoa(*grpcPort)}, common...),
		},
		Router: launcher.Command{
			Name: "router",
			Path: binary,
			Args: append([]string{"router",
				"--address", routerAddr,
				"--grpc-address", fmt.Sprintf("127.0.0.1:%d", *grpcPort),
			}, common...),
		},
		Bot:          botCmd,
		StartDelay:   cfg.Launcher.StartDelay,
		GracePeriod:  cfg.Launcher.GracePeriod,
		PollInterval: cfg.Launcher.PollInterval,
	}, logger)

	logger.Info("launcher started",
		zap.String("binary", binary),
		zap.String("router_addr", routerAddr),
		zap.Int("grpc_port", *grpcPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := l.Run(ctx); err != nil {
		if errors.Is(err, launcher.ErrCanaryDied) {
			logger.Error("bot died, everything was shut down", zap.Error(err))
		} else {
			logger.Error("launcher failed", zap.Error(err))
		}
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("launcher stopped")
}
