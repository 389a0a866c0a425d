package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/markovalexander/dynamic-batching-tg/chatbot"
	"github.com/markovalexander/dynamic-batching-tg/config"
	"github.com/markovalexander/dynamic-batching-tg/internal/metrics"
	"github.com/markovalexander/dynamic-batching-tg/internal/pool"
)

// =============================================================================
// 🤖 bot 命令
// =============================================================================

var errMissingToken = errors.New("telegram token is required (--tg-token, TG_TOKEN or bot.telegram_token)")

func runBot(args []string) {
	fs := flag.NewFlagSet("bot", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	routerAddr := fs.String("reply-server-address", "", "Router address (host:port or URL)")
	token := fs.String("tg-token", "", "Telegram bot token (falls back to TG_TOKEN)")
	transport := fs.String("transport", "", "Chat transport: telegram or websocket")
	wsAddr := fs.String("websocket-address", "", "WebSocket listen address")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath, func(cfg *config.Config) {
		if *routerAddr != "" {
			cfg.Bot.RouterURL = *routerAddr
		}
		if *transport != "" {
			cfg.Bot.Transport = *transport
		}
		if *wsAddr != "" {
			cfg.Bot.WebSocketAddr = *wsAddr
		}
		switch {
		case *token != "":
			cfg.Bot.TelegramToken = *token
		case cfg.Bot.TelegramToken == "":
			cfg.Bot.TelegramToken = os.Getenv("TG_TOKEN")
		}
	})

	logger, _ := initLogger(cfg.Log)
	defer logger.Sync()

	tr, err := newTransport(cfg.Bot, logger)
	if err != nil {
		logger.Error("failed to create chat transport", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}

	logger.Info("starting dynbatch bot",
		zap.String("version", Version),
		zap.String("transport", tr.Name()),
		zap.String("router", cfg.Bot.RouterURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector("dynbatch", logger)
	router := chatbot.NewRouterClient(cfg.Bot.RouterURL, cfg.Bot.RequestTimeout, logger)
	b := chatbot.New(tr, router, chatbot.Config{
		RequestTimeout: cfg.Bot.RequestTimeout,
		ChatRateLimit:  cfg.Bot.ChatRateLimit,
		ChatBurst:      cfg.Bot.ChatBurst,
		Workers:        pool.DefaultConfig(),
	}, logger, chatbot.WithMetrics(collector))

	// 机器人是启动器的存活探针，异常退出必须返回非零状态
	if err := b.Run(ctx); err != nil {
		logger.Error("bot stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("dynbatch bot stopped")
}

func newTransport(cfg config.BotConfig, logger *zap.Logger) (chatbot.Transport, error) {
	switch cfg.Transport {
	case "websocket":
		return chatbot.NewWebSocketTransport(cfg.WebSocketAddr, logger), nil
	default:
		if cfg.TelegramToken == "" {
			return nil, errMissingToken
		}
		return chatbot.NewTelegramTransport(chatbot.TelegramConfig{
			Token:       cfg.TelegramToken,
			APIURL:      cfg.TelegramAPIURL,
			PollTimeout: cfg.PollTimeout,
		}, logger), nil
	}
}
