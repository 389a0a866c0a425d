package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markovalexander/dynamic-batching-tg/api/handlers"
	"github.com/markovalexander/dynamic-batching-tg/batch"
	"github.com/markovalexander/dynamic-batching-tg/config"
	"github.com/markovalexander/dynamic-batching-tg/internal/circuitbreaker"
	"github.com/markovalexander/dynamic-batching-tg/internal/database"
	"github.com/markovalexander/dynamic-batching-tg/internal/history"
	"github.com/markovalexander/dynamic-batching-tg/internal/idempotency"
	"github.com/markovalexander/dynamic-batching-tg/internal/metrics"
	"github.com/markovalexander/dynamic-batching-tg/internal/migration"
	"github.com/markovalexander/dynamic-batching-tg/internal/server"
	"github.com/markovalexander/dynamic-batching-tg/internal/telemetry"
	"github.com/markovalexander/dynamic-batching-tg/reply"
)

// =============================================================================
// 🖥️ router 命令
// =============================================================================

func runRouter(args []string) {
	fs := flag.NewFlagSet("router", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	address := fs.String("address", "", "HTTP listen address (host:port)")
	grpcAddress := fs.String("grpc-address", "", "Reply backend address (host:port)")
	metricsAddress := fs.String("metrics-address", "", "Metrics listen address (host:port)")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath, func(cfg *config.Config) {
		if *address != "" {
			overrideHostPort(*address, &cfg.Server.Host, &cfg.Server.HTTPPort)
		}
		if *metricsAddress != "" {
			var host string
			overrideHostPort(*metricsAddress, &host, &cfg.Server.MetricsPort)
		}
		if *grpcAddress != "" {
			cfg.Backend.Address = *grpcAddress
		}
	})

	logger, level := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting dynbatch router",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newRouterApp(cfg, *configPath, logger, level)
	if err := app.init(ctx); err != nil {
		// 后端不可达时路由不启动
		logger.Error("router startup failed", zap.Error(err))
		app.cleanup()
		_ = logger.Sync()
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("router stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("dynbatch router stopped")
}

// routerApp 组装路由进程的全部组件
type routerApp struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel

	providers   *telemetry.Providers
	collector   *metrics.Collector
	backend     *reply.Client
	dbPool      *database.PoolManager
	history     *history.Store
	idempotency idempotency.Manager
	processor   *batch.Processor
	limiter     *RateLimiter
	reloader    *config.Reloader

	health         *handlers.HealthHandler
	httpManager    *server.Manager
	metricsManager *server.Manager
}

func newRouterApp(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) *routerApp {
	return &routerApp{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		level:      level,
	}
}

// =============================================================================
// 🔧 初始化
// =============================================================================

func (a *routerApp) init(ctx context.Context) error {
	var err error

	// 1. 遥测（失败只告警）
	a.providers, err = telemetry.Init(a.cfg.Telemetry, "router", a.logger)
	if err != nil {
		a.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	// 2. 指标（注册到默认 registry，进程内只创建一次）
	if a.collector == nil {
		a.collector = metrics.NewCollector("dynbatch", a.logger)
	}

	// 3. 后端连接，熔断状态变化计入指标
	breaker := a.cfg.Backend.Breaker
	breaker.OnStateChange = func(from, to circuitbreaker.State) {
		a.collector.RecordBreakerTransition(from.String(), to.String())
	}
	a.backend, err = reply.Dial(ctx, reply.ClientConfig{
		Address:     a.cfg.Backend.Address,
		DialTimeout: a.cfg.Backend.DialTimeout,
		Breaker:     &breaker,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("connect reply backend: %w", err)
	}
	a.logger.Info("connected to reply backend", zap.String("address", a.cfg.Backend.Address))

	// 4. 批次历史（可选）
	a.initHistory(ctx)

	// 5. 幂等缓存：Redis 不可用时退回内存
	a.idempotency, err = idempotency.NewFromConfig(ctx, a.cfg.Redis, a.logger)
	if err != nil {
		a.logger.Warn("redis unavailable, using in-memory idempotency cache", zap.Error(err))
		a.idempotency = idempotency.NewMemoryManager(a.logger)
	}

	// 6. 批处理器
	opts := []batch.Option{batch.WithObserver(a.collector)}
	if instruments, err := telemetry.NewBatchInstruments(nil); err != nil {
		a.logger.Warn("failed to create otel batch instruments", zap.Error(err))
	} else {
		opts = append(opts, batch.WithObserver(instruments))
	}
	if a.history != nil {
		opts = append(opts, batch.WithObserver(a.history))
	}
	retryPolicy := a.cfg.Batch.Retry
	a.processor = batch.NewProcessor(batch.Config{
		Window:         a.cfg.Batch.Window,
		MaxBatchSize:   a.cfg.Batch.MaxBatchSize,
		MailboxSize:    a.cfg.Batch.MailboxSize,
		BackendTimeout: a.cfg.Batch.BackendTimeout,
		Retry:          &retryPolicy,
	}, a.backend, a.logger, opts...)

	// 7. 限流与热重载
	a.limiter = NewRateLimiter(a.cfg.Server.RateLimitRPS, a.cfg.Server.RateLimitBurst, a.logger)
	a.reloader = config.NewReloader(a.cfg, a.configPath, a.logger)
	a.reloader.OnReload(a.applyReload)

	// 8. HTTP 与 metrics 服务
	a.httpManager = server.NewManager(a.handler(), server.Config{
		Addr:            a.cfg.Server.HTTPAddr(),
		ReadTimeout:     a.cfg.Server.ReadTimeout,
		WriteTimeout:    a.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * a.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
	}, a.logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	a.metricsManager = server.NewManager(metricsMux, server.Config{
		Addr:            a.cfg.Server.MetricsAddr(),
		ReadTimeout:     a.cfg.Server.ReadTimeout,
		WriteTimeout:    a.cfg.Server.ReadTimeout,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
	}, a.logger)

	return nil
}

func (a *routerApp) initHistory(ctx context.Context) {
	if !a.cfg.Database.Enabled {
		a.logger.Info("batch history disabled")
		return
	}

	// 版本化迁移优先；内存库或迁移失败时交给 AutoMigrate
	managed := false
	if _, err := migration.Apply(ctx, a.cfg.Database, a.logger); err != nil {
		if errors.Is(err, migration.ErrInMemoryDatabase) {
			a.logger.Debug("in-memory history database, using auto migration")
		} else {
			a.logger.Warn("schema migration failed, falling back to auto migration", zap.Error(err))
		}
	} else {
		managed = true
	}

	pool, err := database.Open(a.cfg.Database, a.logger)
	if err != nil {
		a.logger.Warn("database not available, batch history disabled", zap.Error(err))
		return
	}
	store, err := history.NewStore(pool, history.Options{
		Driver:        a.cfg.Database.Driver,
		Retain:        a.cfg.Database.RetainRecords,
		Recorder:      a.collector,
		SchemaManaged: managed,
	}, a.logger)
	if err != nil {
		a.logger.Warn("failed to prepare batch history, disabled", zap.Error(err))
		_ = pool.Close()
		return
	}
	a.dbPool = pool
	a.history = store
}

// handler 构建路由与中间件链
func (a *routerApp) handler() http.Handler {
	process := handlers.NewProcessHandler(a.processor, a.cfg.Server.RequestTimeout, a.logger,
		handlers.WithIdempotency(a.idempotency, a.cfg.Redis.IdempotencyTTL),
		handlers.WithProcessMetrics(a.collector),
	)

	// 历史关闭时必须传 nil 接口
	var hist handlers.HistoryReader
	if a.history != nil {
		hist = a.history
	}
	batches := handlers.NewBatchesHandler(a.processor, hist, a.logger)

	a.health = handlers.NewHealthHandler(a.processor, a.logger)
	a.health.RegisterCheck(handlers.NewBackendHealthCheck(a.backend))
	if a.dbPool != nil {
		// 历史库故障不影响批处理
		a.health.RegisterOptionalCheck(handlers.NewFuncCheck("database", a.dbPool.Ping))
	}
	if a.idempotency != nil {
		a.health.RegisterOptionalCheck(handlers.NewFuncCheck("idempotency", a.idempotency.Ping))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/process_message", process.HandleProcess)
	mux.HandleFunc("GET /api/v1/stats", batches.HandleStats)
	mux.HandleFunc("GET /api/v1/batches", batches.HandleList)
	mux.HandleFunc("GET /api/v1/batches/{id}", batches.HandleGet)

	mux.HandleFunc("/health", a.health.HandleHealth)
	mux.HandleFunc("/healthz", a.health.HandleHealthz)
	mux.HandleFunc("/ready", a.health.HandleReady)
	mux.HandleFunc("/readyz", a.health.HandleReady)
	mux.HandleFunc("/version", a.health.HandleVersion(Version, BuildTime, GitCommit))

	return Chain(mux,
		Recovery(a.logger),
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		MetricsMiddleware(a.collector),
		RequestLogger(a.logger),
		a.limiter.Middleware(),
	)
}

// applyReload 只应用运行期可调整的字段
func (a *routerApp) applyReload(prev, next *config.Config) {
	if prev.Log.Level != next.Log.Level {
		a.level.SetLevel(parseLevel(next.Log.Level))
		a.logger.Info("log level changed", zap.String("level", next.Log.Level))
	}
	if prev.Server.RateLimitRPS != next.Server.RateLimitRPS || prev.Server.RateLimitBurst != next.Server.RateLimitBurst {
		a.limiter.SetLimit(next.Server.RateLimitRPS, next.Server.RateLimitBurst)
	}
	if prev.Batch.Window != next.Batch.Window ||
		prev.Batch.MaxBatchSize != next.Batch.MaxBatchSize ||
		prev.Backend.Address != next.Backend.Address {
		a.logger.Warn("batch/backend settings changed, restart required to apply")
	}
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run 阻塞直到 ctx 结束或某个服务失败，然后按依赖顺序关闭
func (a *routerApp) Run(ctx context.Context) error {
	// 历史写入在处理器关闭之后才停止，保证最后一批也能落库
	histCtx, histCancel := context.WithCancel(context.Background())
	histDone := make(chan struct{})
	if a.history != nil {
		go func() {
			defer close(histDone)
			_ = a.history.Run(histCtx)
		}()
	} else {
		close(histDone)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.httpManager.Run(gctx) })
	g.Go(func() error { return a.metricsManager.Run(gctx) })
	g.Go(func() error { return a.reloader.Run(gctx) })
	g.Go(func() error { return a.limiter.Run(gctx) })

	a.logger.Info("router started",
		zap.String("http_addr", a.cfg.Server.HTTPAddr()),
		zap.String("metrics_addr", a.cfg.Server.MetricsAddr()),
		zap.Duration("batch_window", a.cfg.Batch.Window),
		zap.Bool("history_enabled", a.history != nil),
		zap.Bool("hot_reload_enabled", a.configPath != ""),
	)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	a.logger.Info("starting graceful shutdown")
	a.processor.Close()
	histCancel()
	<-histDone
	a.cleanup()
	a.logger.Info("graceful shutdown completed")
	return err
}

// cleanup 释放外部资源，可在部分初始化失败后调用
func (a *routerApp) cleanup() {
	if a.idempotency != nil {
		if err := a.idempotency.Close(); err != nil {
			a.logger.Warn("idempotency cache close error", zap.Error(err))
		}
	}
	if a.dbPool != nil {
		if err := a.dbPool.Close(); err != nil {
			a.logger.Warn("database close error", zap.Error(err))
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Warn("backend connection close error", zap.Error(err))
		}
	}
	if a.providers != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.providers.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown error", zap.Error(err))
		}
	}
}
