package launcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrCanaryDied 机器人进程退出，整组进程被关闭
var ErrCanaryDied = errors.New("bot process exited")

// Config 编排配置
type Config struct {
	Backend Command
	Router  Command
	Bot     Command

	// StartDelay 后端启动后到路由启动前的等待
	StartDelay time.Duration
	// GracePeriod SIGTERM 到 SIGKILL 之间的宽限期
	GracePeriod time.Duration
	// PollInterval 机器人存活检查间隔
	PollInterval time.Duration
}

// Launcher 按 backend → router → bot 顺序启动三个进程。
// 机器人是存活探针：它一旦退出就关闭全部进程并返回 ErrCanaryDied。
type Launcher struct {
	cfg    Config
	logger *zap.Logger

	backend *Process
	router  *Process
	bot     *Process
}

// New 创建编排器
func New(cfg Config, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 100 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	logger = logger.With(zap.String("component", "launcher"))
	return &Launcher{
		cfg:     cfg,
		logger:  logger,
		backend: NewProcess(cfg.Backend, logger),
		router:  NewProcess(cfg.Router, logger),
		bot:     NewProcess(cfg.Bot, logger),
	}
}

// Processes 按启动顺序返回子进程
func (l *Launcher) Processes() []*Process {
	return []*Process{l.backend, l.router, l.bot}
}

// Run 启动所有进程并阻塞。ctx 结束时按 bot → router → backend 顺序停止并返回 nil。
func (l *Launcher) Run(ctx context.Context) error {
	if err := l.backend.Start(); err != nil {
		return err
	}

	select {
	case <-time.After(l.cfg.StartDelay):
	case <-ctx.Done():
		l.stopAll()
		return nil
	}

	if err := l.router.Start(); err != nil {
		l.stopAll()
		return err
	}
	if err := l.bot.Start(); err != nil {
		l.stopAll()
		return err
	}
	l.logger.Info("everything is up and running")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.watchCanary(gctx) })
	for _, p := range []*Process{l.backend, l.router} {
		g.Go(func() error {
			select {
			case <-p.Done():
				l.logger.Error("process exited unexpectedly",
					zap.String("process", p.Name()),
					zap.Int("exit_code", p.ExitCode()),
					zap.Error(p.Err()))
			case <-gctx.Done():
			}
			return nil
		})
	}

	err := g.Wait()
	l.stopAll()
	return err
}

func (l *Launcher) watchCanary(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if l.bot.Exited() {
				l.logger.Error("bot has died, shutting down",
					zap.Int("exit_code", l.bot.ExitCode()),
					zap.Error(l.bot.Err()))
				return fmt.Errorf("%w (exit code %d)", ErrCanaryDied, l.bot.ExitCode())
			}
		}
	}
}

// stopAll 先停非关键进程
func (l *Launcher) stopAll() {
	for _, p := range []*Process{l.bot, l.router, l.backend} {
		if p.State() == StateIdle {
			continue
		}
		forced, err := p.Stop(l.cfg.GracePeriod)
		if err != nil {
			l.logger.Error("failed to stop process", zap.String("process", p.Name()), zap.Error(err))
			continue
		}
		l.logger.Info("process stopped", zap.String("process", p.Name()), zap.Bool("forced", forced))
	}
}
