// 配置热重载。
//
// 监听配置文件，重新加载并校验后通知订阅者。
// 只有日志级别与限流参数等运行期可调整的字段会被订阅者实际应用。
package config

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ReloadCallback 在新配置生效后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// Reloader 持有当前配置并在文件变化时刷新
type Reloader struct {
	loader  *Loader
	path    string
	logger  *zap.Logger
	watcher *FileWatcher

	mu        sync.RWMutex
	current   *Config
	callbacks []ReloadCallback
	version   int
}

// NewReloader 创建热重载器，cfg 为已加载的初始配置
func NewReloader(cfg *Config, path string, logger *zap.Logger, opts ...WatcherOption) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reloader{
		loader:  NewLoader().WithConfigPath(path),
		path:    path,
		logger:  logger.With(zap.String("component", "config_reloader")),
		current: cfg,
		version: 1,
	}
	opts = append([]WatcherOption{WithWatcherLogger(logger)}, opts...)
	r.watcher = NewFileWatcher(path, r.handleFileChange, opts...)
	return r
}

// OnReload 注册回调
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Current 返回当前配置
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Version 返回已应用的配置版本，初始为 1
func (r *Reloader) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Run 阻塞监听直到 ctx 结束
func (r *Reloader) Run(ctx context.Context) error {
	if r.path == "" {
		<-ctx.Done()
		return nil
	}
	return r.watcher.Run(ctx)
}

func (r *Reloader) handleFileChange(event FileEvent) {
	r.logger.Info("configuration file changed",
		zap.String("path", event.Path),
		zap.String("op", event.Op.String()))

	if event.Op == FileOpRemove {
		return
	}
	if err := r.Reload(); err != nil {
		r.logger.Error("failed to reload configuration, keeping current", zap.Error(err))
	}
}

// Reload 从文件重新加载；加载或校验失败时保留当前配置
func (r *Reloader) Reload() error {
	next, err := r.loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	r.mu.Lock()
	prev := r.current
	r.current = next
	r.version++
	version := r.version
	callbacks := make([]ReloadCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logger.Info("configuration reloaded", zap.Int("version", version))

	for _, cb := range callbacks {
		r.notify(cb, prev, next)
	}
	return nil
}

// notify 隔离回调 panic
func (r *Reloader) notify(cb ReloadCallback, prev, next *Config) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reload callback panicked", zap.Any("panic", rec))
		}
	}()
	cb(prev, next)
}
