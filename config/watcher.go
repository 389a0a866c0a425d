// 配置文件变更监听。
//
// 以轮询方式检测修改时间变化，并在防抖后触发回调。
package config

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileOp 文件变更类型
type FileOp int

const (
	// FileOpCreate 文件出现
	FileOpCreate FileOp = iota
	// FileOpWrite 文件被修改
	FileOpWrite
	// FileOpRemove 文件被删除
	FileOpRemove
)

// String 返回操作名称
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent 文件变更事件
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrWatcherRunning 监听器重复启动
var ErrWatcherRunning = errors.New("watcher already running")

// FileWatcher 监听单个配置文件
type FileWatcher struct {
	path          string
	interval      time.Duration
	debounceDelay time.Duration
	logger        *zap.Logger

	mu       sync.Mutex
	running  bool
	onChange func(FileEvent)

	// 仅由轮询 goroutine 访问
	lastMod time.Time
	exists  bool
}

// WatcherOption 监听器选项
type WatcherOption func(*FileWatcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithDebounceDelay 设置防抖时间
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithWatcherLogger 设置日志记录器
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewFileWatcher 创建文件监听器，文件不存在时等待其被创建
func NewFileWatcher(path string, onChange func(FileEvent), opts ...WatcherOption) *FileWatcher {
	w := &FileWatcher{
		path:          path,
		interval:      time.Second,
		debounceDelay: 100 * time.Millisecond,
		logger:        zap.NewNop(),
		onChange:      onChange,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))
	return w
}

// Run 阻塞轮询直到 ctx 结束
func (w *FileWatcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrWatcherRunning
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if info, err := os.Stat(w.path); err == nil {
		w.lastMod, w.exists = info.ModTime(), true
	} else {
		w.logger.Warn("config file does not exist, waiting for creation", zap.String("path", w.path))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var (
		pending  *FileEvent
		debounce <-chan time.Time
	)

	w.logger.Info("config watcher started",
		zap.String("path", w.path),
		zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if evt, ok := w.check(); ok {
				// 同一防抖窗口内只保留最后一次事件
				pending = &evt
				debounce = time.After(w.debounceDelay)
			}
		case <-debounce:
			debounce = nil
			if pending != nil && w.onChange != nil {
				w.logger.Debug("dispatching config event", zap.String("op", pending.Op.String()))
				w.onChange(*pending)
			}
			pending = nil
		}
	}
}

// check 比较当前文件状态与上一次观察
func (w *FileWatcher) check() (FileEvent, bool) {
	evt := FileEvent{Path: w.path, Timestamp: time.Now()}

	info, err := os.Stat(w.path)
	switch {
	case err != nil && w.exists:
		w.exists = false
		evt.Op = FileOpRemove
		return evt, true
	case err != nil:
		return evt, false
	case !w.exists:
		w.lastMod, w.exists = info.ModTime(), true
		evt.Op = FileOpCreate
		return evt, true
	case info.ModTime().After(w.lastMod):
		w.lastMod = info.ModTime()
		evt.Op = FileOpWrite
		return evt, true
	}
	return evt, false
}

// IsRunning 是否正在轮询
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Path 返回监听的路径
func (w *FileWatcher) Path() string {
	return w.path
}
