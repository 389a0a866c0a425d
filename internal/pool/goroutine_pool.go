// Package pool 提供有界并发的 goroutine 池，聊天机器人用它并发处理会话消息。
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task 一个工作单元
type Task func(ctx context.Context) error

// Config 池配置
type Config struct {
	MaxWorkers  int           `yaml:"max_workers" json:"max_workers"`
	QueueSize   int           `yaml:"queue_size" json:"queue_size"`
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  64,
		QueueSize:   1024,
		IdleTimeout: 30 * time.Second,
	}
}

// Pool 按需伸缩的 worker 池，空闲 worker 超时退出（至少保留一个）
type Pool struct {
	config Config
	tasks  chan job
	logger *zap.Logger

	// mu 保护 tasks 的关闭，Submit 持读锁
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	workers   atomic.Int32
	active    atomic.Int32
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

type job struct {
	task Task
	ctx  context.Context
}

// New 创建池
func New(config Config, logger *zap.Logger) *Pool {
	def := DefaultConfig()
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = def.MaxWorkers
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		config: config,
		tasks:  make(chan job, config.QueueSize),
		logger: logger.With(zap.String("component", "worker_pool")),
	}
}

// Submit 非阻塞提交；队列满且无法扩容时返回 ErrPoolFull
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.submitted.Add(1)
	p.ensureWorker()

	select {
	case p.tasks <- job{task: task, ctx: ctx}:
		return nil
	default:
	}

	if p.trySpawnWorker() {
		select {
		case p.tasks <- job{task: task, ctx: ctx}:
			return nil
		default:
		}
	}
	p.rejected.Add(1)
	return ErrPoolFull
}

func (p *Pool) ensureWorker() {
	if p.workers.Load() == 0 || (len(p.tasks) > 0 && p.workers.Load() < int32(p.config.MaxWorkers)) {
		p.trySpawnWorker()
	}
}

func (p *Pool) trySpawnWorker() bool {
	for {
		current := p.workers.Load()
		if current >= int32(p.config.MaxWorkers) {
			return false
		}
		if p.workers.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	timer := time.NewTimer(p.config.IdleTimeout)
	defer timer.Stop()

	for {
		select {
		case j, ok := <-p.tasks:
			if !ok {
				p.workers.Add(-1)
				return
			}
			p.active.Add(1)
			err := p.execute(j)
			p.active.Add(-1)
			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}
			timer.Reset(p.config.IdleTimeout)

		case <-timer.C:
			// 至少保留一个 worker，CAS 保证并发退出时不会减到 0
			if cur := p.workers.Load(); cur > 1 && p.workers.CompareAndSwap(cur, cur-1) {
				return
			}
			timer.Reset(p.config.IdleTimeout)
		}
	}
}

func (p *Pool) execute(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.Any("panic", r))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return j.task(j.ctx)
}

// Close 停止接收任务，等待已排队任务执行完
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats 返回池统计
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   int(p.workers.Load()),
		Active:    int(p.active.Load()),
		Queued:    len(p.tasks),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Stats 池统计
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
