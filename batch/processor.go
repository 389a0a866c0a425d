package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/markovalexander/dynamic-batching-tg/internal/retry"
)

// Config 批处理器配置
type Config struct {
	Window         time.Duration `json:"window"`
	MaxBatchSize   int           `json:"max_batch_size"`
	MailboxSize    int           `json:"mailbox_size"`
	BackendTimeout time.Duration `json:"backend_timeout"`
	Retry          *retry.Policy `json:"retry"`
}

// DefaultConfig 返回默认配置：2 秒聚合窗口、批大小不设上限
func DefaultConfig() Config {
	return Config{
		Window:         2 * time.Second,
		MaxBatchSize:   0,
		MailboxSize:    1024,
		BackendTimeout: 30 * time.Second,
		Retry:          retry.DefaultPolicy(),
	}
}

// Option 处理器选项
type Option func(*Processor)

// WithObserver 追加事件观察者（指标、批次历史等）
func WithObserver(o Observer) Option {
	return func(p *Processor) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// Processor 对外的提交入口，持有一个 Queue Actor 与一个 Dispatcher
type Processor struct {
	queue      *Queue
	dispatcher *Dispatcher
	observers  Observers
	logger     *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
	done   chan struct{}

	// 计量
	submitted atomic.Int64
	batches   atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	pruned    atomic.Int64
	queued    atomic.Int64
}

// NewProcessor 创建处理器并启动派发循环
func NewProcessor(config Config, backend Backend, logger *zap.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Processor{
		logger: logger.With(zap.String("component", "batch_processor")),
		done:   make(chan struct{}),
	}
	p.observers = Observers{(*statsObserver)(p)}
	for _, opt := range opts {
		opt(p)
	}

	p.queue = NewQueue(QueueConfig{
		MaxBatchSize: config.MaxBatchSize,
		MailboxSize:  config.MailboxSize,
	}, p.observers, logger)

	p.dispatcher = NewDispatcher(p.queue, backend, DispatcherConfig{
		Window:         config.Window,
		BackendTimeout: config.BackendTimeout,
		Retry:          config.Retry,
	}, p.observers, logger)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.dispatcher.Run(ctx)
	}()

	return p
}

// SubmitAsync 入队并返回私有 Sink；ctx 结束时 Sink 视为已放弃
func (p *Processor) SubmitAsync(ctx context.Context, payload Payload) (*Sink, error) {
	if p.closed.Load() {
		return nil, ErrProcessorClosed
	}

	sink := NewSink(ctx)
	if err := p.queue.Enqueue(payload, sink); err != nil {
		if errors.Is(err, ErrQueueClosed) {
			return nil, ErrProcessorClosed
		}
		return nil, err
	}
	p.submitted.Add(1)
	return sink, nil
}

// Submit 入队并等待回复。投递的 Response 带有 Err 时同时返回该错误。
func (p *Processor) Submit(ctx context.Context, payload Payload) (*Response, error) {
	sink, err := p.SubmitAsync(ctx, payload)
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-sink.C():
		return resp, resp.Err
	case <-ctx.Done():
		sink.Abandon()
		return nil, ctx.Err()
	case <-p.done:
		// Close 可能刚刚投递了失败回复
		select {
		case resp := <-sink.C():
			return resp, resp.Err
		default:
			sink.Abandon()
			return nil, ErrProcessorClosed
		}
	}
}

// Close 停止派发循环，给仍在排队的请求投递 ErrProcessorClosed
func (p *Processor) Close() {
	if p.closed.Swap(true) {
		return
	}

	p.cancel()
	p.wg.Wait()

	remaining := p.queue.Close()
	for _, entry := range remaining {
		if entry.Sink == nil {
			continue
		}
		entry.Sink.Deliver(&Response{
			RequestID: entry.SequenceID,
			QueueTime: time.Since(entry.EnqueuedAt),
			Err:       ErrProcessorClosed,
		})
	}
	close(p.done)

	p.logger.Info("batch processor closed", zap.Int("failed_on_close", len(remaining)))
}

// Stats 返回处理器统计
func (p *Processor) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Batches:   p.batches.Load(),
		Delivered: p.delivered.Load(),
		Failed:    p.failed.Load(),
		Pruned:    p.pruned.Load(),
		Queued:    int(p.queued.Load()),
	}
}

// Stats 处理器统计
type Stats struct {
	Submitted int64 `json:"submitted"`
	Batches   int64 `json:"batches"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Pruned    int64 `json:"pruned"`
	Queued    int   `json:"queued"`
}

// BatchEfficiency 返回平均批大小
func (s Stats) BatchEfficiency() float64 {
	if s.Batches == 0 {
		return 0
	}
	return float64(s.Delivered+s.Failed) / float64(s.Batches)
}

// statsObserver 把事件累加到 Processor 的原子计数器
type statsObserver Processor

func (o *statsObserver) OnEnqueue(depth int) {
	o.queued.Store(int64(depth))
}

func (o *statsObserver) OnPrune(count int) {
	o.pruned.Add(int64(count))
}

func (o *statsObserver) OnQueueDepth(depth int) {
	o.queued.Store(int64(depth))
}

func (o *statsObserver) OnBatch(outcome Outcome) {
	o.batches.Add(1)
	o.delivered.Add(int64(outcome.Delivered))
	o.failed.Add(int64(outcome.Failed + outcome.Missing))
}
