package batch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/markovalexander/dynamic-batching-tg/internal/retry"
)

const tracerName = "github.com/markovalexander/dynamic-batching-tg/batch"

// DispatcherConfig Dispatcher 配置
type DispatcherConfig struct {
	// Window 被唤醒后等待的聚合窗口
	Window time.Duration `json:"window"`
	// BackendTimeout 单次后端调用的超时
	BackendTimeout time.Duration `json:"backend_timeout"`
	// Retry 后端调用失败时的重试策略
	Retry *retry.Policy `json:"retry"`
}

// Dispatcher 批次派发循环：Idle → Accumulating → Draining → Idle
type Dispatcher struct {
	queue    *Queue
	backend  Backend
	config   DispatcherConfig
	retryer  retry.Retryer
	observer Observer
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewDispatcher 创建 Dispatcher，调用 Run 后开始工作
func NewDispatcher(queue *Queue, backend Backend, config DispatcherConfig, observer Observer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if config.BackendTimeout <= 0 {
		config.BackendTimeout = 30 * time.Second
	}
	logger = logger.With(zap.String("component", "batch_dispatcher"))

	return &Dispatcher{
		queue:    queue,
		backend:  backend,
		config:   config,
		retryer:  retry.NewBackoffRetryer(config.Retry, logger),
		observer: observer,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
}

// Run 阻塞运行直到 ctx 结束或队列关闭
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", zap.Duration("window", d.config.Window))
	defer d.logger.Info("dispatcher stopped")

	for {
		// Idle：只等唤醒信号，不轮询
		select {
		case <-ctx.Done():
			return
		case <-d.queue.Done():
			return
		case <-d.queue.Wake():
		}

		// Accumulating：窗口内到达的请求落入同一批次
		if d.config.Window > 0 {
			timer := time.NewTimer(d.config.Window)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		d.drain(ctx)
	}
}

// drain 反复取批直到队列为空。唤醒信号会合并，所以始终以 ExtractBatch 的结果为准。
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		ext, ok, err := d.queue.ExtractBatch(ctx)
		if err != nil {
			if !errors.Is(err, ErrQueueClosed) && !errors.Is(err, context.Canceled) {
				d.logger.Error("extract batch failed", zap.Error(err))
			}
			return
		}
		if !ok {
			return
		}
		d.dispatch(ctx, ext)
	}
}

// dispatch 调用后端并把回复按 requestId 投递给各自的 Sink
func (d *Dispatcher) dispatch(ctx context.Context, ext *Extraction) {
	b := ext.Batch
	start := time.Now()

	ctx, span := d.tracer.Start(ctx, "batch.dispatch",
		trace.WithAttributes(
			attribute.Int64("batch.id", int64(b.ID)),
			attribute.Int("batch.size", b.Size),
		),
	)
	defer span.End()

	outcome := Outcome{
		BatchID:      b.ID,
		Size:         b.Size,
		DispatchedAt: start,
	}

	result, err := retry.DoWithResult(d.retryer, ctx, func(ctx context.Context) (*BackendResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, d.config.BackendTimeout)
		defer cancel()
		return d.backend.Generate(callCtx, b)
	})
	if err == nil && result == nil {
		err = errors.New("backend returned empty result")
	}

	if err != nil {
		failure := fmt.Errorf("%w: %w", ErrBackendFailed, err)
		for _, entry := range ext.Entries {
			entry.Sink.Deliver(&Response{
				BatchID:   b.ID,
				RequestID: entry.SequenceID,
				BatchSize: b.Size,
				QueueTime: time.Since(entry.EnqueuedAt),
				Err:       failure,
			})
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, "backend call failed")
		d.logger.Error("batch failed",
			zap.Uint64("batch_id", b.ID),
			zap.Int("batch_size", b.Size),
			zap.Error(err),
		)

		outcome.Failed = len(ext.Entries)
		outcome.Duration = time.Since(start)
		outcome.Err = err
		d.observer.OnBatch(outcome)
		return
	}

	siblings := make([]string, len(result.Replies))
	for i, r := range result.Replies {
		siblings[i] = r.Message
	}

	for _, r := range result.Replies {
		entry, ok := ext.Entries[r.RequestID]
		if !ok {
			d.logger.Warn("reply for unknown or already answered request",
				zap.Uint64("batch_id", b.ID),
				zap.Uint64("request_id", r.RequestID),
			)
			continue
		}
		delete(ext.Entries, r.RequestID)

		entry.Sink.Deliver(&Response{
			Message:        r.Message,
			BatchID:        b.ID,
			RequestID:      r.RequestID,
			BatchSize:      len(result.Replies),
			ProcessingTime: result.Elapsed,
			OtherResponses: slices.Clone(siblings),
			QueueTime:      time.Since(entry.EnqueuedAt),
		})
		outcome.Delivered++
	}

	// 后端漏掉的请求显式失败，调用方不会无限等待
	for id, entry := range ext.Entries {
		entry.Sink.Deliver(&Response{
			BatchID:   b.ID,
			RequestID: id,
			BatchSize: len(result.Replies),
			QueueTime: time.Since(entry.EnqueuedAt),
			Err:       ErrNoReply,
		})
		outcome.Missing++
	}
	if outcome.Missing > 0 {
		d.logger.Warn("backend returned fewer replies than requests",
			zap.Uint64("batch_id", b.ID),
			zap.Int("batch_size", b.Size),
			zap.Int("missing", outcome.Missing),
		)
	}

	span.SetAttributes(
		attribute.Float64("batch.elapsed", result.Elapsed),
		attribute.Int("batch.replies", len(result.Replies)),
	)

	outcome.Replies = len(result.Replies)
	outcome.BackendElapsed = result.Elapsed
	outcome.Duration = time.Since(start)
	d.observer.OnBatch(outcome)

	d.logger.Info("batch dispatched",
		zap.Uint64("batch_id", b.ID),
		zap.Int("batch_size", b.Size),
		zap.Int("delivered", outcome.Delivered),
		zap.Float64("elapsed_time", result.Elapsed),
		zap.Duration("duration", outcome.Duration),
	)
}
