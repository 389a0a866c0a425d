package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/markovalexander/dynamic-batching-tg/batch"
)

const meterName = "github.com/markovalexander/dynamic-batching-tg/batch"

// BatchInstruments 把批处理事件导出为 OTel 指标，实现 batch.Observer
type BatchInstruments struct {
	enqueued   metric.Int64Counter
	pruned     metric.Int64Counter
	depth      metric.Int64Gauge
	batches    metric.Int64Counter
	batchSize  metric.Int64Histogram
	dispatched metric.Float64Histogram
}

var _ batch.Observer = (*BatchInstruments)(nil)

// NewBatchInstruments 基于 MeterProvider 创建指标，mp 为 nil 时使用全局 provider
func NewBatchInstruments(mp metric.MeterProvider) (*BatchInstruments, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	var (
		bi  BatchInstruments
		err error
	)
	if bi.enqueued, err = meter.Int64Counter("batch.enqueued",
		metric.WithDescription("Requests enqueued")); err != nil {
		return nil, fmt.Errorf("create batch.enqueued: %w", err)
	}
	if bi.pruned, err = meter.Int64Counter("batch.pruned",
		metric.WithDescription("Abandoned requests pruned before dispatch")); err != nil {
		return nil, fmt.Errorf("create batch.pruned: %w", err)
	}
	if bi.depth, err = meter.Int64Gauge("batch.queue_depth",
		metric.WithDescription("Requests waiting in the queue")); err != nil {
		return nil, fmt.Errorf("create batch.queue_depth: %w", err)
	}
	if bi.batches, err = meter.Int64Counter("batch.dispatched",
		metric.WithDescription("Dispatched batches")); err != nil {
		return nil, fmt.Errorf("create batch.dispatched: %w", err)
	}
	if bi.batchSize, err = meter.Int64Histogram("batch.size",
		metric.WithDescription("Requests per dispatched batch")); err != nil {
		return nil, fmt.Errorf("create batch.size: %w", err)
	}
	if bi.dispatched, err = meter.Float64Histogram("batch.dispatch.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall time of a dispatch including retries")); err != nil {
		return nil, fmt.Errorf("create batch.dispatch.duration: %w", err)
	}
	return &bi, nil
}

func (bi *BatchInstruments) OnEnqueue(depth int) {
	ctx := context.Background()
	bi.enqueued.Add(ctx, 1)
	bi.depth.Record(ctx, int64(depth))
}

func (bi *BatchInstruments) OnPrune(count int) {
	bi.pruned.Add(context.Background(), int64(count))
}

func (bi *BatchInstruments) OnQueueDepth(depth int) {
	bi.depth.Record(context.Background(), int64(depth))
}

func (bi *BatchInstruments) OnBatch(outcome batch.Outcome) {
	ctx := context.Background()
	status := attribute.String("status", "success")
	if outcome.Err != nil {
		status = attribute.String("status", "failure")
	}
	bi.batches.Add(ctx, 1, metric.WithAttributes(status))
	bi.batchSize.Record(ctx, int64(outcome.Size))
	bi.dispatched.Record(ctx, outcome.Duration.Seconds(), metric.WithAttributes(status))
}
