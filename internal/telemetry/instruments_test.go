package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/markovalexander/dynamic-batching-tg/batch"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumInt(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", agg)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestBatchInstruments_RecordsEvents(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	bi, err := NewBatchInstruments(mp)
	require.NoError(t, err)

	bi.OnEnqueue(1)
	bi.OnEnqueue(2)
	bi.OnPrune(1)
	bi.OnQueueDepth(0)
	bi.OnBatch(batch.Outcome{Size: 1, Delivered: 1, Duration: 10 * time.Millisecond})
	bi.OnBatch(batch.Outcome{Size: 3, Failed: 3, Duration: time.Second, Err: errors.New("down")})

	got := collect(t, reader)
	assert.Equal(t, int64(2), sumInt(t, got["batch.enqueued"]))
	assert.Equal(t, int64(1), sumInt(t, got["batch.pruned"]))
	assert.Equal(t, int64(2), sumInt(t, got["batch.dispatched"]))

	gauge, ok := got["batch.queue_depth"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(0), gauge.DataPoints[0].Value)

	hist, ok := got["batch.size"].(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.Equal(t, int64(4), hist.DataPoints[0].Sum)
}

func TestBatchInstruments_GlobalNoop(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	bi, err := NewBatchInstruments(nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		bi.OnEnqueue(1)
		bi.OnBatch(batch.Outcome{Size: 1})
	})
}
