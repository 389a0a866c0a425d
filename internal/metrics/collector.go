// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/markovalexander/dynamic-batching-tg/batch"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时实现 batch.Observer
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 批处理指标
	enqueuedTotal     prometheus.Counter
	prunedTotal       prometheus.Counter
	queueDepth        prometheus.Gauge
	batchesTotal      *prometheus.CounterVec
	batchSize         prometheus.Histogram
	entriesTotal      *prometheus.CounterVec
	backendElapsed    prometheus.Histogram
	dispatchDuration  prometheus.Histogram
	queueTime         prometheus.Histogram
	breakerTransition *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbQueryDuration *prometheus.HistogramVec

	// 聊天机器人指标
	botMessagesTotal *prometheus.CounterVec

	logger *zap.Logger
}

var _ batch.Observer = (*Collector)(nil)

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 批处理指标
	c.enqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "enqueued_total",
		Help:      "Total number of requests enqueued",
	})

	c.prunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "pruned_total",
		Help:      "Total number of abandoned requests pruned before dispatch",
	})

	c.queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "queue_depth",
		Help:      "Number of requests waiting in the queue",
	})

	c.batchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "dispatched_total",
			Help:      "Total number of dispatched batches",
		},
		[]string{"status"}, // status: success, failure
	)

	c.batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "size",
		Help:      "Number of requests per dispatched batch",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	c.entriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "entries_total",
			Help:      "Total number of dispatched requests by outcome",
		},
		[]string{"outcome"}, // outcome: delivered, missing, failed
	)

	c.backendElapsed = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "backend",
		Name:      "elapsed_seconds",
		Help:      "Processing time reported by the backend",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	c.dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "dispatch_duration_seconds",
		Help:      "Wall time of a dispatch including retries",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	c.queueTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "request_latency_seconds",
		Help:      "Time from enqueue to reply delivery",
		Buckets:   []float64{0.1, 0.5, 1, 2, 3, 5, 10, 30},
	})

	c.breakerTransition = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "circuit_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	// 聊天机器人指标
	c.botMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "messages_total",
			Help:      "Total number of chat messages handled",
		},
		[]string{"transport", "status"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 📦 批处理指标（batch.Observer）
// =============================================================================

// OnEnqueue 记录入队
func (c *Collector) OnEnqueue(depth int) {
	c.enqueuedTotal.Inc()
	c.queueDepth.Set(float64(depth))
}

// OnPrune 记录被丢弃的请求
func (c *Collector) OnPrune(count int) {
	c.prunedTotal.Add(float64(count))
}

// OnQueueDepth 更新队列深度
func (c *Collector) OnQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// OnBatch 记录批次派发结果
func (c *Collector) OnBatch(outcome batch.Outcome) {
	status := "success"
	if outcome.Err != nil {
		status = "failure"
	}
	c.batchesTotal.WithLabelValues(status).Inc()
	c.batchSize.Observe(float64(outcome.Size))
	c.entriesTotal.WithLabelValues("delivered").Add(float64(outcome.Delivered))
	c.entriesTotal.WithLabelValues("missing").Add(float64(outcome.Missing))
	c.entriesTotal.WithLabelValues("failed").Add(float64(outcome.Failed))
	c.dispatchDuration.Observe(outcome.Duration.Seconds())
	if outcome.Err == nil {
		c.backendElapsed.Observe(outcome.BackendElapsed)
	}
}

// RecordRequestLatency 记录单个请求从入队到拿到回复的耗时
func (c *Collector) RecordRequestLatency(d time.Duration) {
	c.queueTime.Observe(d.Seconds())
}

// RecordBreakerTransition 记录熔断器状态变化
func (c *Collector) RecordBreakerTransition(from, to string) {
	c.breakerTransition.WithLabelValues(from, to).Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🤖 聊天机器人指标
// =============================================================================

// RecordBotMessage 记录一条聊天消息的处理结果
func (c *Collector) RecordBotMessage(transport, status string) {
	c.botMessagesTotal.WithLabelValues(transport, status).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
