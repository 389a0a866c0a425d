package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/markovalexander/dynamic-batching-tg/api"
	"github.com/markovalexander/dynamic-batching-tg/batch"
	"github.com/markovalexander/dynamic-batching-tg/internal/ctxkeys"
	"github.com/markovalexander/dynamic-batching-tg/internal/idempotency"
	"github.com/markovalexander/dynamic-batching-tg/types"
)

const (
	// IdempotencyKeyHeader 客户端提供的幂等键
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotencyReplayedHeader 标记回放的响应
	IdempotencyReplayedHeader = "Idempotency-Replayed"
)

// =============================================================================
// 📨 /process_message Handler
// =============================================================================

// Submitter 批处理入口，*batch.Processor 实现了它
type Submitter interface {
	Submit(ctx context.Context, payload batch.Payload) (*batch.Response, error)
}

// ProcessMetrics 处理器指标，*metrics.Collector 实现了它
type ProcessMetrics interface {
	RecordRequestLatency(d time.Duration)
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// ProcessHandler 把单条消息送进批处理器并等待回复
type ProcessHandler struct {
	submitter Submitter
	timeout   time.Duration
	logger    *zap.Logger

	idem    idempotency.Manager
	idemTTL time.Duration
	metrics ProcessMetrics
}

// ProcessOption ProcessHandler 选项
type ProcessOption func(*ProcessHandler)

// WithIdempotency 启用 Idempotency-Key 回放
func WithIdempotency(m idempotency.Manager, ttl time.Duration) ProcessOption {
	return func(h *ProcessHandler) {
		h.idem = m
		h.idemTTL = ttl
	}
}

// WithProcessMetrics 记录请求耗时与幂等缓存命中
func WithProcessMetrics(m ProcessMetrics) ProcessOption {
	return func(h *ProcessHandler) {
		h.metrics = m
	}
}

// NewProcessHandler 创建处理器。timeout <= 0 时不额外限时。
func NewProcessHandler(submitter Submitter, timeout time.Duration, logger *zap.Logger, opts ...ProcessOption) *ProcessHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ProcessHandler{
		submitter: submitter,
		timeout:   timeout,
		logger:    logger.With(zap.String("component", "process_handler")),
		idemTTL:   idempotency.DefaultTTL,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.idemTTL <= 0 {
		h.idemTTL = idempotency.DefaultTTL
	}
	return h
}

// HandleProcess 处理 POST /process_message
// @Summary 提交消息
// @Description 消息进入当前聚合窗口，与其他请求合批后调用后端，返回本条回复
// @Tags 批处理
// @Accept json
// @Produce json
// @Param request body api.ProcessRequest true "消息"
// @Success 200 {object} api.ProcessResponse "回复"
// @Failure 400 {object} Response "请求无效"
// @Failure 502 {object} Response "后端失败或缺少回复"
// @Failure 503 {object} Response "服务关闭中"
// @Failure 504 {object} Response "请求超时"
// @Router /process_message [post]
func (h *ProcessHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		WriteRequestError(w, r, types.NewError(types.ErrInvalidRequest, "method not allowed").
			WithHTTPStatus(http.StatusMethodNotAllowed), h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ProcessRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	cacheKey := h.cacheKey(r, req)
	if cacheKey != "" {
		if cached, ok := h.lookup(r.Context(), cacheKey); ok {
			w.Header().Set(IdempotencyReplayedHeader, "true")
			WriteJSON(w, http.StatusOK, cached)
			return
		}
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := h.submitter.Submit(ctx, batch.Payload{Message: req.Message})
	if h.metrics != nil {
		h.metrics.RecordRequestLatency(time.Since(start))
	}
	if err != nil {
		h.writeSubmitError(w, r, err)
		return
	}

	out := api.NewProcessResponse(resp)
	if cacheKey != "" {
		if err := idempotency.SetTyped(h.idem, r.Context(), cacheKey, out, h.idemTTL); err != nil {
			h.logger.Warn("failed to cache idempotent response", zap.Error(err))
		}
	}

	WriteJSON(w, http.StatusOK, out)
}

// cacheKey 幂等键与消息一起哈希；未启用或未携带时返回空串
func (h *ProcessHandler) cacheKey(r *http.Request, req api.ProcessRequest) string {
	if h.idem == nil {
		return ""
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" {
		return ""
	}
	hashed, err := idempotency.GenerateKey(key, req.Message)
	if err != nil {
		h.logger.Warn("failed to derive idempotency key", zap.Error(err))
		return ""
	}
	return hashed
}

func (h *ProcessHandler) lookup(ctx context.Context, key string) (api.ProcessResponse, bool) {
	cached, found, err := idempotency.GetTyped[api.ProcessResponse](h.idem, ctx, key)
	if err != nil {
		// 缓存不可用时照常处理
		h.logger.Warn("idempotency lookup failed", zap.Error(err))
		found = false
	}
	if h.metrics != nil {
		if found {
			h.metrics.RecordCacheHit("idempotency")
		} else {
			h.metrics.RecordCacheMiss("idempotency")
		}
	}
	return cached, found
}

func (h *ProcessHandler) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	// 客户端已断开，回复无人接收
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		requestID, _ := ctxkeys.RequestID(r.Context())
		traceID, _ := ctxkeys.TraceID(r.Context())
		h.logger.Debug("client went away before reply",
			zap.String("request_id", requestID),
			zap.String("trace_id", traceID))
		return
	}
	WriteRequestError(w, r, mapSubmitError(err), h.logger)
}

// mapSubmitError 把批处理错误映射为 API 错误
func mapSubmitError(err error) *types.Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.ErrTimeout, "timed out waiting for batched reply").
			WithCause(err).WithRetryable(true)
	case errors.Is(err, batch.ErrBackendFailed):
		return types.NewError(types.ErrBackendFailed, "backend failed to process the batch").
			WithCause(err).WithRetryable(true)
	case errors.Is(err, batch.ErrNoReply):
		return types.NewError(types.ErrNoReply, "backend returned no reply for this request").
			WithCause(err)
	case errors.Is(err, batch.ErrProcessorClosed), errors.Is(err, batch.ErrQueueClosed):
		return types.NewError(types.ErrServiceUnavailable, "service is shutting down").
			WithCause(err).WithRetryable(true)
	default:
		return types.NewError(types.ErrInternalError, "failed to process message").WithCause(err)
	}
}
