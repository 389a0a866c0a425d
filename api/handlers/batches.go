package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/markovalexander/dynamic-batching-tg/api"
	"github.com/markovalexander/dynamic-batching-tg/batch"
	"github.com/markovalexander/dynamic-batching-tg/internal/history"
	"github.com/markovalexander/dynamic-batching-tg/types"
)

const (
	defaultBatchLimit = 50
	maxBatchLimit     = 500
)

// =============================================================================
// 📊 统计与批次历史 Handler
// =============================================================================

// StatsSource 处理器统计来源，*batch.Processor 实现了它
type StatsSource interface {
	Stats() batch.Stats
}

// HistoryReader 批次历史查询，*history.Store 实现了它
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.BatchRecord, error)
	Get(ctx context.Context, batchID uint64) (*history.BatchRecord, bool, error)
	Summary(ctx context.Context) (history.Summary, error)
}

// BatchesHandler 统计与历史查询
type BatchesHandler struct {
	stats   StatsSource
	history HistoryReader
	logger  *zap.Logger
}

// NewBatchesHandler 创建处理器。history 为 nil 表示未启用历史记录。
func NewBatchesHandler(stats StatsSource, hist HistoryReader, logger *zap.Logger) *BatchesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchesHandler{
		stats:   stats,
		history: hist,
		logger:  logger.With(zap.String("component", "batches_handler")),
	}
}

// HandleStats 处理 GET /api/v1/stats
// @Summary 批处理统计
// @Tags 批处理
// @Produce json
// @Success 200 {object} Response{data=api.StatsResponse}
// @Router /api/v1/stats [get]
func (h *BatchesHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, api.NewStatsResponse(h.stats.Stats()))
}

// HandleList 处理 GET /api/v1/batches?limit=N
// @Summary 最近派发的批次
// @Tags 批处理
// @Produce json
// @Param limit query int false "条数（默认 50，最大 500）"
// @Success 200 {object} Response{data=api.BatchesResponse}
// @Failure 404 {object} Response "未启用历史记录"
// @Router /api/v1/batches [get]
func (h *BatchesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !h.historyEnabled(w, r) {
		return
	}

	limit := defaultBatchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteRequestError(w, r, types.NewError(types.ErrInvalidRequest, "limit must be a positive integer"), h.logger)
			return
		}
		limit = min(n, maxBatchLimit)
	}

	records, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		WriteRequestError(w, r, types.NewError(types.ErrInternalError, "failed to query batch history").WithCause(err), h.logger)
		return
	}
	summary, err := h.history.Summary(r.Context())
	if err != nil {
		WriteRequestError(w, r, types.NewError(types.ErrInternalError, "failed to summarize batch history").WithCause(err), h.logger)
		return
	}
	if records == nil {
		records = []history.BatchRecord{}
	}

	WriteSuccess(w, api.BatchesResponse{Batches: records, Summary: summary})
}

// HandleGet 处理 GET /api/v1/batches/{id}
// @Summary 查询单个批次
// @Tags 批处理
// @Produce json
// @Param id path int true "批次号"
// @Success 200 {object} Response{data=history.BatchRecord}
// @Failure 404 {object} Response "批次不存在"
// @Router /api/v1/batches/{id} [get]
func (h *BatchesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if !h.historyEnabled(w, r) {
		return
	}

	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		WriteRequestError(w, r, types.NewError(types.ErrInvalidRequest, "batch id must be a positive integer"), h.logger)
		return
	}

	rec, found, err := h.history.Get(r.Context(), id)
	if err != nil {
		WriteRequestError(w, r, types.NewError(types.ErrInternalError, "failed to query batch").WithCause(err), h.logger)
		return
	}
	if !found {
		WriteRequestError(w, r, types.NewError(types.ErrNotFound, "batch not found"), h.logger)
		return
	}

	WriteSuccess(w, rec)
}

func (h *BatchesHandler) historyEnabled(w http.ResponseWriter, r *http.Request) bool {
	if h.history == nil {
		WriteRequestError(w, r, types.NewError(types.ErrNotFound, "batch history is disabled"), h.logger)
		return false
	}
	return true
}
