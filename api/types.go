package api

import (
	"github.com/markovalexander/dynamic-batching-tg/batch"
	"github.com/markovalexander/dynamic-batching-tg/internal/history"
)

// =============================================================================
// 📨 /process_message
// =============================================================================

// ProcessRequest 提交一条待批处理的消息
// @Description 消息提交请求
type ProcessRequest struct {
	// 消息正文
	Message string `json:"message" example:"hello" binding:"required"`
}

// ProcessResponse 单条请求的批处理回复，字段与聊天机器人约定一致
// @Description 批处理回复
type ProcessResponse struct {
	Message        string   `json:"message" example:"Response for [hello]"`
	BatchID        uint64   `json:"batch_id" example:"1"`
	RequestID      uint64   `json:"request_id" example:"1"`
	BatchSize      int      `json:"batch_size" example:"2"`
	ProcessingTime float64  `json:"processing_time" example:"0.003"`
	OtherResponses []string `json:"other_responses"`
	// 入队到投递的耗时（毫秒）
	QueueTimeMs int64 `json:"queue_time_ms,omitempty" example:"2004"`
}

// NewProcessResponse 从批处理结果构造 HTTP 回复
func NewProcessResponse(resp *batch.Response) ProcessResponse {
	others := resp.OtherResponses
	if others == nil {
		others = []string{}
	}
	return ProcessResponse{
		Message:        resp.Message,
		BatchID:        resp.BatchID,
		RequestID:      resp.RequestID,
		BatchSize:      resp.BatchSize,
		ProcessingTime: resp.ProcessingTime,
		OtherResponses: others,
		QueueTimeMs:    resp.QueueTime.Milliseconds(),
	}
}

// =============================================================================
// 📊 统计与历史
// =============================================================================

// StatsResponse 处理器运行统计
// @Description 批处理统计
type StatsResponse struct {
	batch.Stats
	BatchEfficiency float64 `json:"batch_efficiency" example:"3.5"`
}

// NewStatsResponse 从处理器统计构造回复
func NewStatsResponse(s batch.Stats) StatsResponse {
	return StatsResponse{Stats: s, BatchEfficiency: s.BatchEfficiency()}
}

// BatchesResponse 最近派发的批次
// @Description 批次历史
type BatchesResponse struct {
	Batches []history.BatchRecord `json:"batches"`
	Summary history.Summary       `json:"summary"`
}
