package reply

import "github.com/markovalexander/dynamic-batching-tg/batch"

// =============================================================================
// 📡 线上数据结构（reply.v1）
// =============================================================================

// Request 批次中的单条请求
type Request struct {
	ID      uint64 `json:"id"`
	Message string `json:"message"`
}

// Batch 发往后端的批次
type Batch struct {
	ID       uint64    `json:"id"`
	Size     uint64    `json:"size"`
	Requests []Request `json:"requests"`
}

// ReplyRequest Reply 方法的请求体
type ReplyRequest struct {
	Batch *Batch `json:"batch,omitempty"`
}

// Response 单条请求的回复
type Response struct {
	RequestID uint64 `json:"request_id"`
	Message   string `json:"message"`
}

// ReplyResponse Reply 方法的响应体
type ReplyResponse struct {
	Responses []Response `json:"responses"`
	// Elapsed 后端处理耗时（秒）
	Elapsed float64 `json:"elapsed"`
}

// FromBatch 把核心批次转换为线上结构
func FromBatch(b *batch.Batch) *ReplyRequest {
	if b == nil {
		return &ReplyRequest{}
	}

	requests := make([]Request, len(b.Requests))
	for i, r := range b.Requests {
		requests[i] = Request{ID: r.ID, Message: r.Payload.Message}
	}

	return &ReplyRequest{
		Batch: &Batch{
			ID:       b.ID,
			Size:     uint64(b.Size),
			Requests: requests,
		},
	}
}

// ToBackendResult 把线上响应转换为核心结果
func (r *ReplyResponse) ToBackendResult() *batch.BackendResult {
	replies := make([]batch.Reply, len(r.Responses))
	for i, resp := range r.Responses {
		replies[i] = batch.Reply{RequestID: resp.RequestID, Message: resp.Message}
	}
	return &batch.BackendResult{
		Replies: replies,
		Elapsed: r.Elapsed,
	}
}
