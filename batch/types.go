package batch

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrQueueClosed     = errors.New("batch queue closed")
	ErrProcessorClosed = errors.New("batch processor closed")
	ErrBackendFailed   = errors.New("backend call failed")
	ErrNoReply         = errors.New("no reply for request")
)

// =============================================================================
// 📦 数据模型
// =============================================================================

// Payload 单个请求的业务载荷
type Payload struct {
	Message string `json:"message"`
}

// PendingEntry 队列中的待处理请求。
// 从入队到被移入 Batch 之前只归 Queue Actor 所有，之后其 Sink 归 Dispatcher 所有，
// 只允许一次投递。
type PendingEntry struct {
	SequenceID uint64
	Payload    Payload
	Sink       *Sink
	EnqueuedAt time.Time
}

// Request 批次中的单个请求，ID 即 PendingEntry.SequenceID
type Request struct {
	ID      uint64  `json:"id"`
	Payload Payload `json:"payload"`
}

// Batch 发往后端的一个批次
type Batch struct {
	ID       uint64    `json:"id"`
	Size     int       `json:"size"`
	Requests []Request `json:"requests"`
}

// NewBatch 创建批次，Size 始终等于 len(requests)
func NewBatch(id uint64, requests []Request) *Batch {
	return &Batch{
		ID:       id,
		Size:     len(requests),
		Requests: requests,
	}
}

// Reply 后端针对单个请求的回复，按 RequestID 关联，不依赖顺序
type Reply struct {
	RequestID uint64 `json:"request_id"`
	Message   string `json:"message"`
}

// BackendResult 后端一次批量调用的结果
type BackendResult struct {
	Replies []Reply `json:"replies"`
	// Elapsed 后端报告的处理耗时（秒）
	Elapsed float64 `json:"elapsed"`
}

// Backend 批量回复生成后端
type Backend interface {
	Generate(ctx context.Context, batch *Batch) (*BackendResult, error)
}

// BackendFunc 允许普通函数作为 Backend
type BackendFunc func(ctx context.Context, batch *Batch) (*BackendResult, error)

// Generate 实现 Backend
func (f BackendFunc) Generate(ctx context.Context, batch *Batch) (*BackendResult, error) {
	return f(ctx, batch)
}

// Response 投递给调用方的结果
type Response struct {
	Message        string        `json:"message"`
	BatchID        uint64        `json:"batch_id"`
	RequestID      uint64        `json:"request_id"`
	BatchSize      int           `json:"batch_size"`
	ProcessingTime float64       `json:"processing_time"`
	OtherResponses []string      `json:"other_responses"`
	QueueTime      time.Duration `json:"queue_time"`
	Err            error         `json:"-"`
}

// =============================================================================
// 📮 Sink
// =============================================================================

// Sink 单生产者/单消费者的回复通道，容量为 1。
// 调用方放弃等待（Abandon 或其 context 结束）后视为已关闭。
type Sink struct {
	ch        chan *Response
	abandoned chan struct{}
	ctxDone   <-chan struct{}

	abandonOnce sync.Once
	deliverOnce sync.Once
}

// NewSink 创建 Sink；ctx 结束时 Sink 视为已放弃
func NewSink(ctx context.Context) *Sink {
	s := &Sink{
		ch:        make(chan *Response, 1),
		abandoned: make(chan struct{}),
	}
	if ctx != nil {
		s.ctxDone = ctx.Done()
	}
	return s
}

// C 返回接收回复的通道
func (s *Sink) C() <-chan *Response {
	return s.ch
}

// Abandon 标记调用方不再等待回复
func (s *Sink) Abandon() {
	s.abandonOnce.Do(func() { close(s.abandoned) })
}

// Abandoned 非阻塞地检查调用方是否已放弃
func (s *Sink) Abandoned() bool {
	select {
	case <-s.abandoned:
		return true
	default:
	}
	if s.ctxDone != nil {
		select {
		case <-s.ctxDone:
			return true
		default:
		}
	}
	return false
}

// Deliver 投递回复，只有第一次调用生效
func (s *Sink) Deliver(resp *Response) bool {
	delivered := false
	s.deliverOnce.Do(func() {
		s.ch <- resp
		delivered = true
	})
	return delivered
}

// Extraction 一次 ExtractBatch 的结果：批次与 sequenceId → entry 的关联表
type Extraction struct {
	Batch   *Batch
	Entries map[uint64]*PendingEntry
	// Pruned 本次扫描中丢弃的已放弃条目数
	Pruned int
}
