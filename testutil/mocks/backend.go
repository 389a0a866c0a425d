// MockBackend 是批量回复后端的测试模拟实现。
//
// 支持回显、错误注入、丢弃请求、乱序回复与延迟场景。
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markovalexander/dynamic-batching-tg/batch"
)

// --- MockBackend 结构 ---

// MockBackend 是 batch.Backend 的模拟实现
type MockBackend struct {
	mu sync.RWMutex

	// 行为控制
	err          error
	failFirst    int
	delay        time.Duration
	reverse      bool
	drop         map[uint64]bool
	duplicate    bool
	extra        []batch.Reply
	generateFunc func(ctx context.Context, b *batch.Batch) (*batch.BackendResult, error)

	// 调用记录
	calls []*batch.Batch
}

// NewMockBackend 创建回显模式的 MockBackend
func NewMockBackend() *MockBackend {
	return &MockBackend{drop: make(map[uint64]bool)}
}

// --- 配置方法（链式） ---

// WithError 让每次调用都返回 err
func (m *MockBackend) WithError(err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithFailFirst 让前 n 次调用返回错误，之后恢复正常
func (m *MockBackend) WithFailFirst(n int) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFirst = n
	return m
}

// WithDelay 为每次调用注入延迟
func (m *MockBackend) WithDelay(d time.Duration) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithReversedOrder 以与请求相反的顺序回复
func (m *MockBackend) WithReversedOrder() *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reverse = true
	return m
}

// WithDroppedRequest 不为指定请求 ID 生成回复
func (m *MockBackend) WithDroppedRequest(ids ...uint64) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.drop[id] = true
	}
	return m
}

// WithDuplicateReplies 为每个请求生成两条回复
func (m *MockBackend) WithDuplicateReplies() *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicate = true
	return m
}

// WithExtraReplies 追加不对应任何请求的回复
func (m *MockBackend) WithExtraReplies(replies ...batch.Reply) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extra = append(m.extra, replies...)
	return m
}

// WithGenerateFunc 使用自定义生成函数
func (m *MockBackend) WithGenerateFunc(fn func(ctx context.Context, b *batch.Batch) (*batch.BackendResult, error)) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateFunc = fn
	return m
}

// --- batch.Backend 接口实现 ---

// Generate 实现 batch.Backend
func (m *MockBackend) Generate(ctx context.Context, b *batch.Batch) (*batch.BackendResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, b)
	attempt := len(m.calls)
	fn := m.generateFunc
	err := m.err
	failFirst := m.failFirst
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fn != nil {
		return fn(ctx, b)
	}
	if err != nil {
		return nil, err
	}
	if attempt <= failFirst {
		return nil, fmt.Errorf("mock backend: attempt %d failed", attempt)
	}

	start := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	replies := make([]batch.Reply, 0, len(b.Requests))
	for _, req := range b.Requests {
		if m.drop[req.ID] {
			continue
		}
		reply := batch.Reply{RequestID: req.ID, Message: EchoReply(req.Payload.Message)}
		replies = append(replies, reply)
		if m.duplicate {
			replies = append(replies, batch.Reply{RequestID: req.ID, Message: reply.Message + " (dup)"})
		}
	}
	if m.reverse {
		for i, j := 0, len(replies)-1; i < j; i, j = i+1, j-1 {
			replies[i], replies[j] = replies[j], replies[i]
		}
	}
	replies = append(replies, m.extra...)

	return &batch.BackendResult{
		Replies: replies,
		Elapsed: time.Since(start).Seconds(),
	}, nil
}

// --- 调用记录 ---

// Calls 返回所有调用收到的批次
func (m *MockBackend) Calls() []*batch.Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*batch.Batch, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 返回调用次数
func (m *MockBackend) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// Reset 清空调用记录
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// EchoReply 返回回显后端对 msg 的回复文本
func EchoReply(msg string) string {
	return "Response for [" + msg + "]"
}
