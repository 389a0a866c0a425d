package batch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🎭 Queue Actor
// =============================================================================

type commandKind int

const (
	cmdAppend commandKind = iota
	cmdNextBatch
	cmdLen
)

// command 投递到 mailbox 的指令
type command struct {
	kind    commandKind
	entry   *PendingEntry
	batchCh chan *Extraction
	lenCh   chan int
}

// QueueConfig Queue Actor 配置
type QueueConfig struct {
	// MaxBatchSize 单批最大请求数，0 表示不限制
	MaxBatchSize int `json:"max_batch_size"`
	// MailboxSize mailbox 缓冲容量
	MailboxSize int `json:"mailbox_size"`
}

// Queue 待处理请求集合的唯一拥有者。
// 所有修改都经由 mailbox 在单个 goroutine 中串行执行，因此无需加锁。
type Queue struct {
	commands chan command
	wake     chan struct{}
	stop     chan struct{}
	stopped  chan struct{}
	observer Observer

	closeOnce sync.Once
	// closeMu 使 Enqueue 与 Close 互斥：closed 置位后不再有追加指令进入 mailbox
	closeMu sync.RWMutex
	closed  bool
	// remaining 由 actor 在退出前写入，close(stopped) 之后可读
	remaining []*PendingEntry

	logger *zap.Logger
}

// queueState 仅由 actor goroutine 访问
type queueState struct {
	entries        []*PendingEntry
	nextSequenceID uint64
	nextBatchID    uint64
	maxBatchSize   int
}

// NewQueue 创建并启动 Queue Actor
func NewQueue(config QueueConfig, observer Observer, logger *zap.Logger) *Queue {
	if config.MailboxSize <= 0 {
		config.MailboxSize = 1024
	}
	if config.MaxBatchSize < 0 {
		config.MaxBatchSize = 0
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &Queue{
		commands: make(chan command, config.MailboxSize),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		observer: observer,
		logger:   logger.With(zap.String("component", "batch_queue")),
	}

	state := &queueState{
		entries:        make([]*PendingEntry, 0, 64),
		nextSequenceID: 1,
		nextBatchID:    1,
		maxBatchSize:   config.MaxBatchSize,
	}
	go q.run(state)

	return q
}

// Enqueue 把请求交给 mailbox 并唤醒 Dispatcher。
// sequenceId 由 actor 在处理追加指令时分配。
func (q *Queue) Enqueue(payload Payload, sink *Sink) error {
	cmd := command{
		kind: cmdAppend,
		entry: &PendingEntry{
			Payload:    payload,
			Sink:       sink,
			EnqueuedAt: time.Now(),
		},
	}

	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	// stop 只在 closed 置位且所有 Enqueue 返回后关闭，actor 仍在消费
	q.commands <- cmd
	q.signal()
	return nil
}

// ExtractBatch 取出当前可组成的批次；队列为空（剪枝后）时 ok 为 false
func (q *Queue) ExtractBatch(ctx context.Context) (*Extraction, bool, error) {
	reply := make(chan *Extraction, 1)
	if err := q.send(ctx, command{kind: cmdNextBatch, batchCh: reply}); err != nil {
		return nil, false, err
	}

	select {
	case ext := <-reply:
		if ext == nil {
			return nil, false, nil
		}
		return ext, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case <-q.stopped:
		return nil, false, ErrQueueClosed
	}
}

// Len 返回当前排队的条目数（包含尚未剪枝的已放弃条目）
func (q *Queue) Len(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := q.send(ctx, command{kind: cmdLen, lenCh: reply}); err != nil {
		return 0, err
	}

	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-q.stopped:
		return 0, ErrQueueClosed
	}
}

// Wake 合并型唤醒信号：消费前的多次触发只保留一次
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Close 停止 actor，返回仍在队列中的条目，由调用方负责显式失败。
// 只有第一次调用返回条目；成功返回的 Enqueue 要么被取走成批，要么出现在这里。
func (q *Queue) Close() []*PendingEntry {
	first := false
	q.closeOnce.Do(func() {
		q.closeMu.Lock()
		q.closed = true
		q.closeMu.Unlock()
		close(q.stop)
		first = true
	})
	<-q.stopped

	if !first {
		return nil
	}
	return q.remaining
}

// Done 在 actor 退出后关闭
func (q *Queue) Done() <-chan struct{} {
	return q.stopped
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) send(ctx context.Context, cmd command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-q.stop:
		return ErrQueueClosed
	default:
	}

	select {
	case q.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.stop:
		return ErrQueueClosed
	}
}

// run 是 actor 主循环，一次只处理一条指令
func (q *Queue) run(state *queueState) {
	defer close(q.stopped)

	for {
		select {
		case cmd := <-q.commands:
			q.handle(state, cmd)
		case <-q.stop:
			q.shutdown(state)
			return
		}
	}
}

// shutdown 吸收 stop 之前已进入 mailbox 的指令，然后交出剩余条目
func (q *Queue) shutdown(state *queueState) {
	for {
		select {
		case cmd := <-q.commands:
			switch cmd.kind {
			case cmdAppend:
				state.append(cmd.entry)
			case cmdNextBatch:
				cmd.batchCh <- nil
			case cmdLen:
				cmd.lenCh <- len(state.entries)
			}
		default:
			q.remaining = state.entries
			state.entries = nil
			q.observer.OnQueueDepth(0)
			return
		}
	}
}

func (q *Queue) handle(state *queueState, cmd command) {
	switch cmd.kind {
	case cmdAppend:
		state.append(cmd.entry)
		q.observer.OnEnqueue(len(state.entries))

	case cmdNextBatch:
		ext, pruned := state.nextBatch()
		if pruned > 0 {
			q.logger.Debug("pruned abandoned entries", zap.Int("pruned", pruned))
			q.observer.OnPrune(pruned)
		}
		if ext != nil {
			q.logger.Debug("batch extracted",
				zap.Uint64("batch_id", ext.Batch.ID),
				zap.Int("batch_size", ext.Batch.Size),
				zap.Int("remaining", len(state.entries)),
			)
		}
		q.observer.OnQueueDepth(len(state.entries))
		cmd.batchCh <- ext

	case cmdLen:
		cmd.lenCh <- len(state.entries)
	}
}

// =============================================================================
// 🗂️ 队列状态
// =============================================================================

// append 分配 sequenceId 并追加到队尾
func (s *queueState) append(entry *PendingEntry) {
	entry.SequenceID = s.nextSequenceID
	s.nextSequenceID++
	s.entries = append(s.entries, entry)
}

// nextBatch 从头到尾扫描一次：剪掉已放弃的条目，把存活条目移入新批次。
// 设置了 maxBatchSize 时只移走前 N 个存活条目，其余保留原顺序。
func (s *queueState) nextBatch() (*Extraction, int) {
	if len(s.entries) == 0 {
		return nil, 0
	}

	limit := len(s.entries)
	if s.maxBatchSize > 0 && s.maxBatchSize < limit {
		limit = s.maxBatchSize
	}

	requests := make([]Request, 0, limit)
	correlation := make(map[uint64]*PendingEntry, limit)
	kept := s.entries[:0]
	pruned := 0

	for _, entry := range s.entries {
		if entry.Sink == nil || entry.Sink.Abandoned() {
			pruned++
			continue
		}
		if len(requests) >= limit {
			kept = append(kept, entry)
			continue
		}
		requests = append(requests, Request{ID: entry.SequenceID, Payload: entry.Payload})
		correlation[entry.SequenceID] = entry
	}

	// 清掉尾部引用，避免被移走的条目滞留在底层数组中
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = nil
	}
	s.entries = kept

	if len(requests) == 0 {
		return nil, pruned
	}

	batch := NewBatch(s.nextBatchID, requests)
	s.nextBatchID++

	return &Extraction{
		Batch:   batch,
		Entries: correlation,
		Pruned:  pruned,
	}, pruned
}
