package history

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/markovalexander/dynamic-batching-tg/batch"
	"github.com/markovalexander/dynamic-batching-tg/internal/database"
	"github.com/markovalexander/dynamic-batching-tg/internal/retry"
)

// BatchRecord 一次批次派发的持久化记录
type BatchRecord struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	BatchID        uint64    `gorm:"index" json:"batch_id"`
	Size           int       `json:"size"`
	Replies        int       `json:"replies"`
	Delivered      int       `json:"delivered"`
	Missing        int       `json:"missing"`
	Failed         int       `json:"failed"`
	BackendElapsed float64   `json:"backend_elapsed"`
	DurationMs     int64     `json:"duration_ms"`
	Status         string    `gorm:"size:16" json:"status"`
	Error          string    `gorm:"size:512" json:"error,omitempty"`
	DispatchedAt   time.Time `gorm:"index" json:"dispatched_at"`
}

// TableName 表名
func (BatchRecord) TableName() string { return "batch_records" }

// Summary 历史汇总
type Summary struct {
	Batches     int64   `json:"batches"`
	Requests    int64   `json:"requests"`
	Failures    int64   `json:"failures"`
	AverageSize float64 `json:"average_size"`
}

// QueryRecorder 记录数据库耗时，*metrics.Collector 实现了它
type QueryRecorder interface {
	RecordDBQuery(database, operation string, duration time.Duration)
}

// Options 存储选项
type Options struct {
	// Driver 仅用于指标标签
	Driver string
	// Retain 保留的记录条数，0 表示不清理
	Retain int
	// BufferSize 待写入缓冲，满时丢弃新记录
	BufferSize int
	// Recorder 可选的耗时记录器
	Recorder QueryRecorder
	// SchemaManaged 表结构已由 internal/migration 维护，跳过 AutoMigrate
	SchemaManaged bool
}

// Store 批次历史存储，实现 batch.Observer
// 派发线程只做非阻塞投递，写库在 Run 的 goroutine 中完成
type Store struct {
	pool    *database.PoolManager
	opts    Options
	records chan BatchRecord
	policy  *retry.Policy
	logger  *zap.Logger
	inserts atomic.Int64
}

var _ batch.Observer = (*Store)(nil)

// NewStore 创建存储；表结构未经迁移工具管理时用 AutoMigrate 兜底
func NewStore(pool *database.PoolManager, opts Options, logger *zap.Logger) (*Store, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.Driver == "" {
		opts.Driver = "sqlite"
	}
	if !opts.SchemaManaged {
		if err := pool.DB().AutoMigrate(&BatchRecord{}); err != nil {
			return nil, fmt.Errorf("migrate batch_records: %w", err)
		}
	}
	return &Store{
		pool:    pool,
		opts:    opts,
		records: make(chan BatchRecord, opts.BufferSize),
		policy:  &retry.Policy{MaxRetries: 3, InitialDelay: 20 * time.Millisecond, MaxDelay: 500 * time.Millisecond, Multiplier: 2},
		logger:  logger.With(zap.String("component", "batch_history")),
	}, nil
}

func (s *Store) OnEnqueue(int)    {}
func (s *Store) OnPrune(int)      {}
func (s *Store) OnQueueDepth(int) {}

// OnBatch 投递一条记录
func (s *Store) OnBatch(outcome batch.Outcome) {
	select {
	case s.records <- recordFromOutcome(outcome):
	default:
		s.logger.Warn("history buffer full, dropping record", zap.Uint64("batch_id", outcome.BatchID))
	}
}

func recordFromOutcome(o batch.Outcome) BatchRecord {
	rec := BatchRecord{
		BatchID:        o.BatchID,
		Size:           o.Size,
		Replies:        o.Replies,
		Delivered:      o.Delivered,
		Missing:        o.Missing,
		Failed:         o.Failed,
		BackendElapsed: o.BackendElapsed,
		DurationMs:     o.Duration.Milliseconds(),
		Status:         "success",
		DispatchedAt:   o.DispatchedAt,
	}
	if rec.DispatchedAt.IsZero() {
		rec.DispatchedAt = time.Now()
	}
	if o.Err != nil {
		rec.Status = "failure"
		rec.Error = truncate(o.Err.Error(), 512)
	}
	return rec
}

// truncate 按字节截断，不切开多字节字符
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Run 写入循环，ctx 结束后把缓冲中剩余的记录写完再返回
func (s *Store) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-s.records:
			s.write(ctx, rec)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			for {
				select {
				case rec := <-s.records:
					s.write(flushCtx, rec)
				default:
					return nil
				}
			}
		}
	}
}

func (s *Store) write(ctx context.Context, rec BatchRecord) {
	if err := s.Insert(ctx, &rec); err != nil {
		s.logger.Error("failed to store batch record", zap.Uint64("batch_id", rec.BatchID), zap.Error(err))
	}
}

// Insert 写入一条记录，每 100 次写入按 Retain 清理旧记录
func (s *Store) Insert(ctx context.Context, rec *BatchRecord) error {
	start := time.Now()
	err := s.pool.WithTransactionRetry(ctx, s.policy, func(tx *gorm.DB) error {
		return tx.Create(rec).Error
	})
	s.observe("insert", start)
	if err != nil {
		return err
	}

	if n := s.inserts.Add(1); s.opts.Retain > 0 && n%100 == 0 {
		if _, err := s.Prune(ctx); err != nil {
			s.logger.Warn("failed to prune batch history", zap.Error(err))
		}
	}
	return nil
}

// Prune 只保留最新的 Retain 条记录，返回删除条数
func (s *Store) Prune(ctx context.Context) (int64, error) {
	if s.opts.Retain <= 0 {
		return 0, nil
	}
	start := time.Now()
	defer s.observe("prune", start)

	var cutoff []uint64
	db := s.pool.DB().WithContext(ctx)
	if err := db.Model(&BatchRecord{}).
		Order("id desc").Offset(s.opts.Retain).Limit(1).
		Pluck("id", &cutoff).Error; err != nil {
		return 0, fmt.Errorf("find prune cutoff: %w", err)
	}
	if len(cutoff) == 0 {
		return 0, nil
	}

	res := db.Where("id <= ?", cutoff[0]).Delete(&BatchRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune batch records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Recent 返回最新的 limit 条记录，新的在前
func (s *Store) Recent(ctx context.Context, limit int) ([]BatchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	start := time.Now()
	defer s.observe("select", start)

	var out []BatchRecord
	err := s.pool.DB().WithContext(ctx).
		Order("id desc").Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query batch records: %w", err)
	}
	return out, nil
}

// Get 按批次号查询
func (s *Store) Get(ctx context.Context, batchID uint64) (*BatchRecord, bool, error) {
	var rec BatchRecord
	res := s.pool.DB().WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("id desc").Limit(1).
		Find(&rec)
	if res.Error != nil {
		return nil, false, fmt.Errorf("query batch %d: %w", batchID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	return &rec, true, nil
}

// Summary 汇总保留的全部记录
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	start := time.Now()
	defer s.observe("summary", start)

	var row struct {
		Batches  int64
		Requests int64
		Failures int64
	}
	err := s.pool.DB().WithContext(ctx).Model(&BatchRecord{}).
		Select("COUNT(*) AS batches, COALESCE(SUM(size), 0) AS requests, " +
			"COALESCE(SUM(CASE WHEN status = 'failure' THEN 1 ELSE 0 END), 0) AS failures").
		Scan(&row).Error
	if err != nil {
		return Summary{}, fmt.Errorf("summarize batch records: %w", err)
	}

	sum := Summary{Batches: row.Batches, Requests: row.Requests, Failures: row.Failures}
	if sum.Batches > 0 {
		sum.AverageSize = float64(sum.Requests) / float64(sum.Batches)
	}
	return sum, nil
}

func (s *Store) observe(op string, start time.Time) {
	if s.opts.Recorder != nil {
		s.opts.Recorder.RecordDBQuery(s.opts.Driver, op, time.Since(start))
	}
}
