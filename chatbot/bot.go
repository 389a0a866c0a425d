package chatbot

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/markovalexander/dynamic-batching-tg/api"
	"github.com/markovalexander/dynamic-batching-tg/internal/ctxkeys"
	"github.com/markovalexander/dynamic-batching-tg/internal/pool"
)

// RateLimitedText 会话超出限流时的回复
const RateLimitedText = "Too many messages, please slow down."

// Processor 把消息交给路由，*RouterClient 实现了它
type Processor interface {
	Process(ctx context.Context, message, idempotencyKey string) (*api.ProcessResponse, error)
}

// Metrics 机器人指标，*metrics.Collector 实现了它
type Metrics interface {
	RecordBotMessage(transport, status string)
}

// Config 机器人配置
type Config struct {
	// RequestTimeout 单条消息调用路由的超时
	RequestTimeout time.Duration
	// ChatRateLimit 每个会话每秒消息数，<= 0 表示不限流
	ChatRateLimit float64
	ChatBurst     int
	// Workers 并发处理消息的 worker 池
	Workers pool.Config
}

// Option 机器人选项
type Option func(*Bot)

// WithMetrics 记录消息处理结果
func WithMetrics(m Metrics) Option {
	return func(b *Bot) { b.metrics = m }
}

type chatLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Bot 从传输读消息、调用路由并回复。
// 消息并发处理，同一窗口内多个会话的消息会进入同一批。
type Bot struct {
	transport Transport
	router    Processor
	config    Config
	metrics   Metrics
	logger    *zap.Logger

	workers *pool.Pool

	mu       sync.Mutex
	limiters map[string]*chatLimiter
}

// New 创建机器人
func New(transport Transport, router Processor, config Config, logger *zap.Logger, opts ...Option) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ChatBurst <= 0 {
		config.ChatBurst = 1
	}
	if config.Workers == (pool.Config{}) {
		config.Workers = pool.DefaultConfig()
	}
	logger = logger.With(zap.String("component", "bot"), zap.String("transport", transport.Name()))

	b := &Bot{
		transport: transport,
		router:    router,
		config:    config,
		logger:    logger,
		workers:   pool.New(config.Workers, logger),
		limiters:  make(map[string]*chatLimiter),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run 阻塞直到 ctx 结束或传输出错，返回前等待处理中的消息
func (b *Bot) Run(ctx context.Context) error {
	sweepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go b.sweepLoop(sweepCtx, time.Minute, 10*time.Minute)

	b.logger.Info("bot started")
	err := b.transport.Run(ctx, b.Dispatch)
	b.workers.Close()
	b.logger.Info("bot stopped", zap.Error(err))
	return err
}

// Dispatch 接收一条消息：过滤、限流，然后交给 worker 池
func (b *Bot) Dispatch(ctx context.Context, msg Message) {
	if strings.TrimSpace(msg.Text) == "" {
		b.record("ignored")
		return
	}

	if !b.allow(msg.ChatID) {
		b.record("rate_limited")
		b.logger.Debug("chat rate limited", zap.String("chat_id", msg.ChatID))
		if err := b.transport.Send(ctx, msg.ChatID, RateLimitedText); err != nil {
			b.logger.Warn("failed to send rate limit notice", zap.Error(err))
		}
		return
	}

	err := b.workers.Submit(ctx, func(ctx context.Context) error {
		return b.handle(ctx, msg)
	})
	if err != nil {
		b.record("rejected")
		b.logger.Warn("message dropped", zap.String("chat_id", msg.ChatID), zap.Error(err))
	}
}

func (b *Bot) handle(ctx context.Context, msg Message) error {
	ctx = ctxkeys.WithChatID(ctx, msg.ChatID)
	ctx = ctxkeys.WithRequestID(ctx, msg.ID)
	if b.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.RequestTimeout)
		defer cancel()
	}

	logger := b.logger.With(zap.String("chat_id", msg.ChatID), zap.String("message_id", msg.ID))

	resp, err := b.router.Process(ctx, msg.Text, msg.ID)
	if err != nil {
		b.record("error")
		logger.Error("router call failed", zap.Error(err))
		return err
	}

	if err := b.transport.Send(ctx, msg.ChatID, FormatReply(resp)); err != nil {
		b.record("send_failed")
		logger.Error("failed to send reply", zap.Error(err))
		return err
	}

	b.record("ok")
	logger.Info("replied",
		zap.String("user", msg.User),
		zap.Uint64("batch_id", resp.BatchID),
		zap.Uint64("request_id", resp.RequestID),
		zap.Int("batch_size", resp.BatchSize),
	)
	return nil
}

func (b *Bot) allow(chatID string) bool {
	if b.config.ChatRateLimit <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cl, ok := b.limiters[chatID]
	if !ok {
		cl = &chatLimiter{limiter: rate.NewLimiter(rate.Limit(b.config.ChatRateLimit), b.config.ChatBurst)}
		b.limiters[chatID] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter.Allow()
}

// sweepLoop 清理长时间不活跃会话的限流器
func (b *Bot) sweepLoop(ctx context.Context, every, idle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep(idle)
		}
	}
}

func (b *Bot) sweep(idle time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, cl := range b.limiters {
		if time.Since(cl.lastSeen) > idle {
			delete(b.limiters, id)
		}
	}
}

func (b *Bot) record(status string) {
	if b.metrics != nil {
		b.metrics.RecordBotMessage(b.transport.Name(), status)
	}
}
