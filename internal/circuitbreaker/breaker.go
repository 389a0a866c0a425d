package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常放行）
	StateClosed State = iota
	// StateOpen 打开状态（直接拒绝）
	StateOpen
	// StateHalfOpen 半开状态（放行少量试探请求）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen            = errors.New("circuit breaker is open")
	ErrTooManyCallsInHalfOpen = errors.New("too many calls in half-open state")
)

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败多少次后打开
	Threshold int `yaml:"threshold" json:"threshold" env:"THRESHOLD"`
	// Timeout 单次调用超时，0 表示只使用调用方的 ctx
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	// ResetTimeout Open 持续多久后进入 HalfOpen
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout" env:"RESET_TIMEOUT"`
	// HalfOpenMaxCalls HalfOpen 状态下允许的并发试探数
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" json:"half_open_max_calls" env:"HALF_OPEN_MAX_CALLS"`

	// IsFailure 判断错误是否计入失败；为空时所有非 nil 错误都计入
	IsFailure func(err error) bool `yaml:"-" json:"-"`
	// OnStateChange 状态变更回调，在独立 goroutine 中执行
	OnStateChange func(from, to State) `yaml:"-" json:"-"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Threshold:        5,
		ResetTimeout:     10 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Counts 熔断器计数快照
type Counts struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalFailures       int64     `json:"total_failures"`
	Rejected            int64     `json:"rejected"`
	LastFailure         time.Time `json:"last_failure"`
}

// CircuitBreaker 熔断器接口
type CircuitBreaker interface {
	// Call 执行 fn；熔断器打开时直接返回 ErrCircuitOpen
	Call(ctx context.Context, fn func(ctx context.Context) error) error

	// State 当前状态
	State() State

	// Counts 计数快照
	Counts() Counts

	// Reset 手动恢复到 Closed
	Reset()
}

type breaker struct {
	config Config
	logger *zap.Logger

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	totalFailures       int64
	rejected            int64
	lastFailure         time.Time
	openedAt            time.Time
	halfOpenInFlight    int

	now func() time.Time
}

// NewCircuitBreaker 创建熔断器。config 会被拷贝并补齐非法字段。
func NewCircuitBreaker(config *Config, logger *zap.Logger) CircuitBreaker {
	return newBreaker(config, logger)
}

func newBreaker(config *Config, logger *zap.Logger) *breaker {
	cfg := *DefaultConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &breaker{
		config: cfg,
		logger: logger.With(zap.String("component", "circuit_breaker")),
		state:  StateClosed,
		now:    time.Now,
	}
}

// Call 实现 CircuitBreaker
func (b *breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	halfOpen, err := b.beforeCall()
	if err != nil {
		return err
	}

	if b.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.Timeout)
		defer cancel()
	}

	err = fn(ctx)
	b.afterCall(halfOpen, err)
	return err
}

// beforeCall 决定是否放行，返回本次调用是否为半开试探
func (b *breaker) beforeCall() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.ResetTimeout {
			b.rejected++
			return false, ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.logger.Info("circuit breaker half-open")
		fallthrough

	case StateHalfOpen:
		if b.halfOpenInFlight >= b.config.HalfOpenMaxCalls {
			b.rejected++
			return false, ErrTooManyCallsInHalfOpen
		}
		b.halfOpenInFlight++
		return true, nil

	default:
		return false, fmt.Errorf("unknown circuit breaker state: %v", b.state)
	}
}

func (b *breaker) afterCall(halfOpen bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if halfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}

	if !b.isFailure(err) {
		b.onSuccess()
		return
	}
	b.onFailure(err)
}

func (b *breaker) isFailure(err error) bool {
	if err == nil {
		return false
	}
	if b.config.IsFailure != nil {
		return b.config.IsFailure(err)
	}
	return true
}

func (b *breaker) onSuccess() {
	b.consecutiveFailures = 0
	if b.state == StateHalfOpen {
		b.logger.Info("circuit breaker closed")
		b.setState(StateClosed)
	}
}

func (b *breaker) onFailure(err error) {
	b.consecutiveFailures++
	b.totalFailures++
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.config.Threshold {
			b.logger.Warn("circuit breaker opened",
				zap.Int("consecutive_failures", b.consecutiveFailures),
				zap.Int("threshold", b.config.Threshold),
				zap.Error(err),
			)
			b.open()
		}

	case StateHalfOpen:
		b.logger.Warn("circuit breaker trial call failed, reopening", zap.Error(err))
		b.open()
	}
}

func (b *breaker) open() {
	b.openedAt = b.now()
	b.halfOpenInFlight = 0
	b.setState(StateOpen)
}

// setState 需持有锁
func (b *breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(from, to)
	}
}

// State 实现 CircuitBreaker
func (b *breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts 实现 CircuitBreaker
func (b *breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Counts{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		TotalFailures:       b.totalFailures,
		Rejected:            b.rejected,
		LastFailure:         b.lastFailure,
	}
}

// Reset 实现 CircuitBreaker
func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	from := b.state
	b.consecutiveFailures = 0
	b.halfOpenInFlight = 0
	b.setState(StateClosed)

	b.logger.Info("circuit breaker reset", zap.String("from_state", from.String()))
}
