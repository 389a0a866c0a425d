package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errBackend = errors.New("backend unavailable")

// fakeClock 手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(cfg *Config) (*breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := newBreaker(cfg, zap.NewNop())
	b.now = clock.Now
	return b, clock
}

func fail(ctx context.Context) error    { return errBackend }
func succeed(ctx context.Context) error { return nil }

// ---------------------------------------------------------------------------
// 配置
// ---------------------------------------------------------------------------

func TestNewCircuitBreaker_Config(t *testing.T) {
	tests := []struct {
		name              string
		cfg               *Config
		wantThreshold     int
		wantResetTimeout  time.Duration
		wantHalfOpenCalls int
	}{
		{
			name:              "nil config uses defaults",
			cfg:               nil,
			wantThreshold:     5,
			wantResetTimeout:  10 * time.Second,
			wantHalfOpenCalls: 1,
		},
		{
			name:              "zero values corrected",
			cfg:               &Config{HalfOpenMaxCalls: -1},
			wantThreshold:     5,
			wantResetTimeout:  10 * time.Second,
			wantHalfOpenCalls: 1,
		},
		{
			name:              "custom values preserved",
			cfg:               &Config{Threshold: 2, ResetTimeout: time.Second, HalfOpenMaxCalls: 3},
			wantThreshold:     2,
			wantResetTimeout:  time.Second,
			wantHalfOpenCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBreaker(tt.cfg, nil)
			assert.Equal(t, tt.wantThreshold, b.config.Threshold)
			assert.Equal(t, tt.wantResetTimeout, b.config.ResetTimeout)
			assert.Equal(t, tt.wantHalfOpenCalls, b.config.HalfOpenMaxCalls)
			assert.Equal(t, StateClosed, b.State())
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

// ---------------------------------------------------------------------------
// 状态机
// ---------------------------------------------------------------------------

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(&Config{Threshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Call(ctx, fail), errBackend)
		assert.Equal(t, StateClosed, b.State())
	}
	assert.ErrorIs(t, b.Call(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Call(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "打开状态不执行调用")

	counts := b.Counts()
	assert.Equal(t, 3, counts.ConsecutiveFailures)
	assert.Equal(t, int64(3), counts.TotalFailures)
	assert.Equal(t, int64(1), counts.Rejected)
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(&Config{Threshold: 2})
	ctx := context.Background()

	_ = b.Call(ctx, fail)
	require.NoError(t, b.Call(ctx, succeed))
	_ = b.Call(ctx, fail)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.Counts().ConsecutiveFailures)
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	b, clock := newTestBreaker(&Config{Threshold: 1, ResetTimeout: time.Second})
	ctx := context.Background()

	_ = b.Call(ctx, fail)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(999 * time.Millisecond)
	assert.ErrorIs(t, b.Call(ctx, succeed), ErrCircuitOpen)

	clock.Advance(time.Millisecond)
	require.NoError(t, b.Call(ctx, succeed))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(&Config{Threshold: 1, ResetTimeout: time.Second})
	ctx := context.Background()

	_ = b.Call(ctx, fail)
	clock.Advance(time.Second)

	assert.ErrorIs(t, b.Call(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Call(ctx, succeed), ErrCircuitOpen, "重新打开后重新计时")
}

func TestBreaker_HalfOpenLimitsTrialCalls(t *testing.T) {
	b, clock := newTestBreaker(&Config{Threshold: 1, ResetTimeout: time.Second, HalfOpenMaxCalls: 1})
	ctx := context.Background()

	_ = b.Call(ctx, fail)
	clock.Advance(time.Second)

	trialStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Call(ctx, func(ctx context.Context) error {
			close(trialStarted)
			<-release
			return nil
		})
	}()

	<-trialStarted
	assert.Equal(t, StateHalfOpen, b.State())
	assert.ErrorIs(t, b.Call(ctx, succeed), ErrTooManyCallsInHalfOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_IsFailureFilter(t *testing.T) {
	invalid := errors.New("invalid argument")
	b, _ := newTestBreaker(&Config{
		Threshold: 1,
		IsFailure: func(err error) bool { return !errors.Is(err, invalid) },
	})
	ctx := context.Background()

	assert.ErrorIs(t, b.Call(ctx, func(ctx context.Context) error { return invalid }), invalid)
	assert.Equal(t, StateClosed, b.State(), "客户端错误不计入失败")

	_ = b.Call(ctx, fail)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_Timeout(t *testing.T) {
	b, _ := newTestBreaker(&Config{Threshold: 5, Timeout: 10 * time.Millisecond})

	err := b.Call(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, b.Counts().ConsecutiveFailures)
}

func TestBreaker_ResetAndStateChangeCallback(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	b, _ := newTestBreaker(&Config{
		Threshold: 1,
		OnStateChange: func(from, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = b.Call(context.Background(), fail)
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Counts().ConsecutiveFailures)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.ElementsMatch(t, []string{"closed->open", "open->closed"}, transitions)
	mu.Unlock()
}

func TestCallWithResult(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 1}, zap.NewNop())
	ctx := context.Background()

	v, err := CallWithResult(cb, ctx, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	v, err = CallWithResult(cb, ctx, func(ctx context.Context) (string, error) {
		return "partial", errBackend
	})
	assert.ErrorIs(t, err, errBackend)
	assert.Empty(t, v)

	_, err = CallWithResult(cb, ctx, func(ctx context.Context) (string, error) {
		return "never", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
