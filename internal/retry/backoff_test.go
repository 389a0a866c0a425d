package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(maxRetries int) *Policy {
	return &Policy{
		MaxRetries:   maxRetries,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func TestBackoffRetryer_Success(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount, "前两次失败，第三次成功")
}

func TestBackoffRetryer_Exhausted(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(2), zap.NewNop())
	testErr := errors.New("backend down")

	callCount := 0
	err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		return testErr
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, testErr)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, callCount)
}

func TestBackoffRetryer_NoRetries(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(0), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		return errors.New("boom")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_Permanent(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(5), zap.NewNop())
	testErr := errors.New("invalid batch")

	callCount := 0
	err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		return Permanent(testErr)
	})

	assert.Equal(t, testErr, err, "Permanent 错误应原样返回")
	assert.Equal(t, 1, callCount)
	assert.Nil(t, Permanent(nil))
}

func TestBackoffRetryer_RetryablePredicate(t *testing.T) {
	policy := fastPolicy(5)
	fatal := errors.New("fatal")
	policy.Retryable = func(err error) bool { return !errors.Is(err, fatal) }
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		if callCount == 2 {
			return fatal
		}
		return errors.New("transient")
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 2, callCount)
}

func TestBackoffRetryer_ContextCancelled(t *testing.T) {
	policy := fastPolicy(10)
	policy.InitialDelay = time.Second
	policy.MaxDelay = time.Second
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	callCount := 0
	done := make(chan error, 1)
	go func() {
		done <- retryer.Do(ctx, func(ctx context.Context) error {
			callCount++
			return errors.New("fail")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, callCount)
	case <-time.After(2 * time.Second):
		t.Fatal("Do 应在 ctx 取消后立即返回")
	}
}

func TestBackoffRetryer_OnRetry(t *testing.T) {
	policy := fastPolicy(2)
	var attempts []int
	var delays []time.Duration
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		delays = append(delays, delay)
	}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	_ = retryer.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("fail")
	})

	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 10 * time.Millisecond}, delays)
}

func TestBackoffRetryer_DelayCappedAtMax(t *testing.T) {
	r := NewBackoffRetryer(&Policy{
		MaxRetries:   10,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   3.0,
	}, nil).(*backoffRetryer)

	assert.Equal(t, 10*time.Millisecond, r.delay(1))
	assert.Equal(t, 30*time.Millisecond, r.delay(2))
	assert.Equal(t, 50*time.Millisecond, r.delay(3))
	assert.Equal(t, 50*time.Millisecond, r.delay(8))
}

func TestBackoffRetryer_JitterBounds(t *testing.T) {
	r := NewBackoffRetryer(&Policy{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}, nil).(*backoffRetryer)

	for i := 0; i < 100; i++ {
		d := r.delay(1)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}

func TestNewBackoffRetryer_NormalizesPolicy(t *testing.T) {
	r := NewBackoffRetryer(&Policy{MaxRetries: -1, Multiplier: 0.5}, nil).(*backoffRetryer)

	assert.Equal(t, 0, r.policy.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, r.policy.InitialDelay)
	assert.Equal(t, 200*time.Millisecond, r.policy.MaxDelay)
	assert.Equal(t, 2.0, r.policy.Multiplier)

	def := NewBackoffRetryer(nil, nil).(*backoffRetryer)
	assert.Equal(t, *DefaultPolicy(), def.policy)
}

func TestDoWithResult(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(2), zap.NewNop())

	callCount := 0
	v, err := DoWithResult(retryer, context.Background(), func(ctx context.Context) (int, error) {
		callCount++
		if callCount == 1 {
			return 0, errors.New("first")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = DoWithResult(retryer, context.Background(), func(ctx context.Context) (int, error) {
		return 7, errors.New("always")
	})
	assert.Error(t, err)
	assert.Zero(t, v, "失败时返回零值")
}
