package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_RunsTasksConcurrently(t *testing.T) {
	p := New(Config{MaxWorkers: 4, QueueSize: 16}, zap.NewNop())

	var (
		running atomic.Int32
		peak    atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return nil
		}))
	}
	wg.Wait()
	p.Close()

	assert.LessOrEqual(t, peak.Load(), int32(4))
	assert.Greater(t, peak.Load(), int32(1))
	stats := p.Stats()
	assert.Equal(t, int64(8), stats.Submitted)
	assert.Equal(t, int64(8), stats.Completed)
}

func TestPool_FullAndClosed(t *testing.T) {
	p := New(Config{MaxWorkers: 1, QueueSize: 1}, zap.NewNop())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error { return nil }))

	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolFull)
	assert.Equal(t, int64(1), p.Stats().Rejected)

	close(release)
	p.Close()
	assert.ErrorIs(t, p.Submit(context.Background(), func(ctx context.Context) error { return nil }), ErrPoolClosed)
	assert.Equal(t, int64(2), p.Stats().Completed)
}

func TestPool_PanicAndErrorCounted(t *testing.T) {
	p := New(Config{MaxWorkers: 2, QueueSize: 4}, zap.NewNop())

	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error { panic("boom") }))
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error { return errors.New("fail") }))
	p.Close()

	assert.Equal(t, int64(2), p.Stats().Failed)
}

func TestPool_IdleWorkersShrink(t *testing.T) {
	p := New(Config{MaxWorkers: 4, QueueSize: 0, IdleTimeout: 20 * time.Millisecond}, zap.NewNop())
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		err := p.Submit(context.Background(), func(ctx context.Context) error {
			defer wg.Done()
			time.Sleep(10 * time.Millisecond)
			return nil
		})
		if err != nil {
			wg.Done()
		}
	}
	wg.Wait()

	require.Eventually(t, func() bool { return p.Stats().Workers == 1 }, time.Second, 10*time.Millisecond)
}
