package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markovalexander/dynamic-batching-tg/config"
)

type cachedReply struct {
	Message string `json:"message"`
	BatchID uint64 `json:"batch_id"`
}

// ---------------------------------------------------------------------------
// GenerateKey
// ---------------------------------------------------------------------------

func TestGenerateKey(t *testing.T) {
	tests := []struct {
		name    string
		inputs  []any
		wantErr bool
	}{
		{name: "single string input", inputs: []any{"hello"}},
		{name: "client key and body", inputs: []any{"key-1", "hello"}},
		{name: "empty inputs returns error", inputs: []any{}, wantErr: true},
		{name: "unmarshalable input", inputs: []any{make(chan int)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := GenerateKey(tt.inputs...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, key, 64) // SHA256 hex = 64 chars
		})
	}
}

func TestGenerateKey_Deterministic(t *testing.T) {
	k1, err := GenerateKey("key-1", "hello")
	require.NoError(t, err)
	k2, err := GenerateKey("key-1", "hello")
	require.NoError(t, err)
	k3, err := GenerateKey("key-1", "other body")
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3, "same client key with a different body must not collide")
}

// ---------------------------------------------------------------------------
// memoryManager
// ---------------------------------------------------------------------------

func newMemory(t *testing.T) *memoryManager {
	t.Helper()
	m := NewMemoryManager(zap.NewNop()).(*memoryManager)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMemoryManager_SetGetDelete(t *testing.T) {
	m := newMemory(t)
	ctx := context.Background()

	_, found, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, m.Set(ctx, "k", cachedReply{Message: "Response for [hi]", BatchID: 3}, time.Minute))

	got, found, err := GetTyped[cachedReply](m, ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, cachedReply{Message: "Response for [hi]", BatchID: 3}, got)

	require.NoError(t, m.Delete(ctx, "k"))
	_, found, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryManager_Expiry(t *testing.T) {
	m := newMemory(t)
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }

	require.NoError(t, SetTyped(m, ctx, "k", cachedReply{Message: "x"}, time.Second))
	_, found, _ := m.Get(ctx, "k")
	assert.True(t, found)

	now = now.Add(2 * time.Second)
	_, found, _ = m.Get(ctx, "k")
	assert.False(t, found)
}

func TestMemoryManager_DefaultTTL(t *testing.T) {
	m := newMemory(t)
	require.NoError(t, m.Set(context.Background(), "k", "v", 0))

	m.mu.RLock()
	entry := m.cache["k"]
	m.mu.RUnlock()
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), entry.ExpiresAt, time.Second)
}

func TestMemoryManager_Cleanup(t *testing.T) {
	m := newMemory(t)
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }
	require.NoError(t, m.Set(ctx, "old", "v", time.Second))
	require.NoError(t, m.Set(ctx, "new", "v", time.Hour))

	now = now.Add(time.Minute)
	m.cleanup()

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.NotContains(t, m.cache, "old")
	assert.Contains(t, m.cache, "new")
}

func TestMemoryManager_CloseTwice(t *testing.T) {
	m := NewMemoryManagerWithCleanup(zap.NewNop(), 10*time.Millisecond)
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}

func TestMemoryManager_Concurrent(t *testing.T) {
	m := newMemory(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, _ := GenerateKey("client", i)
			_ = m.Set(ctx, key, i, time.Minute)
			_, _, _ = m.Get(ctx, key)
		}(i)
	}
	wg.Wait()

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Len(t, m.cache, 20)
}

func TestGetTyped_CorruptEntry(t *testing.T) {
	m := newMemory(t)
	require.NoError(t, m.Set(context.Background(), "k", "not an object", time.Minute))

	_, found, err := GetTyped[cachedReply](m, context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, found)
}

// ---------------------------------------------------------------------------
// redisManager
// ---------------------------------------------------------------------------

func setupRedis(t *testing.T) (*miniredis.Miniredis, Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := config.DefaultRedisConfig()
	cfg.Enabled = true
	cfg.Addr = mr.Addr()

	m, err := NewFromConfig(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return mr, m
}

func TestNewFromConfig_MemoryFallback(t *testing.T) {
	m, err := NewFromConfig(context.Background(), config.DefaultRedisConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	_, ok := m.(*memoryManager)
	assert.True(t, ok)
}

func TestNewFromConfig_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.DefaultRedisConfig()
	cfg.Enabled = true
	cfg.Addr = addr

	_, err := NewFromConfig(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestRedisManager_SetGetDelete(t *testing.T) {
	mr, m := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, SetTyped(m, ctx, "abc", cachedReply{Message: "Response for [hi]", BatchID: 7}, time.Minute))

	// 键带前缀存储
	assert.True(t, mr.Exists("dynbatch:idempotency:abc"))

	got, found, err := GetTyped[cachedReply](m, ctx, "abc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(7), got.BatchID)

	require.NoError(t, m.Delete(ctx, "abc"))
	_, found, err = m.Get(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisManager_TTL(t *testing.T) {
	mr, m := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "abc", "v", 30*time.Second))
	assert.Equal(t, 30*time.Second, mr.TTL("dynbatch:idempotency:abc"))

	mr.FastForward(31 * time.Second)
	_, found, err := m.Get(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisManager_DefaultPrefixAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.DefaultRedisConfig()
	cfg.Enabled = true
	cfg.Addr = mr.Addr()
	cfg.KeyPrefix = ""

	m, err := NewFromConfig(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Set(context.Background(), "k", "v", 0))
	assert.True(t, mr.Exists("idempotency:k"))
	assert.Equal(t, DefaultTTL, mr.TTL("idempotency:k"))
}

func TestRedisManager_ServerError(t *testing.T) {
	mr, m := setupRedis(t)
	mr.SetError("boom")

	_, _, err := m.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, m.Set(context.Background(), "k", "v", time.Minute))
}

func TestManager_Ping(t *testing.T) {
	mr, m := setupRedis(t)
	assert.NoError(t, m.Ping(context.Background()))

	mr.Close()
	assert.Error(t, m.Ping(context.Background()))

	assert.NoError(t, newMemory(t).Ping(context.Background()))
}
