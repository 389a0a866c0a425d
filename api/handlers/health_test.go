package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markovalexander/dynamic-batching-tg/batch"
)

type mockHealthCheck struct {
	name  string
	err   error
	delay time.Duration
}

func (m *mockHealthCheck) Name() string { return m.name }

func (m *mockHealthCheck) Check(ctx context.Context) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

type fixedStats batch.Stats

func (s fixedStats) Stats() batch.Stats { return batch.Stats(s) }

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	return status
}

func TestHealthHandler_HandleHealth(t *testing.T) {
	h := NewHealthHandler(fixedStats{Queued: 4}, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	status := decodeHealth(t, w)
	assert.Equal(t, "healthy", status.Status)
	assert.False(t, status.Timestamp.IsZero())
	require.NotNil(t, status.Queued)
	assert.Equal(t, 4, *status.Queued)
}

func TestHealthHandler_HandleHealthz(t *testing.T) {
	h := NewHealthHandler(nil, nil)
	h.RegisterCheck(&mockHealthCheck{name: "backend", err: errors.New("down")})

	// 存活探针不跑依赖检查
	w := httptest.NewRecorder()
	h.HandleHealthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	status := decodeHealth(t, w)
	assert.Equal(t, "healthy", status.Status)
	assert.Nil(t, status.Queued)
}

func TestHealthHandler_HandleReady(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*HealthHandler)
		wantCode int
		check    func(*testing.T, HealthStatus)
	}{
		{
			name:     "no checks",
			setup:    func(h *HealthHandler) {},
			wantCode: http.StatusOK,
			check: func(t *testing.T, s HealthStatus) {
				assert.Equal(t, "healthy", s.Status)
				assert.Empty(t, s.Checks)
			},
		},
		{
			name: "all pass",
			setup: func(h *HealthHandler) {
				h.RegisterCheck(&mockHealthCheck{name: "backend"})
				h.RegisterOptionalCheck(&mockHealthCheck{name: "database"})
			},
			wantCode: http.StatusOK,
			check: func(t *testing.T, s HealthStatus) {
				assert.Equal(t, "healthy", s.Status)
				assert.Equal(t, "pass", s.Checks["backend"].Status)
				assert.True(t, s.Checks["backend"].Critical)
				assert.False(t, s.Checks["database"].Critical)
			},
		},
		{
			name: "optional failure degrades",
			setup: func(h *HealthHandler) {
				h.RegisterCheck(&mockHealthCheck{name: "backend"})
				h.RegisterOptionalCheck(&mockHealthCheck{name: "database", err: errors.New("locked")})
			},
			wantCode: http.StatusOK,
			check: func(t *testing.T, s HealthStatus) {
				assert.Equal(t, "degraded", s.Status)
				assert.Equal(t, "fail", s.Checks["database"].Status)
				assert.Equal(t, "locked", s.Checks["database"].Message)
			},
		},
		{
			name: "critical failure",
			setup: func(h *HealthHandler) {
				h.RegisterCheck(&mockHealthCheck{name: "backend", err: errors.New("TRANSIENT_FAILURE")})
				h.RegisterOptionalCheck(&mockHealthCheck{name: "database", err: errors.New("locked")})
			},
			wantCode: http.StatusServiceUnavailable,
			check: func(t *testing.T, s HealthStatus) {
				assert.Equal(t, "unhealthy", s.Status)
				assert.Len(t, s.Checks, 2)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(nil, zap.NewNop())
			tt.setup(h)

			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			tt.check(t, decodeHealth(t, w))
		})
	}
}

func TestHealthHandler_ChecksRunConcurrently(t *testing.T) {
	h := NewHealthHandler(nil, zap.NewNop())
	for i := 0; i < 5; i++ {
		h.RegisterCheck(&mockHealthCheck{name: fmt.Sprintf("slow-%d", i), delay: 100 * time.Millisecond})
	}

	start := time.Now()
	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestHealthHandler_CheckTimeout(t *testing.T) {
	h := NewHealthHandler(nil, zap.NewNop())
	h.timeout = 20 * time.Millisecond
	h.RegisterCheck(&mockHealthCheck{name: "backend", delay: time.Second})

	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	status := decodeHealth(t, w)
	assert.Contains(t, status.Checks["backend"].Message, "deadline exceeded")
}

func TestHealthHandler_ConcurrentRequests(t *testing.T) {
	h := NewHealthHandler(nil, zap.NewNop())
	for i := 0; i < 10; i++ {
		h.RegisterCheck(&mockHealthCheck{name: fmt.Sprintf("c%d", i)})
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}()
	}
	wg.Wait()
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	h := NewHealthHandler(nil, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleVersion("1.0.0", "2026-01-01T00:00:00Z", "abc123")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", data["version"])
	assert.Equal(t, "abc123", data["git_commit"])
}

func TestFuncCheck(t *testing.T) {
	called := false
	check := NewFuncCheck("db", func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.Equal(t, "db", check.Name())
	assert.NoError(t, check.Check(context.Background()))
	assert.True(t, called)
}

type stubBackend struct{ err error }

func (s stubBackend) Check(context.Context) error { return s.err }

func TestBackendHealthCheck_FailsReadiness(t *testing.T) {
	h := NewHealthHandler(nil, zap.NewNop())
	h.RegisterCheck(NewBackendHealthCheck(stubBackend{err: errors.New("connection state TRANSIENT_FAILURE")}))

	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "fail", decodeHealth(t, w).Checks["backend"].Status)
}
