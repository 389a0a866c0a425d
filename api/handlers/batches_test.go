package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markovalexander/dynamic-batching-tg/batch"
	"github.com/markovalexander/dynamic-batching-tg/internal/history"
)

type staticStats batch.Stats

func (s staticStats) Stats() batch.Stats { return batch.Stats(s) }

type fakeHistory struct {
	records   []history.BatchRecord
	err       error
	lastLimit int
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]history.BatchRecord, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f *fakeHistory) Get(_ context.Context, id uint64) (*history.BatchRecord, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	for i := range f.records {
		if f.records[i].BatchID == id {
			return &f.records[i], true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeHistory) Summary(context.Context) (history.Summary, error) {
	return history.Summary{Batches: int64(len(f.records))}, f.err
}

func newBatchesMux(h *BatchesHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/stats", h.HandleStats)
	mux.HandleFunc("GET /api/v1/batches", h.HandleList)
	mux.HandleFunc("GET /api/v1/batches/{id}", h.HandleGet)
	return mux
}

func serve(mux http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

// =============================================================================
// 🧪 BatchesHandler 测试
// =============================================================================

func TestBatchesHandler_Stats(t *testing.T) {
	h := NewBatchesHandler(staticStats{Submitted: 6, Batches: 2, Delivered: 5, Failed: 1}, nil, zap.NewNop())

	w := serve(newBatchesMux(h), "/api/v1/stats")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Submitted       int64   `json:"submitted"`
			Batches         int64   `json:"batches"`
			BatchEfficiency float64 `json:"batch_efficiency"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(6), resp.Data.Submitted)
	assert.InDelta(t, 3.0, resp.Data.BatchEfficiency, 1e-9)
}

func TestBatchesHandler_HistoryDisabled(t *testing.T) {
	mux := newBatchesMux(NewBatchesHandler(staticStats{}, nil, zap.NewNop()))

	for _, target := range []string{"/api/v1/batches", "/api/v1/batches/1"} {
		w := serve(mux, target)
		assert.Equal(t, http.StatusNotFound, w.Code, target)
	}
}

func TestBatchesHandler_List(t *testing.T) {
	hist := &fakeHistory{records: []history.BatchRecord{
		{BatchID: 3, Size: 2, Status: "success", DispatchedAt: time.Now()},
		{BatchID: 2, Size: 1, Status: "failure"},
		{BatchID: 1, Size: 4, Status: "success"},
	}}
	mux := newBatchesMux(NewBatchesHandler(staticStats{}, hist, zap.NewNop()))

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantLimit  int
		wantLen    int
	}{
		{"default limit", "/api/v1/batches", http.StatusOK, 50, 3},
		{"explicit limit", "/api/v1/batches?limit=2", http.StatusOK, 2, 2},
		{"limit capped", "/api/v1/batches?limit=10000", http.StatusOK, 500, 3},
		{"invalid limit", "/api/v1/batches?limit=abc", http.StatusBadRequest, 0, 0},
		{"zero limit", "/api/v1/batches?limit=0", http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hist.lastLimit = 0
			w := serve(mux, tt.target)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			assert.Equal(t, tt.wantLimit, hist.lastLimit)

			var resp struct {
				Data struct {
					Batches []history.BatchRecord `json:"batches"`
					Summary history.Summary       `json:"summary"`
				} `json:"data"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Len(t, resp.Data.Batches, tt.wantLen)
			assert.Equal(t, int64(3), resp.Data.Summary.Batches)
		})
	}
}

func TestBatchesHandler_Get(t *testing.T) {
	hist := &fakeHistory{records: []history.BatchRecord{{BatchID: 7, Size: 3, Status: "success"}}}
	mux := newBatchesMux(NewBatchesHandler(staticStats{}, hist, zap.NewNop()))

	w := serve(mux, "/api/v1/batches/7")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data history.BatchRecord `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, uint64(7), resp.Data.BatchID)
	assert.Equal(t, 3, resp.Data.Size)

	assert.Equal(t, http.StatusNotFound, serve(mux, "/api/v1/batches/8").Code)
	assert.Equal(t, http.StatusBadRequest, serve(mux, "/api/v1/batches/x").Code)
}

func TestBatchesHandler_StoreError(t *testing.T) {
	hist := &fakeHistory{err: errors.New("disk I/O error")}
	mux := newBatchesMux(NewBatchesHandler(staticStats{}, hist, zap.NewNop()))

	assert.Equal(t, http.StatusInternalServerError, serve(mux, "/api/v1/batches").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(mux, "/api/v1/batches/1").Code)
}
