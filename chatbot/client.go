package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/markovalexander/dynamic-batching-tg/api"
	"github.com/markovalexander/dynamic-batching-tg/api/handlers"
	"github.com/markovalexander/dynamic-batching-tg/internal/ctxkeys"
	"github.com/markovalexander/dynamic-batching-tg/internal/tlsutil"
)

// RouterError 路由返回的非 200 响应
type RouterError struct {
	StatusCode int
	Code       string
	Message    string
	Retryable  bool
}

func (e *RouterError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("router returned %d [%s] %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("router returned %d", e.StatusCode)
}

// RouterClient 调用路由的 POST /process_message
type RouterClient struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// NewRouterClient 创建客户端。baseURL 可以省略 scheme（默认 http）。
func NewRouterClient(baseURL string, timeout time.Duration, logger *zap.Logger) *RouterClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &RouterClient{
		endpoint: strings.TrimRight(baseURL, "/") + "/process_message",
		http:     tlsutil.SecureHTTPClient(timeout),
		logger:   logger.With(zap.String("component", "router_client")),
	}
}

// Endpoint 返回完整的提交地址
func (c *RouterClient) Endpoint() string {
	return c.endpoint
}

// Process 提交一条消息并等待批处理回复。idempotencyKey 为空时不设置幂等头。
func (c *RouterClient) Process(ctx context.Context, message, idempotencyKey string) (*api.ProcessResponse, error) {
	body, err := json.Marshal(api.ProcessRequest{Message: message})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(handlers.IdempotencyKeyHeader, idempotencyKey)
	}
	if requestID, ok := ctxkeys.RequestID(ctx); ok {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeRouterError(resp)
	}

	var out api.ProcessResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode router response: %w", err)
	}
	if resp.Header.Get(handlers.IdempotencyReplayedHeader) == "true" {
		c.logger.Debug("router replayed cached response", zap.Uint64("request_id", out.RequestID))
	}
	return &out, nil
}

func decodeRouterError(resp *http.Response) error {
	rerr := &RouterError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var envelope handlers.Response
	if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
		rerr.Code = envelope.Error.Code
		rerr.Message = envelope.Error.Message
		rerr.Retryable = envelope.Error.Retryable
	}
	return rerr
}
