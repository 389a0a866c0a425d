package reply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/markovalexander/dynamic-batching-tg/batch"
	"github.com/markovalexander/dynamic-batching-tg/internal/circuitbreaker"
	"github.com/markovalexander/dynamic-batching-tg/internal/retry"
)

// ClientConfig 后端客户端配置
type ClientConfig struct {
	Address     string                 `yaml:"address" json:"address"`
	DialTimeout time.Duration          `yaml:"dial_timeout" json:"dial_timeout"`
	Breaker     *circuitbreaker.Config `yaml:"breaker" json:"breaker"`
}

// Client 通过 gRPC 调用 ReplyService，实现 batch.Backend
type Client struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	breaker circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

var _ batch.Backend = (*Client)(nil)

// Dial 建立连接并在 DialTimeout 内等待 READY，超时视为后端不可达
func Dial(ctx context.Context, cfg ClientConfig, logger *zap.Logger, opts ...grpc.DialOption) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	logger = logger.With(zap.String("component", "reply_client"), zap.String("address", cfg.Address))

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create grpc client for %s: %w", cfg.Address, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := waitReady(dialCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("backend %s not ready: %w", cfg.Address, err)
	}

	breakerCfg := circuitbreaker.DefaultConfig()
	if cfg.Breaker != nil {
		breakerCfg = cfg.Breaker
	}
	bc := *breakerCfg
	bc.IsFailure = isBackendFailure
	onChange := breakerCfg.OnStateChange
	bc.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("backend circuit state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		if onChange != nil {
			onChange(from, to)
		}
	}

	logger.Info("connected to backend")

	return &Client{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		breaker: circuitbreaker.NewCircuitBreaker(&bc, logger),
		logger:  logger,
	}, nil
}

// waitReady 主动连接并等待状态变为 READY
func waitReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("connection shut down")
		case connectivity.Idle:
			conn.Connect()
		}
		if !conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("last state %s: %w", state, ctx.Err())
		}
	}
}

// Generate 实现 batch.Backend
func (c *Client) Generate(ctx context.Context, b *batch.Batch) (*batch.BackendResult, error) {
	resp, err := circuitbreaker.CallWithResult(c.breaker, ctx, func(ctx context.Context) (*ReplyResponse, error) {
		out := new(ReplyResponse)
		if err := c.conn.Invoke(ctx, ReplyMethod, FromBatch(b), out, grpc.CallContentSubtype(CodecName)); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyCallsInHalfOpen) {
			return nil, retry.Permanent(fmt.Errorf("reply backend: %w", err))
		}
		if status.Code(err) == codes.InvalidArgument {
			return nil, retry.Permanent(fmt.Errorf("reply backend rejected batch %d: %w", b.ID, err))
		}
		return nil, fmt.Errorf("reply backend: %w", err)
	}
	return resp.ToBackendResult(), nil
}

// Check 通过 grpc.health.v1 检查后端是否可用
func (c *Client) Check(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("backend health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("backend not serving: %s", resp.GetStatus())
	}
	return nil
}

// State 返回连接状态与熔断状态
func (c *Client) State() (connectivity.State, circuitbreaker.State) {
	return c.conn.GetState(), c.breaker.State()
}

// Close 关闭连接
func (c *Client) Close() error {
	return c.conn.Close()
}

// isBackendFailure 参数错误不计入熔断
func isBackendFailure(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Canceled:
		return false
	}
	return !errors.Is(err, context.Canceled)
}
