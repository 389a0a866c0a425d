package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// =============================================================================
// 📡 gRPC 服务器管理器
// =============================================================================

// GRPCConfig gRPC 服务器配置
type GRPCConfig struct {
	// 监听地址
	Addr string `yaml:"addr" json:"addr" env:"ADDR"`

	// 最大接收消息大小（字节）
	MaxRecvMsgSize int `yaml:"max_recv_msg_size" json:"max_recv_msg_size" env:"MAX_RECV_MSG_SIZE"`

	// 启用 gRPC reflection
	EnableReflection bool `yaml:"enable_reflection" json:"enable_reflection" env:"ENABLE_REFLECTION"`

	// 优雅关闭超时，超时后强制停止
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DefaultGRPCConfig 返回默认 gRPC 配置
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		Addr:             ":50051",
		MaxRecvMsgSize:   16 << 20,
		EnableReflection: true,
		ShutdownTimeout:  5 * time.Second,
	}
}

// GRPCManager 持有 grpc.Server、标准健康检查服务与监听器
type GRPCManager struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	errCh    chan error
	config   GRPCConfig
	logger   *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

// NewGRPCManager 创建 gRPC 服务器；业务服务通过 Server() 注册
func NewGRPCManager(config GRPCConfig, logger *zap.Logger, opts ...grpc.ServerOption) *GRPCManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "grpc_server"))

	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(recoveryInterceptor(logger), loggingInterceptor(logger)),
	}
	if config.MaxRecvMsgSize > 0 {
		serverOpts = append(serverOpts, grpc.MaxRecvMsgSize(config.MaxRecvMsgSize))
	}
	serverOpts = append(serverOpts, opts...)

	s := grpc.NewServer(serverOpts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if config.EnableReflection {
		reflection.Register(s)
	}

	return &GRPCManager{
		server: s,
		health: hs,
		errCh:  make(chan error, 1),
		config: config,
		logger: logger,
	}
}

// Server 返回底层 grpc.Server，用于注册服务
func (m *GRPCManager) Server() *grpc.Server {
	return m.server
}

// SetServing 设置服务的健康状态
func (m *GRPCManager) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	m.health.SetServingStatus(service, st)
}

// Start 在配置地址上启动（非阻塞）
func (m *GRPCManager) Start() error {
	listener, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}
	return m.Serve(listener)
}

// Serve 在给定监听器上启动（非阻塞），测试中可传入 bufconn
func (m *GRPCManager) Serve(listener net.Listener) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		_ = listener.Close()
		return fmt.Errorf("server is closed")
	}
	if m.listener != nil {
		_ = listener.Close()
		return fmt.Errorf("server already started")
	}

	m.listener = listener
	m.logger.Info("starting gRPC server", zap.String("addr", listener.Addr().String()))

	go func() {
		if err := m.server.Serve(listener); err != nil {
			m.logger.Error("gRPC server failed", zap.Error(err))
			select {
			case m.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// Run 启动并阻塞，直到 ctx 结束或服务异常退出
func (m *GRPCManager) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		m.Shutdown(context.Background())
		return nil
	case err := <-m.errCh:
		m.Shutdown(context.Background())
		return err
	}
}

// Shutdown 先 GracefulStop，超时或 ctx 结束后 Stop
func (m *GRPCManager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.logger.Info("shutting down gRPC server")
	m.health.Shutdown()

	done := make(chan struct{})
	go func() {
		m.server.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(m.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		m.logger.Warn("graceful stop timed out, forcing")
		m.server.Stop()
	case <-ctx.Done():
		m.server.Stop()
	}

	m.logger.Info("gRPC server stopped")
}

// Addr 返回实际监听地址；未启动时返回配置地址
func (m *GRPCManager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}

// =============================================================================
// 🔌 拦截器
// =============================================================================

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			logger.Warn("gRPC call failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("gRPC call", fields...)
		}
		return resp, err
	}
}

func recoveryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				err = status.Errorf(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
