package reply

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Generator 为一个批次生成回复，是后端可替换的部分
type Generator interface {
	Generate(ctx context.Context, batch *Batch) ([]Response, error)
}

// EchoGenerator 回显生成器，每条回复为 "Response for [<message>]"
type EchoGenerator struct {
	// Delay 模拟慢速模型的处理耗时
	Delay time.Duration
}

// Generate 实现 Generator
func (g EchoGenerator) Generate(ctx context.Context, batch *Batch) ([]Response, error) {
	if g.Delay > 0 {
		select {
		case <-time.After(g.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	responses := make([]Response, 0, len(batch.Requests))
	for _, r := range batch.Requests {
		responses = append(responses, Response{
			RequestID: r.ID,
			Message:   EchoMessage(r.Message),
		})
	}
	return responses, nil
}

// EchoMessage 回显格式
func EchoMessage(message string) string {
	return fmt.Sprintf("Response for [%s]", message)
}

// Server ReplyService 的实现
type Server struct {
	generator Generator
	logger    *zap.Logger
}

// NewServer 创建 ReplyService；generator 为空时使用 EchoGenerator
func NewServer(generator Generator, logger *zap.Logger) *Server {
	if generator == nil {
		generator = EchoGenerator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		generator: generator,
		logger:    logger.With(zap.String("component", "reply_server")),
	}
}

// Reply 实现 ReplyServiceServer
func (s *Server) Reply(ctx context.Context, req *ReplyRequest) (*ReplyResponse, error) {
	if req == nil || req.Batch == nil {
		return nil, status.Error(codes.InvalidArgument, "batch is required")
	}

	start := time.Now()
	b := req.Batch

	responses, err := s.generator.Generate(ctx, b)
	if err != nil {
		s.logger.Error("generate failed",
			zap.Uint64("batch_id", b.ID),
			zap.Uint64("batch_size", b.Size),
			zap.Error(err),
		)
		if st, ok := status.FromError(err); ok {
			return nil, st.Err()
		}
		return nil, status.Errorf(codes.Internal, "generate: %v", err)
	}

	elapsed := time.Since(start).Seconds()
	s.logger.Info("batch replied",
		zap.Uint64("batch_id", b.ID),
		zap.Uint64("batch_size", b.Size),
		zap.Float64("elapsed_time", elapsed),
	)

	return &ReplyResponse{
		Responses: responses,
		Elapsed:   elapsed,
	}, nil
}
