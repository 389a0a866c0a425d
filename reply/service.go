package reply

import (
	"context"

	"google.golang.org/grpc"
)

const (
	// ServiceName gRPC 服务全名
	ServiceName = "reply.v1.ReplyService"
	// ReplyMethod Reply 方法全名
	ReplyMethod = "/" + ServiceName + "/Reply"
)

// ReplyServiceServer 后端需要实现的服务接口
type ReplyServiceServer interface {
	Reply(ctx context.Context, req *ReplyRequest) (*ReplyResponse, error)
}

// ServiceDesc reply.v1.ReplyService 的服务描述
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReplyServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Reply",
			Handler:    replyHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "reply/v1/reply.proto",
}

// RegisterReplyServiceServer 把实现注册到 gRPC 服务器
func RegisterReplyServiceServer(s grpc.ServiceRegistrar, srv ReplyServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func replyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReplyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplyServiceServer).Reply(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ReplyMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReplyServiceServer).Reply(ctx, req.(*ReplyRequest))
	}
	return interceptor(ctx, in, info, handler)
}
