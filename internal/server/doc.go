// 版权所有 2024 dynbatch Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 与 gRPC 服务器的生命周期管理，支持非阻塞启动、
阻塞运行与优雅关闭。

# 核心类型

  - Manager：HTTP 服务器管理器，持有 http.Server、net.Listener
    与异步错误通道，提供 Start/Run/Shutdown 等生命周期方法。
  - GRPCManager：gRPC 服务器管理器，内置 grpc.health.v1 健康检查、
    可选 reflection、panic 恢复与调用日志拦截器。
  - Config / GRPCConfig：监听地址、超时与关闭参数。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 阻塞运行：Run(ctx) 直到 ctx 结束或服务异常，适合放入 errgroup。
  - 优雅关闭：HTTP 在 ShutdownTimeout 内排空请求；gRPC 先
    GracefulStop，超时后 Stop。
  - 测试友好：GRPCManager.Serve 接受任意 net.Listener（如 bufconn），
    Addr 返回实际监听地址，可配合 ":0" 使用。
*/
package server
