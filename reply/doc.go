// 版权所有 2024 dynbatch Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 reply 实现后端批量回复服务 reply.v1.ReplyService 的 gRPC 传输层。

# 概述

服务只有一个一元方法 /reply.v1.ReplyService/Reply：请求携带一个批次，
响应携带按 request_id 关联的回复列表与后端耗时（秒）。消息使用注册到
gRPC 的 JSON 编解码器（content-subtype "json"），不依赖 protoc 生成代码。

# 核心类型

  - Client：实现 batch.Backend。启动时在 DialTimeout 内等待连接 READY，
    所有调用经过熔断器；参数错误与熔断打开会标记为不可重试。
  - Server：ReplyServiceServer 实现，把批次交给可替换的 Generator，
    缺少批次时返回 InvalidArgument。
  - EchoGenerator：默认生成器，回复 "Response for [<message>]"，
    可配置 Delay 模拟慢速模型。
  - FromBatch / ReplyResponse.ToBackendResult：核心类型与线上结构互转。
*/
package reply
