// Copyright (c) dynbatch Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 dynbatch 路由器 HTTP API 的请求处理器实现。

# 概述

handlers 包实现路由器的全部 HTTP 端点：消息提交、处理器统计、
批次历史查询、健康检查以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口，可直接注册到 http.ServeMux。

# 核心类型

  - ProcessHandler  : POST /process_message，提交消息并等待合批回复
  - BatchesHandler  : /api/v1/stats 与 /api/v1/batches 历史查询
  - HealthHandler   : 服务健康检查（/health, /healthz, /ready）
  - Response        : 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo       : 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter  : 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck     : 可插拔健康检查接口（后端连通性、数据库等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - 批处理错误映射：超时 504、后端失败/缺少回复 502、关闭中 503
  - Idempotency-Key 回放：同键同消息直接返回缓存的回复
*/
package handlers
