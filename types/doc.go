// Copyright (c) dynbatch Authors.
// Licensed under the MIT License.

/*
Package types 提供 dynbatch 对外 API 共享的错误类型。

# 核心类型

  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - StatusForCode 把错误码映射到 HTTP 状态码
  - AsError / GetErrorCode / IsRetryable 沿 errors 链提取结构化错误
*/
package types
