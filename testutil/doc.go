// Copyright 2026 dynbatch Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供测试共享的辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual / AssertNever
  - 等待工具: WaitFor / WaitForChannel
  - 数据工具: MustJSON / MustParseJSON / AssertJSONEqual

# 子包

  - testutil/mocks: MockBackend，批量回复后端的模拟实现，支持回显、
    固定错误、前 N 次失败、丢弃指定请求、乱序回复与延迟注入
*/
package testutil
