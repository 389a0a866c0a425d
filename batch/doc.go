// 版权所有 2024 dynbatch Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 batch 实现回复请求的微批处理：把短时间窗口内到达的独立请求
合并为一次后端调用，再把逐条回复按请求 ID 分发回各自的调用方。

# 概述

后端每次调用都有固定开销。本包让大量并发调用方共享一次调用，
同时保证每个调用方只拿到属于自己的那一条回复。

# 核心类型

  - Queue：Queue Actor，待处理请求集合的唯一拥有者。所有修改都通过
    mailbox 串行执行，不使用锁。提供 Enqueue 与 ExtractBatch 两个操作。
  - Dispatcher：派发循环。被唤醒后等待固定聚合窗口，然后反复调用
    ExtractBatch 直到没有批次，每个批次调用一次 Backend。
  - Processor：对外入口，Submit 入队后只在调用方私有的 Sink 上等待。
  - Sink：容量为 1 的回复通道，调用方放弃后在下一次 ExtractBatch 时被剪枝。

# 失败语义

  - 后端调用按 retry.Policy 重试，仍失败时批内每个请求都会收到
    ErrBackendFailed。
  - 后端漏掉的请求收到 ErrNoReply。
  - Close 时仍在排队的请求收到 ErrProcessorClosed。

# 使用方式

	p := batch.NewProcessor(batch.DefaultConfig(), backend, logger)
	defer p.Close()

	resp, err := p.Submit(ctx, batch.Payload{Message: "hello"})
*/
package batch
