// 版权所有 2024 dynbatch Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、
动态批处理、后端调用、缓存、数据库与聊天机器人几个维度。

# 概述

Collector 统一注册和记录 Prometheus 指标，使用 promauto 自动注册
到默认 Registry，所有指标按 namespace 隔离。Collector 实现了
batch.Observer，可直接挂到 batch.Processor 上接收队列与派发事件。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 批处理指标：入队数、剪枝数、队列深度、批次大小分布、
    按 delivered/missing/failed 区分的条目计数、派发耗时、请求端到端延迟。
  - 后端指标：后端上报的处理耗时、熔断器状态迁移次数。
  - 缓存指标：幂等缓存命中与未命中。
  - 数据库指标：批次历史写入与查询耗时。
  - 聊天机器人指标：按 transport/status 分组的消息计数。
*/
package metrics
