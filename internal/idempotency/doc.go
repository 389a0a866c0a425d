// Package idempotency 为 POST /process_message 提供幂等回放。
//
// 客户端通过 Idempotency-Key 头标记请求，首次成功的响应按键缓存，
// 重复请求直接返回缓存结果而不会再次进入批处理队列。
// 启用 Redis 时多个路由实例共享缓存，否则退化为进程内存实现。
package idempotency
