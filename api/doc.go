// Package api 定义 dynbatch 路由器 HTTP API 的请求/响应结构。
//
// # API Overview
//
// The router exposes:
//   - POST /process_message: submit one message, wait for its batched reply
//   - GET /api/v1/stats: processor counters and batch efficiency
//   - GET /api/v1/batches, GET /api/v1/batches/{id}: dispatched batch history
//   - /health, /healthz, /ready, /version: liveness and readiness
//
// Prometheus metrics are served on a separate port at /metrics.
//
// # Idempotency
//
// A POST /process_message carrying an Idempotency-Key header is answered from
// cache when the same key and message were seen within the configured TTL.
// Replayed answers carry the header Idempotency-Replayed: true.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://127.0.0.1:8080
package api
