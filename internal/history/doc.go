// Package history 把每次批次派发的结果写入数据库，
// 供 GET /api/v1/batches 查询最近的批次与汇总信息。
//
// Store 实现 batch.Observer：派发 goroutine 只做非阻塞投递，
// 由 Store.Run 负责写库与按保留条数清理。
package history
