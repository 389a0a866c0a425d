// Package config 提供 dynbatch 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → DYNBATCH_ 前缀环境变量 的顺序叠加，
// 最后由 Validate 校验。Reloader 监听配置文件并把新配置推送给订阅者，
// 用于在运行期调整日志级别与限流参数。
package config
