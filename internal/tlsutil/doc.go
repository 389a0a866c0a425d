// Package tlsutil 提供集中式 TLS 配置，
// 为聊天机器人的 HTTP 客户端（Telegram Bot API、路由服务）与 Redis 连接提供加固的 TLS 设置。
package tlsutil
