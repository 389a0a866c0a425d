package chatbot

import "context"

// Message 一条来自用户的聊天消息
type Message struct {
	// ChatID 回复目标会话
	ChatID string
	// ID 传输层内唯一的消息标识，用作幂等键
	ID string
	// User 发送者，仅用于日志
	User string
	Text string
}

// Handler 处理一条入站消息
type Handler func(ctx context.Context, msg Message)

// Transport 聊天前端：Telegram 长轮询或 WebSocket
type Transport interface {
	// Name 传输名，用于指标标签
	Name() string
	// Run 接收消息并交给 handler，阻塞直到 ctx 结束或出现不可恢复的错误
	Run(ctx context.Context, handler Handler) error
	// Send 向会话发送文本
	Send(ctx context.Context, chatID, text string) error
}
