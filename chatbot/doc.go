/*
Package chatbot 是路由服务前面的聊天前端。

Bot 从 Transport 读取用户消息，并发地调用路由的 POST /process_message，
把回复渲染为带批次元数据的文本发回会话：

	Response for [hi]
	Meta: [ Batch ID: 3
	Request ID: 7
	Batch Size: 2
	Processing Time: 0.0021
	All Responses: ["Response for [hi]", "Response for [yo]"] ]

两种传输：

  - TelegramTransport: Bot API 长轮询（getMe、getUpdates、sendMessage）
  - WebSocketTransport: 每个连接是一个会话，文本帧即消息

每个会话有独立的令牌桶限流；调用失败只记录日志，循环继续。
消息 ID 作为 Idempotency-Key 发送，重复投递的消息由路由回放缓存的回复。
*/
package chatbot
