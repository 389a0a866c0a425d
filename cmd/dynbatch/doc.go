/*
dynbatch 是动态批处理回复服务的命令行入口。

同一个二进制按子命令扮演不同角色：

  - router：HTTP 入口 POST /process_message，把窗口内的请求合并成一批，经 gRPC 发给后端
  - server：gRPC ReplyService 回复后端，默认回显 "Response for [<message>]"
  - bot：聊天机器人，从 Telegram 或 WebSocket 收消息，调用路由并回复带批次元信息的文本
  - launch：依次启动 server、router、bot 三个子进程；bot 退出时关闭全部进程并以非零状态退出

配置优先级为 默认值 → YAML 文件（--config）→ DYNBATCH_ 前缀环境变量 → 命令行参数。
router 监听配置文件变化，日志级别与限流参数可热更新。
*/
package main
