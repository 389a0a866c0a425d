/*
Package launcher 把后端、路由和机器人作为三个子进程启动并监管。

启动顺序为 backend → router → bot，后端与路由之间有一个短暂的启动延迟。
机器人是存活探针：轮询发现它退出后，编排器停止全部进程并返回 ErrCanaryDied，
调用方据此以非零状态退出。

停止时按 bot → router → backend 的顺序，每个进程先收到 SIGTERM，
宽限期（默认 100ms）内未退出则发送 SIGKILL。状态机：

	idle → starting → running → stopping → killing → stopped
*/
package launcher
