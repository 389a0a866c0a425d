// 版权所有 2024 dynbatch Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接池管理，为批次历史存储
提供 sqlite、postgres 与 mysql 后端。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：最大空闲连接数、最大打开连接数、连接最大生命周期与健康检查间隔。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - Open 按 config.DatabaseConfig 选择 glebarez/sqlite、postgres 或 mysql 方言，
    Dialector 单独暴露方言构造。
  - 健康检查：后台定时 PingContext 探活，Close 后退出。
  - 事务管理：WithTransaction 单次执行，WithTransactionRetry 对死锁、
    序列化失败、sqlite 锁冲突等瞬时错误按 retry.Policy 退避重试。
*/
package database
