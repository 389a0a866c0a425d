// 版权所有 2024 dynbatch Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理批次历史表 batch_records 的版本化 schema，
基于 golang-migrate，迁移文件按方言内嵌（sqlite、postgres、mysql）。

# 核心类型

  - Migrator：Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info/Close。
  - DefaultMigrator：持有独立 *sql.DB 的 golang-migrate 封装。
  - CLI：dynbatch migrate 子命令的格式化输出。

# 使用

路由启动时调用 Apply 迁移到最新版本；内存 sqlite 返回 ErrInMemoryDatabase，
由调用方回退到 GORM AutoMigrate。
*/
package migration
