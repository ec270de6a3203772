// Copyright (c) CampusRAG Authors.
// Licensed under the MIT License.

/*
包 database 负责打开对话历史使用的关系数据库并管理连接池。

# 核心能力

  - Dialector / Open：按驱动名选择 postgres、mysql 或 sqlite（glebarez 纯 Go 驱动）。
    sqlite 固定单连接。
  - PoolManager：连接池参数、后台健康检查（可上报 db_connections_* 指标）、
    WithTransaction 与带指数退避的 WithTransactionRetry。
*/
package database
