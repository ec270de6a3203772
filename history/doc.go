// Copyright 2025-2026 CampusRAG Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package history 持久化学生的问答记录。
//
// Store 基于 gorm，方言由 internal/database 按配置选择（sqlite、postgres、mysql）。
// 记录可回放为 llm.Message 序列，作为下一次查询的对话历史。
package history
