// Copyright 2025-2026 CampusRAG Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
campusrag 是校园知识库问答服务的命令行入口。

# 子命令

  - serve：按配置组装 App，启动 API 与 Metrics 两个 HTTP 服务，收到 SIGINT/SIGTERM 后优雅关闭。
  - index：加载文件或目录（txt、md、html、csv、json、pdf）并写入知识库，--replace 先删除同源旧分块。
  - ask：命令行问答，可选流式输出。
  - migrate：创建或检查对话历史表。
  - version / health / help。

# 中间件顺序

Recovery → RequestID → SecurityHeaders → RequestLogger → Metrics → OTel → CORS → RateLimiter。
*/
package main
