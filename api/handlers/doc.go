// Copyright 2025-2026 CampusRAG Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package handlers 提供 CampusRAG HTTP API 的请求处理器。

# 端点

RAGHandler.Routes 返回挂载在 /api/v1/rag 下的子路由：

  - POST /query、/query/stream（SSE）、/batch-query、/search
  - POST /index、/index/batch；GET /documents；PUT、DELETE /documents/{id}
  - GET /stats；POST /init-collection；GET /history/{userID}

HealthHandler 提供 /health、/healthz 与 /ready，就绪检查通过 RegisterCheck 注册。

# 响应格式

所有 JSON 响应使用统一信封 Response（success、data、error、timestamp、request_id）。
错误经 WriteErr 映射：types.Error 保留错误码，context.DeadlineExceeded 映射为 504，
context.Canceled 映射为 503，其余为 500。
*/
package handlers
