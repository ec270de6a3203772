// Package api 定义 campusrag HTTP API 的请求与响应结构。
//
// # API 概览
//
// 所有 RAG 端点位于 /api/v1/rag 之下：
//   - POST /query、/query/stream、/batch-query：问答（同步、SSE、批量）
//   - POST /search：纯检索，不生成答案
//   - POST /index、/index/batch，PUT/DELETE /documents/{id}，GET /documents：知识库维护
//   - GET /stats，POST /init-collection：集合管理
//   - GET /history/{userID}：对话历史
//
// 健康检查位于 /health、/healthz 与 /ready。
//
// # 响应格式
//
// 除 SSE 外，响应统一为：
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
//
// 失败时 error 字段携带 code 与 message，code 取自 types.ErrorCode。
//
// # Base URL
//
//	http://localhost:8080
package api
