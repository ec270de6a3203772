// Copyright (c) CampusRAG Authors.
// Licensed under the MIT License.

/*
包 metrics 基于 Prometheus 采集 HTTP 与 RAG 流水线指标。

# 指标

  - http_requests_total / http_request_duration_seconds
  - rag_stage_duration_seconds{stage}：process、retrieve、generate、index
  - rag_queries_total{method,status}
  - embedding_cache_total{result}
  - agent_selected_total{agent}
  - documents_indexed_total
  - llm_tokens_total{provider}
  - db_connections_open / db_connections_idle

NewCollector 注册到默认 Registry；测试中使用 NewCollectorWithRegistry
搭配独立的 prometheus.NewRegistry 避免重复注册。
*/
package metrics
