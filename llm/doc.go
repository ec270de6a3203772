// Copyright (c) CampusRAG Authors.
// Licensed under the MIT License.

/*
包 llm 提供统一的大语言模型接入层：Provider 抽象、错误语义与重试包装。

# 概述

Generator 与各领域 Agent 只依赖 [Provider] 接口，通过 Completion / Stream
调用语言模型，不感知具体服务商。服务商差异由 llm/providers 子包屏蔽。

# 核心类型

  - [Provider]：LLM 提供者接口，提供 Completion / Stream / HealthCheck / Name
  - [ChatRequest] / [ChatResponse]：聊天请求与响应
  - [StreamChunk]：流式输出分片
  - [Error]：带 HTTP 状态与 Retryable 标记的错误
  - [ResilientProvider]：指数退避重试包装，只重试 Retryable 错误

# 相关子包

- llm/providers：OpenAI 兼容协议与 DeepSeek 适配。
- llm/embedding：文本嵌入 Provider（OpenAI / Cohere / Jina / Voyage / 本地哈希）。
- llm/rerank：成对重排序 Provider（Cohere / Jina / Voyage）。
- llm/retry：重试与退避策略。
- llm/tokenizer：token 计数。
*/
package llm
