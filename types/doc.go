// Copyright (c) CampusRAG Authors.
// Licensed under the MIT License.

/*
Package types 提供 campusrag 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 rag、agent、llm、api
等上层模块提供统一的错误契约与 context 传播工具。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记
  - ErrConfiguration：未知 embedder / 模型名称，立即失败，不重试
  - ErrProviderUnavailable：embedding / 向量库 / LLM 调用失败
  - ErrNoResultsFound：检索为空（合法终态，不是错误）
  - ErrInvalidCitation：引用校验失败，仅作质量信号

# 主要能力

  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
  - Context 传播：WithTraceID / WithUserID / WithRequestID
*/
package types
