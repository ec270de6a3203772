// Copyright (c) CampusRAG Authors.
// Licensed under the MIT License.

/*
# 概述

包 providers 汇集 OpenAI 兼容协议的公共类型与错误映射，
子包 openaicompat、deepseek、openai 基于它实现具体的 [llm.Provider]。

# 公共能力

  - MapHTTPError：HTTP 状态码 → llm.Error（含 Retryable 标记）
  - ReadErrorMessage：解析 OpenAI 风格的错误响应体
  - ConvertMessagesToOpenAI / ToLLMChatResponse：消息与响应转换
  - ChooseModel：请求模型 → 默认模型 → 兜底模型
*/
package providers
