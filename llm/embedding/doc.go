// Copyright (c) CampusRAG Authors.
// Licensed under the MIT License.

/*
包 embedding 提供统一的文本嵌入接口与多服务商实现，
将文本转换为向量以支持语义检索。

# 核心接口

  - Provider：统一嵌入接口，定义 Embed、EmbedQuery、EmbedDocuments 等方法。
  - EmbeddingRequest / EmbeddingResponse：标准化的请求与响应模型。
  - BaseProvider：HTTP 公共基类，封装请求发送、错误映射、按批切分与客户端限流。

# 实现

  - OpenAIProvider：OpenAI 兼容的 /v1/embeddings，支持可变维度
  - CohereProvider：区分 search_query 与 search_document
  - JinaProvider：retrieval.query / retrieval.passage 任务与 Matryoshka 维度
  - VoyageProvider
  - HashProvider：本地特征哈希，无网络依赖，用于离线开发与测试

# 使用方式

	cfg := embedding.DefaultOpenAIConfig()
	cfg.APIKey = "sk-..."
	provider := embedding.NewOpenAIProvider(cfg)

	vec, err := provider.EmbedQuery(ctx, "COMP0066 作业截止时间")
*/
package embedding
