// Copyright 2025-2026 CampusRAG Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package rag 实现面向校园学生服务的检索增强生成（Retrieval-Augmented Generation）。

一次问答依次经过查询理解、检索与生成三个阶段；写入侧由 KnowledgeBase
负责分块、批量嵌入与索引维护。所有阻塞操作都接收 context.Context，
取消时返回 ctx.Err()，不产生部分答案。

# 核心接口/类型

  - VectorIndex：向量索引契约（CreateCollection / Upsert / Search / HybridSearch / Delete / Scroll / Stats）
  - Embedder：嵌入能力（EmbedQuery / EmbedDocuments / Dimensions / Name）
  - EmbeddingCache：嵌入缓存（进程内有界 map 或 Redis）
  - PairwiseReranker：查询-文档逐对打分
  - AgentRouter：Agent 路由，由 agent 包实现

# 主要能力

  - 查询理解：意图识别、实体与时间上下文抽取、同义词扩展、过滤条件（QueryProcessor）
  - 文档分块：递归分隔符、Markdown 标题、句子三种策略（Chunker）
  - 嵌入服务：多模型注册、批量去重、缓存与加权拼接（EmbeddingService / HybridEmbedder）
  - 向量索引：内存（倒排表关键词打分）/ Qdrant / pgvector 三种后端
  - 检索：混合检索 → 重排序 → MMR 多样性，多查询 RRF 融合（Retriever）
  - 生成：上下文预算、来源引用校验、置信度与流式输出（Generator）
  - 流水线：standard / agent / hybrid 三种生成方式，批量与流式查询（Pipeline）
  - 知识库：索引、批量索引、按文档或来源删除、更新与统计（KnowledgeBase）
*/
package rag
