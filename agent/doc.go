// Copyright 2025-2026 CampusRAG Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package agent 提供校园领域 Agent 与无状态编排。

每个领域 Agent（academic、schedule、email、activity）由一份 Profile 描述：
双语关键词、饱和常数、生成温度与系统提示。CanHandle 以关键词命中数除以
饱和常数估计匹配度；general 兜底 Agent 固定返回 0.5，且最后注册。

Orchestrator 对每次请求选出得分最高的 Agent（平分按注册顺序），
Router 将其适配为 rag.AgentRouter 供流水线使用：

	orch := agent.NewDefaultOrchestrator(provider, model, logger)
	pipeline := rag.NewPipeline(processor, retriever, generator, agent.NewRouter(orch), cfg, logger)
*/
package agent
