package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/campusrag/internal/metrics"
	"github.com/BaSui01/campusrag/internal/pool"
	"github.com/BaSui01/campusrag/llm"
	"github.com/BaSui01/campusrag/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// =============================================================================
// ⚙️ 配置与请求
// =============================================================================

// PipelineConfig 流水线配置
type PipelineConfig struct {
	TopK            int             `json:"top_k"`
	DefaultMethod   Method          `json:"default_method"`
	EnableReranking bool            `json:"enable_reranking"`
	EnableDiversity bool            `json:"enable_diversity"`
	MultiQuery      bool            `json:"multi_query"`
	UseAgents       bool            `json:"use_agents"`
	Concurrency     int             `json:"concurrency"` // 批量查询并发数
	Generate        GenerateOptions `json:"generate"`
}

// DefaultPipelineConfig 默认流水线配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		TopK:            5,
		DefaultMethod:   MethodHybrid,
		EnableReranking: true,
		UseAgents:       true,
		Concurrency:     4,
	}
}

// QueryRequest 一次问答请求。TopK <= 0 与空 Method 使用配置默认值。
type QueryRequest struct {
	Query           string         `json:"query"`
	UserID          string         `json:"user_id"`
	History         []llm.Message  `json:"history,omitempty"`
	Profile         map[string]any `json:"profile,omitempty"`
	TopK            int            `json:"top_k,omitempty"`
	Method          Method         `json:"method,omitempty"`
	Filters         Filters        `json:"filters,omitempty"`
	EnableReranking *bool          `json:"enable_reranking,omitempty"`
	EnableDiversity *bool          `json:"enable_diversity,omitempty"`
}

// =============================================================================
// 🚀 Pipeline
// =============================================================================

// Pipeline 查询理解 → 检索 → 生成（标准生成器或 Agent 路由）
type Pipeline struct {
	processor *QueryProcessor
	retriever *Retriever
	generator *Generator
	agents    AgentRouter
	pool      *pool.GoroutinePool
	cfg       PipelineConfig
	metrics   *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewPipeline 创建流水线。agents 为 nil 时 hybrid 方式退回标准生成器，agent 方式返回配置错误。
func NewPipeline(processor *QueryProcessor, retriever *Retriever, generator *Generator, agents AgentRouter, cfg PipelineConfig, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if !cfg.DefaultMethod.Valid() {
		cfg.DefaultMethod = MethodHybrid
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	poolCfg := pool.DefaultGoroutinePoolConfig()
	poolCfg.MaxWorkers = cfg.Concurrency
	return &Pipeline{
		processor: processor,
		retriever: retriever,
		generator: generator,
		agents:    agents,
		pool:      pool.NewGoroutinePool(poolCfg),
		cfg:       cfg,
		tracer:    otel.Tracer(instrumentationName),
		logger:    logger.With(zap.String("component", "pipeline")),
	}
}

// SetMetrics 设置指标收集器，同时下发给检索器与生成器
func (p *Pipeline) SetMetrics(c *metrics.Collector) {
	p.metrics = c
	p.retriever.SetMetrics(c)
	p.generator.SetMetrics(c)
}

// Close 释放批量查询的协程池
func (p *Pipeline) Close() {
	p.pool.Close()
}

// ProcessQuery 完整问答。ctx 取消时返回 ctx.Err()，不产生部分答案。
func (p *Pipeline) ProcessQuery(ctx context.Context, req QueryRequest) (result *Result, err error) {
	method, err := p.resolveMethod(req)
	if err != nil {
		return nil, err
	}

	ctx, span := p.tracer.Start(ctx, "ProcessQuery", trace.WithAttributes(
		attribute.String("rag.method", string(method)),
		attribute.String("user.id", req.UserID),
	))
	defer func() {
		p.metrics.RecordQuery(string(method), err)
		endSpan(span, err)
	}()
	if req.UserID != "" {
		ctx = types.WithUserID(ctx, req.UserID)
	}

	pq, docs, retrievalTime, err := p.understandAndRetrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	genStart := time.Now()
	answer, agentResp, err := p.generate(ctx, req, method, docs)
	if err != nil {
		return nil, err
	}
	generationTime := time.Since(genStart)
	p.metrics.ObserveStage("generate", generationTime)

	result = &Result{
		Query:          pq,
		RetrievedDocs:  docs,
		Answer:         answer,
		Method:         method,
		RetrievalTime:  retrievalTime,
		GenerationTime: generationTime,
		TotalTime:      retrievalTime + generationTime,
	}
	if agentResp != nil {
		result.AgentResponse = agentResp.Response
	}

	p.logger.Info("query processed",
		append(requestFields(ctx),
			zap.String("method", string(method)),
			zap.String("intent", string(pq.Intent)),
			zap.Int("documents", len(docs)),
			zap.Float64("confidence", answer.Confidence),
			zap.Duration("total", result.TotalTime))...)
	return result, nil
}

// requestFields 从 ctx 中取出请求、trace 与用户 ID 作为日志字段
func requestFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id, ok := types.RequestID(ctx); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := types.TraceID(ctx); ok {
		fields = append(fields, zap.String("trace_id", id))
	}
	if id, ok := types.UserID(ctx); ok {
		fields = append(fields, zap.String("user_id", id))
	}
	return fields
}

// ProcessBatch 有界并发处理多条请求，结果与输入同序；首个错误取消整个批次
func (p *Pipeline) ProcessBatch(ctx context.Context, reqs []QueryRequest) ([]*Result, error) {
	results := make([]*Result, len(reqs))
	tasks := make([]pool.Task, len(reqs))
	for i, req := range reqs {
		tasks[i] = func(ctx context.Context) error {
			res, err := p.ProcessQuery(ctx, req)
			if err != nil {
				return fmt.Errorf("batch query %d: %w", i, err)
			}
			results[i] = res
			return nil
		}
	}
	if err := p.pool.RunAll(ctx, tasks); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return results, nil
}

// Search 语义检索，不生成答案
func (p *Pipeline) Search(ctx context.Context, query string, topK int, filters Filters) ([]RetrievedDocument, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.NewInvalidRequestError("query must not be empty")
	}
	start := time.Now()
	docs, err := p.retriever.VectorSearch(ctx, query, topK, filters)
	if err != nil {
		return nil, err
	}
	p.metrics.ObserveStage("search", time.Since(start))
	return docs, nil
}

// StreamQuery 同步完成查询理解与检索，随后流式输出生成结果。
// 第一个事件携带检索结果；agent 方式不支持增量输出，整段答案作为单个 delta 发送。
func (p *Pipeline) StreamQuery(ctx context.Context, req QueryRequest) (<-chan StreamEvent, error) {
	method, err := p.resolveMethod(req)
	if err != nil {
		return nil, err
	}
	_, docs, _, err := p.understandAndRetrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	if p.useAgent(method) {
		answer, agentResp, err := p.generate(ctx, req, method, docs)
		if err != nil {
			return nil, err
		}
		done := StreamEvent{Type: StreamEventDone, Answer: answer, Method: method}
		if agentResp != nil {
			done.AgentType = agentResp.AgentType
		}
		ch := make(chan StreamEvent, 3)
		ch <- StreamEvent{Type: StreamEventRetrieval, Docs: docs}
		ch <- StreamEvent{Type: StreamEventDelta, Delta: answer.Answer}
		ch <- done
		close(ch)
		return ch, nil
	}

	inner, err := p.generator.Stream(ctx, req.Query, docs, p.cfg.Generate)
	if err != nil {
		return nil, err
	}
	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		select {
		case out <- StreamEvent{Type: StreamEventRetrieval, Docs: docs}:
		case <-ctx.Done():
			return
		}
		for ev := range inner {
			if ev.Type == StreamEventDone {
				ev.Method = method
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// =============================================================================
// 🔧 内部实现
// =============================================================================

func (p *Pipeline) resolveMethod(req QueryRequest) (Method, error) {
	if strings.TrimSpace(req.Query) == "" {
		return "", types.NewInvalidRequestError("query must not be empty")
	}
	method := req.Method
	if method == "" {
		method = p.cfg.DefaultMethod
	}
	if !method.Valid() {
		return "", types.NewInvalidRequestError(fmt.Sprintf("unknown method %q, expected standard, agent or hybrid", method))
	}
	if method == MethodAgent && p.agents == nil {
		return "", types.NewConfigurationError("agent method requested but no agent router configured")
	}
	return method, nil
}

func (p *Pipeline) useAgent(method Method) bool {
	if p.agents == nil {
		return false
	}
	return method == MethodAgent || (method == MethodHybrid && p.cfg.UseAgents)
}

// understandAndRetrieve 查询理解后检索，调用方过滤条件覆盖查询中抽取的条件
func (p *Pipeline) understandAndRetrieve(ctx context.Context, req QueryRequest) (*ProcessedQuery, []RetrievedDocument, time.Duration, error) {
	start := time.Now()
	pq, err := p.processor.Process(ctx, req.Query)
	if err != nil {
		return nil, nil, 0, err
	}
	p.metrics.ObserveStage("process", time.Since(start))
	filters := pq.Filters.Merge(req.Filters)

	topK := req.TopK
	if topK <= 0 {
		topK = p.cfg.TopK
	}

	retrievalStart := time.Now()
	var docs []RetrievedDocument
	if p.cfg.MultiQuery && len(pq.ExpandedQueries) > 1 {
		docs, err = p.retriever.MultiQueryRetrieve(ctx, pq.ExpandedQueries, filters, topK)
	} else {
		docs, err = p.retriever.Retrieve(ctx, req.Query, RetrieveOptions{
			Filters:         filters,
			TopK:            topK,
			EnableReranking: boolOr(req.EnableReranking, p.cfg.EnableReranking),
			EnableDiversity: boolOr(req.EnableDiversity, p.cfg.EnableDiversity),
		})
	}
	if err != nil {
		return nil, nil, 0, err
	}
	retrievalTime := time.Since(retrievalStart)
	p.metrics.ObserveStage("retrieve", retrievalTime)
	return pq, docs, retrievalTime, nil
}

// generate 按方式选择生成路径，Agent 的回答转换为 GeneratedAnswer，来源为全部检索结果
func (p *Pipeline) generate(ctx context.Context, req QueryRequest, method Method, docs []RetrievedDocument) (*GeneratedAnswer, *AgentAnswer, error) {
	if !p.useAgent(method) {
		answer, err := p.generator.Generate(ctx, req.Query, docs, p.cfg.Generate)
		return answer, nil, err
	}

	resp, err := p.agents.Route(ctx, AgentRequest{
		Query:   req.Query,
		UserID:  req.UserID,
		History: req.History,
		Profile: req.Profile,
		Docs:    docs,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, err
	}
	p.metrics.RecordAgentSelected(resp.AgentType)

	sources := make([]SourceSummary, len(docs))
	used := make([]string, len(docs))
	for i, d := range docs {
		sources[i] = SourceSummary{ID: d.ID, Text: d.Text, Score: d.Score, Metadata: d.Metadata}
		used[i] = d.Text
	}
	return &GeneratedAnswer{
		Answer:              resp.Answer,
		Sources:             sources,
		Confidence:          resp.Confidence,
		ContextUsed:         used,
		TokensUsed:          resp.TokensUsed,
		InsufficientContext: len(docs) == 0 || strings.Contains(resp.Answer, InsufficientContextPhrase),
		Citations:           ValidateCitations(resp.Answer, len(docs)),
	}, resp, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
