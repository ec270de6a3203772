package rag

import (
	"context"
	"math"
	"time"

	"github.com/BaSui01/campusrag/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/BaSui01/campusrag/rag"

// endSpan 记录错误并结束 span
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// =============================================================================
// ⚙️ 配置
// =============================================================================

// RetrieverConfig 检索器配置
type RetrieverConfig struct {
	TopK           int     `json:"top_k"`
	VectorWeight   float64 `json:"vector_weight"`
	TextWeight     float64 `json:"text_weight"`
	MMRLambda      float64 `json:"mmr_lambda"`
	RRFK           int     `json:"rrf_k"`
	Concurrency    int     `json:"concurrency"`
	EmbeddingModel string  `json:"embedding_model"` // 为空时使用 EmbeddingService 的默认模型
}

// DefaultRetrieverConfig 默认检索器配置
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		TopK:         5,
		VectorWeight: 0.7,
		TextWeight:   0.3,
		MMRLambda:    0.7,
		RRFK:         DefaultRRFK,
		Concurrency:  4,
	}
}

// RetrieveOptions 单次检索参数，TopK <= 0 时使用配置值
type RetrieveOptions struct {
	Filters         Filters `json:"filters,omitempty"`
	TopK            int     `json:"top_k"`
	EnableReranking bool    `json:"enable_reranking"`
	EnableDiversity bool    `json:"enable_diversity"`
}

// =============================================================================
// 🔍 Retriever
// =============================================================================

// Retriever 混合检索 + 重排序 + MMR 多样性，以及多查询 RRF 融合
type Retriever struct {
	index      VectorIndex
	embeddings *EmbeddingService
	reranker   PairwiseReranker
	cfg        RetrieverConfig
	metrics    *metrics.Collector
	tracer     trace.Tracer
	logger     *zap.Logger
}

// NewRetriever 创建检索器。reranker 为 nil 时重排序步骤跳过并记录警告。
func NewRetriever(index VectorIndex, embeddings *EmbeddingService, reranker PairwiseReranker, cfg RetrieverConfig, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultRetrieverConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.VectorWeight == 0 && cfg.TextWeight == 0 {
		cfg.VectorWeight, cfg.TextWeight = def.VectorWeight, def.TextWeight
	}
	if cfg.MMRLambda <= 0 || cfg.MMRLambda > 1 {
		cfg.MMRLambda = def.MMRLambda
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = def.RRFK
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return &Retriever{
		index:      index,
		embeddings: embeddings,
		reranker:   reranker,
		cfg:        cfg,
		tracer:     otel.Tracer(instrumentationName),
		logger:     logger.With(zap.String("component", "retriever")),
	}
}

// SetMetrics 设置指标收集器
func (r *Retriever) SetMetrics(c *metrics.Collector) {
	r.metrics = c
}

// Config 返回生效的配置
func (r *Retriever) Config() RetrieverConfig { return r.cfg }

// Retrieve 检索：嵌入查询 → 2×TopK 混合检索 → 可选重排序 → 可选 MMR → 截断到 TopK
func (r *Retriever) Retrieve(ctx context.Context, query string, opts RetrieveOptions) (docs []RetrievedDocument, err error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	ctx, span := r.tracer.Start(ctx, "Retrieve", trace.WithAttributes(
		attribute.Int("rag.top_k", topK),
		attribute.Bool("rag.rerank", opts.EnableReranking),
		attribute.Bool("rag.diversity", opts.EnableDiversity),
	))
	defer func() {
		span.SetAttributes(attribute.Int("rag.documents", len(docs)))
		endSpan(span, err)
	}()

	began := time.Now()
	start := began
	docs, err = r.hybrid(ctx, query, opts.Filters, 2*topK)
	if err != nil {
		return nil, err
	}
	r.metrics.ObserveStage("hybrid_search", time.Since(start))

	if opts.EnableReranking && len(docs) > 0 {
		start = time.Now()
		if docs, err = r.rerank(ctx, query, docs); err != nil {
			return nil, err
		}
		r.metrics.ObserveStage("rerank", time.Since(start))
	}

	if opts.EnableDiversity {
		start = time.Now()
		if docs, err = r.diversify(ctx, docs, topK); err != nil {
			return nil, err
		}
		r.metrics.ObserveStage("mmr", time.Since(start))
	}

	if len(docs) > topK {
		docs = docs[:topK]
	}

	r.logger.Debug("retrieval completed",
		zap.Int("documents", len(docs)),
		zap.Int("top_k", topK),
		zap.Duration("duration", time.Since(began)))
	return docs, nil
}

// MultiQueryRetrieve 并发检索每个查询变体（每路 2×topK），再以 RRF 融合。
// 任一路失败或 ctx 取消都会中止其余检索。
func (r *Retriever) MultiQueryRetrieve(ctx context.Context, queries []string, filters Filters, topK int) (docs []RetrievedDocument, err error) {
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	ctx, span := r.tracer.Start(ctx, "MultiQueryRetrieve", trace.WithAttributes(
		attribute.Int("rag.queries", len(queries)),
		attribute.Int("rag.top_k", topK),
	))
	defer func() { endSpan(span, err) }()

	lists := make([][]RetrievedDocument, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, q := range queries {
		g.Go(func() error {
			found, err := r.hybrid(gctx, q, filters, 2*topK)
			if err != nil {
				return err
			}
			lists[i] = found
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		// errgroup 取消派生 ctx，调用方取消时返回原始 ctx 错误
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	docs = ReciprocalRankFusion(lists, r.cfg.RRFK, topK)
	r.logger.Debug("multi-query retrieval completed",
		zap.Int("queries", len(queries)),
		zap.Int("documents", len(docs)))
	return docs, nil
}

// VectorSearch 纯向量检索，不做关键词打分与重排序
func (r *Retriever) VectorSearch(ctx context.Context, query string, topK int, filters Filters) ([]RetrievedDocument, error) {
	if topK <= 0 {
		topK = 10
	}
	vec, err := r.embeddings.EmbedText(ctx, query, r.cfg.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	hits, err := r.index.Search(ctx, vec, SearchOptions{Limit: topK, Filters: filters})
	if err != nil {
		return nil, err
	}
	docs := make([]RetrievedDocument, len(hits))
	for i, h := range hits {
		docs[i] = hitToDocument(h)
	}
	return docs, nil
}

// hybrid 单路混合检索
func (r *Retriever) hybrid(ctx context.Context, query string, filters Filters, limit int) ([]RetrievedDocument, error) {
	vec, err := r.embeddings.EmbedText(ctx, query, r.cfg.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	hits, err := r.index.HybridSearch(ctx, vec, query, HybridOptions{
		Limit:        limit,
		Filters:      filters,
		VectorWeight: r.cfg.VectorWeight,
		TextWeight:   r.cfg.TextWeight,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	docs := make([]RetrievedDocument, len(hits))
	for i, h := range hits {
		docs[i] = hitToDocument(h)
	}
	return docs, nil
}

// rerank 逐对打分后重新排序。重排序失败时保持原顺序，只有 ctx 取消会返回错误。
func (r *Retriever) rerank(ctx context.Context, query string, docs []RetrievedDocument) ([]RetrievedDocument, error) {
	if r.reranker == nil {
		r.logger.Warn("reranking requested but no reranker configured, keeping hybrid order")
		return docs, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	scores, err := r.reranker.Score(ctx, query, texts)
	if err == nil && len(scores) != len(docs) {
		r.logger.Warn("reranker returned wrong number of scores",
			zap.Int("documents", len(docs)), zap.Int("scores", len(scores)))
		return docs, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Warn("reranking failed, keeping hybrid order", zap.Error(err))
		return docs, nil
	}

	reranked := make([]RetrievedDocument, len(docs))
	copy(reranked, docs)
	for i := range reranked {
		reranked[i].Score = scores[i]
	}
	sortDocuments(reranked)
	return reranked, nil
}

// diversify 以 MMR 选取 topK 篇：首篇为最高分，之后每步最大化
// λ·相关度 − (1−λ)·与已选文档的最大余弦相似度。
func (r *Retriever) diversify(ctx context.Context, docs []RetrievedDocument, topK int) ([]RetrievedDocument, error) {
	if len(docs) <= topK {
		return docs, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	vecs, err := r.embeddings.EmbedBatch(ctx, texts, r.cfg.EmbeddingModel, 0)
	if err != nil {
		return nil, err
	}
	return mmrSelect(docs, vecs, topK, r.cfg.MMRLambda), nil
}

func mmrSelect(docs []RetrievedDocument, vecs [][]float64, topK int, lambda float64) []RetrievedDocument {
	selected := []int{0}
	remaining := make([]int, 0, len(docs)-1)
	for i := 1; i < len(docs); i++ {
		remaining = append(remaining, i)
	}

	for len(selected) < topK && len(remaining) > 0 {
		best, bestScore := -1, math.Inf(-1)
		for pos, idx := range remaining {
			maxSim := math.Inf(-1)
			for _, sel := range selected {
				maxSim = max(maxSim, cosineSimilarity(vecs[idx], vecs[sel]))
			}
			score := lambda*docs[idx].Score - (1-lambda)*maxSim
			if score > bestScore {
				best, bestScore = pos, score
			}
		}
		selected = append(selected, remaining[best])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}

	out := make([]RetrievedDocument, len(selected))
	for i, idx := range selected {
		out[i] = docs[idx]
	}
	return out
}
