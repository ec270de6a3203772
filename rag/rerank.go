package rag

import (
	"context"
	"fmt"

	"github.com/BaSui01/campusrag/llm/rerank"
	"go.uber.org/zap"
)

// PairwiseReranker 对每个 (query, doc) 对独立打分，返回与 docs 对齐的分数
type PairwiseReranker interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

// =============================================================================
// 🔌 外部重排序服务
// =============================================================================

// ProviderReranker 把 rerank.Provider（Cohere / Jina / Voyage）适配为 PairwiseReranker。
// 文档数超过 Provider 单次上限时分批请求。
type ProviderReranker struct {
	provider rerank.Provider
	logger   *zap.Logger
}

// NewProviderReranker 创建外部重排序适配器
func NewProviderReranker(provider rerank.Provider, logger *zap.Logger) *ProviderReranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProviderReranker{
		provider: provider,
		logger:   logger.With(zap.String("component", "provider_reranker"), zap.String("provider", provider.Name())),
	}
}

// Score 实现 PairwiseReranker
func (r *ProviderReranker) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return []float64{}, nil
	}
	batch := r.provider.MaxDocuments()
	if batch <= 0 {
		batch = len(docs)
	}

	scores := make([]float64, 0, len(docs))
	for start := 0; start < len(docs); start += batch {
		end := min(start+batch, len(docs))
		part, err := rerank.Scores(ctx, r.provider, query, docs[start:end])
		if err != nil {
			return nil, fmt.Errorf("rerank %s [%d:%d]: %w", r.provider.Name(), start, end, err)
		}
		scores = append(scores, part...)
	}

	r.logger.Debug("documents reranked", zap.Int("count", len(docs)))
	return scores, nil
}

// =============================================================================
// 📐 本地词法重排序
// =============================================================================

// LexicalReranker 基于词重叠与首次命中位置的离线重排序器。
// 分数 = 覆盖率 × (0.8 + 0.2 × 位置靠前程度)，范围 [0, 1]。
type LexicalReranker struct{}

// NewLexicalReranker 创建词法重排序器
func NewLexicalReranker() *LexicalReranker { return &LexicalReranker{} }

// Score 实现 PairwiseReranker
func (LexicalReranker) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	queryTerms := uniqueTerms(query)
	scores := make([]float64, len(docs))
	if len(queryTerms) == 0 {
		return scores, nil
	}
	for i, doc := range docs {
		scores[i] = lexicalScore(queryTerms, tokenize(doc))
	}
	return scores, nil
}

func lexicalScore(queryTerms, docTerms []string) float64 {
	if len(docTerms) == 0 {
		return 0
	}
	firstPos := make(map[string]int, len(docTerms))
	for i, t := range docTerms {
		if _, ok := firstPos[t]; !ok {
			firstPos[t] = i
		}
	}

	matched := 0
	earliest := len(docTerms)
	for _, qt := range queryTerms {
		if pos, ok := firstPos[qt]; ok {
			matched++
			earliest = min(earliest, pos)
		}
	}
	if matched == 0 {
		return 0
	}

	coverage := float64(matched) / float64(len(queryTerms))
	earliness := 1 - float64(earliest)/float64(len(docTerms))
	return coverage * (0.8 + 0.2*earliness)
}
