package rerank

import (
	"context"
	"time"
)

// RerankRequest 表示一次重排序请求.
type RerankRequest struct {
	Query     string     `json:"query"`
	Documents []Document `json:"documents"`
	Model     string     `json:"model,omitempty"`
	TopN      int        `json:"top_n,omitempty"`
}

// Document 表示待重排序的文档.
type Document struct {
	Text string `json:"text"`
	ID   string `json:"id,omitempty"`
}

// RerankResponse 表示重排序结果.
type RerankResponse struct {
	ID        string         `json:"id,omitempty"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	Results   []RerankResult `json:"results"`
	Usage     RerankUsage    `json:"usage"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// RerankResult 表示单个文档的相关性得分.
type RerankResult struct {
	Index          int      `json:"index"`           // 在输入中的下标
	RelevanceScore float64  `json:"relevance_score"` // 0-1
	Document       Document `json:"document,omitempty"`
}

// RerankUsage 用量统计.
type RerankUsage struct {
	SearchUnits int `json:"search_units,omitempty"`
	TotalTokens int `json:"total_tokens,omitempty"`
}

// Provider 定义统一的重排序提供者接口.
type Provider interface {
	// Rerank 根据查询相关性重新排序文档.
	Rerank(ctx context.Context, req *RerankRequest) (*RerankResponse, error)

	// RerankSimple 是纯文本列表的便捷方法.
	RerankSimple(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error)

	Name() string

	// MaxDocuments 单次请求支持的最大文档数.
	MaxDocuments() int
}

// Scores 返回与 documents 输入顺序一致的相关性得分，未出现在结果中的文档得分为 0.
func Scores(ctx context.Context, p Provider, query string, documents []string) ([]float64, error) {
	results, err := p.RerankSimple(ctx, query, documents, len(documents))
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(documents))
	for _, r := range results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.RelevanceScore
		}
	}
	return scores, nil
}
