package rerank

import (
	"context"
	"time"
)

// JinaProvider 调用 Jina AI /v1/rerank.
type JinaProvider struct {
	http httpClient
	cfg  Config
}

// NewJinaProvider 创建 Jina 重排序提供者.
func NewJinaProvider(cfg Config) *JinaProvider {
	return &JinaProvider{
		http: newHTTPClient("jina-rerank", cfg, "https://api.jina.ai"),
		cfg:  cfg,
	}
}

func (p *JinaProvider) Name() string      { return "jina-rerank" }
func (p *JinaProvider) MaxDocuments() int { return 2048 }

type jinaRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type jinaRerankResponse struct {
	Model   string         `json:"model"`
	Results []RerankResult `json:"results"`
	Usage   struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Rerank 使用 Jina 对文档重新排序.
func (p *JinaProvider) Rerank(ctx context.Context, req *RerankRequest) (*RerankResponse, error) {
	model := chooseModel(req.Model, p.cfg.Model, defaultJinaModel)

	var jResp jinaRerankResponse
	err := p.http.post(ctx, "/v1/rerank", jinaRerankRequest{
		Query:     req.Query,
		Documents: documentTexts(req.Documents),
		Model:     model,
		TopN:      req.TopN,
	}, &jResp)
	if err != nil {
		return nil, err
	}

	return &RerankResponse{
		Provider:  p.Name(),
		Model:     model,
		Results:   attachDocuments(jResp.Results, req.Documents),
		Usage:     RerankUsage{TotalTokens: jResp.Usage.TotalTokens},
		CreatedAt: time.Now(),
	}, nil
}

func (p *JinaProvider) RerankSimple(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error) {
	return rerankSimple(ctx, p, query, documents, topN)
}
