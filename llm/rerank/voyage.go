package rerank

import (
	"context"
	"time"
)

// VoyageProvider 调用 Voyage AI /v1/rerank，结果位于 data 字段.
type VoyageProvider struct {
	http httpClient
	cfg  Config
}

// NewVoyageProvider 创建 Voyage 重排序提供者.
func NewVoyageProvider(cfg Config) *VoyageProvider {
	return &VoyageProvider{
		http: newHTTPClient("voyage-rerank", cfg, "https://api.voyageai.com"),
		cfg:  cfg,
	}
}

func (p *VoyageProvider) Name() string      { return "voyage-rerank" }
func (p *VoyageProvider) MaxDocuments() int { return 1000 }

type voyageRerankRequest struct {
	Query      string   `json:"query"`
	Documents  []string `json:"documents"`
	Model      string   `json:"model"`
	TopK       int      `json:"top_k,omitempty"`
	Truncation bool     `json:"truncation"`
}

type voyageRerankResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Rerank 使用 Voyage 对文档重新排序.
func (p *VoyageProvider) Rerank(ctx context.Context, req *RerankRequest) (*RerankResponse, error) {
	model := chooseModel(req.Model, p.cfg.Model, defaultVoyageModel)

	var vResp voyageRerankResponse
	err := p.http.post(ctx, "/v1/rerank", voyageRerankRequest{
		Query:      req.Query,
		Documents:  documentTexts(req.Documents),
		Model:      model,
		TopK:       req.TopN,
		Truncation: true,
	}, &vResp)
	if err != nil {
		return nil, err
	}

	results := make([]RerankResult, len(vResp.Data))
	for i, d := range vResp.Data {
		results[i] = RerankResult{Index: d.Index, RelevanceScore: d.RelevanceScore}
	}
	return &RerankResponse{
		Provider:  p.Name(),
		Model:     model,
		Results:   attachDocuments(results, req.Documents),
		Usage:     RerankUsage{TotalTokens: vResp.Usage.TotalTokens},
		CreatedAt: time.Now(),
	}, nil
}

func (p *VoyageProvider) RerankSimple(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error) {
	return rerankSimple(ctx, p, query, documents, topN)
}
