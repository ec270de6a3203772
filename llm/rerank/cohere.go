package rerank

import (
	"context"
	"time"
)

// CohereProvider 调用 Cohere /v2/rerank.
type CohereProvider struct {
	http httpClient
	cfg  Config
}

// NewCohereProvider 创建 Cohere 重排序提供者.
func NewCohereProvider(cfg Config) *CohereProvider {
	return &CohereProvider{
		http: newHTTPClient("cohere-rerank", cfg, "https://api.cohere.ai"),
		cfg:  cfg,
	}
}

func (p *CohereProvider) Name() string      { return "cohere-rerank" }
func (p *CohereProvider) MaxDocuments() int { return 1000 }

type cohereRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereRerankResponse struct {
	ID      string         `json:"id"`
	Results []RerankResult `json:"results"`
	Meta    struct {
		BilledUnits struct {
			SearchUnits int `json:"search_units"`
		} `json:"billed_units"`
	} `json:"meta"`
}

// Rerank 使用 Cohere 对文档重新排序.
func (p *CohereProvider) Rerank(ctx context.Context, req *RerankRequest) (*RerankResponse, error) {
	model := chooseModel(req.Model, p.cfg.Model, defaultCohereModel)

	var cResp cohereRerankResponse
	err := p.http.post(ctx, "/v2/rerank", cohereRerankRequest{
		Query:     req.Query,
		Documents: documentTexts(req.Documents),
		Model:     model,
		TopN:      req.TopN,
	}, &cResp)
	if err != nil {
		return nil, err
	}

	return &RerankResponse{
		ID:        cResp.ID,
		Provider:  p.Name(),
		Model:     model,
		Results:   attachDocuments(cResp.Results, req.Documents),
		Usage:     RerankUsage{SearchUnits: cResp.Meta.BilledUnits.SearchUnits},
		CreatedAt: time.Now(),
	}, nil
}

func (p *CohereProvider) RerankSimple(ctx context.Context, query string, documents []string, topN int) ([]RerankResult, error) {
	return rerankSimple(ctx, p, query, documents, topN)
}
