package embedding

import (
	"context"
	"encoding/json"
	"net/http"
)

// JinaProvider 使用 Jina AI 接口生成嵌入，支持 Matryoshka 维度裁剪.
type JinaProvider struct {
	*BaseProvider
	cfg JinaConfig
}

// NewJinaProvider 创建 Jina AI 嵌入提供者.
func NewJinaProvider(cfg JinaConfig) *JinaProvider {
	cfg = withDefaults(cfg, "https://api.jina.ai", "jina-embeddings-v3", 1024)
	return &JinaProvider{
		BaseProvider: NewBaseProvider(BaseConfig{
			Name:         "jina-embedding",
			BaseURL:      cfg.BaseURL,
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			Dimensions:   cfg.Dimensions,
			MaxBatch:     2048,
			Timeout:      cfg.Timeout,
			RateLimitRPS: cfg.RateLimitRPS,
		}),
		cfg: cfg,
	}
}

type jinaEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Task       string   `json:"task,omitempty"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// Embed 生成嵌入.
func (p *JinaProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	model := ChooseModel(req.Model, p.cfg.Model, "jina-embeddings-v3")

	body := jinaEmbedRequest{
		Input:      req.Input,
		Model:      model,
		Dimensions: p.cfg.Dimensions,
	}
	switch req.InputType {
	case InputTypeQuery:
		body.Task = "retrieval.query"
	case InputTypeDocument:
		body.Task = "retrieval.passage"
	}
	if req.Dimensions > 0 {
		body.Dimensions = req.Dimensions
	}

	respBody, err := p.DoRequest(ctx, http.MethodPost, "/v1/embeddings", body)
	if err != nil {
		return nil, err
	}

	var jResp dataEmbedResponse
	if err := json.Unmarshal(respBody, &jResp); err != nil {
		return nil, err
	}
	return jResp.toResponse(p.Name(), model), nil
}

func (p *JinaProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	return p.BaseProvider.EmbedQuery(ctx, query, p.Embed)
}

func (p *JinaProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	return p.BaseProvider.EmbedDocuments(ctx, documents, p.Embed)
}
