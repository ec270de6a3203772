package embedding

import (
	"context"
	"encoding/json"
	"net/http"
)

// VoyageProvider 使用 Voyage AI 接口生成嵌入.
type VoyageProvider struct {
	*BaseProvider
	cfg VoyageConfig
}

// NewVoyageProvider 创建 Voyage AI 嵌入提供者.
func NewVoyageProvider(cfg VoyageConfig) *VoyageProvider {
	cfg = withDefaults(cfg, "https://api.voyageai.com", "voyage-3", 1024)
	return &VoyageProvider{
		BaseProvider: NewBaseProvider(BaseConfig{
			Name:         "voyage-embedding",
			BaseURL:      cfg.BaseURL,
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			Dimensions:   cfg.Dimensions,
			MaxBatch:     128,
			Timeout:      cfg.Timeout,
			RateLimitRPS: cfg.RateLimitRPS,
		}),
		cfg: cfg,
	}
}

type voyageEmbedRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
	Truncate  bool     `json:"truncation,omitempty"`
}

// Embed 生成嵌入.
func (p *VoyageProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	model := ChooseModel(req.Model, p.cfg.Model, "voyage-3")

	body := voyageEmbedRequest{
		Input:     req.Input,
		Model:     model,
		InputType: string(req.InputType),
		Truncate:  req.Truncate,
	}

	respBody, err := p.DoRequest(ctx, http.MethodPost, "/v1/embeddings", body)
	if err != nil {
		return nil, err
	}

	var vResp dataEmbedResponse
	if err := json.Unmarshal(respBody, &vResp); err != nil {
		return nil, err
	}
	return vResp.toResponse(p.Name(), model), nil
}

func (p *VoyageProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	return p.BaseProvider.EmbedQuery(ctx, query, p.Embed)
}

func (p *VoyageProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	return p.BaseProvider.EmbedDocuments(ctx, documents, p.Embed)
}
