package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// CohereProvider 使用 Cohere v2 embed 接口生成嵌入.
type CohereProvider struct {
	*BaseProvider
	cfg CohereConfig
}

// NewCohereProvider 创建 Cohere 嵌入提供者.
func NewCohereProvider(cfg CohereConfig) *CohereProvider {
	cfg = withDefaults(cfg, "https://api.cohere.ai", "embed-multilingual-v3.0", 1024)
	return &CohereProvider{
		BaseProvider: NewBaseProvider(BaseConfig{
			Name:         "cohere-embedding",
			BaseURL:      cfg.BaseURL,
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			Dimensions:   cfg.Dimensions,
			MaxBatch:     96,
			Timeout:      cfg.Timeout,
			RateLimitRPS: cfg.RateLimitRPS,
		}),
		cfg: cfg,
	}
}

type cohereEmbedRequest struct {
	Texts          []string `json:"texts"`
	Model          string   `json:"model"`
	InputType      string   `json:"input_type"`
	Truncate       string   `json:"truncate,omitempty"`
	EmbeddingTypes []string `json:"embedding_types,omitempty"`
}

type cohereEmbedResponse struct {
	ID         string `json:"id"`
	Embeddings struct {
		Float [][]float64 `json:"float"`
	} `json:"embeddings"`
	Meta struct {
		BilledUnits struct {
			InputTokens int `json:"input_tokens"`
		} `json:"billed_units"`
	} `json:"meta"`
}

// Embed 生成嵌入. Cohere 对查询与文档使用不同的 input_type.
func (p *CohereProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	model := ChooseModel(req.Model, p.cfg.Model, "embed-multilingual-v3.0")

	body := cohereEmbedRequest{
		Texts:          req.Input,
		Model:          model,
		InputType:      "search_document",
		EmbeddingTypes: []string{"float"},
	}
	if req.InputType == InputTypeQuery {
		body.InputType = "search_query"
	}
	if req.Truncate {
		body.Truncate = "END"
	}

	respBody, err := p.DoRequest(ctx, http.MethodPost, "/v2/embed", body)
	if err != nil {
		return nil, err
	}

	var cResp cohereEmbedResponse
	if err := json.Unmarshal(respBody, &cResp); err != nil {
		return nil, err
	}

	embeddings := make([]EmbeddingData, len(cResp.Embeddings.Float))
	for i, emb := range cResp.Embeddings.Float {
		embeddings[i] = EmbeddingData{Index: i, Embedding: emb}
	}
	tokens := cResp.Meta.BilledUnits.InputTokens
	return &EmbeddingResponse{
		ID:         cResp.ID,
		Provider:   p.Name(),
		Model:      model,
		Embeddings: embeddings,
		Usage:      EmbeddingUsage{PromptTokens: tokens, TotalTokens: tokens},
		CreatedAt:  time.Now(),
	}, nil
}

func (p *CohereProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	return p.BaseProvider.EmbedQuery(ctx, query, p.Embed)
}

func (p *CohereProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	return p.BaseProvider.EmbedDocuments(ctx, documents, p.Embed)
}
