package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/campusrag/internal/tlsutil"
	"github.com/BaSui01/campusrag/llm"
	"github.com/BaSui01/campusrag/llm/providers"
)

// httpClient 是三家重排序服务共用的 JSON over HTTP 调用.
type httpClient struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

func newHTTPClient(name string, cfg Config, defaultBaseURL string) httpClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return httpClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  tlsutil.SecureHTTPClient(timeout),
	}
}

func (c httpClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	providers.BearerTokenHeaders(httpReq, c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &llm.Error{
			Code:       llm.ErrUpstreamError,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
			Provider:   c.name,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return providers.MapHTTPError(resp.StatusCode, providers.ReadErrorMessage(resp.Body), c.name)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.name, err)
	}
	return nil
}

func documentTexts(docs []Document) []string {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	return texts
}

// attachDocuments 按 Index 回填原始文档，便于调用方拿到 ID.
func attachDocuments(results []RerankResult, docs []Document) []RerankResult {
	for i := range results {
		if idx := results[i].Index; idx >= 0 && idx < len(docs) {
			results[i].Document = docs[idx]
		}
	}
	return results
}

func rerankSimple(ctx context.Context, p Provider, query string, documents []string, topN int) ([]RerankResult, error) {
	docs := make([]Document, len(documents))
	for i, d := range documents {
		docs[i] = Document{Text: d}
	}
	resp, err := p.Rerank(ctx, &RerankRequest{Query: query, Documents: docs, TopN: topN})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}
