package openai

import (
	"net/http"

	"github.com/BaSui01/campusrag/llm/providers"
	"github.com/BaSui01/campusrag/llm/providers/openaicompat"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.openai.com"
	defaultModel   = "gpt-4o-mini"
)

// OpenAIProvider 实现 OpenAI LLM 提供者，走 Chat Completions API.
type OpenAIProvider struct {
	*openaicompat.Provider
	openaiCfg providers.OpenAIConfig
}

// NewOpenAIProvider 创建新的 OpenAI 提供者实例.
func NewOpenAIProvider(cfg providers.OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	cfg.BaseProviderConfig = cfg.WithDefaults(defaultBaseURL, "")
	p := &OpenAIProvider{
		Provider: openaicompat.New(openaicompat.Config{
			ProviderName:  "openai",
			APIKey:        cfg.APIKey,
			BaseURL:       cfg.BaseURL,
			DefaultModel:  cfg.Model,
			FallbackModel: defaultModel,
			Timeout:       cfg.Timeout,
		}, logger),
		openaiCfg: cfg,
	}
	if cfg.Organization != "" {
		p.SetBuildHeaders(func(req *http.Request, apiKey string) {
			providers.BearerTokenHeaders(req, apiKey)
			req.Header.Set("OpenAI-Organization", cfg.Organization)
		})
	}
	return p
}
