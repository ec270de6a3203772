package deepseek

import (
	"github.com/BaSui01/campusrag/llm/providers"
	"github.com/BaSui01/campusrag/llm/providers/openaicompat"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.deepseek.com"
	defaultModel   = "deepseek-chat"
)

// DeepSeekProvider 实现 DeepSeek LLM 提供者.
// DeepSeek 使用 OpenAI 兼容的 API 格式.
type DeepSeekProvider struct {
	*openaicompat.Provider
}

// NewDeepSeekProvider 创建新的 DeepSeek 提供者实例.
func NewDeepSeekProvider(cfg providers.DeepSeekConfig, logger *zap.Logger) *DeepSeekProvider {
	base := cfg.WithDefaults(defaultBaseURL, "")
	return &DeepSeekProvider{
		Provider: openaicompat.New(openaicompat.Config{
			ProviderName:   "deepseek",
			APIKey:         base.APIKey,
			BaseURL:        base.BaseURL,
			DefaultModel:   base.Model,
			FallbackModel:  defaultModel,
			Timeout:        base.Timeout,
			EndpointPath:   "/chat/completions",
			ModelsEndpoint: "/models",
		}, logger),
	}
}
