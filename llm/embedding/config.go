package embedding

import "time"

// HTTPConfig 是 HTTP 嵌入服务商共享的配置.
type HTTPConfig struct {
	APIKey       string        `json:"api_key" yaml:"api_key"`
	BaseURL      string        `json:"base_url" yaml:"base_url"`
	Model        string        `json:"model,omitempty" yaml:"model,omitempty"`
	Dimensions   int           `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RateLimitRPS float64       `json:"rate_limit_rps,omitempty" yaml:"rate_limit_rps,omitempty"`
}

// OpenAIConfig 配置 OpenAI 兼容的嵌入服务（也适用于自建的兼容网关）.
type OpenAIConfig = HTTPConfig

// CohereConfig 配置 Cohere 嵌入服务.
type CohereConfig = HTTPConfig

// JinaConfig 配置 Jina AI 嵌入服务.
type JinaConfig = HTTPConfig

// VoyageConfig 配置 Voyage AI 嵌入服务.
type VoyageConfig = HTTPConfig

// HashConfig 配置本地特征哈希嵌入.
type HashConfig struct {
	Dimensions int `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	// NGram 是字符 n-gram 的长度，默认 3
	NGram int `json:"ngram,omitempty" yaml:"ngram,omitempty"`
}

func withDefaults(cfg HTTPConfig, baseURL, model string, dims int) HTTPConfig {
	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURL
	}
	if cfg.Model == "" {
		cfg.Model = model
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = dims
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return cfg
}

// DefaultOpenAIConfig 返回 OpenAI 默认配置.
func DefaultOpenAIConfig() OpenAIConfig {
	return withDefaults(HTTPConfig{}, "https://api.openai.com", "text-embedding-3-small", 1024)
}

// DefaultCohereConfig 返回 Cohere 默认配置.
func DefaultCohereConfig() CohereConfig {
	return withDefaults(HTTPConfig{}, "https://api.cohere.ai", "embed-multilingual-v3.0", 1024)
}

// DefaultJinaConfig 返回 Jina AI 默认配置.
func DefaultJinaConfig() JinaConfig {
	return withDefaults(HTTPConfig{}, "https://api.jina.ai", "jina-embeddings-v3", 1024)
}

// DefaultVoyageConfig 返回 Voyage AI 默认配置.
func DefaultVoyageConfig() VoyageConfig {
	return withDefaults(HTTPConfig{}, "https://api.voyageai.com", "voyage-3", 1024)
}
