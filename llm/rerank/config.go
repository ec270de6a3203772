package rerank

import "time"

// Config 是重排序服务商的公共配置.
type Config struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

const (
	defaultCohereModel = "rerank-multilingual-v3.0"
	defaultJinaModel   = "jina-reranker-v2-base-multilingual"
	defaultVoyageModel = "rerank-2"
)

func chooseModel(reqModel, cfgModel, fallback string) string {
	if reqModel != "" {
		return reqModel
	}
	if cfgModel != "" {
		return cfgModel
	}
	return fallback
}
