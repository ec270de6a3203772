package providers

import (
	"strings"
	"time"
)

// BaseProviderConfig 各 Provider 共用的连接参数，由 config.LLMConfig 映射而来
type BaseProviderConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// WithDefaults 填充空的 BaseURL 与 Model，并去掉 BaseURL 末尾的斜杠
func (c BaseProviderConfig) WithDefaults(baseURL, model string) BaseProviderConfig {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = model
	}
	return c
}

// OpenAIConfig OpenAI Provider 配置
type OpenAIConfig struct {
	BaseProviderConfig `yaml:",inline"`
	Organization       string `json:"organization,omitempty" yaml:"organization,omitempty"`
}

// DeepSeekConfig DeepSeek Provider 配置
type DeepSeekConfig struct {
	BaseProviderConfig `yaml:",inline"`
}
