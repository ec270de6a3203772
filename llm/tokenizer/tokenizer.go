package tokenizer

import (
	"go.uber.org/zap"
)

// Tokenizer 是统一的 token 计数接口.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []Message) (int, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// Message 是 tokenizer 包使用的轻量级消息结构,
// 避免与 llm 包的循环依赖。
type Message struct {
	Role    string
	Content string
}

// fallbackTokenizer 优先使用精确分词器，失败时退回估算器.
type fallbackTokenizer struct {
	primary  Tokenizer
	fallback Tokenizer
	logger   *zap.Logger
}

// NewWithFallback 组合精确分词器与估算器.
// tiktoken 首次使用需要加载 BPE 数据，离线环境下会退回估算器。
func NewWithFallback(primary, fallback Tokenizer, logger *zap.Logger) Tokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &fallbackTokenizer{primary: primary, fallback: fallback, logger: logger}
}

// ForModel 返回模型对应的分词器（tiktoken + 估算器兜底）.
func ForModel(model string, logger *zap.Logger) Tokenizer {
	return NewWithFallback(NewTiktokenTokenizer(model), NewEstimatorTokenizer(model, 0), logger)
}

func (f *fallbackTokenizer) CountTokens(text string) (int, error) {
	n, err := f.primary.CountTokens(text)
	if err == nil {
		return n, nil
	}
	f.logger.Debug("tokenizer fallback", zap.String("primary", f.primary.Name()), zap.Error(err))
	return f.fallback.CountTokens(text)
}

func (f *fallbackTokenizer) CountMessages(messages []Message) (int, error) {
	n, err := f.primary.CountMessages(messages)
	if err == nil {
		return n, nil
	}
	f.logger.Debug("tokenizer fallback", zap.String("primary", f.primary.Name()), zap.Error(err))
	return f.fallback.CountMessages(messages)
}

func (f *fallbackTokenizer) MaxTokens() int { return f.primary.MaxTokens() }

func (f *fallbackTokenizer) Name() string { return f.primary.Name() }
