package llm

import (
	"context"
	"errors"

	"github.com/BaSui01/campusrag/llm/retry"
	"go.uber.org/zap"
)

// ResilientProvider 为 Provider 增加指数退避重试.
// 只重试 Completion 与 HealthCheck；Stream 一旦开始输出无法安全重放，直接透传。
type ResilientProvider struct {
	provider Provider
	retryer  retry.Retryer
	logger   *zap.Logger
}

// NewResilientProvider 创建具有重试能力的 Provider.
// policy 为 nil 时使用 retry.DefaultRetryPolicy，且只重试 Retryable 的 llm.Error。
func NewResilientProvider(provider Provider, policy *retry.RetryPolicy, logger *zap.Logger) *ResilientProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = retry.DefaultRetryPolicy()
	}
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = IsRetryableError
	}
	return &ResilientProvider{
		provider: provider,
		retryer:  retry.NewBackoffRetryer(policy, logger),
		logger:   logger.With(zap.String("component", "resilient_provider"), zap.String("provider", provider.Name())),
	}
}

// IsRetryableError 判断是否为可重试的 llm.Error.
func IsRetryableError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// Completion 带重试的同步补全
func (p *ResilientProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return retry.DoWithResultTyped[*ChatResponse](p.retryer, ctx, func() (*ChatResponse, error) {
		return p.provider.Completion(ctx, req)
	})
}

// Stream 透传
func (p *ResilientProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	return p.provider.Stream(ctx, req)
}

// HealthCheck 带重试的健康检查
func (p *ResilientProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return retry.DoWithResultTyped[*HealthStatus](p.retryer, ctx, func() (*HealthStatus, error) {
		return p.provider.HealthCheck(ctx)
	})
}

// Name 返回底层 Provider 名称
func (p *ResilientProvider) Name() string { return p.provider.Name() }
