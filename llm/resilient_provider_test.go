package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/campusrag/llm/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type flakyProvider struct {
	calls    int
	failures int
	err      error
}

func (f *flakyProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &ChatResponse{Choices: []ChatChoice{{Message: Message{Role: RoleAssistant, Content: "ok"}}}}, nil
}

func (f *flakyProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	f.calls++
	return nil, f.err
}

func (f *flakyProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return &HealthStatus{Healthy: true}, nil
}

func (f *flakyProvider) Name() string { return "flaky" }

func testPolicy() *retry.RetryPolicy {
	return &retry.RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestResilientProvider_RetriesRetryableErrors(t *testing.T) {
	inner := &flakyProvider{failures: 2, err: &Error{Code: ErrUpstreamError, Retryable: true, Message: "502"}}
	p := NewResilientProvider(inner, testPolicy(), zap.NewNop())

	resp, err := p.Completion(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.FirstContent())
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, "flaky", p.Name())
}

func TestResilientProvider_DoesNotRetryFatalErrors(t *testing.T) {
	inner := &flakyProvider{failures: 5, err: &Error{Code: ErrUnauthorized, Message: "bad key"}}
	p := NewResilientProvider(inner, testPolicy(), zap.NewNop())

	_, err := p.Completion(context.Background(), &ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestResilientProvider_StreamPassThrough(t *testing.T) {
	inner := &flakyProvider{err: &Error{Code: ErrUpstreamError, Retryable: true}}
	p := NewResilientProvider(inner, testPolicy(), nil)

	_, err := p.Stream(context.Background(), &ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls, "流式请求不重试")
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(&Error{Retryable: true}))
	assert.False(t, IsRetryableError(&Error{}))
	assert.False(t, IsRetryableError(errors.New("plain")))
}
