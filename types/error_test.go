package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("deepseek")

	assert.Equal(t, ErrUpstreamError, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, root)
	assert.Contains(t, err.Error(), "upstream failed")
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := NewProviderUnavailableError("qdrant", errors.New("connection refused"))
	wrapped := fmt.Errorf("search: %w", inner)

	e, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "qdrant", e.Provider)
	assert.Equal(t, http.StatusServiceUnavailable, e.HTTPStatus)
	assert.True(t, IsRetryable(wrapped))
	assert.True(t, IsErrorCode(wrapped, ErrProviderUnavailable))
	assert.False(t, IsErrorCode(wrapped, ErrConfiguration))
}

func TestNewConfigurationError_NotRetryable(t *testing.T) {
	t.Parallel()

	err := NewConfigurationError(`embedder "x" not available`)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, ErrConfiguration, GetErrorCode(err))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}
