package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 统一错误码，跨 rag / agent / api 各层共享。
type ErrorCode string

// 请求与上游错误码
const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError       ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError       ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
)

// RAG 错误码
const (
	// ErrConfiguration 未知的 embedding / model 名称等配置错误，不重试。
	ErrConfiguration ErrorCode = "CONFIGURATION_ERROR"
	// ErrNoResultsFound 检索为空。管道内部视为合法终态，仅供 API 层使用。
	ErrNoResultsFound ErrorCode = "NO_RESULTS_FOUND"
	// ErrInvalidCitation 答案引用了不存在的来源，仅作为质量信号。
	ErrInvalidCitation  ErrorCode = "INVALID_CITATION"
	ErrDocumentNotFound ErrorCode = "DOCUMENT_NOT_FOUND"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// ===== 常用构造 =====

// NewConfigurationError 配置错误（不可重试）。
func NewConfigurationError(message string) *Error {
	return NewError(ErrConfiguration, message).WithHTTPStatus(http.StatusInternalServerError)
}

// NewProviderUnavailableError 上游 provider 调用失败（可重试）。
func NewProviderUnavailableError(provider string, cause error) *Error {
	return NewError(ErrProviderUnavailable, provider+" call failed").
		WithCause(cause).
		WithProvider(provider).
		WithRetryable(true).
		WithHTTPStatus(http.StatusServiceUnavailable)
}

// NewInvalidRequestError 请求参数错误。
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message).WithHTTPStatus(http.StatusBadRequest)
}

// NewNotFoundError 文档不存在。
func NewNotFoundError(message string) *Error {
	return NewError(ErrDocumentNotFound, message).WithHTTPStatus(http.StatusNotFound)
}

// AsError 沿错误链查找 *Error。
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode 判断错误链中是否存在指定错误码。
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
