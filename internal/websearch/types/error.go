package types

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidProviderID        = errors.New("invalid provider ID")
	ErrInvalidAPIHost           = errors.New("invalid API host")
	ErrMissingAPIKey            = errors.New("missing API key")
	ErrMissingBasicAuthPassword = errors.New("missing basic auth password")

	ErrEmptyQuery = errors.New("empty search query")

	ErrProviderNotFound = errors.New("provider not found")
	ErrNotConfigured    = errors.New("web search is not configured")
)

// ProviderError 搜索服务返回的错误
type ProviderError struct {
	Provider   ProviderID
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %d: %s (%v)", e.Provider, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable 限流和服务端错误可以重试
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
