package unifiedllm

import (
	"errors"
	"fmt"
	"strings"
)

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError represents an error returned by an LLM provider.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	ErrorCode  string
	Retryable  bool
	RetryAfter *float64
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type QuotaExceededError struct{ ProviderError }

// ContextLengthError reports that the prompt does not fit the model's
// context window.
type ContextLengthError struct{ ProviderError }

// Non-provider errors.

type RequestTimeoutError struct{ SDKError }
type AbortError struct{ SDKError }
type NetworkError struct{ SDKError }
type ConfigurationError struct{ SDKError }

// ErrorCodeContextLengthExceeded is the provider error code for an
// overflowing prompt.
const ErrorCodeContextLengthExceeded = "context_length_exceeded"

var contextLengthMarkers = []string{
	ErrorCodeContextLengthExceeded,
	"context length",
	"context window",
	"maximum context",
	"too many tokens",
	"prompt is too long",
}

// LooksLikeContextOverflow reports whether a provider message describes a
// prompt that exceeds the context window.
func LooksLikeContextOverflow(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range contextLengthMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// NewContextLengthError builds a ContextLengthError for provider.
func NewContextLengthError(provider, message string) *ContextLengthError {
	return &ContextLengthError{ProviderError: ProviderError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: 400,
		ErrorCode:  ErrorCodeContextLengthExceeded,
	}}
}

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, provider, errorCode string, retryAfter *float64) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		RetryAfter: retryAfter,
	}

	if errorCode == ErrorCodeContextLengthExceeded || ((statusCode == 400 || statusCode == 413) && LooksLikeContextOverflow(message)) {
		return &ContextLengthError{ProviderError: pe}
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 403:
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		return &NotFoundError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{SDKError: SDKError{Message: message}}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		// Unknown errors default to retryable.
		pe.Retryable = true
		return &pe
	}
}

// IsRetryable returns true if the error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var (
		contextLength *ContextLengthError
		auth          *AuthenticationError
		denied        *AccessDeniedError
		notFound      *NotFoundError
		invalid       *InvalidRequestError
		quota         *QuotaExceededError
		filtered      *ContentFilterError
		config        *ConfigurationError
		aborted       *AbortError
	)
	switch {
	case errors.As(err, &contextLength), errors.As(err, &auth), errors.As(err, &denied),
		errors.As(err, &notFound), errors.As(err, &invalid), errors.As(err, &quota),
		errors.As(err, &filtered), errors.As(err, &config), errors.As(err, &aborted):
		return false
	}

	var (
		rate    *RateLimitError
		server  *ServerError
		network *NetworkError
		timeout *RequestTimeoutError
		generic *ProviderError
	)
	switch {
	case errors.As(err, &rate), errors.As(err, &server), errors.As(err, &network), errors.As(err, &timeout):
		return true
	case errors.As(err, &generic):
		return generic.Retryable
	}
	return false
}
