package llm

import (
	"errors"
	"fmt"
)

// ClientError is the base error type for all model-boundary errors.
type ClientError struct {
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// TransportError is a transient transport-level failure (connection
// reset, timeout). Always retryable.
type TransportError struct{ ClientError }

// APIError is an error reported by the provider API.
type APIError struct {
	ClientError
	StatusCode int
	Retryable  bool
	RetryAfter *float64 // seconds, from rate limit headers when present
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status=%d, retryable=%v)", e.Message, e.StatusCode, e.Retryable)
}

// Concrete API error kinds.

// AuthError covers invalid or missing credentials. Never retryable.
type AuthError struct{ APIError }

// InvalidRequestError covers malformed requests. Never retryable.
type InvalidRequestError struct{ APIError }

// ContextLengthError is returned when the request exceeds the model's
// context window. Never retryable; the memory manager must compress.
type ContextLengthError struct{ APIError }

// RateLimitError is returned on 429. Retryable, honoring RetryAfter.
type RateLimitError struct{ APIError }

// ServerError covers 5xx provider failures. Retryable.
type ServerError struct{ APIError }

// ErrEmptyResponse marks a response packet with no text and no tool
// calls. Treated as malformed and retried under the backoff policy.
var ErrEmptyResponse = errors.New("llm: empty response packet")

// ErrAttemptsExhausted is surfaced after the retry ceiling is reached.
var ErrAttemptsExhausted = errors.New("llm: retry attempts exhausted")

// ErrorFromStatusCode maps an HTTP status code to the appropriate
// error type.
func ErrorFromStatusCode(statusCode int, message string, retryAfter *float64) error {
	ae := APIError{
		ClientError: ClientError{Message: message},
		StatusCode:  statusCode,
		RetryAfter:  retryAfter,
	}
	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{APIError: ae}
	case 401, 403:
		return &AuthError{APIError: ae}
	case 413:
		return &ContextLengthError{APIError: ae}
	case 429:
		ae.Retryable = true
		return &RateLimitError{APIError: ae}
	case 500, 502, 503, 504:
		ae.Retryable = true
		return &ServerError{APIError: ae}
	default:
		// Unknown status codes default to retryable.
		ae.Retryable = true
		return &ae
	}
}

// IsRetryable reports whether the error is safe to retry. Transport
// failures and empty packets are retryable; auth, invalid-request and
// context-length errors are immediately fatal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}
	if errors.Is(err, ErrAttemptsExhausted) {
		return false
	}
	var (
		auth    *AuthError
		invalid *InvalidRequestError
		ctxLen  *ContextLengthError
		rate    *RateLimitError
		server  *ServerError
		tport   *TransportError
		api     *APIError
	)
	switch {
	case errors.As(err, &auth), errors.As(err, &invalid), errors.As(err, &ctxLen):
		return false
	case errors.As(err, &rate), errors.As(err, &server), errors.As(err, &tport):
		return true
	case errors.As(err, &api):
		return api.Retryable
	default:
		// Unknown errors default to retryable, matching transport
		// faults that arrive as bare errors from the HTTP stack.
		return true
	}
}
