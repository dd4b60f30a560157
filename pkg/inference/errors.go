package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoAPIKey is returned by constructors when no API key was given.
	ErrNoAPIKey = errors.New("inference: API key required")

	// ErrProviderUnavailable is returned when a chain has no providers.
	ErrProviderUnavailable = errors.New("inference: provider unavailable")

	// ErrEmptyResponse is returned when a provider replies with no text.
	ErrEmptyResponse = errors.New("inference: empty response")
)

// Failure classes reported by Classify.
const (
	ClassRateLimited  = "rate_limited"
	ClassUnauthorized = "unauthorized"
	ClassServerError  = "server_error"
	ClassRejected     = "rejected"
	ClassTimeout      = "timeout"
)

// APIError is a non-2xx reply from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("inference [%s]: HTTP %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("inference [%s]: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsRateLimited reports a quota or rate rejection (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsUnauthorized reports a rejected or under-privileged key (HTTP 401/403).
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsServerError reports a provider-side failure (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// Classify names the failure class of err, or returns "" when err carries
// no recognizable class. A chain error is classified by the first provider
// failure that has one.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsRateLimited():
			return ClassRateLimited
		case apiErr.IsUnauthorized():
			return ClassUnauthorized
		case apiErr.IsServerError():
			return ClassServerError
		default:
			return ClassRejected
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	return ""
}

// ProviderError tags an error with the provider that produced it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("inference [%s]: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError tags err with provider. A nil err stays nil.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// ChainError holds one error per provider tried, in order.
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "inference chain: no providers tried"
	case 1:
		return fmt.Sprintf("inference chain: %v", e.Errors[0])
	default:
		return fmt.Sprintf("inference chain: %d providers failed, last: %v",
			len(e.Errors), e.Errors[len(e.Errors)-1])
	}
}

// Unwrap exposes every provider error to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error {
	return e.Errors
}
