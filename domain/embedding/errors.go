package embedding

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrDimensionMismatch indicates the provider returned vectors whose length
// differs from the configured dimensions. It is a configuration error.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Kind classifies a provider failure by how it should be retried.
type Kind int

// Kind values.
const (
	// Transient failures (timeouts, 5xx, resets) are retried with backoff.
	Transient Kind = iota
	// RateLimited failures are retried on their own budget.
	RateLimited
	// Permanent failures (auth, bad request, unknown model) are not retried.
	Permanent
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case Permanent:
		return "permanent"
	default:
		return "transient"
	}
}

// KindForStatus maps an HTTP status code to a failure kind.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status == http.StatusRequestTimeout, status >= 500:
		return Transient
	case status >= 400:
		return Permanent
	default:
		return Transient
	}
}

// ProviderError wraps provider errors with their retry classification.
type ProviderError struct {
	kind       Kind
	provider   string
	statusCode int
	message    string
	retryAfter time.Duration
	cause      error
}

// NewProviderError creates a new ProviderError.
func NewProviderError(kind Kind, provider string, statusCode int, message string, cause error) *ProviderError {
	return &ProviderError{
		kind:       kind,
		provider:   provider,
		statusCode: statusCode,
		message:    message,
		cause:      cause,
	}
}

// WithRetryAfter returns the error carrying a provider wait hint.
func (e *ProviderError) WithRetryAfter(d time.Duration) *ProviderError {
	e.retryAfter = d
	return e
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s error", e.provider, e.kind)
	if e.statusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.statusCode)
	}
	if e.message != "" {
		msg += ": " + e.message
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error { return e.cause }

// Kind returns the failure classification.
func (e *ProviderError) Kind() Kind { return e.kind }

// Provider returns the provider name.
func (e *ProviderError) Provider() string { return e.provider }

// StatusCode returns the HTTP status code if available.
func (e *ProviderError) StatusCode() int { return e.statusCode }

// RetryAfter returns the provider's wait hint, or zero.
func (e *ProviderError) RetryAfter() time.Duration { return e.retryAfter }

// KindOf classifies err. Errors that are not ProviderErrors are transient.
func KindOf(err error) Kind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.kind
	}
	return Transient
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrDimensionMismatch) || KindOf(err) == Permanent
}
