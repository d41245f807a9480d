package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/quarry/pkg/utils"
)

// maxErrorBody bounds how much of a provider error body is kept.
const maxErrorBody = 512

var (
	// ErrInvalidInput is returned for empty or oversized text. Never retried.
	ErrInvalidInput = errors.New("invalid embedding input")

	// ErrRateLimited is returned when the provider throttles a request.
	ErrRateLimited = errors.New("embedding provider rate limited")

	// ErrProviderUnavailable is returned on network, auth and server errors.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
)

// ProviderError carries the classification of a failed provider call.
// It unwraps to one of the sentinel errors above.
type ProviderError struct {
	Kind       error
	StatusCode int
	RetryAfter time.Duration
	Transient  bool
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v: status %d: %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Kind
}

// IsRetryable reports whether err is worth another attempt: rate limiting
// and transient provider failures are, everything else is not.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrInvalidInput) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

// RetryAfter returns the provider supplied retry delay, if any.
func RetryAfter(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// Classify maps a non-2xx provider response to a ProviderError.
func Classify(statusCode int, header http.Header, body []byte) *ProviderError {
	msg := utils.Truncate(strings.TrimSpace(string(body)), maxErrorBody)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return &ProviderError{
			Kind:       ErrRateLimited,
			StatusCode: statusCode,
			RetryAfter: parseRetryAfter(header.Get("Retry-After")),
			Transient:  true,
			Message:    msg,
		}

	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &ProviderError{Kind: ErrProviderUnavailable, StatusCode: statusCode, Message: msg}

	case statusCode == http.StatusBadRequest ||
		statusCode == http.StatusRequestEntityTooLarge ||
		statusCode == http.StatusUnprocessableEntity:
		return &ProviderError{Kind: ErrInvalidInput, StatusCode: statusCode, Message: msg}

	case statusCode == http.StatusRequestTimeout || statusCode >= 500:
		return &ProviderError{Kind: ErrProviderUnavailable, StatusCode: statusCode, Transient: true, Message: msg}

	default:
		return &ProviderError{Kind: ErrProviderUnavailable, StatusCode: statusCode, Message: msg}
	}
}

// Unreachable wraps a transport level failure (dial, reset, timeout) as a
// transient ProviderUnavailable. Caller cancellation is passed through.
func Unreachable(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &ProviderError{Kind: ErrProviderUnavailable, Transient: true, Message: err.Error()}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
