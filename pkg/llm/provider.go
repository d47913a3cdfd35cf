package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Provider is an LLM backend that answers a whole conversation in one call.
type Provider interface {
	Complete(ctx context.Context, messages []Message, tools []Tool) (*Response, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// APIError is a non-200 answer from a provider. RetryAfter is the server's
// requested wait, zero when it sent none.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable classifies err for retry loops. Client errors (4xx other than
// 429) and cancellation are final; transport failures are retried.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}
