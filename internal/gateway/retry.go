package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/user/agentloom/pkg/llm"
)

// RetryPolicy retries failed model calls with exponential backoff. A
// Retry-After sent by the provider replaces the computed delay, still
// capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration

	// Retryable classifies errors. Nil means llm.IsRetryable.
	Retryable func(error) bool
	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     30 * time.Second,
	}
}

// ShouldRetry reports whether a call that failed with err on attempt
// (1-indexed) gets another try.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	classify := p.Retryable
	if classify == nil {
		classify = llm.IsRetryable
	}
	return classify(err)
}

// NextDelay returns how long to wait after attempt failed with err.
func (p *RetryPolicy) NextDelay(attempt int, err error) time.Duration {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return min(apiErr.RetryAfter, p.MaxDelay)
	}
	delay := float64(p.InitialDelay)
	for range attempt - 1 {
		delay *= p.Multiplier
		if delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	return min(time.Duration(delay), p.MaxDelay)
}

// Execute calls fn until it succeeds, fails permanently, or runs out of
// attempts, and returns the last error. Waiting stops early when ctx ends.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !p.ShouldRetry(err, attempt) {
			return err
		}

		delay := p.NextDelay(attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
