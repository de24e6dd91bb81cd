package github

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryConfig defines how transient API failures are retried.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:  3,
	InitialDelay: 1 * time.Second,
	MaxDelay:     30 * time.Second,
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultRetryConfig.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultRetryConfig.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultRetryConfig.MaxDelay
	}
	return c
}

func (c RetryConfig) backoff() retry.Backoff {
	b := retry.NewExponential(c.InitialDelay)
	b = retry.WithCappedDuration(c.MaxDelay, b)
	return retry.WithMaxRetries(uint64(c.MaxAttempts-1), b)
}

// Retryable reports whether a failed call is worth repeating: transport
// errors, server errors and rate limiting. Any other API error is final.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	switch {
	case apiErr.StatusCode >= 500:
		return true
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return true
	case apiErr.StatusCode == http.StatusForbidden:
		return isRateLimited(apiErr)
	}
	return false
}

// NotApplied reports whether a failed call provably left the server
// unchanged: the connection was never established, or the request was
// turned away by rate limiting before being processed.
func NotApplied(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return isRateLimited(apiErr)
	}
	return false
}

// retryPredicate picks which failures of method may be repeated. A write
// that failed after reaching the server may already have been applied.
func retryPredicate(method string) func(error) bool {
	switch method {
	case http.MethodGet, http.MethodHead:
		return Retryable
	}
	return NotApplied
}

// withRetry runs call until it succeeds, fails permanently or runs out of
// attempts. retryable decides which failures are repeated.
func withRetry[T any](ctx context.Context, cfg RetryConfig, retryable func(error) bool, call func(ctx context.Context) (T, error)) (T, error) {
	return retry.DoValue(ctx, cfg.backoff(), func(ctx context.Context) (T, error) {
		v, err := call(ctx)
		if err != nil && retryable(err) {
			return v, retry.RetryableError(err)
		}
		return v, err
	})
}

func isRateLimited(err *APIError) bool {
	return strings.Contains(strings.ToLower(err.Message), "rate limit")
}
