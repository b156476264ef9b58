// Package ratelimit implements request admission against a shared,
// externally stored fixed-window counter.
//
// Every admission attempt increments the counter for the caller's current
// window, including attempts that end up rejected. A request is admitted
// when the post-increment count is at most the limit. Because the counter
// keeps growing while a caller is over the limit, the reported Remaining
// stays at zero until the window rolls over.
//
// When the counter store cannot be reached the limiter either fails closed
// (the default: Allow returns an error wrapping ErrStoreUnavailable) or, if
// configured with FailOpen, admits the request and reports Degraded.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable is wrapped by every error caused by the counter store.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Limiter decides whether a request from an identity is admitted.
type Limiter interface {
	Allow(ctx context.Context, identity string) (*Result, error)
}

// Result represents the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is admitted.
	Allowed bool

	// Limit is the maximum number of requests per window.
	Limit int

	// Count is the post-increment counter value. Zero when Degraded.
	Count int64

	// Remaining is the number of requests left in the current window.
	Remaining int

	// ResetAfter is the duration until the current window ends.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying (when not allowed).
	RetryAfter time.Duration

	// Degraded is set when the store failed and FailOpen admitted the request.
	Degraded bool
}

// Config holds the fixed-window settings.
type Config struct {
	// Limit is the maximum number of admitted requests per window.
	Limit int

	// Interval is the window length.
	Interval time.Duration

	// FailOpen admits requests when the counter store is unavailable.
	FailOpen bool

	// StoreTimeout bounds a single store round trip. The request context's
	// own deadline still applies when it is shorter.
	StoreTimeout time.Duration

	// CircuitBreaker guards the store. Nil disables it.
	CircuitBreaker *BreakerConfig
}

// BreakerConfig configures the breaker around counter store calls.
type BreakerConfig struct {
	// MinRequests is the number of requests in the sampling interval
	// before the failure ratio is evaluated.
	MinRequests uint32

	// FailureRatio opens the breaker when reached.
	FailureRatio float64

	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// DefaultConfig returns the limiter defaults: 50 requests per 5 seconds,
// fail closed.
func DefaultConfig() Config {
	return Config{
		Limit:        50,
		Interval:     5 * time.Second,
		StoreTimeout: 500 * time.Millisecond,
		CircuitBreaker: &BreakerConfig{
			MinRequests:  10,
			FailureRatio: 0.5,
			OpenTimeout:  10 * time.Second,
		},
	}
}
