package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/assetgw/internal/observability"
	"github.com/vyrodovalexey/assetgw/internal/ratelimit/store"
	"github.com/vyrodovalexey/assetgw/internal/util"
)

const breakerName = "ratelimit-store"

var tracer = otel.Tracer("assetgw/ratelimit")

// FixedWindowLimiter counts requests per identity in fixed windows of
// Config.Interval, keyed by identity and floor(now / interval).
type FixedWindowLimiter struct {
	store   store.Store
	config  Config
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
	metrics *observability.Metrics
	now     func() time.Time

	// storeErrLog throttles store failure logs during an outage.
	storeErrLog rate.Sometimes
}

// Option configures a FixedWindowLimiter.
type Option func(*FixedWindowLimiter)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(l *FixedWindowLimiter) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *FixedWindowLimiter) {
		l.metrics = m
	}
}

// WithClock overrides the time source used to pick the window.
func WithClock(now func() time.Time) Option {
	return func(l *FixedWindowLimiter) {
		l.now = now
	}
}

// NewFixedWindowLimiter creates a fixed window limiter backed by s.
func NewFixedWindowLimiter(s store.Store, config Config, opts ...Option) (*FixedWindowLimiter, error) {
	if s == nil {
		return nil, errors.New("ratelimit: store is required")
	}
	if config.Limit < 1 {
		return nil, fmt.Errorf("ratelimit: limit must be at least 1, got %d", config.Limit)
	}
	if config.Interval < time.Millisecond {
		return nil, fmt.Errorf("ratelimit: interval must be at least 1ms, got %s", config.Interval)
	}

	l := &FixedWindowLimiter{
		store:       s,
		config:      config,
		logger:      observability.NopLogger(),
		now:         time.Now,
		storeErrLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}

	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = observability.NopLogger()
	}

	if config.CircuitBreaker != nil {
		l.breaker = l.newBreaker(*config.CircuitBreaker)
	}

	return l, nil
}

func (l *FixedWindowLimiter) newBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    cfg.OpenTimeout,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests || counts.Requests == 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		// A caller that went away says nothing about the store's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.logger.Warn("circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			l.metrics.SetCircuitBreakerState(name, int(to))
		},
	})
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, identity string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "ratelimit.allow",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int("ratelimit.limit", l.config.Limit),
			attribute.String("ratelimit.interval", l.config.Interval.String()),
		),
	)
	defer span.End()

	now := l.now()
	window := now.UnixNano() / l.config.Interval.Nanoseconds()
	windowEnd := time.Unix(0, (window+1)*l.config.Interval.Nanoseconds())
	resetAfter := windowEnd.Sub(now)

	counter, err := l.increment(ctx, identity+":"+strconv.FormatInt(window, 10))
	if err != nil {
		return l.storeFailure(ctx, span, resetAfter, err)
	}

	result := &Result{
		Allowed:    counter.Count <= int64(l.config.Limit),
		Limit:      l.config.Limit,
		Count:      counter.Count,
		Remaining:  max(l.config.Limit-int(counter.Count), 0),
		ResetAfter: resetAfter,
	}

	if result.Allowed {
		l.metrics.RecordRateLimitDecision(observability.DecisionAdmitted)
	} else {
		result.RetryAfter = resetAfter
		l.metrics.RecordRateLimitDecision(observability.DecisionRejected)
	}

	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", result.Allowed),
		attribute.Int64("ratelimit.count", counter.Count),
		attribute.Bool("ratelimit.window_created", counter.Created),
	)

	return result, nil
}

// increment performs the single atomic store round trip for key, bounded by
// StoreTimeout and guarded by the circuit breaker.
func (l *FixedWindowLimiter) increment(ctx context.Context, key string) (*store.Counter, error) {
	if l.config.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.StoreTimeout)
		defer cancel()
	}

	if l.breaker == nil {
		return l.store.IncrementWithExpiry(ctx, key, 1, l.config.Interval)
	}

	v, err := l.breaker.Execute(func() (interface{}, error) {
		return l.store.IncrementWithExpiry(ctx, key, 1, l.config.Interval)
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.Counter), nil
}

func (l *FixedWindowLimiter) storeFailure(
	ctx context.Context,
	span trace.Span,
	resetAfter time.Duration,
	err error,
) (*Result, error) {
	l.metrics.RecordStoreError()
	span.RecordError(err)
	span.SetStatus(codes.Error, "counter store unavailable")

	l.storeErrLog.Do(func() {
		l.logger.WithContext(ctx).Error("rate limit store unavailable",
			observability.Bool("fail_open", l.config.FailOpen),
			observability.Bool("timeout", util.IsTimeout(err)),
			observability.Error(err),
		)
	})

	if l.config.FailOpen {
		l.metrics.RecordRateLimitDecision(observability.DecisionFailOpen)
		return &Result{
			Allowed:    true,
			Limit:      l.config.Limit,
			Remaining:  l.config.Limit,
			ResetAfter: resetAfter,
			Degraded:   true,
		}, nil
	}

	l.metrics.RecordRateLimitDecision(observability.DecisionError)
	return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
