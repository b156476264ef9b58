package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/assetgw/internal/observability"
)

// incrementWithExpiryScript increments a counter and makes sure it expires.
// A key without a TTL (just created, or orphaned) gets ARGV[2] milliseconds.
// KEYS[1] = key
// ARGV[1] = delta
// ARGV[2] = expiration in milliseconds
// Returns {count, pttl}.
var incrementWithExpiryScript = redis.NewScript(`
	local current = redis.call('INCRBY', KEYS[1], ARGV[1])
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
		ttl = tonumber(ARGV[2])
	end
	return {current, ttl}
`)

// RedisStore implements Store using Redis.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	logger  observability.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	closed bool
}

// RedisConfig holds configuration for Redis store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// InitialBackoff and MaxBackoff bound the startup connection retries.
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	ConnectionRetries int

	Logger  observability.Logger
	Metrics *observability.Metrics
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:           "localhost:6379",
		Prefix:            "ratelimit:",
		PoolSize:          10,
		MinIdleConns:      2,
		DialTimeout:       5 * time.Second,
		ReadTimeout:       3 * time.Second,
		WriteTimeout:      3 * time.Second,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		ConnectionRetries: 5,
	}
}

// NewRedisStore creates a Redis store and waits until the server answers a
// PING, retrying with decorrelated jitter backoff.
func NewRedisStore(ctx context.Context, config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	logger := config.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	// Counter increments are not idempotent, so go-redis must not retry them.
	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   -1,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	if err := connectWithRetry(ctx, client, config, logger); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisStore{
		client:  client,
		prefix:  config.Prefix,
		logger:  logger,
		metrics: config.Metrics,
	}, nil
}

func connectWithRetry(ctx context.Context, client *redis.Client, config *RedisConfig, logger observability.Logger) error {
	retries := config.ConnectionRetries
	if retries < 0 {
		retries = 0
	}
	backoff := newDecorrelatedJitterBackoff(config.InitialBackoff, config.MaxBackoff)

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
		lastErr = client.Ping(pingCtx).Err()
		cancel()

		if lastErr == nil {
			if attempt > 0 {
				logger.Info("redis connection established after retry",
					observability.String("address", config.Address),
					observability.Int("attempt", attempt+1),
				)
			}
			return nil
		}

		if attempt == retries {
			break
		}

		wait := backoff.next(attempt)
		logger.Warn("redis connection failed, retrying",
			observability.String("address", config.Address),
			observability.Int("attempt", attempt+1),
			observability.Duration("backoff", wait),
			observability.Error(lastErr),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("redis connect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("failed to connect to redis at %s after %d attempts: %w", config.Address, retries+1, lastErr)
}

// decorrelatedJitterBackoff implements sleep = min(cap, rand(base, sleep*3)).
type decorrelatedJitterBackoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newDecorrelatedJitterBackoff(initial, maxDuration time.Duration) *decorrelatedJitterBackoff {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if maxDuration < initial {
		maxDuration = initial
	}
	return &decorrelatedJitterBackoff{initial: initial, max: maxDuration, current: initial}
}

func (b *decorrelatedJitterBackoff) next(attempt int) time.Duration {
	if attempt == 0 {
		b.current = b.initial
		return b.current
	}

	lo := float64(b.initial)
	hi := float64(b.current) * 3
	backoff := lo + rand.Float64()*(hi-lo) //nolint:gosec // jitter does not need crypto randomness
	if backoff > float64(b.max) {
		backoff = float64(b.max)
	}

	b.current = time.Duration(backoff)
	return b.current
}

func (s *RedisStore) prefixKey(key string) string {
	return s.prefix + key
}

// IncrementWithExpiry implements Store using a Lua script for atomicity.
func (s *RedisStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (*Counter, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error before redis incr with expiry: %w", err)
	}

	ms := expiration.Milliseconds()
	if ms < 1 {
		ms = 1
	}

	start := time.Now()
	raw, err := incrementWithExpiryScript.Run(ctx, s.client, []string{s.prefixKey(key)}, delta, ms).Result()
	s.metrics.ObserveStoreDuration("increment_with_expiry", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("redis script error: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return nil, fmt.Errorf("redis script returned unexpected result: %v", raw)
	}
	count, ok1 := values[0].(int64)
	ttl, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("redis script returned unexpected types: %T, %T", values[0], values[1])
	}

	return &Counter{
		Count:   count,
		TTL:     time.Duration(ttl) * time.Millisecond,
		Created: count == delta,
	}, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping error: %w", err)
	}
	return nil
}

// Close implements Store. It is idempotent.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
