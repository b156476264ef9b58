package config

import (
	"errors"
	"strings"
	"time"

	"github.com/vyrodovalexey/assetgw/internal/util"
)

var supportedAlgorithms = map[string]bool{
	"HS256": true,
	"HS384": true,
	"HS512": true,
}

// Validate checks the configuration and returns every problem found,
// joined. Each problem is a *util.ConfigError.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, msg string) {
		errs = append(errs, util.NewConfigError(field, msg))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535")
	}
	if c.Server.RequestTimeout.Duration() < 0 {
		add("server.requestTimeout", "must not be negative")
	}

	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		add("auth.jwtSecret", "is required")
	}
	if len(c.Auth.Algorithms) == 0 {
		add("auth.algorithms", "at least one algorithm is required")
	}
	for _, alg := range c.Auth.Algorithms {
		if !supportedAlgorithms[alg] {
			add("auth.algorithms", "unsupported algorithm "+alg)
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Limit < 1 {
			add("rateLimit.limit", "must be at least 1")
		}
		if c.RateLimit.Interval.Duration() < time.Second {
			add("rateLimit.interval", "must be at least 1s")
		}
		if c.Redis.Address == "" {
			add("redis.address", "is required when rate limiting is enabled")
		}
		cb := c.RateLimit.CircuitBreaker
		if cb.Enabled && (cb.FailureRatio <= 0 || cb.FailureRatio > 1) {
			add("rateLimit.circuitBreaker.failureRatio", "must be in (0, 1]")
		}
	}

	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		add("database.driver", "must be one of sqlite, postgres")
	}
	if c.Database.DSN == "" {
		add("database.dsn", "is required")
	}

	if c.API.Version == "" || strings.Contains(c.API.Version, "/") {
		add("api.version", "must be a single non-empty path segment")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		add("metrics.path", "must start with /")
	}

	return errors.Join(errs...)
}
