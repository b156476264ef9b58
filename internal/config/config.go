// Package config loads and validates the service configuration.
package config

import "time"

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AuthHeader is the request header carrying the raw token.
const AuthHeader = "authentication"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	Seed      SeedConfig      `yaml:"seed"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	Port               int      `yaml:"port"`
	ReadTimeout        Duration `yaml:"readTimeout"`
	WriteTimeout       Duration `yaml:"writeTimeout"`
	IdleTimeout        Duration `yaml:"idleTimeout"`
	RequestTimeout     Duration `yaml:"requestTimeout"`
	ShutdownTimeout    Duration `yaml:"shutdownTimeout"`
	MaxRequestBodySize int64    `yaml:"maxRequestBodySize"`
}

// AuthConfig configures token verification.
type AuthConfig struct {
	JWTSecret  string   `yaml:"jwtSecret"`
	Algorithms []string `yaml:"algorithms"`
	Issuer     string   `yaml:"issuer"`
	Leeway     Duration `yaml:"leeway"`
}

// RateLimitConfig configures the fixed-window admission limiter.
type RateLimitConfig struct {
	Enabled           bool                 `yaml:"enabled"`
	Limit             int                  `yaml:"limit"`
	Interval          Duration             `yaml:"interval"`
	Prefix            string               `yaml:"prefix"`
	FailOpen          bool                 `yaml:"failOpen"`
	StoreTimeout      Duration             `yaml:"storeTimeout"`
	KeyHeader         string               `yaml:"keyHeader"`
	TrustForwardedFor bool                 `yaml:"trustForwardedFor"`
	CircuitBreaker    CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// CircuitBreakerConfig configures the breaker guarding the counter store.
type CircuitBreakerConfig struct {
	Enabled      bool     `yaml:"enabled"`
	MinRequests  int      `yaml:"minRequests"`
	FailureRatio float64  `yaml:"failureRatio"`
	OpenTimeout  Duration `yaml:"openTimeout"`
}

// RedisConfig configures the shared counter store connection.
type RedisConfig struct {
	Address           string   `yaml:"address"`
	Password          string   `yaml:"password"`
	DB                int      `yaml:"db"`
	PoolSize          int      `yaml:"poolSize"`
	MinIdleConns      int      `yaml:"minIdleConns"`
	DialTimeout       Duration `yaml:"dialTimeout"`
	ReadTimeout       Duration `yaml:"readTimeout"`
	WriteTimeout      Duration `yaml:"writeTimeout"`
	ConnectionRetries int      `yaml:"connectionRetries"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"maxOpenConns"`
	MaxIdleConns    int      `yaml:"maxIdleConns"`
	ConnMaxLifetime Duration `yaml:"connMaxLifetime"`
}

// APIConfig configures the versioned route table.
type APIConfig struct {
	Version string `yaml:"version"`
}

// SeedConfig configures the best-effort startup seed.
type SeedConfig struct {
	File string `yaml:"file"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	ServiceName  string  `yaml:"serviceName"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the configuration used when no file overrides a value.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:            "0.0.0.0",
			Port:               3000,
			ReadTimeout:        Duration(30 * time.Second),
			WriteTimeout:       Duration(30 * time.Second),
			IdleTimeout:        Duration(120 * time.Second),
			RequestTimeout:     Duration(10 * time.Second),
			ShutdownTimeout:    Duration(30 * time.Second),
			MaxRequestBodySize: 1 << 20,
		},
		Auth: AuthConfig{
			Algorithms: []string{"HS256"},
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			Limit:        50,
			Interval:     Duration(5 * time.Second),
			Prefix:       "ratelimit:",
			StoreTimeout: Duration(500 * time.Millisecond),
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:      true,
				MinRequests:  10,
				FailureRatio: 0.5,
				OpenTimeout:  Duration(10 * time.Second),
			},
		},
		Redis: RedisConfig{
			Address:           "localhost:6379",
			PoolSize:          10,
			MinIdleConns:      2,
			DialTimeout:       Duration(5 * time.Second),
			ReadTimeout:       Duration(3 * time.Second),
			WriteTimeout:      Duration(3 * time.Second),
			ConnectionRetries: 5,
		},
		Database: DatabaseConfig{
			Driver:          DriverSQLite,
			DSN:             "assetgw.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(30 * time.Minute),
		},
		API: APIConfig{
			Version: "v1",
		},
		Seed: SeedConfig{
			File: "seed.json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Tracing: TracingConfig{
			SamplingRate: 1.0,
			ServiceName:  "assetgw",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
