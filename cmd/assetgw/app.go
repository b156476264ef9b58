package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vyrodovalexey/assetgw/internal/api"
	"github.com/vyrodovalexey/assetgw/internal/api/images"
	"github.com/vyrodovalexey/assetgw/internal/auth"
	"github.com/vyrodovalexey/assetgw/internal/auth/jwt"
	"github.com/vyrodovalexey/assetgw/internal/config"
	"github.com/vyrodovalexey/assetgw/internal/database"
	"github.com/vyrodovalexey/assetgw/internal/health"
	"github.com/vyrodovalexey/assetgw/internal/middleware"
	"github.com/vyrodovalexey/assetgw/internal/model"
	"github.com/vyrodovalexey/assetgw/internal/observability"
	"github.com/vyrodovalexey/assetgw/internal/ratelimit"
	"github.com/vyrodovalexey/assetgw/internal/ratelimit/store"
	"github.com/vyrodovalexey/assetgw/internal/router"
	"github.com/vyrodovalexey/assetgw/internal/server"
	"github.com/vyrodovalexey/assetgw/internal/service"
)

// defaultShutdownTimeout bounds shutdown when the configuration sets none.
const defaultShutdownTimeout = 30 * time.Second

// readinessCacheTTL bounds how often readiness checks reach the dependencies.
const readinessCacheTTL = 2 * time.Second

// application holds all application components. Every resource it opens is
// released exactly once by shutdown.
type application struct {
	config  *config.Config
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	store   *store.RedisStore
	db      *database.DB
	server  *server.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// newApplication wires the process. On failure every resource opened so
// far is released.
func newApplication(ctx context.Context, cfg *config.Config, logger observability.Logger) (app *application, err error) {
	app = &application{
		config:  cfg,
		logger:  logger,
		metrics: observability.NewMetrics(""),
	}
	defer func() {
		if err != nil {
			_ = app.shutdown(context.Background())
			app = nil
		}
	}()

	app.tracer, err = observability.NewTracer(ctx, observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return app, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	app.db, err = database.Open(ctx, database.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime.Duration(),
		Logger:          logger,
		Metrics:         app.metrics,
	})
	if err != nil {
		return app, fmt.Errorf("failed to open database: %w", err)
	}

	tx := database.NewTxManager(app.db)
	imageService := service.NewImageService(tx, service.WithLogger(logger))
	app.seed(ctx, imageService)

	gate, err := newGate(cfg.Auth, logger, app.metrics)
	if err != nil {
		return app, err
	}

	table, err := router.Assemble(
		[]router.Module[api.Services]{images.Module(cfg.API.Version)},
		api.Services{Images: imageService},
		router.Hooks{Token: gate.Handler()},
		router.WithLogger(logger),
	)
	if err != nil {
		return app, fmt.Errorf("failed to assemble routes: %w", err)
	}

	checks := health.NewHandler(health.WithLogger(logger), health.WithMetrics(app.metrics))
	checks.AddCheck(health.NewCachedHealthCheck(
		health.PingCheck("database", health.DependencyTypeDatabase, app.db), readinessCacheTTL))

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithHealth(checks),
		server.WithServiceName(cfg.Tracing.ServiceName),
	}
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	opts = append(opts, server.WithMetrics(app.metrics, metricsPath))
	if cfg.RateLimit.TrustForwardedFor {
		opts = append(opts, server.WithTrustedProxies("0.0.0.0/0", "::/0"))
	}

	if cfg.RateLimit.Enabled {
		limiter, lerr := app.newLimiter(ctx)
		if lerr != nil {
			return app, lerr
		}
		checks.AddCheck(health.NewCachedHealthCheck(
			health.PingCheck("redis", health.DependencyTypeCache, health.PingFunc(app.store.Ping)), readinessCacheTTL))
		opts = append(opts, server.WithLimiter(limiter, keyFunc(cfg.RateLimit)))
	} else {
		logger.Warn("rate limiting is disabled")
	}

	app.server, err = server.New(cfg.Server, opts...)
	if err != nil {
		return app, fmt.Errorf("failed to create server: %w", err)
	}
	if err := app.server.Mount(table); err != nil {
		return app, err
	}

	return app, nil
}

func newGate(cfg config.AuthConfig, logger observability.Logger, m *observability.Metrics) (*auth.Gate, error) {
	opts := []jwt.VerifierOption{jwt.WithAlgorithms(cfg.Algorithms...)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway.Duration()))
	}

	verifier, err := jwt.NewVerifier(cfg.JWTSecret, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}
	return auth.NewGate(verifier, auth.WithLogger(logger), auth.WithMetrics(m))
}

func (a *application) newLimiter(ctx context.Context) (*ratelimit.FixedWindowLimiter, error) {
	rc := a.config.Redis
	storeCfg := store.DefaultRedisConfig()
	storeCfg.Address = rc.Address
	storeCfg.Password = rc.Password
	storeCfg.DB = rc.DB
	storeCfg.Prefix = a.config.RateLimit.Prefix
	storeCfg.PoolSize = rc.PoolSize
	storeCfg.MinIdleConns = rc.MinIdleConns
	storeCfg.DialTimeout = rc.DialTimeout.Duration()
	storeCfg.ReadTimeout = rc.ReadTimeout.Duration()
	storeCfg.WriteTimeout = rc.WriteTimeout.Duration()
	storeCfg.ConnectionRetries = rc.ConnectionRetries
	storeCfg.Logger = a.logger
	storeCfg.Metrics = a.metrics

	var err error
	a.store, err = store.NewRedisStore(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to counter store: %w", err)
	}

	rl := a.config.RateLimit
	limiterCfg := ratelimit.Config{
		Limit:        rl.Limit,
		Interval:     rl.Interval.Duration(),
		FailOpen:     rl.FailOpen,
		StoreTimeout: rl.StoreTimeout.Duration(),
	}
	if cb := rl.CircuitBreaker; cb.Enabled {
		limiterCfg.CircuitBreaker = &ratelimit.BreakerConfig{
			MinRequests:  uint32(max(cb.MinRequests, 0)), //nolint:gosec // bounded by max
			FailureRatio: cb.FailureRatio,
			OpenTimeout:  cb.OpenTimeout.Duration(),
		}
	}

	limiter, err := ratelimit.NewFixedWindowLimiter(a.store, limiterCfg,
		ratelimit.WithLogger(a.logger),
		ratelimit.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	a.logger.Info("rate limiting enabled",
		observability.Int("limit", rl.Limit),
		observability.Duration("interval", rl.Interval.Duration()),
		observability.Bool("fail_open", rl.FailOpen),
	)
	return limiter, nil
}

func keyFunc(cfg config.RateLimitConfig) middleware.KeyFunc {
	if cfg.KeyHeader != "" {
		return middleware.HeaderKey(cfg.KeyHeader)
	}
	return middleware.ClientIPKey
}

// seed loads the configured seed file. Records are held to the same rules
// as create requests. Failures are logged and never stop the process.
func (a *application) seed(ctx context.Context, loader database.BatchLoader[model.ImageCreate]) {
	n, err := database.Seed(ctx, a.config.Seed.File, loader, func(in model.ImageCreate) error {
		return api.Validate(&in)
	})
	if err != nil {
		a.logger.Warn("seeding skipped",
			observability.String("file", a.config.Seed.File),
			observability.Error(err),
		)
		return
	}
	if n > 0 {
		a.logger.Info("catalogue seeded",
			observability.String("file", a.config.Seed.File),
			observability.Int("images", n),
		)
	}
}

// run serves until ctx is done, then shuts down.
func (a *application) run(ctx context.Context) error {
	if err := a.server.Start(ctx); err != nil {
		return errors.Join(err, a.shutdown(context.Background()))
	}

	<-ctx.Done()
	a.logger.Info("received shutdown signal")

	timeout := a.config.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return a.shutdown(shutdownCtx)
}

// shutdown stops HTTP first so that in-flight requests can still reach the
// counter store and the database, then releases them. It is idempotent.
func (a *application) shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		var errs []error

		if a.server != nil && a.server.State() == server.StateRunning {
			if err := a.server.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop server: %w", err))
			}
		}
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close counter store: %w", err))
			}
		}
		if a.db != nil {
			if err := a.db.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database: %w", err))
			}
		}
		if a.tracer != nil {
			if err := a.tracer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
			}
		}

		a.shutdownErr = errors.Join(errs...)
		for _, err := range errs {
			a.logger.Error("shutdown step failed", observability.Error(err))
		}
	})
	return a.shutdownErr
}
