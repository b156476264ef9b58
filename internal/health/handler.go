package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/assetgw/internal/observability"
)

// DefaultReadinessTimeout bounds one readiness check.
const DefaultReadinessTimeout = 5 * time.Second

// Status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ReadinessStatus is the body of the readiness endpoint.
type ReadinessStatus struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Uptime    string                  `json:"uptime,omitempty"`
	Checks    map[string]*CheckResult `json:"checks,omitempty"`
}

// CheckResult represents the result of a single health check. Error
// messages are not exposed; they are logged.
type CheckResult struct {
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
}

// Handler serves the liveness and readiness endpoints.
type Handler struct {
	mu        sync.RWMutex
	checks    []HealthCheck
	logger    observability.Logger
	metrics   *observability.Metrics
	timeout   time.Duration
	startTime time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger for failed checks.
func WithLogger(logger observability.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetrics records check outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithTimeout bounds one readiness check.
func WithTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// NewHandler creates a new health handler.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		logger:    observability.NopLogger(),
		timeout:   DefaultReadinessTimeout,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddCheck adds a readiness check.
func (h *Handler) AddCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// LivenessHandler answers {"status":"ok"} while the process runs.
func (h *Handler) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": StatusOK})
	}
}

// ReadinessHandler runs every check and answers 503 when any fails.
func (h *Handler) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := h.Ready(c.Request.Context())

		code := http.StatusOK
		if status.Status != StatusOK {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	}
}

// Ready runs all checks concurrently, bounded by the handler timeout.
func (h *Handler) Ready(ctx context.Context) *ReadinessStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := &ReadinessStatus{
		Status:    StatusOK,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    make(map[string]*CheckResult, len(checks)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, check := range checks {
		wg.Add(1)
		go func(check HealthCheck) {
			defer wg.Done()

			start := time.Now()
			err := check.Check(ctx)
			duration := time.Since(start)

			h.metrics.SetDependencyHealth(check.Name(), err == nil)

			result := &CheckResult{Status: StatusOK, Duration: duration.String()}
			if err != nil {
				result.Status = StatusError
				h.logger.Warn("health check failed",
					observability.String("check", check.Name()),
					observability.Error(err),
					observability.Duration("duration", duration),
				)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				status.Status = StatusError
			}
			status.Checks[check.Name()] = result
		}(check)
	}

	wg.Wait()
	return status
}

// RegisterRoutes registers /health (GET, HEAD) and /ready (GET) on r.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.LivenessHandler())
	r.HEAD("/health", h.LivenessHandler())
	r.GET("/ready", h.ReadinessHandler())
}
