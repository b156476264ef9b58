// Package server provides the HTTP dispatcher of the asset API.
//
// The dispatcher owns the gin engine. Health endpoints and the metrics endpoint are
// registered on the bare engine; every other request, including unmatched
// ones, passes through the admission pipeline:
//
//	request ID -> tracing -> logging -> metrics -> recovery -> timeout ->
//	body limit -> rate limit -> route guard -> handler
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/assetgw/internal/config"
	"github.com/vyrodovalexey/assetgw/internal/health"
	"github.com/vyrodovalexey/assetgw/internal/middleware"
	"github.com/vyrodovalexey/assetgw/internal/observability"
	"github.com/vyrodovalexey/assetgw/internal/router"
)

// WelcomeMessage is the body of every unmatched request.
const WelcomeMessage = "Welcome to Images Server API!"

// State represents the server state.
type State int32

const (
	// StateStopped indicates the server is stopped.
	StateStopped State = iota
	// StateStarting indicates the server is starting.
	StateStarting
	// StateRunning indicates the server is running.
	StateRunning
	// StateStopping indicates the server is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

var (
	// ErrNotStopped is returned by Start when the server already started.
	ErrNotStopped = errors.New("server is not in stopped state")
	// ErrNotRunning is returned by Stop when the server is not running.
	ErrNotRunning = errors.New("server is not running")
	// ErrAlreadyMounted is returned when a second route table is mounted.
	ErrAlreadyMounted = errors.New("route table already mounted")
)

// Server is the HTTP dispatcher.
type Server struct {
	cfg         config.ServerConfig
	logger      observability.Logger
	metrics     *observability.Metrics
	metricsPath string
	limiter     middleware.Admitter
	keyFunc     middleware.KeyFunc
	health      *health.Handler
	serviceName string
	trustedCIDR []string

	engine    *gin.Engine
	admitted  *gin.RouterGroup
	mounted   atomic.Bool
	state     atomic.Int32
	startTime time.Time

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}
}

// Option is a functional option for configuring the server.
type Option func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics records request metrics and exposes them at path.
func WithMetrics(m *observability.Metrics, path string) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsPath = path
	}
}

// WithLimiter admits every request through limiter keyed by key. A nil key
// keys by client IP.
func WithLimiter(limiter middleware.Admitter, key middleware.KeyFunc) Option {
	return func(s *Server) {
		s.limiter = limiter
		s.keyFunc = key
	}
}

// WithHealth registers the liveness and readiness endpoints.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) {
		s.health = h
	}
}

// WithServiceName names the tracer of the server spans.
func WithServiceName(name string) Option {
	return func(s *Server) {
		s.serviceName = name
	}
}

// WithTrustedProxies sets the proxies whose forwarding headers are honored
// when deriving the client IP. None are trusted by default.
func WithTrustedProxies(cidrs ...string) Option {
	return func(s *Server) {
		s.trustedCIDR = cidrs
	}
}

// New creates the dispatcher and registers health endpoints, metrics and the
// catch-all. Feature routes are added with Mount.
func New(cfg config.ServerConfig, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:         cfg,
		logger:      observability.NopLogger(),
		serviceName: "assetgw",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(int32(StateStopped))

	s.engine = gin.New()
	s.engine.HandleMethodNotAllowed = false
	if err := s.engine.SetTrustedProxies(s.trustedCIDR); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	if s.health != nil {
		s.health.RegisterRoutes(s.engine)
	}
	if s.metrics != nil && s.metricsPath != "" {
		s.engine.GET(s.metricsPath, gin.WrapH(s.metrics.Handler()))
	}

	admission := s.admission()
	s.admitted = s.engine.Group("/", admission...)
	noRoute := make([]gin.HandlerFunc, 0, len(admission)+1)
	s.engine.NoRoute(append(append(noRoute, admission...), welcome)...)

	return s, nil
}

// admission returns the middleware chain every API request passes.
func (s *Server) admission() []gin.HandlerFunc {
	chain := []gin.HandlerFunc{
		middleware.RequestID(),
		middleware.Tracing(s.serviceName),
		middleware.Logging(s.logger),
		middleware.Metrics(s.metrics),
		middleware.Recovery(s.logger),
		middleware.Timeout(s.cfg.RequestTimeout.Duration()),
		middleware.BodyLimit(s.cfg.MaxRequestBodySize),
	}
	if s.limiter != nil {
		chain = append(chain, middleware.RateLimit(s.limiter, s.keyFunc, s.logger))
	}
	return chain
}

func welcome(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": WelcomeMessage})
}

// Mount registers the route table behind the admission pipeline. It must
// be called once, before Start.
func (s *Server) Mount(table *router.Table) error {
	if State(s.state.Load()) != StateStopped {
		return ErrNotStopped
	}
	if !s.mounted.CompareAndSwap(false, true) {
		return ErrAlreadyMounted
	}
	if err := table.Mount(s.admitted); err != nil {
		return fmt.Errorf("mount routes: %w", err)
	}

	s.logger.Info("routes mounted", observability.Int("routes", len(table.Routes())))
	return nil
}

// Handler returns the engine, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	host := s.cfg.Address
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(s.cfg.Port))
}

// Addr returns the bound address once started, or the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.Address()
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrNotStopped
	}

	addr := s.Address()
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadTimeout:       s.cfg.ReadTimeout.Duration(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout.Duration(),
		IdleTimeout:       s.cfg.IdleTimeout.Duration(),
		MaxHeaderBytes:    1 << 20,
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.done = done
	s.mu.Unlock()

	go s.serve(srv, ln, done)

	s.startTime = time.Now()
	s.state.Store(int32(StateRunning))

	s.logger.Info("server started", observability.String("address", ln.Addr().String()))
	return nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener, done chan struct{}) {
	defer close(done)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("server error", observability.Error(err))
	}
}

// Stop drains in-flight requests, bounded by ctx or the configured
// shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrNotRunning
	}
	defer s.state.Store(int32(StateStopped))

	s.logger.Info("stopping server")

	if _, ok := ctx.Deadline(); !ok && s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout.Duration())
		defer cancel()
	}

	s.mu.Lock()
	srv, done := s.httpServer, s.done
	s.mu.Unlock()

	if err := srv.Shutdown(ctx); err != nil {
		if closeErr := srv.Close(); closeErr != nil {
			return fmt.Errorf("failed to close server: %w", closeErr)
		}
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}
	<-done

	s.logger.Info("server stopped", observability.Duration("uptime", time.Since(s.startTime)))
	return nil
}

// State returns the current server state.
func (s *Server) State() State {
	return State(s.state.Load())
}
