// Package auth provides the authentication gate placed in front of every
// token-guarded route.
//
// The gate reads the raw token from the "authentication" header (no scheme
// prefix is expected or stripped), verifies it, and stores the resulting
// claims in a fresh request context. Every failure produces the same 401
// body, whatever the cause.
package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vyrodovalexey/assetgw/internal/auth/jwt"
	"github.com/vyrodovalexey/assetgw/internal/observability"
	"github.com/vyrodovalexey/assetgw/internal/util"
)

// HeaderName is the request header carrying the token verbatim.
const HeaderName = "authentication"

// Failure reasons recorded in metrics on top of the jwt package reasons.
const (
	ReasonMissingHeader   = "missing_header"
	ReasonMultipleHeaders = "multiple_headers"
)

var (
	// ErrMissingToken indicates that the request carries no token header.
	ErrMissingToken = errors.New("authentication header is missing")

	// ErrMultipleTokens indicates that the token header was sent more than once.
	ErrMultipleTokens = errors.New("authentication header must have a single value")
)

var tracer = otel.Tracer("assetgw/auth")

// TokenVerifier verifies a raw token and returns its claims.
type TokenVerifier interface {
	Verify(token string) (*jwt.Claims, error)
}

// Gate authenticates requests before they reach a handler.
type Gate struct {
	verifier TokenVerifier
	logger   observability.Logger
	metrics  *observability.Metrics
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) GateOption {
	return func(g *Gate) {
		g.metrics = m
	}
}

// NewGate creates a Gate backed by verifier.
func NewGate(verifier TokenVerifier, opts ...GateOption) (*Gate, error) {
	if verifier == nil {
		return nil, errors.New("auth: token verifier is required")
	}

	g := &Gate{
		verifier: verifier,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = observability.NopLogger()
	}

	return g, nil
}

// Authenticate extracts and verifies the token of r.
func (g *Gate) Authenticate(r *http.Request) (*jwt.Claims, error) {
	_, span := tracer.Start(r.Context(), "auth.verify")
	defer span.End()

	values := r.Header.Values(HeaderName)
	var (
		claims *jwt.Claims
		err    error
		reason string
	)
	switch len(values) {
	case 0:
		err, reason = ErrMissingToken, ReasonMissingHeader
	case 1:
		claims, err = g.verifier.Verify(values[0])
		if err != nil {
			reason = jwt.ReasonOf(err)
		}
	default:
		err, reason = ErrMultipleTokens, ReasonMultipleHeaders
	}

	if err != nil {
		span.SetAttributes(attribute.String("auth.failure_reason", reason))
		span.SetStatus(codes.Error, "authentication failed")
		g.metrics.RecordAuthFailure(reason)
		g.logger.WithContext(r.Context()).Debug("authentication failed",
			observability.String("reason", reason),
			observability.Error(err),
		)
		return nil, err
	}

	span.SetAttributes(attribute.String("auth.subject", claims.Subject()))
	return claims, nil
}

// Handler returns the gin pre-handler. On failure the chain is aborted with
// 401; on success the request continues with the claims in its context.
func (g *Gate) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := g.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(util.Failure(util.NewUnauthenticatedError(err)))
			return
		}

		c.Request = c.Request.WithContext(ContextWithClaims(c.Request.Context(), claims))
		c.Next()
	}
}
