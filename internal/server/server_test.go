package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/assetgw/internal/config"
	"github.com/vyrodovalexey/assetgw/internal/health"
	"github.com/vyrodovalexey/assetgw/internal/observability"
	"github.com/vyrodovalexey/assetgw/internal/ratelimit"
	"github.com/vyrodovalexey/assetgw/internal/router"
	"github.com/vyrodovalexey/assetgw/internal/util"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// budgetAdmitter admits the first n calls.
type budgetAdmitter struct {
	n     int64
	calls atomic.Int64
}

func (b *budgetAdmitter) Allow(context.Context, string) (*ratelimit.Result, error) {
	count := b.calls.Add(1)
	res := &ratelimit.Result{
		Allowed:    count <= b.n,
		Limit:      int(b.n),
		Count:      count,
		ResetAfter: time.Second,
	}
	if !res.Allowed {
		res.RetryAfter = time.Second
	} else {
		res.Remaining = int(b.n - count)
	}
	return res, nil
}

type services struct{}

func testTable(t *testing.T) *router.Table {
	t.Helper()

	module := router.Module[services]{
		Name:    "echo",
		Prefix:  "/echo",
		Version: "v1",
		Build: func(services) []router.Definition {
			return []router.Definition{
				{
					Method: http.MethodGet,
					Path:   "/public",
					Guard:  router.GuardNone,
					Handler: func(*gin.Context) util.Result[gin.H] {
						return util.OK(gin.H{"echo": "public"})
					},
				},
				{
					Method: http.MethodPost,
					Path:   "/private",
					Handler: func(*gin.Context) util.Result[gin.H] {
						return util.OK(gin.H{"echo": "private"})
					},
				},
			}
		},
	}

	deny := func(c *gin.Context) {
		c.AbortWithStatusJSON(util.Failure(util.NewUnauthenticatedError(nil)))
	}
	table, err := router.Assemble([]router.Module[services]{module}, services{}, router.Hooks{Token: deny})
	require.NoError(t, err)
	return table
}

func testConfig() config.ServerConfig {
	cfg := config.DefaultConfig().Server
	cfg.Address = "127.0.0.1"
	cfg.Port = 0
	return cfg
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer_Dispatch(t *testing.T) {
	t.Parallel()

	s, err := New(testConfig(),
		WithHealth(health.NewHandler()),
		WithMetrics(observability.NewMetrics(""), "/metrics"),
	)
	require.NoError(t, err)
	require.NoError(t, s.Mount(testTable(t)))

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{
			name: "unguarded route", method: http.MethodGet, path: "/v1/echo/public",
			wantStatus: http.StatusOK, wantBody: `{"status":true,"data":{"echo":"public"}}`,
		},
		{
			name: "guarded route without token", method: http.MethodPost, path: "/v1/echo/private",
			wantStatus: http.StatusUnauthorized, wantBody: `{"status":false,"error":{"type":"UNAUTHENTICATED"}}`,
		},
		{
			name: "unmatched path", method: http.MethodGet, path: "/wp-admin",
			wantStatus: http.StatusOK, wantBody: `{"message":"Welcome to Images Server API!"}`,
		},
		{
			name: "unmatched method", method: http.MethodDelete, path: "/v1/echo/public",
			wantStatus: http.StatusOK, wantBody: `{"message":"Welcome to Images Server API!"}`,
		},
		{
			name: "liveness", method: http.MethodGet, path: "/health",
			wantStatus: http.StatusOK, wantBody: `{"status":"ok"}`,
		},
	}

	// The group returns only after its parallel subtests finish.
	t.Run("requests", func(t *testing.T) {
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				rec := do(t, s.Handler(), tt.method, tt.path)
				assert.Equal(t, tt.wantStatus, rec.Code)
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			})
		}
	})

	rec := do(t, s.Handler(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "assetgw_http_requests_total")
}

func TestServer_AdmissionCoversCatchAllButNotHealth(t *testing.T) {
	t.Parallel()

	limiter := &budgetAdmitter{n: 2}
	s, err := New(testConfig(),
		WithHealth(health.NewHandler()),
		WithLimiter(limiter, nil),
	)
	require.NoError(t, err)
	require.NoError(t, s.Mount(testTable(t)))

	assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodGet, "/v1/echo/public").Code)
	assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodGet, "/unknown-path").Code)

	rejected := do(t, s.Handler(), http.MethodGet, "/unknown-path")
	assert.Equal(t, http.StatusTooManyRequests, rejected.Code)
	assert.Equal(t, "1", rejected.Header().Get("Retry-After"))
	assert.JSONEq(t,
		`{"status":false,"error":{"type":"RATE_LIMITED","details":{"limit":2,"retryAfter":1}}}`,
		rejected.Body.String())

	guarded := do(t, s.Handler(), http.MethodPost, "/v1/echo/private")
	assert.Equal(t, http.StatusTooManyRequests, guarded.Code, "rate limit runs before authentication")

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodHead, "/health").Code)
	}
	assert.Equal(t, int64(4), limiter.calls.Load(), "health endpoints never reach the limiter")
}

func TestServer_RequestTimeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RequestTimeout = config.Duration(30 * time.Millisecond)
	s, err := New(cfg)
	require.NoError(t, err)

	module := router.Module[services]{
		Name: "slow", Prefix: "/slow", Version: "v1",
		Build: func(services) []router.Definition {
			return []router.Definition{{
				Method: http.MethodGet, Path: "/", Guard: router.GuardNone,
				Handler: func(c *gin.Context) util.Result[gin.H] {
					<-c.Request.Context().Done()
					return util.Fail[gin.H](c.Request.Context().Err())
				},
			}}
		},
	}
	table, err := router.Assemble([]router.Module[services]{module}, services{}, router.Hooks{})
	require.NoError(t, err)
	require.NoError(t, s.Mount(table))

	rec := do(t, s.Handler(), http.MethodGet, "/v1/slow")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"status":false,"error":{"type":"INTERNAL"}}`, rec.Body.String())
}

func TestServer_MountOnce(t *testing.T) {
	t.Parallel()

	s, err := New(testConfig())
	require.NoError(t, err)
	require.NoError(t, s.Mount(testTable(t)))
	assert.ErrorIs(t, s.Mount(testTable(t)), ErrAlreadyMounted)
}

func TestServer_TrustedProxies(t *testing.T) {
	t.Parallel()

	_, err := New(testConfig(), WithTrustedProxies("not-a-cidr"))
	assert.Error(t, err)

	s, err := New(testConfig(), WithTrustedProxies("10.0.0.0/8"))
	require.NoError(t, err)
	assert.NotNil(t, s.Handler())
}

func TestServer_Lifecycle(t *testing.T) {
	t.Parallel()

	s, err := New(testConfig(), WithHealth(health.NewHandler()))
	require.NoError(t, err)
	assert.Equal(t, StateStopped, s.State())
	assert.ErrorIs(t, s.Stop(context.Background()), ErrNotRunning)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateRunning, s.State())
	assert.ErrorIs(t, s.Start(context.Background()), ErrNotStopped)
	assert.ErrorIs(t, s.Mount(testTable(t)), ErrNotStopped)

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `"ok"`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, StateStopped, s.State())
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "unknown", State(42).String())
}
