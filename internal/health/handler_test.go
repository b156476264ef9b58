package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/assetgw/internal/database"
	"github.com/vyrodovalexey/assetgw/internal/observability"
	"github.com/vyrodovalexey/assetgw/internal/ratelimit/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(h *Handler) *gin.Engine {
	engine := gin.New()
	h.RegisterRoutes(engine)
	return engine
}

func TestLiveness(t *testing.T) {
	t.Parallel()

	failing := NewDependencyCheck("broken", DependencyTypeCustom, func(context.Context) error {
		return errors.New("down")
	})
	h := NewHandler()
	h.AddCheck(failing)
	engine := newEngine(h)

	tests := []struct {
		method   string
		wantBody string
	}{
		{method: http.MethodGet, wantBody: `{"status":"ok"}`},
		{method: http.MethodHead},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, httptest.NewRequest(tt.method, "/health", nil))
			assert.Equal(t, http.StatusOK, rec.Code, "liveness ignores dependency checks")
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	ok := NewDependencyCheck("redis", DependencyTypeCache, func(context.Context) error { return nil })
	bad := NewDependencyCheck("database", DependencyTypeDatabase, func(context.Context) error {
		return errors.New("connection refused")
	})

	tests := []struct {
		name       string
		checks     []HealthCheck
		wantStatus int
		wantBody   string
	}{
		{name: "no checks", wantStatus: http.StatusOK, wantBody: StatusOK},
		{name: "all healthy", checks: []HealthCheck{ok}, wantStatus: http.StatusOK, wantBody: StatusOK},
		{
			name:       "one unhealthy",
			checks:     []HealthCheck{ok, bad},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   StatusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := observability.NewMetrics("")
			h := NewHandler(WithMetrics(m))
			for _, c := range tt.checks {
				h.AddCheck(c)
			}

			rec := httptest.NewRecorder()
			newEngine(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body ReadinessStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body.Status)
			assert.Len(t, body.Checks, len(tt.checks))
			assert.NotContains(t, rec.Body.String(), "connection refused")

			series, err := testutil.GatherAndCount(m.Registry(), "assetgw_health_dependency_up")
			require.NoError(t, err)
			assert.Equal(t, len(tt.checks), series)
		})
	}
}

func TestReadiness_Timeout(t *testing.T) {
	t.Parallel()

	slow := NewDependencyCheck("slow", DependencyTypeCustom, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h := NewHandler(WithTimeout(20 * time.Millisecond))
	h.AddCheck(slow)

	status := h.Ready(context.Background())
	assert.Equal(t, StatusError, status.Status)
	assert.Equal(t, StatusError, status.Checks["slow"].Status)
}

func TestPingCheck_Dependencies(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := store.DefaultRedisConfig()
	cfg.Address = mr.Addr()
	cfg.ConnectionRetries = 0
	redisStore, err := store.NewRedisStore(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisStore.Close() })

	db, err := database.Open(context.Background(), database.Config{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "health.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	redisCheck := PingCheck("redis", DependencyTypeCache, PingFunc(redisStore.Ping))
	dbCheck := PingCheck("database", DependencyTypeDatabase, db)

	require.NoError(t, redisCheck.Check(context.Background()))
	require.NoError(t, dbCheck.Check(context.Background()))
	assert.Equal(t, DependencyTypeDatabase, dbCheck.Type())

	mr.Close()
	assert.Error(t, redisCheck.Check(context.Background()))

	require.NoError(t, db.Close())
	assert.Error(t, dbCheck.Check(context.Background()))

	assert.ErrorIs(t, PingCheck("nil", DependencyTypeCustom, nil).Check(context.Background()), errNilDependency)
}

func TestCachedHealthCheck(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	inner := NewDependencyCheck("counted", DependencyTypeCustom, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cached := NewCachedHealthCheck(inner, time.Second)
	cached.now = func() time.Time { return now }

	require.NoError(t, cached.Check(context.Background()))
	require.NoError(t, cached.Check(context.Background()))
	assert.Equal(t, int32(1), calls.Load())

	now = now.Add(2 * time.Second)
	require.NoError(t, cached.Check(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "counted", cached.Name())
}
