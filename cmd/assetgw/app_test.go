package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/assetgw/internal/auth"
	"github.com/vyrodovalexey/assetgw/internal/config"
	"github.com/vyrodovalexey/assetgw/internal/observability"
	"github.com/vyrodovalexey/assetgw/internal/server"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const seedJSON = `[
  {"title": "Dune", "author": "Frank Herbert", "ISBN": "978-0441013593", "shelfLocation": "A-01"},
  {"title": "Neuromancer", "author": "William Gibson", "ISBN": "978-0441569595", "shelfLocation": "A-02", "availableQuantity": 3}
]`

func testConfig(t *testing.T, mr *miniredis.Miniredis) *config.Config {
	t.Helper()

	dir := t.TempDir()
	seed := filepath.Join(dir, "seed.json")
	require.NoError(t, os.WriteFile(seed, []byte(seedJSON), 0o600))

	cfg := config.DefaultConfig()
	cfg.Server.Address = "127.0.0.1"
	cfg.Auth.JWTSecret = "app-test-secret"
	cfg.Auth.Issuer = "assetgw-test"
	cfg.Database.DSN = filepath.Join(dir, "assetgw.db")
	cfg.Seed.File = seed
	cfg.RateLimit.Limit = 3
	cfg.RateLimit.Interval = config.Duration(time.Minute)
	cfg.Redis.Address = mr.Addr()
	cfg.Redis.ConnectionRetries = 0
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *application {
	t.Helper()

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.shutdown(context.Background()) })
	return app
}

func token(t *testing.T, cfg *config.Config) string {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, issueToken(&buf, cfg, "librarian", time.Hour))
	return strings.TrimSpace(buf.String())
}

func serve(app *application, method, path, tok string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if tok != "" {
		req.Header.Set(auth.HeaderName, tok)
	}
	rec := httptest.NewRecorder()
	app.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestApplication_ServesSeededCatalogue(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, miniredis.RunT(t))
	app := newTestApp(t, cfg)

	rec := serve(app, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(app, http.MethodGet, "/v1/Images", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(app, http.MethodGet, "/v1/Images", token(t, cfg))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Status bool `json:"status"`
		Data   struct {
			Images []struct {
				Title             string `json:"title"`
				AvailableQuantity int    `json:"availableQuantity"`
			} `json:"Images"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Status)
	assert.Len(t, body.Data.Images, 2)

	rec = serve(app, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "assetgw_http_requests_total")
}

func TestApplication_InvalidSeedIsSkipped(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, miniredis.RunT(t))
	bad := `[
  {"title": "Dune", "author": "Frank Herbert", "ISBN": "978-0441013593", "shelfLocation": "A-01"},
  {"title": "X", "author": "Nobody", "ISBN": "978-0000000000", "shelfLocation": "A-03"}
]`
	require.NoError(t, os.WriteFile(cfg.Seed.File, []byte(bad), 0o600))
	app := newTestApp(t, cfg)

	rec := serve(app, http.MethodGet, "/v1/Images", token(t, cfg))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data struct {
			Images []json.RawMessage `json:"Images"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Data.Images, "a rejected record keeps the whole file out")
}

func TestApplication_RateLimitSharedAcrossRoutes(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, miniredis.RunT(t))
	app := newTestApp(t, cfg)
	tok := token(t, cfg)

	codes := []int{
		serve(app, http.MethodGet, "/v1/Images", tok).Code,
		serve(app, http.MethodGet, "/v1/Images", "").Code,
		serve(app, http.MethodGet, "/unknown", "").Code,
		serve(app, http.MethodGet, "/v1/Images", tok).Code,
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusUnauthorized, http.StatusOK, http.StatusTooManyRequests}, codes)

	rec := serve(app, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code, "health endpoints are never limited")
}

func TestApplication_RateLimitDisabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, miniredis.RunT(t))
	cfg.RateLimit.Enabled = false
	cfg.Redis.Address = "127.0.0.1:1"
	app := newTestApp(t, cfg)
	tok := token(t, cfg)

	assert.Nil(t, app.store)
	for range 5 {
		assert.Equal(t, http.StatusOK, serve(app, http.MethodGet, "/v1/Images", tok).Code)
	}
}

func TestApplication_StoreUnreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	mr.Close()

	_, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "counter store")
}

func TestApplication_RunAndShutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, miniredis.RunT(t))
	cfg.Server.Port = 0
	app := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.run(ctx) }()

	require.Eventually(t, func() bool {
		return app.server.State() == server.StateRunning
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + app.server.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	assert.Equal(t, server.StateStopped, app.server.State())
	assert.NoError(t, app.shutdown(context.Background()), "shutdown is idempotent")
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	f := parseFlags([]string{
		"-config", "assetgw.yaml",
		"-log-level", "debug",
		"-issue-token",
		"-subject", "ops",
		"-ttl", "15m",
	})
	assert.Equal(t, "assetgw.yaml", f.configPath)
	assert.Equal(t, "debug", f.logLevel)
	assert.True(t, f.issueToken)
	assert.Equal(t, "ops", f.subject)
	assert.Equal(t, 15*time.Minute, f.ttl)
	assert.False(t, f.showVersion)

	f = parseFlags(nil)
	assert.Equal(t, "dev", f.subject)
	assert.Equal(t, time.Hour, f.ttl)
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "assetgw.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  jwtSecret: s3cret\nlogging:\n  level: warn\n"), 0o600))

	cfg, err := loadConfig(cliFlags{configPath: path, logFormat: "console"})
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)

	_, err = loadConfig(cliFlags{})
	require.Error(t, err, "the default configuration has no secret")
	assert.Contains(t, err.Error(), "auth.jwtSecret")
}

func TestPrintVersion(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printVersion(&buf)
	assert.Contains(t, buf.String(), "assetgw version "+version)
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("ASSETGW_TEST_VALUE", "set")

	assert.Equal(t, "set", getEnvOrDefault("ASSETGW_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", getEnvOrDefault("ASSETGW_TEST_UNSET", "fallback"))
}
