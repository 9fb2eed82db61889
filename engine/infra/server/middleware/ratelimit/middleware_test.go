package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRouterForTest(t *testing.T, cfg *Config, client redis.UniversalClient) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	m, err := NewManager(cfg, client)
	require.NoError(t, err)
	r.Use(m.Middleware())
	r.GET("/t", func(c *gin.Context) { c.String(200, "ok") })
	r.POST("/api/v0/upload", func(c *gin.Context) { c.String(200, "ok") })
	r.GET("/health", func(c *gin.Context) { c.String(200, "ok") })
	return r
}

func doReq(r *gin.Engine, method, path, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, http.NoBody)
	if ip != "" {
		req.Header.Set("X-Real-IP", ip)
	}
	r.ServeHTTP(w, req)
	return w
}

func testConfig(limit int64, period time.Duration) *Config {
	return &Config{
		GlobalRate:    RateConfig{Limit: limit, Period: period},
		RouteRates:    map[string]RateConfig{},
		Prefix:        "test:ratelimit:",
		MaxRetry:      1,
		ExcludedPaths: []string{"/health"},
	}
}

func TestInMemoryGlobalRateLimit_BlocksSecondRequest(t *testing.T) {
	r := buildRouterForTest(t, testConfig(1, time.Second), nil)

	res1 := doReq(r, http.MethodGet, "/t", "1.2.3.4")
	require.Equal(t, 200, res1.Code)
	res2 := doReq(r, http.MethodGet, "/t", "1.2.3.4")
	require.Equal(t, 429, res2.Code)
	assert.Equal(t, "application/problem+json", res2.Header().Get("Content-Type"))
}

func TestInMemoryGlobalRateLimit_RefillAfterPeriod(t *testing.T) {
	r := buildRouterForTest(t, testConfig(1, 100*time.Millisecond), nil)

	res1 := doReq(r, http.MethodGet, "/t", "5.6.7.8")
	require.Equal(t, 200, res1.Code)
	res2 := doReq(r, http.MethodGet, "/t", "5.6.7.8")
	require.Equal(t, 429, res2.Code)
	time.Sleep(120 * time.Millisecond)
	res3 := doReq(r, http.MethodGet, "/t", "5.6.7.8")
	require.Equal(t, 200, res3.Code)
}

func TestInMemoryRateLimit_SetsHeaders(t *testing.T) {
	r := buildRouterForTest(t, testConfig(2, time.Minute), nil)
	res := doReq(r, http.MethodGet, "/t", "9.9.9.9")
	require.Equal(t, 200, res.Code)
	require.NotEmpty(t, res.Header().Get("X-RateLimit-Limit"))
	require.NotEmpty(t, res.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, res.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimit_SkipsExcludedPaths(t *testing.T) {
	r := buildRouterForTest(t, testConfig(1, time.Minute), nil)
	for i := 0; i < 3; i++ {
		res := doReq(r, http.MethodGet, "/health", "4.4.4.4")
		require.Equal(t, 200, res.Code)
		assert.Empty(t, res.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimit_RouteOverride(t *testing.T) {
	cfg := testConfig(100, time.Minute)
	cfg.RouteRates["/api/v0/upload"] = RateConfig{Limit: 1, Period: time.Minute}
	r := buildRouterForTest(t, cfg, nil)

	require.Equal(t, 200, doReq(r, http.MethodPost, "/api/v0/upload", "7.7.7.7").Code)
	require.Equal(t, 429, doReq(r, http.MethodPost, "/api/v0/upload", "7.7.7.7").Code)
	require.Equal(t, 200, doReq(r, http.MethodGet, "/t", "7.7.7.7").Code)
}

func TestRedisRateLimit_SharesCountersAcrossManagers(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cfg := testConfig(1, time.Minute)

	m, err := NewManager(cfg, client)
	require.NoError(t, err)
	assert.Equal(t, DriverRedis, m.Driver())
	first := buildRouterForTest(t, cfg, client)
	second := buildRouterForTest(t, cfg, client)

	require.Equal(t, 200, doReq(first, http.MethodGet, "/t", "3.3.3.3").Code)
	require.Equal(t, 429, doReq(second, http.MethodGet, "/t", "3.3.3.3").Code)
}

func TestNewManager_RejectsInvalidConfig(t *testing.T) {
	_, err := NewManager(&Config{GlobalRate: RateConfig{Limit: 0, Period: time.Minute}}, nil)
	require.Error(t, err)
}
