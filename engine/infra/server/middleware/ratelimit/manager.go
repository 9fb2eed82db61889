package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/policyrag/engine/infra/server/router"
	"github.com/compozy/policyrag/pkg/logger"
)

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	keyTypeIP    = "ip"
	globalRoute  = "global"
)

type routeLimiter struct {
	prefix  string
	handler gin.HandlerFunc
}

// Manager applies the global limit and any route overrides, keyed by client IP.
type Manager struct {
	config *Config
	driver string
	global gin.HandlerFunc
	routes []routeLimiter
}

// NewManager builds a manager backed by redis when client is set, otherwise
// by an in-process store.
func NewManager(cfg *Config, client redis.UniversalClient) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit config: %w", err)
	}
	store, driver, err := newStore(cfg, client)
	if err != nil {
		return nil, err
	}
	m := &Manager{config: cfg, driver: driver}
	m.global = m.handlerFor(limiter.New(store, cfg.GlobalRate.ToLimiterRate()), globalRoute)
	prefixes := make([]string, 0, len(cfg.RouteRates))
	for prefix, rate := range cfg.RouteRates {
		if rate.Disabled {
			continue
		}
		prefixes = append(prefixes, prefix)
	}
	// longest prefix wins
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	for _, prefix := range prefixes {
		lim := limiter.New(store, cfg.RouteRates[prefix].ToLimiterRate())
		m.routes = append(m.routes, routeLimiter{prefix: prefix, handler: m.handlerFor(lim, prefix)})
	}
	return m, nil
}

// NewManagerWithMetrics is NewManager plus the blocked requests counter.
func NewManagerWithMetrics(
	ctx context.Context,
	cfg *Config,
	client redis.UniversalClient,
	meter metric.Meter,
) (*Manager, error) {
	if err := InitMetrics(meter); err != nil {
		logger.FromContext(ctx).Warn("Failed to initialize rate limit metrics", "error", err)
	}
	return NewManager(cfg, client)
}

func newStore(cfg *Config, client redis.UniversalClient) (limiter.Store, string, error) {
	opts := limiter.StoreOptions{Prefix: cfg.Prefix, MaxRetry: cfg.MaxRetry}
	if client == nil {
		return memory.NewStoreWithOptions(opts), DriverMemory, nil
	}
	store, err := sredis.NewStoreWithOptions(client, opts)
	if err != nil {
		return nil, "", fmt.Errorf("creating redis rate limit store: %w", err)
	}
	return store, DriverRedis, nil
}

func (m *Manager) handlerFor(lim *limiter.Limiter, route string) gin.HandlerFunc {
	return mgin.NewMiddleware(
		lim,
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			IncrementBlockedRequests(c.Request.Context(), route, keyTypeIP)
			router.RespondProblemWithCode(c, http.StatusTooManyRequests, router.ErrTooManyRequestsCode,
				"rate limit exceeded, retry later")
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			logger.FromContext(c.Request.Context()).Error("Rate limit store failed", "route", route, "error", err)
			router.RespondProblemWithCode(c, http.StatusServiceUnavailable, router.ErrServiceUnavailableCode,
				"rate limiter unavailable")
		}),
	)
}

// Driver reports which store backs the limiter.
func (m *Manager) Driver() string {
	return m.driver
}

// Middleware returns the gin handler enforcing the configured limits.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if m.excluded(path) {
			c.Next()
			return
		}
		handler := m.global
		for _, r := range m.routes {
			if strings.HasPrefix(path, r.prefix) {
				handler = r.handler
				break
			}
		}
		handler(c)
	}
}

func (m *Manager) excluded(path string) bool {
	for _, p := range m.config.ExcludedPaths {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}
