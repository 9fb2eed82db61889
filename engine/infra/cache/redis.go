package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/compozy/policyrag/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const fallbackRedisPingTimeout = 10 * time.Second

// Redis wraps a client shared by the document store and the rate limiter.
type Redis struct {
	client   redis.UniversalClient
	embedded *miniredis.Miniredis
	once     sync.Once
}

// NewRedis connects to the configured server, or starts an embedded one.
func NewRedis(ctx context.Context, cfg *Config) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	log := logger.FromContext(ctx).With("component", "infra_redis")
	var embedded *miniredis.Miniredis
	if cfg.Embedded {
		srv, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("starting embedded redis: %w", err)
		}
		embedded = srv
		cfg = &Config{Addr: srv.Addr(), PingTimeout: cfg.PingTimeout}
	}
	client, err := buildRedisClient(cfg)
	if err != nil {
		stopEmbedded(embedded)
		return nil, err
	}
	if err := pingRedis(ctx, client, cfg.PingTimeout); err != nil {
		client.Close()
		stopEmbedded(embedded)
		return nil, err
	}
	log.Info("Redis connection established", "addr", cfg.Addr, "db", cfg.DB, "embedded", embedded != nil)
	return &Redis{client: client, embedded: embedded}, nil
}

func buildRedisClient(cfg *Config) (redis.UniversalClient, error) {
	if cfg.URL != "" {
		opt, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing Redis URL: %w", err)
		}
		applyOptions(opt, cfg)
		return redis.NewClient(opt), nil
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: url or addr is required")
	}
	opt := &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	applyOptions(opt, cfg)
	return redis.NewClient(opt), nil
}

func applyOptions(opt *redis.Options, cfg *Config) {
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
}

func pingRedis(ctx context.Context, client redis.UniversalClient, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = fallbackRedisPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("pinging Redis server (timeout=%s): %w", timeout, err)
	}
	return nil
}

func stopEmbedded(srv *miniredis.Miniredis) {
	if srv != nil {
		srv.Close()
	}
}

// Client returns the underlying Redis client.
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

// HealthCheck pings the server.
func (r *Redis) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: health check failed: %w", err)
	}
	return nil
}

// Close shuts the client down once and stops the embedded server if any.
func (r *Redis) Close() error {
	var err error
	r.once.Do(func() {
		err = r.client.Close()
		stopEmbedded(r.embedded)
	})
	return err
}
