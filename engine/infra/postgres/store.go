package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/compozy/policyrag/pkg/logger"
)

const (
	defaultMaxConns           = 10
	defaultHealthCheckPeriod  = 30 * time.Second
	defaultConnectTimeout     = 5 * time.Second
	defaultPingTimeout        = 3 * time.Second
	defaultHealthCheckTimeout = time.Second
)

var errNilConfig = errors.New("postgres: config is required")

// Store owns the pgx pool shared by the document repository and health checks.
type Store struct {
	pool          *pgxpool.Pool
	gauges        *poolGauges
	healthTimeout time.Duration
}

// NewStore opens the pool and pings it before returning.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	poolCfg, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, durationOr(cfg.PingTimeout, defaultPingTimeout))
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	log := logger.FromContext(ctx)
	gauges, err := watchPool(poolLabel(cfg), pool)
	if err != nil {
		log.Warn("Postgres pool metrics unavailable", "error", err)
	}
	log.Info("Postgres store initialized",
		"host", cfg.Host,
		"db_name", cfg.DBName,
		"max_conns", poolCfg.MaxConns,
		"min_conns", poolCfg.MinConns,
	)
	return &Store{
		pool:          pool,
		gauges:        gauges,
		healthTimeout: durationOr(cfg.HealthCheckTimeout, defaultHealthCheckTimeout),
	}, nil
}

// Pool exposes the pool to the repositories in this package.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.healthTimeout)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.gauges.stop()
	s.pool.Close()
	logger.FromContext(ctx).Info("Postgres store closed")
	return nil
}

func (c *Config) poolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	pc.MaxConns, pc.MinConns = connBounds(c.MaxOpenConns, c.MaxIdleConns)
	pc.HealthCheckPeriod = durationOr(c.HealthCheckPeriod, defaultHealthCheckPeriod)
	pc.ConnConfig.ConnectTimeout = durationOr(c.ConnectTimeout, defaultConnectTimeout)
	if c.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = c.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime > 0 {
		pc.MaxConnIdleTime = c.ConnMaxIdleTime
	}
	return pc, nil
}

// connBounds maps the database/sql style open/idle limits onto pool bounds
// with min <= max.
func connBounds(maxOpen, maxIdle int) (maxConns, minConns int32) {
	maxConns = defaultMaxConns
	if maxOpen > 0 {
		maxConns = int32(min(maxOpen, math.MaxInt32))
	}
	if maxIdle > 0 {
		minConns = int32(min(maxIdle, int(maxConns)))
	}
	return maxConns, minConns
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
