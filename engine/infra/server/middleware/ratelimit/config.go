package ratelimit

import (
	"fmt"
	"time"

	"github.com/ulule/limiter/v3"

	"github.com/compozy/policyrag/pkg/config"
)

// Config represents rate limiting configuration
type Config struct {
	// Applied per client IP to every request without a route override
	GlobalRate RateConfig `yaml:"global_rate"`

	// Per-route overrides keyed by path prefix
	RouteRates map[string]RateConfig `yaml:"route_rates"`

	Prefix   string `yaml:"prefix"`
	MaxRetry int    `yaml:"max_retry"`

	ExcludedPaths []string `yaml:"excluded_paths"`
}

// RateConfig represents a single rate limit configuration
type RateConfig struct {
	Period   time.Duration `yaml:"period"`
	Limit    int64         `yaml:"limit"`
	Disabled bool          `yaml:"disabled,omitempty"`
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() *Config {
	return &Config{
		GlobalRate: RateConfig{
			Limit:  120,
			Period: time.Minute,
		},
		RouteRates: map[string]RateConfig{},
		Prefix:     "policyrag:ratelimit:",
		MaxRetry:   3,
		ExcludedPaths: []string{
			"/health",
			"/metrics",
		},
	}
}

// FromAppConfig derives the limiter settings from the ratelimit section.
// excluded lists paths that bypass limiting, such as health and metrics.
func FromAppConfig(cfg *config.Config, excluded ...string) *Config {
	out := DefaultConfig()
	if cfg == nil {
		return out
	}
	out.GlobalRate = RateConfig{Limit: cfg.RateLimit.Limit, Period: cfg.RateLimit.Period}
	if cfg.RateLimit.Prefix != "" {
		out.Prefix = cfg.RateLimit.Prefix
	}
	if len(excluded) > 0 {
		out.ExcludedPaths = append(out.ExcludedPaths, excluded...)
	}
	return out
}

// ToLimiterRate converts RateConfig to limiter.Rate
func (rc RateConfig) ToLimiterRate() limiter.Rate {
	return limiter.Rate{
		Period: rc.Period,
		Limit:  rc.Limit,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.GlobalRate.Limit <= 0 {
		return fmt.Errorf("global rate limit must be positive")
	}
	if c.GlobalRate.Period <= 0 {
		return fmt.Errorf("global rate period must be positive")
	}
	for route, rate := range c.RouteRates {
		if rate.Disabled {
			continue
		}
		if rate.Limit <= 0 || rate.Period <= 0 {
			return fmt.Errorf("route rate limit for %s must be positive", route)
		}
	}
	return nil
}
