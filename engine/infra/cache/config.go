package cache

import (
	"time"

	"github.com/compozy/policyrag/pkg/config"
)

// Config holds Redis connection settings.
type Config struct {
	URL         string
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
	PingTimeout time.Duration
	// Embedded starts an in-process miniredis server instead of dialing Addr.
	Embedded bool
}

// FromAppConfig maps the shared redis section onto a cache Config.
func FromAppConfig(cfg *config.Config) *Config {
	return &Config{
		URL:      cfg.Redis.URL.Value(),
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password.Value(),
		DB:       cfg.Redis.DB,
		Embedded: cfg.Redis.Embedded,
	}
}
