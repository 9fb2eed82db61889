package cache

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/policyrag/pkg/config"
)

func TestNewRedis(t *testing.T) {
	t.Run("Should connect to an external server by address", func(t *testing.T) {
		srv := miniredis.RunT(t)
		r, err := NewRedis(t.Context(), &Config{Addr: srv.Addr()})
		require.NoError(t, err)
		defer r.Close()
		require.NoError(t, r.HealthCheck(t.Context()))
		require.NoError(t, r.Client().Set(t.Context(), "k", "v", 0).Err())
		got, err := srv.Get("k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	})
	t.Run("Should connect through a redis URL", func(t *testing.T) {
		srv := miniredis.RunT(t)
		r, err := NewRedis(t.Context(), &Config{URL: "redis://" + srv.Addr() + "/0"})
		require.NoError(t, err)
		defer r.Close()
		assert.NoError(t, r.HealthCheck(t.Context()))
	})
	t.Run("Should start an embedded server", func(t *testing.T) {
		r, err := NewRedis(t.Context(), &Config{Embedded: true})
		require.NoError(t, err)
		require.NoError(t, r.HealthCheck(t.Context()))
		require.NoError(t, r.Close())
		assert.NoError(t, r.Close())
	})
	t.Run("Should reject a config without address", func(t *testing.T) {
		_, err := NewRedis(t.Context(), &Config{})
		assert.ErrorContains(t, err, "url or addr is required")
	})
	t.Run("Should reject a malformed URL", func(t *testing.T) {
		_, err := NewRedis(t.Context(), &Config{URL: "://bad"})
		assert.ErrorContains(t, err, "parsing Redis URL")
	})
}

func TestFromAppConfig(t *testing.T) {
	t.Run("Should map the redis section", func(t *testing.T) {
		cfg := config.Default()
		cfg.Redis.Addr = "cache:6379"
		cfg.Redis.DB = 2
		cfg.Redis.Embedded = true
		got := FromAppConfig(cfg)
		assert.Equal(t, "cache:6379", got.Addr)
		assert.Equal(t, 2, got.DB)
		assert.True(t, got.Embedded)
	})
}
