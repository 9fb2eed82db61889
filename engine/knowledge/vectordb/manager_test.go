package vectordb

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_AcquireShared(t *testing.T) {
	ctx := context.Background()
	base := func() *Config {
		return &Config{ID: "shared", Provider: ProviderMemory, Namespace: "health-insurance-rag", Dimension: 2}
	}

	t.Run("Should reuse the store for the same settings and close it on the last release", func(t *testing.T) {
		m := NewManager()
		first, releaseFirst, err := m.AcquireShared(ctx, base())
		require.NoError(t, err)
		second, releaseSecond, err := m.AcquireShared(ctx, base())
		require.NoError(t, err)
		assert.Same(t, first, second)
		require.NoError(t, releaseFirst(ctx))
		assert.Len(t, m.entries, 1)
		require.NoError(t, releaseSecond(ctx))
		assert.Empty(t, m.entries)
	})

	t.Run("Should ignore a repeated release", func(t *testing.T) {
		m := NewManager()
		_, releaseFirst, err := m.AcquireShared(ctx, base())
		require.NoError(t, err)
		_, releaseSecond, err := m.AcquireShared(ctx, base())
		require.NoError(t, err)
		require.NoError(t, releaseFirst(ctx))
		require.NoError(t, releaseFirst(ctx))
		assert.Len(t, m.entries, 1)
		require.NoError(t, releaseSecond(ctx))
	})

	t.Run("Should open one store for concurrent first acquisitions", func(t *testing.T) {
		m := NewManager()
		const callers = 8
		stores := make([]Store, callers)
		releases := make([]ReleaseFunc, callers)
		var wg sync.WaitGroup
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s, r, err := m.AcquireShared(ctx, base())
				assert.NoError(t, err)
				stores[i], releases[i] = s, r
			}()
		}
		wg.Wait()
		for i := 1; i < callers; i++ {
			assert.Same(t, stores[0], stores[i])
		}
		assert.Equal(t, callers, m.entries["shared"].refs)
		for _, r := range releases {
			require.NoError(t, r(ctx))
		}
		assert.Empty(t, m.entries)
	})

	t.Run("Should reject mismatched settings for the same ID", func(t *testing.T) {
		m := NewManager()
		_, release, err := m.AcquireShared(ctx, base())
		require.NoError(t, err)
		defer func() { _ = release(ctx) }()
		other := base()
		other.Dimension = 3
		_, _, err = m.AcquireShared(ctx, other)
		assert.ErrorContains(t, err, "configuration mismatch")
	})

	t.Run("Should validate the config", func(t *testing.T) {
		m := NewManager()
		_, _, err := m.AcquireShared(ctx, &Config{ID: "x", Provider: ProviderPGVector, Dimension: 2})
		assert.ErrorIs(t, err, errMissingDSN)
		_, _, err = m.AcquireShared(ctx, &Config{ID: "x", Provider: ProviderMemory})
		assert.ErrorIs(t, err, errInvalidDimension)
	})
}
