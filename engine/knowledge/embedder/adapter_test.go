package embedder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBackend struct {
	mu        sync.Mutex
	calls     [][]string
	intents   []Intent
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	delay     time.Duration
	dimension int
	failOn    string
}

func (r *recordingBackend) Embed(ctx context.Context, texts []string, intent Intent) ([][]float32, error) {
	current := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		prev := r.maxFlight.Load()
		if current <= prev || r.maxFlight.CompareAndSwap(prev, current) {
			break
		}
	}
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), texts...))
	r.intents = append(r.intents, intent)
	r.mu.Unlock()
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if r.failOn != "" && text == r.failOn {
			return nil, errors.New("backend rejected input")
		}
		vec := make([]float32, r.dimension)
		vec[len(text)%r.dimension] = float32(len(text))
		if intent == IntentQuery {
			vec[0] = -1
		}
		out[i] = vec
	}
	return out, nil
}

func newAdapter(t *testing.T, backend Backend, mutate func(*Config)) *Adapter {
	t.Helper()
	cfg := &Config{ID: "test", Provider: ProviderHash, Dimension: 4, BatchSize: 2, Concurrency: 2}
	if mutate != nil {
		mutate(cfg)
	}
	a, err := Wrap(cfg, backend)
	require.NoError(t, err)
	return a
}

func TestAdapter_EmbedDocuments(t *testing.T) {
	t.Run("Should return vectors in input order across batches", func(t *testing.T) {
		backend := &recordingBackend{dimension: 4}
		a := newAdapter(t, backend, nil)
		texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
		vectors, err := a.EmbedDocuments(t.Context(), texts)
		require.NoError(t, err)
		require.Len(t, vectors, len(texts))
		for i, text := range texts {
			assert.Equal(t, float32(len(text)), vectors[i][len(text)%4], "text %q", text)
		}
		assert.Len(t, backend.calls, 3)
		for _, intent := range backend.intents {
			assert.Equal(t, IntentDocument, intent)
		}
	})
	t.Run("Should bound the number of concurrent backend calls", func(t *testing.T) {
		backend := &recordingBackend{dimension: 4, delay: 20 * time.Millisecond}
		a := newAdapter(t, backend, func(c *Config) {
			c.BatchSize = 1
			c.Concurrency = 3
		})
		texts := make([]string, 12)
		for i := range texts {
			texts[i] = strings.Repeat("x", i+1)
		}
		_, err := a.EmbedDocuments(t.Context(), texts)
		require.NoError(t, err)
		assert.LessOrEqual(t, backend.maxFlight.Load(), int32(3))
		assert.Greater(t, backend.maxFlight.Load(), int32(1))
	})
	t.Run("Should reject empty texts before calling the backend", func(t *testing.T) {
		backend := &recordingBackend{dimension: 4}
		a := newAdapter(t, backend, nil)
		_, err := a.EmbedDocuments(t.Context(), []string{"ok", "  "})
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrEmbedding)
		assert.Empty(t, backend.calls)
		_, err = a.EmbedDocuments(t.Context(), nil)
		assert.ErrorIs(t, err, knowledge.ErrEmbedding)
	})
	t.Run("Should surface backend failures as embedding errors", func(t *testing.T) {
		a := newAdapter(t, &recordingBackend{dimension: 4, failOn: "bad"}, nil)
		_, err := a.EmbedDocuments(t.Context(), []string{"good", "bad", "fine"})
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrEmbedding)
		assert.Contains(t, err.Error(), "backend rejected input")
	})
	t.Run("Should reject vectors of the wrong dimension", func(t *testing.T) {
		a := newAdapter(t, &recordingBackend{dimension: 3}, nil)
		_, err := a.EmbedDocuments(t.Context(), []string{"one"})
		require.Error(t, err)
		assert.ErrorIs(t, err, errDimensionMismatch)
	})
	t.Run("Should reject a short backend response", func(t *testing.T) {
		short := BackendFunc(func(_ context.Context, _ []string, _ Intent) ([][]float32, error) {
			return [][]float32{{1, 0, 0, 0}}, nil
		})
		a := newAdapter(t, short, nil)
		_, err := a.EmbedDocuments(t.Context(), []string{"one", "two"})
		assert.ErrorIs(t, err, errUnexpectedCount)
	})
}

func TestAdapter_Cache(t *testing.T) {
	t.Run("Should serve repeated documents from cache", func(t *testing.T) {
		backend := &recordingBackend{dimension: 4}
		a := newAdapter(t, backend, func(c *Config) { c.CacheSize = 16 })
		_, err := a.EmbedDocuments(t.Context(), []string{"alpha", "alpha", "beta"})
		require.NoError(t, err)
		_, err = a.EmbedDocuments(t.Context(), []string{"beta", "alpha"})
		require.NoError(t, err)
		require.Len(t, backend.calls, 1)
		assert.ElementsMatch(t, []string{"alpha", "beta"}, backend.calls[0])
	})
	t.Run("Should keep document and query vectors apart", func(t *testing.T) {
		backend := &recordingBackend{dimension: 4}
		a := newAdapter(t, backend, func(c *Config) { c.CacheSize = 16 })
		docs, err := a.EmbedDocuments(t.Context(), []string{"deductible"})
		require.NoError(t, err)
		query, err := a.EmbedQuery(t.Context(), "deductible")
		require.NoError(t, err)
		assert.NotEqual(t, docs[0], query)
		assert.Equal(t, []Intent{IntentDocument, IntentQuery}, backend.intents)
	})
	t.Run("Should return copies callers may mutate", func(t *testing.T) {
		a := newAdapter(t, &recordingBackend{dimension: 4}, func(c *Config) { c.CacheSize = 4 })
		first, err := a.EmbedQuery(t.Context(), "copay")
		require.NoError(t, err)
		first[1] = 99
		second, err := a.EmbedQuery(t.Context(), "copay")
		require.NoError(t, err)
		assert.NotEqual(t, float32(99), second[1])
	})
}

func TestAdapter_EmbedQuery(t *testing.T) {
	t.Run("Should embed with the query intent", func(t *testing.T) {
		backend := &recordingBackend{dimension: 4}
		a := newAdapter(t, backend, nil)
		vec, err := a.EmbedQuery(t.Context(), "What is covered?")
		require.NoError(t, err)
		assert.Len(t, vec, 4)
		assert.Equal(t, []Intent{IntentQuery}, backend.intents)
	})
	t.Run("Should reject an empty question", func(t *testing.T) {
		_, err := newAdapter(t, &recordingBackend{dimension: 4}, nil).EmbedQuery(t.Context(), "")
		assert.ErrorIs(t, err, knowledge.ErrEmbedding)
	})
}

func TestWrap(t *testing.T) {
	t.Run("Should require a backend and a dimension", func(t *testing.T) {
		_, err := Wrap(&Config{Provider: ProviderHash, Dimension: 4}, nil)
		assert.Error(t, err)
		_, err = Wrap(&Config{Provider: ProviderHash}, &recordingBackend{})
		assert.ErrorIs(t, err, errInvalidDimension)
	})
	t.Run("Should build the hash provider without network access", func(t *testing.T) {
		a, err := New(t.Context(), &Config{Provider: ProviderHash, Dimension: 8})
		require.NoError(t, err)
		assert.Equal(t, "feature-hash", a.Model())
		vec, err := a.EmbedQuery(t.Context(), "maternity")
		require.NoError(t, err)
		assert.Len(t, vec, 8)
	})
	t.Run("Should reject unknown providers", func(t *testing.T) {
		_, err := New(t.Context(), &Config{Provider: "mystery", Dimension: 8})
		assert.ErrorContains(t, err, "not supported")
	})
}

func TestCategorizeError(t *testing.T) {
	t.Run("Should bucket common provider failures", func(t *testing.T) {
		assert.Equal(t, errorTypeRateLimit, categorizeError(errors.New("HTTP 429 Too Many Requests")))
		assert.Equal(t, errorTypeAuth, categorizeError(errors.New("invalid API key provided")))
		assert.Equal(t, errorTypeTimeout, categorizeError(context.DeadlineExceeded))
		assert.Equal(t, errorTypeServer, categorizeError(errors.New("boom")))
	})
}
