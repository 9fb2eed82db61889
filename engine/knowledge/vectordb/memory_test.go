package vectordb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(&Config{Dimension: 4})

	t.Run("Should upsert and search by cosine", func(t *testing.T) {
		records := []Record{
			{ID: "a", Text: "alpha", Embedding: []float32{1, 0, 0, 0}, Metadata: map[string]any{"kind": "one"}},
			{ID: "b", Text: "bravo", Embedding: []float32{0, 1, 0, 0}, Metadata: map[string]any{"kind": "two"}},
		}
		require.NoError(t, store.Upsert(ctx, records))
		matches, err := store.Search(ctx, []float32{1, 0, 0, 0}, SearchOptions{TopK: 1})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "a", matches[0].ID)
		assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	})

	t.Run("Should filter by metadata", func(t *testing.T) {
		matches, err := store.Search(
			ctx,
			[]float32{0, 1, 0, 0},
			SearchOptions{TopK: 2, Filters: map[string]string{"kind": "two"}},
		)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "b", matches[0].ID)
	})

	t.Run("Should match numeric metadata by string form", func(t *testing.T) {
		s := newMemoryStore(&Config{Dimension: 2})
		require.NoError(t, s.Upsert(ctx, []Record{{ID: "p3", Embedding: []float32{1, 0}, Metadata: map[string]any{"page_number": 3}}}))
		matches, err := s.Search(ctx, []float32{1, 0}, SearchOptions{Filters: map[string]string{"page_number": "3"}})
		require.NoError(t, err)
		assert.Len(t, matches, 1)
	})

	t.Run("Should delete by ID", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, Filter{IDs: []string{"a"}}))
		matches, err := store.Search(ctx, []float32{1, 0, 0, 0}, SearchOptions{TopK: 2, MinScore: 0.1})
		require.NoError(t, err)
		require.Len(t, matches, 0)
	})

	t.Run("Should fail upsert when dimension mismatch", func(t *testing.T) {
		mismatchStore := newMemoryStore(&Config{Dimension: 4})
		err := mismatchStore.Upsert(ctx, []Record{
			{ID: "ok", Embedding: []float32{1, 0, 0, 0}},
			{ID: "bad", Embedding: []float32{1, 1, 1}},
		})
		require.ErrorIs(t, err, ErrDimensionMismatch)
		count, err := mismatchStore.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count, "a rejected batch must not be partially written")
	})

	t.Run("Should fail search when query dimension mismatch", func(t *testing.T) {
		otherStore := newMemoryStore(&Config{Dimension: 2})
		require.NoError(t, otherStore.Upsert(ctx, []Record{{ID: "c", Embedding: []float32{1, 0}}}))
		_, err := otherStore.Search(ctx, []float32{1, 0, 0}, SearchOptions{TopK: 1})
		require.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("Should respect top_k when exceeding available records", func(t *testing.T) {
		limitedStore := newMemoryStore(&Config{Dimension: 2})
		records := []Record{
			{ID: "d", Text: "delta", Embedding: []float32{1, 0}},
			{ID: "e", Text: "echo", Embedding: []float32{0, 1}},
		}
		require.NoError(t, limitedStore.Upsert(ctx, records))
		matches, err := limitedStore.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 10})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "d", matches[0].ID)
	})

	t.Run("Should overwrite on repeated upsert", func(t *testing.T) {
		s := newMemoryStore(&Config{Dimension: 2})
		require.NoError(t, s.Upsert(ctx, []Record{{ID: "x", Text: "v1", Embedding: []float32{1, 0}}}))
		require.NoError(t, s.Upsert(ctx, []Record{{ID: "x", Text: "v2", Embedding: []float32{1, 0}}}))
		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		matches, err := s.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 1})
		require.NoError(t, err)
		assert.Equal(t, "v2", matches[0].Text)
	})

	t.Run("Should delete all and report count", func(t *testing.T) {
		s := newMemoryStore(&Config{Dimension: 2})
		require.NoError(t, s.Upsert(ctx, []Record{
			{ID: "1", Embedding: []float32{1, 0}},
			{ID: "2", Embedding: []float32{0, 1}},
		}))
		removed, err := s.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)
		matches, err := s.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 5})
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("Should cap top_k at max top_k", func(t *testing.T) {
		s := newMemoryStore(&Config{Dimension: 2, MaxTopK: 1})
		require.NoError(t, s.Upsert(ctx, []Record{
			{ID: "1", Embedding: []float32{1, 0}},
			{ID: "2", Embedding: []float32{1, 1}},
		}))
		matches, err := s.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 5})
		require.NoError(t, err)
		assert.Len(t, matches, 1)
	})
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Should persist across reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vectors", "index.json")
		cfg := &Config{ID: "fs", Provider: ProviderFilesystem, Path: path, Dimension: 2}
		store, err := newFileStore(cfg)
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, []Record{
			{ID: "c1", Text: "Maternity is covered after 24 months", Embedding: []float32{1, 0}, Metadata: map[string]any{"page_number": 2}},
		}))
		reopened, err := newFileStore(cfg)
		require.NoError(t, err)
		matches, err := reopened.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 1})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "c1", matches[0].ID)
		assert.EqualValues(t, 2, matches[0].Metadata["page_number"])
	})

	t.Run("Should reject snapshot with other dimension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "index.json")
		store, err := newFileStore(&Config{Path: path, Dimension: 2})
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, []Record{{ID: "c1", Embedding: []float32{1, 0}}}))
		_, err = newFileStore(&Config{Path: path, Dimension: 3})
		assert.ErrorContains(t, err, "does not match config")
	})

	t.Run("Should persist delete all", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "index.json")
		cfg := &Config{Path: path, Dimension: 2}
		store, err := newFileStore(cfg)
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, []Record{{ID: "a", Embedding: []float32{1, 0}}, {ID: "b", Embedding: []float32{0, 1}}}))
		removed, err := store.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)
		reopened, err := newFileStore(cfg)
		require.NoError(t, err)
		count, err := reopened.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestCosineSimilarity(t *testing.T) {
	t.Run("Should return zero for mismatched or zero vectors", func(t *testing.T) {
		assert.Zero(t, cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
		assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	})
	t.Run("Should score opposite vectors negative", func(t *testing.T) {
		assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	})
}
