package vectordb

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromemStore(t *testing.T) {
	ctx := context.Background()
	newStore := func(t *testing.T, path string) Store {
		t.Helper()
		store, err := newChromemStore(&Config{ID: "c", Namespace: "health-insurance-rag", Path: path, Dimension: 3})
		require.NoError(t, err)
		return store
	}
	seed := []Record{
		{ID: "c1", Text: "Cataract surgery is covered", Embedding: []float32{1, 0, 0}, Metadata: map[string]any{"document_id": "d1", "page_number": 2}},
		{ID: "c2", Text: "Dental is excluded", Embedding: []float32{0, 1, 0}, Metadata: map[string]any{"document_id": "d1", "page_number": 5}},
		{ID: "c3", Text: "Ambulance up to 2000", Embedding: []float32{0, 0, 1}, Metadata: map[string]any{"document_id": "d2", "page_number": 1}},
	}

	t.Run("Should clamp top_k to collection size", func(t *testing.T) {
		store := newStore(t, "")
		require.NoError(t, store.Upsert(ctx, seed))
		matches, err := store.Search(ctx, []float32{1, 0.1, 0}, SearchOptions{TopK: 10})
		require.NoError(t, err)
		require.Len(t, matches, 3)
		assert.Equal(t, "c1", matches[0].ID)
		assert.Equal(t, int64(2), matches[0].Metadata["page_number"])
	})

	t.Run("Should return nothing from empty collection", func(t *testing.T) {
		matches, err := newStore(t, "").Search(ctx, []float32{1, 0, 0}, SearchOptions{TopK: 5})
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("Should filter on stringified metadata", func(t *testing.T) {
		store := newStore(t, "")
		require.NoError(t, store.Upsert(ctx, seed))
		matches, err := store.Search(ctx, []float32{0, 0, 1}, SearchOptions{TopK: 2, Filters: map[string]string{"document_id": "d1"}})
		require.NoError(t, err)
		for _, m := range matches {
			assert.Equal(t, "d1", m.Metadata["document_id"])
		}
	})

	t.Run("Should delete all and keep serving", func(t *testing.T) {
		store := newStore(t, t.TempDir())
		require.NoError(t, store.Upsert(ctx, seed))
		removed, err := store.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, removed)
		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
		require.NoError(t, store.Upsert(ctx, seed[:1]))
		count, err = store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("Should delete by IDs", func(t *testing.T) {
		store := newStore(t, "")
		require.NoError(t, store.Upsert(ctx, seed))
		require.NoError(t, store.Delete(ctx, Filter{IDs: []string{"c1", "c3"}}))
		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("Should not lose writes during delete all", func(t *testing.T) {
		store := newStore(t, "")
		const writes = 200
		var (
			wg      sync.WaitGroup
			removed int
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := range writes {
				rec := Record{ID: "r" + strconv.Itoa(i), Text: "clause", Embedding: []float32{1, 0, 0}}
				assert.NoError(t, store.Upsert(ctx, []Record{rec}))
			}
		}()
		go func() {
			defer wg.Done()
			for range 20 {
				n, err := store.DeleteAll(ctx)
				assert.NoError(t, err)
				removed += n
			}
		}()
		wg.Wait()
		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, writes, removed+count)
	})
}
