package document_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/compozy/policyrag/engine/knowledge/document"
)

func sampleDoc(id string, uploaded time.Time) *knowledge.Document {
	return &knowledge.Document{
		ID:          id,
		Filename:    id + ".pdf",
		UploadDate:  uploaded,
		NumPages:    3,
		Status:      knowledge.StatusCompleted,
		ChunksCount: 7,
	}
}

func newRedisStore(t *testing.T, limit int) (*document.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := document.NewRedisStore(client, "test:docs:", limit)
	require.NoError(t, err)
	return store, srv
}

// exerciseStore runs the contract every backend must satisfy.
func exerciseStore(t *testing.T, newStore func(t *testing.T) document.Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Should insert and list newest first", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Insert(ctx, sampleDoc("a", base)))
		require.NoError(t, store.Insert(ctx, sampleDoc("b", base.Add(time.Minute))))
		require.NoError(t, store.Insert(ctx, sampleDoc("c", base.Add(-time.Minute))))
		docs, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, []string{"b", "a", "c"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})
		assert.Equal(t, 7, docs[0].ChunksCount)
		assert.Equal(t, knowledge.StatusCompleted, docs[0].Status)
		assert.True(t, docs[0].UploadDate.Equal(base.Add(time.Minute)))
	})
	t.Run("Should return an empty list for an empty store", func(t *testing.T) {
		store := newStore(t)
		docs, err := store.List(ctx)
		require.NoError(t, err)
		assert.NotNil(t, docs)
		assert.Empty(t, docs)
	})
	t.Run("Should get a record by id", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Insert(ctx, sampleDoc("a", base)))
		doc, err := store.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "a.pdf", doc.Filename)
		assert.Equal(t, 3, doc.NumPages)
	})
	t.Run("Should report missing records with ErrNotFound", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, document.ErrNotFound)
	})
	t.Run("Should reject duplicate ids", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Insert(ctx, sampleDoc("a", base)))
		err := store.Insert(ctx, sampleDoc("a", base))
		assert.ErrorIs(t, err, document.ErrDuplicate)
	})
	t.Run("Should reject invalid records", func(t *testing.T) {
		store := newStore(t)
		doc := sampleDoc("a", base)
		doc.Status = "archived"
		assert.Error(t, store.Insert(ctx, doc))
	})
	t.Run("Should delete all records and report the count", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Insert(ctx, sampleDoc("a", base)))
		require.NoError(t, store.Insert(ctx, sampleDoc("b", base)))
		n, err := store.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		docs, err := store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, docs)
		n, err = store.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, func(*testing.T) document.Store { return document.NewMemoryStore(0) })

	t.Run("Should cap listings at the configured limit", func(t *testing.T) {
		store := document.NewMemoryStore(2)
		base := time.Now()
		for i, id := range []string{"a", "b", "c"} {
			require.NoError(t, store.Insert(context.Background(), sampleDoc(id, base.Add(time.Duration(i)*time.Second))))
		}
		docs, err := store.List(context.Background())
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "c", docs[0].ID)
	})
	t.Run("Should store upload dates in UTC", func(t *testing.T) {
		store := document.NewMemoryStore(0)
		local := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
		require.NoError(t, store.Insert(context.Background(), sampleDoc("a", local)))
		doc, err := store.Get(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, time.UTC, doc.UploadDate.Location())
	})
}

func TestRedisStore(t *testing.T) {
	exerciseStore(t, func(t *testing.T) document.Store {
		store, _ := newRedisStore(t, 0)
		return store
	})

	t.Run("Should namespace keys with the prefix", func(t *testing.T) {
		store, srv := newRedisStore(t, 0)
		require.NoError(t, store.Insert(context.Background(), sampleDoc("a", time.Now())))
		assert.True(t, srv.Exists("test:docs:doc:a"))
		assert.True(t, srv.Exists("test:docs:index"))
	})
	t.Run("Should skip index entries whose record is gone", func(t *testing.T) {
		store, srv := newRedisStore(t, 0)
		require.NoError(t, store.Insert(context.Background(), sampleDoc("a", time.Now())))
		require.NoError(t, store.Insert(context.Background(), sampleDoc("b", time.Now())))
		srv.Del("test:docs:doc:a")
		docs, err := store.List(context.Background())
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "b", docs[0].ID)
	})
	t.Run("Should require a client", func(t *testing.T) {
		_, err := document.NewRedisStore(nil, "", 0)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("Should accept a complete record", func(t *testing.T) {
		assert.NoError(t, document.Validate(sampleDoc("a", time.Now())))
	})
	t.Run("Should reject missing fields", func(t *testing.T) {
		doc := sampleDoc("", time.Now())
		assert.Error(t, document.Validate(doc))
		doc = sampleDoc("a", time.Now())
		doc.Filename = " "
		assert.Error(t, document.Validate(doc))
		doc = sampleDoc("a", time.Now())
		doc.ChunksCount = -1
		assert.Error(t, document.Validate(doc))
		assert.Error(t, document.Validate(nil))
	})
}
