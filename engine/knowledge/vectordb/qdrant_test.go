package vectordb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQdrant implements the handful of REST endpoints the store uses.
type fakeQdrant struct {
	mu      sync.Mutex
	exists  bool
	points  map[string]map[string]any
	created int
	apiKeys []string
}

func (f *fakeQdrant) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	respond := func(w http.ResponseWriter, result any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "result": result})
	}
	mux.HandleFunc("/collections/policies", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))
		switch r.Method {
		case http.MethodGet:
			if !f.exists {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"status":{"error":"Not found: Collection policies doesn't exist!"}}`))
				return
			}
			respond(w, map[string]any{"status": "green"})
		case http.MethodPut:
			f.exists = true
			f.created++
			respond(w, true)
		case http.MethodDelete:
			f.exists = false
			f.points = map[string]map[string]any{}
			respond(w, true)
		}
	})
	mux.HandleFunc("/collections/policies/points", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Points []map[string]any `json:"points"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		for _, p := range body.Points {
			f.points[p["id"].(string)] = p["payload"].(map[string]any)
		}
		f.mu.Unlock()
		respond(w, map[string]any{"status": "completed"})
	})
	mux.HandleFunc("/collections/policies/points/search", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.EqualValues(t, 3, body["limit"])
		respond(w, []map[string]any{
			{"id": "6f1c", "score": 0.8, "payload": map[string]any{"text": "Room rent is capped", "page_number": 7}},
			{"id": "7a2d", "score": 0.1, "payload": map[string]any{"text": "Unrelated"}},
		})
	})
	mux.HandleFunc("/collections/policies/points/count", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		respond(w, map[string]any{"count": len(f.points)})
	})
	return mux
}

func newQdrantTestStore(t *testing.T) (*qdrantStore, *fakeQdrant) {
	t.Helper()
	fake := &fakeQdrant{points: map[string]map[string]any{}}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	store, err := newQdrantStore(context.Background(), &Config{
		ID:        "q",
		Provider:  ProviderQdrant,
		DSN:       srv.URL + "/",
		Table:     "policies",
		APIKey:    "secret",
		Dimension: 2,
	})
	require.NoError(t, err)
	return store.(*qdrantStore), fake
}

func TestQdrantStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Should create missing collection once", func(t *testing.T) {
		_, fake := newQdrantTestStore(t)
		assert.Equal(t, 1, fake.created)
		assert.Contains(t, fake.apiKeys, "secret")
	})

	t.Run("Should upsert points with text payload", func(t *testing.T) {
		store, fake := newQdrantTestStore(t)
		require.NoError(t, store.Upsert(ctx, []Record{
			{ID: "6f1c", Text: "Room rent is capped", Embedding: []float32{1, 0}, Metadata: map[string]any{"page_number": 7}},
		}))
		require.Contains(t, fake.points, "6f1c")
		assert.Equal(t, "Room rent is capped", fake.points["6f1c"]["text"])
		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("Should map search results and apply min score", func(t *testing.T) {
		store, _ := newQdrantTestStore(t)
		matches, err := store.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 3, MinScore: 0.5})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "Room rent is capped", matches[0].Text)
		assert.NotContains(t, matches[0].Metadata, "text")
	})

	t.Run("Should recreate collection on delete all", func(t *testing.T) {
		store, fake := newQdrantTestStore(t)
		require.NoError(t, store.Upsert(ctx, []Record{
			{ID: "a", Embedding: []float32{1, 0}},
			{ID: "b", Embedding: []float32{0, 1}},
		}))
		removed, err := store.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)
		assert.Equal(t, 2, fake.created)
		assert.True(t, fake.exists)
	})

	t.Run("Should surface API errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"status":{"error":"forbidden"}}`))
		}))
		t.Cleanup(srv.Close)
		_, err := newQdrantStore(ctx, &Config{ID: "q", DSN: srv.URL, Table: "policies", Dimension: 2})
		assert.ErrorContains(t, err, "forbidden")
	})

	t.Run("Should retry unavailable responses", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"status":"ok","result":{"status":"green"}}`))
		}))
		t.Cleanup(srv.Close)
		_, err := newQdrantStore(ctx, &Config{ID: "q", DSN: srv.URL, Table: "policies", Dimension: 2})
		require.NoError(t, err)
		assert.EqualValues(t, 2, calls.Load())
	})

	t.Run("Should not retry client errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		t.Cleanup(srv.Close)
		_, err := newQdrantStore(ctx, &Config{ID: "q", DSN: srv.URL, Table: "policies", Dimension: 2})
		assert.ErrorContains(t, err, "status 400")
		assert.EqualValues(t, 1, calls.Load())
	})
}
