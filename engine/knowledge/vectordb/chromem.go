package vectordb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

var errChromemEmbedFunc = errors.New("chromem: embeddings must be supplied by the caller")

// chromemStore keeps one chromem collection per namespace. Chromem metadata is
// string-only, so non-string values are stored in their decimal form and
// parsed back on read.
type chromemStore struct {
	mu         sync.RWMutex
	db         *chromem.DB
	name       string
	collection *chromem.Collection
	dimension  int
	maxTopK    int
}

func newChromemStore(cfg *Config) (Store, error) {
	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("chromem: open %q: %w", cfg.Path, err)
		}
	}
	name := sanitizeIdentifier(cfg.Namespace)
	if name == "" {
		name = cfg.ID
	}
	store := &chromemStore{db: db, name: name, dimension: cfg.Dimension, maxTopK: cfg.MaxTopK}
	if err := store.openCollection(); err != nil {
		return nil, err
	}
	return store, nil
}

func rejectEmbedding(context.Context, string) ([]float32, error) {
	return nil, errChromemEmbedFunc
}

func (c *chromemStore) openCollection() error {
	collection, err := c.db.GetOrCreateCollection(c.name, nil, rejectEmbedding)
	if err != nil {
		return fmt.Errorf("chromem: open collection %q: %w", c.name, err)
	}
	c.collection = collection
	return nil
}

func (c *chromemStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(records))
	for i := range records {
		rec := records[i]
		if err := checkDimension("chromem", rec.ID, len(rec.Embedding), c.dimension); err != nil {
			return err
		}
		content := rec.Text
		if content == "" {
			content = rec.ID
		}
		docs = append(docs, chromem.Document{
			ID:        rec.ID,
			Content:   content,
			Metadata:  stringifyMetadata(rec.Metadata),
			Embedding: append([]float32(nil), rec.Embedding...),
		})
	}
	// held across the write so DeleteAll cannot swap the collection mid-call
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("chromem: add documents: %w", err)
	}
	return nil
}

func (c *chromemStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := checkDimension("chromem", "", len(query), c.dimension); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	collection := c.collection
	total := collection.Count()
	if total == 0 {
		return nil, nil
	}
	// chromem rejects nResults larger than the collection
	n := min(resolveTopK(opts.TopK, c.maxTopK), total)
	results, err := collection.QueryEmbedding(ctx, query, n, opts.Filters, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}
	matches := make([]Match, 0, len(results))
	for _, res := range results {
		score := float64(res.Similarity)
		if score < opts.MinScore {
			continue
		}
		matches = append(matches, Match{
			ID:       res.ID,
			Score:    score,
			Text:     res.Content,
			Metadata: parseMetadata(res.Metadata),
		})
	}
	return rankMatches(matches, n), nil
}

func (c *chromemStore) Delete(ctx context.Context, filter Filter) error {
	if len(filter.IDs) == 0 && len(filter.Metadata) == 0 {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.collection.Delete(ctx, filter.Metadata, nil, filter.IDs...); err != nil {
		return fmt.Errorf("chromem: delete: %w", err)
	}
	return nil
}

// DeleteAll drops the collection and opens an empty one under the same name.
func (c *chromemStore) DeleteAll(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.collection.Count()
	if err := c.db.DeleteCollection(c.name); err != nil {
		return 0, fmt.Errorf("chromem: drop collection %q: %w", c.name, err)
	}
	if err := c.openCollection(); err != nil {
		return 0, err
	}
	return total, nil
}

func (c *chromemStore) Count(context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collection.Count(), nil
}

func (c *chromemStore) Close(context.Context) error {
	return nil
}

func stringifyMetadata(meta map[string]any) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for key, value := range meta {
		out[key] = fmt.Sprint(value)
	}
	return out
}

func parseMetadata(meta map[string]string) map[string]any {
	out := make(map[string]any, len(meta))
	for key, value := range meta {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			out[key] = n
			continue
		}
		out[key] = value
	}
	return out
}
