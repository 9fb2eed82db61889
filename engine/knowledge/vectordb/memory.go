package vectordb

import (
	"context"
	"sync"

	"github.com/compozy/policyrag/engine/core"
)

// memoryStore keeps vectors in a map guarded by a RWMutex.
type memoryStore struct {
	mu        sync.RWMutex
	dimension int
	maxTopK   int
	records   map[string]Record
}

func newMemoryStore(cfg *Config) *memoryStore {
	return &memoryStore{
		dimension: cfg.Dimension,
		maxTopK:   cfg.MaxTopK,
		records:   make(map[string]Record),
	}
}

func (s *memoryStore) Upsert(_ context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(records)
}

// putLocked validates the whole batch before writing so a bad record leaves no partial state.
func (s *memoryStore) putLocked(records []Record) error {
	for i := range records {
		if err := checkDimension("memory", records[i].ID, len(records[i].Embedding), s.dimension); err != nil {
			return err
		}
	}
	for i := range records {
		rec := records[i]
		s.records[rec.ID] = Record{
			ID:        rec.ID,
			Text:      rec.Text,
			Embedding: append([]float32(nil), rec.Embedding...),
			Metadata:  core.CloneMap(rec.Metadata),
		}
	}
	return nil
}

func (s *memoryStore) Search(_ context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := checkDimension("memory", "", len(query), s.dimension); err != nil {
		return nil, err
	}
	topK := resolveTopK(opts.TopK, s.maxTopK)
	s.mu.RLock()
	defer s.mu.RUnlock()
	candidates := make([]Match, 0, len(s.records))
	for _, rec := range s.records {
		if !metadataMatches(rec.Metadata, opts.Filters) {
			continue
		}
		score := cosineSimilarity(rec.Embedding, query)
		if score < opts.MinScore {
			continue
		}
		candidates = append(candidates, Match{
			ID:       rec.ID,
			Score:    score,
			Text:     rec.Text,
			Metadata: core.CloneMap(rec.Metadata),
		})
	}
	return rankMatches(candidates, topK), nil
}

func (s *memoryStore) Delete(_ context.Context, filter Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(filter)
	return nil
}

func (s *memoryStore) deleteLocked(filter Filter) int {
	removed := 0
	for _, id := range filter.IDs {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			removed++
		}
	}
	if len(filter.Metadata) == 0 {
		return removed
	}
	for id, rec := range s.records {
		if metadataMatches(rec.Metadata, filter.Metadata) {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

func (s *memoryStore) DeleteAll(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := len(s.records)
	s.records = make(map[string]Record)
	return removed, nil
}

func (s *memoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
