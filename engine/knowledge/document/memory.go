package document

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/compozy/policyrag/engine/knowledge"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	limit int
	docs  map[string]knowledge.Document
}

func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{limit: resolveLimit(limit), docs: make(map[string]knowledge.Document)}
}

func (s *MemoryStore) Insert(_ context.Context, doc *knowledge.Document) error {
	if err := Validate(doc); err != nil {
		return err
	}
	record := Normalize(doc)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[record.ID]; exists {
		return fmt.Errorf("document %s: %w", record.ID, ErrDuplicate)
	}
	s.docs[record.ID] = record
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]knowledge.Document, error) {
	s.mu.RLock()
	out := make([]knowledge.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc)
	}
	s.mu.RUnlock()
	SortNewestFirst(out)
	if len(out) > s.limit {
		out = out[:s.limit]
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*knowledge.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return &doc, nil
}

func (s *MemoryStore) DeleteAll(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.docs)
	s.docs = make(map[string]knowledge.Document)
	return n, nil
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}

// SortNewestFirst orders records by upload date descending, then by id.
func SortNewestFirst(docs []knowledge.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].UploadDate.Equal(docs[j].UploadDate) {
			return docs[i].UploadDate.After(docs[j].UploadDate)
		}
		return docs[i].ID < docs[j].ID
	})
}
