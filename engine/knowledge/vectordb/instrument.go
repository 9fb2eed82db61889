package vectordb

import (
	"context"
	"time"
)

// instrumentedStore records latency and error metrics around every call.
type instrumentedStore struct {
	Store
	provider Provider
}

// Instrument wraps store with operation metrics.
func Instrument(store Store, provider Provider) Store {
	if _, ok := store.(*instrumentedStore); ok {
		return store
	}
	return &instrumentedStore{Store: store, provider: provider}
}

func (s *instrumentedStore) Upsert(ctx context.Context, records []Record) error {
	start := time.Now()
	err := s.Store.Upsert(ctx, records)
	recordVectorOperation(ctx, s.provider, "upsert", time.Since(start), err)
	return err
}

func (s *instrumentedStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	start := time.Now()
	matches, err := s.Store.Search(ctx, query, opts)
	recordVectorOperation(ctx, s.provider, "search", time.Since(start), err)
	if err == nil {
		recordVectorSearch(ctx, s.provider, matches)
	}
	return matches, err
}

func (s *instrumentedStore) Delete(ctx context.Context, filter Filter) error {
	start := time.Now()
	err := s.Store.Delete(ctx, filter)
	recordVectorOperation(ctx, s.provider, "delete", time.Since(start), err)
	return err
}

func (s *instrumentedStore) DeleteAll(ctx context.Context) (int, error) {
	start := time.Now()
	removed, err := s.Store.DeleteAll(ctx)
	recordVectorOperation(ctx, s.provider, "delete_all", time.Since(start), err)
	return removed, err
}
