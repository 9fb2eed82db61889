package vectordb

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
)

// fileStore serves searches from memory and keeps a JSON Lines snapshot on
// disk: a header line followed by one record per line, sorted by ID. The
// snapshot is gzipped when Compress is set.
type fileStore struct {
	*memoryStore
	path      string
	namespace string
	compress  bool
}

type snapshotHeader struct {
	Namespace string `json:"namespace"`
	Dimension int    `json:"dimension"`
	Count     int    `json:"count"`
}

type snapshotRecord struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func newFileStore(cfg *Config) (Store, error) {
	path := filepath.Clean(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("filesystem: ensure directory for %q: %w", path, err)
	}
	s := &fileStore{
		memoryStore: newMemoryStore(cfg),
		path:        path,
		namespace:   cfg.Namespace,
		compress:    cfg.Compress,
	}
	if err := s.restore(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Upsert(_ context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	return s.mutate(func() (bool, error) { return true, s.putLocked(records) })
}

func (s *fileStore) Delete(_ context.Context, filter Filter) error {
	return s.mutate(func() (bool, error) { return s.deleteLocked(filter) > 0, nil })
}

func (s *fileStore) DeleteAll(context.Context) (int, error) {
	removed := 0
	err := s.mutate(func() (bool, error) {
		removed = len(s.records)
		s.records = make(map[string]Record)
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// mutate applies fn and rewrites the snapshot when fn changed anything. The
// in-memory state is rolled back when the write fails, so memory never runs
// ahead of disk.
func (s *fileStore) mutate(fn func() (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := maps.Clone(s.records)
	changed, err := fn()
	if err != nil {
		s.records = before
		return err
	}
	if !changed {
		return nil
	}
	if err := s.writeSnapshotLocked(); err != nil {
		s.records = before
		return err
	}
	return nil
}

func (s *fileStore) restore() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("filesystem: open %q: %w", s.path, err)
	}
	defer f.Close()
	var r io.Reader = bufio.NewReader(f)
	if s.compress {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("filesystem: open gzip %q: %w", s.path, err)
		}
		defer zr.Close()
		r = zr
	}
	dec := json.NewDecoder(r)
	var header snapshotHeader
	if err := dec.Decode(&header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("filesystem: decode header of %q: %w", s.path, err)
	}
	if header.Dimension > 0 && header.Dimension != s.dimension {
		return fmt.Errorf("filesystem: stored dimension %d does not match config %d for %q",
			header.Dimension, s.dimension, s.path)
	}
	if header.Namespace != "" && s.namespace != "" && header.Namespace != s.namespace {
		return fmt.Errorf("filesystem: snapshot %q belongs to namespace %q, not %q",
			s.path, header.Namespace, s.namespace)
	}
	for {
		var rec snapshotRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("filesystem: decode record of %q: %w", s.path, err)
		}
		if len(rec.Embedding) != s.dimension {
			return fmt.Errorf("filesystem: snapshot record %q: %w", rec.ID, ErrDimensionMismatch)
		}
		s.records[rec.ID] = Record(rec)
	}
	if header.Count != len(s.records) {
		return fmt.Errorf("filesystem: snapshot %q is truncated: header lists %d records, read %d",
			s.path, header.Count, len(s.records))
	}
	return nil
}

// writeSnapshotLocked writes to a temporary file and renames it into place.
func (s *fileStore) writeSnapshotLocked() (err error) {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("filesystem: create snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	buf := bufio.NewWriter(f)
	var w io.Writer = buf
	var zw *gzip.Writer
	if s.compress {
		zw = gzip.NewWriter(buf)
		w = zw
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(snapshotHeader{Namespace: s.namespace, Dimension: s.dimension, Count: len(s.records)}); err != nil {
		_ = f.Close()
		return fmt.Errorf("filesystem: encode header: %w", err)
	}
	for _, id := range slices.Sorted(maps.Keys(s.records)) {
		if err := enc.Encode(snapshotRecord(s.records[id])); err != nil {
			_ = f.Close()
			return fmt.Errorf("filesystem: encode record %q: %w", id, err)
		}
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			_ = f.Close()
			return fmt.Errorf("filesystem: finish gzip: %w", err)
		}
	}
	if err := buf.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("filesystem: flush snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("filesystem: close snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("filesystem: commit snapshot: %w", err)
	}
	return nil
}
