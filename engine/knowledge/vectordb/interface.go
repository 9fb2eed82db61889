package vectordb

import (
	"context"
	"time"
)

// Provider enumerates supported vector database backends.
type Provider string

const (
	// ProviderMemory keeps vectors in process memory.
	ProviderMemory Provider = "memory"
	// ProviderFilesystem persists vectors to a JSON Lines snapshot on disk.
	ProviderFilesystem Provider = "filesystem"
	ProviderPGVector   Provider = "pgvector"
	ProviderQdrant     Provider = "qdrant"
	ProviderRedis      Provider = "redis"
	// ProviderChromem uses an embedded chromem-go database, optionally persisted.
	ProviderChromem Provider = "chromem"
)

// Record is one chunk vector with its metadata.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]any
}

// SearchOptions controls similarity search execution.
type SearchOptions struct {
	TopK     int
	MinScore float64
	Filters  map[string]string
}

// Match captures a similarity search result. Higher scores are more similar.
type Match struct {
	ID       string
	Score    float64
	Text     string
	Metadata map[string]any
}

// Filter specifies delete criteria.
type Filter struct {
	IDs      []string
	Metadata map[string]string
}

// Store is the contract shared by every vector index backend.
//
// Upsert is idempotent per record ID. Search returns at most TopK matches
// ordered by descending score. DeleteAll empties the namespace and reports
// how many vectors were removed when the backend can tell.
type Store interface {
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error)
	Delete(ctx context.Context, filter Filter) error
	DeleteAll(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
	Close(ctx context.Context) error
}

// Config captures normalized connection details for a vector database.
type Config struct {
	ID          string
	Provider    Provider
	DSN         string
	Path        string
	Namespace   string
	Table       string
	APIKey      string
	EnsureIndex bool
	Metric      string
	Dimension   int
	Consistency string
	MaxTopK     int
	HTTPTimeout time.Duration
	// Compress gzips the filesystem snapshot and chromem persistence files.
	Compress bool
	PGVector *PGVectorOptions
}

// PGVectorOptions configures postgres vector stores.
type PGVectorOptions struct {
	Index    PGVectorIndexType
	Lists    int
	M        int
	EFSearch int
	MaxConns int32
}

// PGVectorIndexType represents supported index types for pgvector.
type PGVectorIndexType string

const (
	PGVectorIndexHNSW    PGVectorIndexType = "hnsw"
	PGVectorIndexIVFFlat PGVectorIndexType = "ivfflat"
)

// IsValidIndexType reports whether t names a known index type. Empty selects the default.
func (t PGVectorIndexType) IsValidIndexType() bool {
	return t == "" || t == PGVectorIndexHNSW || t == PGVectorIndexIVFFlat
}
