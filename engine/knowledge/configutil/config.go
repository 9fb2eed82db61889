// Package configutil maps the application configuration onto the option
// structs of the knowledge components.
package configutil

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/compozy/policyrag/engine/infra/postgres"
	"github.com/compozy/policyrag/engine/knowledge/chunk"
	"github.com/compozy/policyrag/engine/knowledge/embedder"
	"github.com/compozy/policyrag/engine/knowledge/extract"
	"github.com/compozy/policyrag/engine/knowledge/ingest"
	"github.com/compozy/policyrag/engine/knowledge/retriever"
	"github.com/compozy/policyrag/engine/knowledge/synth"
	"github.com/compozy/policyrag/engine/knowledge/vectordb"
	"github.com/compozy/policyrag/pkg/config"
)

const (
	defaultRedisAddr  = "localhost:6379"
	estimatorTiktoken = "tiktoken"
)

func ToEmbedderConfig(cfg *config.Config) (*embedder.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder config is required")
	}
	provider := embedder.Provider(strings.ToLower(strings.TrimSpace(cfg.Embedder.Provider)))
	out := &embedder.Config{
		ID:          string(provider),
		Provider:    provider,
		Model:       strings.TrimSpace(cfg.Embedder.Model),
		BaseURL:     strings.TrimSpace(cfg.Embedder.BaseURL),
		Project:     strings.TrimSpace(cfg.Embedder.Project),
		Location:    strings.TrimSpace(cfg.Embedder.Location),
		Dimension:   cfg.Embedder.Dimension,
		BatchSize:   cfg.Embedder.BatchSize,
		Concurrency: cfg.Embedder.Concurrency,
		CacheSize:   cfg.Embedder.CacheSize,
	}
	switch provider {
	case embedder.ProviderGemini:
		out.APIKey = cfg.GeminiKey(cfg.Embedder.APIKey)
	case embedder.ProviderOpenAI:
		out.APIKey = cfg.OpenAIKey(cfg.Embedder.APIKey)
	case embedder.ProviderVertex:
		out.APIKey = cfg.Embedder.APIKey.Value()
		if out.Project == "" {
			return nil, fmt.Errorf("embedder %q: project is required", provider)
		}
	case embedder.ProviderHash:
	default:
		return nil, fmt.Errorf("embedder %q: unsupported provider", cfg.Embedder.Provider)
	}
	if out.Dimension <= 0 {
		return nil, fmt.Errorf("embedder %q: dimension must be greater than zero", provider)
	}
	return out, nil
}

// ToVectorStoreConfig resolves the vector index settings. pgvector and redis
// fall back to the shared database and redis sections when no DSN is set.
func ToVectorStoreConfig(cfg *config.Config) (*vectordb.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vector_db config is required")
	}
	provider := vectordb.Provider(strings.ToLower(strings.TrimSpace(cfg.VectorDB.Provider)))
	switch provider {
	case vectordb.ProviderMemory, vectordb.ProviderFilesystem, vectordb.ProviderPGVector,
		vectordb.ProviderQdrant, vectordb.ProviderRedis, vectordb.ProviderChromem:
	default:
		return nil, fmt.Errorf("vector_db: unsupported provider %q", cfg.VectorDB.Provider)
	}
	if cfg.Embedder.Dimension <= 0 {
		return nil, fmt.Errorf("vector_db %q: embedder.dimension must be greater than zero", provider)
	}
	dsn := strings.TrimSpace(cfg.VectorDB.DSN.Value())
	if dsn == "" {
		switch provider {
		case vectordb.ProviderPGVector:
			dsn = ToPostgresConfig(&cfg.Database).DSN()
		case vectordb.ProviderRedis:
			dsn = buildRedisDSN(&cfg.Redis)
		}
	}
	out := &vectordb.Config{
		ID:          cfg.Knowledge.Namespace,
		Provider:    provider,
		DSN:         dsn,
		Path:        strings.TrimSpace(cfg.VectorDB.Path),
		Namespace:   cfg.Knowledge.Namespace,
		APIKey:      cfg.VectorDB.APIKey.Value(),
		EnsureIndex: cfg.VectorDB.EnsureIndex,
		Metric:      strings.ToLower(strings.TrimSpace(cfg.VectorDB.Metric)),
		Dimension:   cfg.Embedder.Dimension,
		Consistency: strings.TrimSpace(cfg.VectorDB.Consistency),
		MaxTopK:     cfg.VectorDB.MaxTopK,
		HTTPTimeout: cfg.VectorDB.HTTPTimeout,
		Compress:    cfg.VectorDB.Compress,
	}
	if provider == vectordb.ProviderPGVector {
		index := vectordb.PGVectorIndexType(strings.ToLower(strings.TrimSpace(cfg.VectorDB.Index)))
		if !index.IsValidIndexType() {
			return nil, fmt.Errorf("vector_db %q: unknown index type %q", provider, cfg.VectorDB.Index)
		}
		out.PGVector = &vectordb.PGVectorOptions{
			Index:    index,
			MaxConns: int32(max(cfg.Database.MaxOpenConns, 0)),
		}
	}
	return out, nil
}

func ToSynthConfig(cfg *config.Config) (*synth.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config is required")
	}
	provider := synth.Provider(strings.ToLower(strings.TrimSpace(cfg.LLM.Provider)))
	out := &synth.Config{
		Provider:          provider,
		Model:             strings.TrimSpace(cfg.LLM.Model),
		BaseURL:           strings.TrimSpace(cfg.LLM.BaseURL),
		Temperature:       cfg.LLM.Temperature,
		MaxTokens:         cfg.LLM.MaxTokens,
		Grounding:         synth.Grounding(cfg.LLM.Grounding),
		ShortCircuitEmpty: cfg.LLM.ShortCircuitEmpty,
	}
	switch provider {
	case synth.ProviderGemini:
		out.APIKey = cfg.GeminiKey(cfg.LLM.APIKey)
	case synth.ProviderOpenAI:
		out.APIKey = cfg.OpenAIKey(cfg.LLM.APIKey)
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.LLM.Provider)
	}
	return out, nil
}

func ToChunkSettings(cfg *config.Config) chunk.Settings {
	return chunk.Settings{
		Strategy:    chunk.Strategy(cfg.Knowledge.ChunkStrategy),
		Size:        cfg.Knowledge.ChunkSize,
		Overlap:     cfg.Knowledge.ChunkOverlap,
		OverlapMode: chunk.OverlapMode(cfg.Knowledge.OverlapMode),
	}
}

func ToExtractOptions(cfg *config.Config) extract.Options {
	return extract.Options{
		AllowText: cfg.Knowledge.AllowText,
		MaxRunes:  cfg.Knowledge.MaxRunes,
	}
}

func ToIngestOptions(cfg *config.Config) ingest.Options {
	return ingest.Options{
		Namespace:     cfg.Knowledge.Namespace,
		ExcerptLength: cfg.Knowledge.ExcerptLength,
		Upsert: ingest.RetrySettings{
			Attempts:   cfg.Ingest.UpsertAttempts,
			Backoff:    cfg.Ingest.UpsertBackoff,
			MaxBackoff: cfg.Ingest.UpsertMaxBackoff,
		},
		Reconcile: ingest.RetrySettings{
			Attempts:   cfg.Ingest.Reconcile.Attempts,
			Backoff:    cfg.Ingest.Reconcile.Backoff,
			MaxBackoff: cfg.Ingest.Reconcile.MaxBackoff,
		},
		RecordFailures: cfg.Ingest.RecordFailures,
		Rollback:       cfg.Ingest.Reconcile.Rollback,
	}
}

// ToRetrieverOptions builds retriever options, loading the tiktoken
// encoding when that estimator is selected.
func ToRetrieverOptions(cfg *config.Config) (retriever.Options, error) {
	opts := retriever.Options{
		Namespace:        cfg.Knowledge.Namespace,
		MaxContextTokens: cfg.Knowledge.MaxContextTokens,
		MaxTopK:          cfg.Knowledge.MaxTopK,
		Estimator:        retriever.RuneEstimator{},
	}
	if strings.EqualFold(cfg.Knowledge.TokenEstimator, estimatorTiktoken) {
		est, err := retriever.NewTiktokenEstimator("")
		if err != nil {
			return retriever.Options{}, err
		}
		opts.Estimator = est
	}
	return opts, nil
}

func ToPostgresConfig(cfg *config.DatabaseConfig) *postgres.Config {
	return &postgres.Config{
		ConnString:      cfg.ConnString.Value(),
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password.Value(),
		DBName:          cfg.DBName,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		PingTimeout:     cfg.PingTimeout,
	}
}

func buildRedisDSN(cfg *config.RedisConfig) string {
	if trimmed := strings.TrimSpace(cfg.URL.Value()); trimmed != "" {
		return trimmed
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = defaultRedisAddr
	}
	u := &url.URL{
		Scheme: "redis",
		Host:   addr,
		Path:   fmt.Sprintf("/%d", cfg.DB),
	}
	if pwd := cfg.Password.Value(); pwd != "" {
		u.User = url.UserPassword("", pwd)
	}
	return u.String()
}
