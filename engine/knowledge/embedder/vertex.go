package embedder

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/googleai/vertex"
)

// LangchainBackend maps intents onto the EmbedDocuments and EmbedQuery
// methods of a langchaingo embedder.
type LangchainBackend struct {
	impl embeddings.Embedder
}

func NewLangchainBackend(impl embeddings.Embedder) *LangchainBackend {
	return &LangchainBackend{impl: impl}
}

func (l *LangchainBackend) Embed(ctx context.Context, texts []string, intent Intent) ([][]float32, error) {
	if intent == IntentDocument {
		return l.impl.EmbedDocuments(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec, err := l.impl.EmbedQuery(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func newVertexBackend(ctx context.Context, cfg *Config) (Backend, error) {
	opts := []googleai.Option{googleai.WithDefaultEmbeddingModel(cfg.Model)}
	if cfg.APIKey != "" {
		opts = append(opts, googleai.WithAPIKey(cfg.APIKey))
	}
	if cfg.Project != "" {
		opts = append(opts, googleai.WithCloudProject(cfg.Project))
	}
	if cfg.Location != "" {
		opts = append(opts, googleai.WithCloudLocation(cfg.Location))
	}
	client, err := vertex.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: failed to initialize vertex client: %w", cfg.ID, err)
	}
	impl, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(cfg.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("embedder %q: failed to construct vertex embedder: %w", cfg.ID, err)
	}
	return NewLangchainBackend(impl), nil
}
