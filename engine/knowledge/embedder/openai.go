package embedder

import (
	"context"
	"fmt"
	"sort"

	"github.com/sashabaranov/go-openai"
)

// The embeddings API has no task types, so intents are expressed through
// instruction prefixes.
const (
	openAIDocumentPrefix = "search_document: "
	openAIQueryPrefix    = "search_query: "
)

type openAIBackend struct {
	client    *openai.Client
	model     string
	dimension int
}

func newOpenAIBackend(cfg *Config) (Backend, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedder %q: openai api key is required", cfg.ID)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAIBackend{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

func (o *openAIBackend) Embed(ctx context.Context, texts []string, intent Intent) ([][]float32, error) {
	prefix := openAIDocumentPrefix
	if intent == IntentQuery {
		prefix = openAIQueryPrefix
	}
	inputs := make([]string, len(texts))
	for i := range texts {
		inputs[i] = prefix + texts[i]
	}
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      inputs,
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: o.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: create embeddings: %w", err)
	}
	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i := range data {
		out[i] = data[i].Embedding
	}
	return out, nil
}
