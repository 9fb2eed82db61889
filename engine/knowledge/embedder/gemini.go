package embedder

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// geminiMaxBatch is the request limit of BatchEmbedContents.
const geminiMaxBatch = 100

type geminiBackend struct {
	client *genai.Client
	model  string
}

func newGeminiBackend(ctx context.Context, cfg *Config) (Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedder %q: gemini api key is required", cfg.ID)
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: failed to initialize gemini client: %w", cfg.ID, err)
	}
	return &geminiBackend{client: client, model: cfg.Model}, nil
}

func geminiTaskType(intent Intent) genai.TaskType {
	if intent == IntentQuery {
		return genai.TaskTypeRetrievalQuery
	}
	return genai.TaskTypeRetrievalDocument
}

func (g *geminiBackend) Embed(ctx context.Context, texts []string, intent Intent) ([][]float32, error) {
	model := g.client.EmbeddingModel(g.model)
	model.TaskType = geminiTaskType(intent)
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiMaxBatch {
		end := min(start+geminiMaxBatch, len(texts))
		batch := model.NewBatch()
		for _, text := range texts[start:end] {
			batch.AddContent(genai.Text(text))
		}
		res, err := model.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("gemini: batch embed: %w", err)
		}
		for _, emb := range res.Embeddings {
			if emb == nil {
				return nil, errors.New("gemini: empty embedding in response")
			}
			out = append(out, emb.Values)
		}
	}
	return out, nil
}

func (g *geminiBackend) Close() error {
	return g.client.Close()
}
