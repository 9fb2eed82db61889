package embedder

import "context"

// Intent tells the backend whether text is indexed content or a search query.
type Intent string

const (
	IntentDocument Intent = "document"
	IntentQuery    Intent = "query"
)

// Backend produces one vector per input text, in input order.
type Backend interface {
	Embed(ctx context.Context, texts []string, intent Intent) ([][]float32, error)
}

// Embedder is the surface consumed by ingestion and retrieval.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, texts []string, intent Intent) ([][]float32, error)

func (f BackendFunc) Embed(ctx context.Context, texts []string, intent Intent) ([][]float32, error) {
	return f(ctx, texts, intent)
}
