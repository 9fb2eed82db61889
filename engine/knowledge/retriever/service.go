package retriever

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/compozy/policyrag/engine/core"
	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/compozy/policyrag/engine/knowledge/vectordb"
	"github.com/compozy/policyrag/pkg/logger"
)

// QueryEmbedder is the query half of embedder.Embedder.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Options struct {
	Namespace string
	// MaxContextTokens drops trailing contexts once the estimate exceeds it. Zero disables trimming.
	MaxContextTokens int
	MaxTopK          int
	MinScore         float64
	Estimator        TokenEstimator
}

type Service struct {
	embedder QueryEmbedder
	store    vectordb.Store
	opts     Options
	tracer   trace.Tracer
}

func NewService(emb QueryEmbedder, store vectordb.Store, opts Options) (*Service, error) {
	if emb == nil {
		return nil, errors.New("retriever: embedder is required")
	}
	if store == nil {
		return nil, errors.New("retriever: vector store is required")
	}
	if opts.Estimator == nil {
		opts.Estimator = RuneEstimator{}
	}
	if opts.Namespace == "" {
		opts.Namespace = knowledge.DefaultNamespace
	}
	return &Service{
		embedder: emb,
		store:    store,
		opts:     opts,
		tracer:   otel.Tracer("policyrag.knowledge.retriever"),
	}, nil
}

// Retrieve embeds the question and returns up to topK contexts in index order.
func (s *Service) Retrieve(ctx context.Context, question string, topK int) ([]knowledge.RetrievedContext, error) {
	if err := s.checkTopK(topK); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "policyrag.knowledge.retriever.retrieve", trace.WithAttributes(
		attribute.String("namespace", s.opts.Namespace),
		attribute.Int("top_k", topK),
	))
	defer span.End()
	log := logger.FromContext(ctx).With("namespace", s.opts.Namespace)
	log.Debug("Knowledge retrieval started", "question_length", len(question), "top_k", topK)

	contexts, err := s.retrieve(ctx, question, topK)
	elapsed := time.Since(start)
	knowledge.RecordQueryLatency(ctx, s.opts.Namespace, elapsed)
	if err != nil {
		failSpan(span, err)
		log.Error("Knowledge retrieval failed", "error", err, "duration_seconds", elapsed.Seconds())
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(contexts)))
	log.Info("Knowledge retrieval finished", "results", len(contexts), "duration_seconds", elapsed.Seconds())
	return contexts, nil
}

func (s *Service) checkTopK(topK int) error {
	switch {
	case topK <= 0:
		return knowledge.NewIndexError("retrieve",
			fmt.Errorf("top_k must be positive, got %d: %w", topK, knowledge.ErrInvalidInput))
	case s.opts.MaxTopK > 0 && topK > s.opts.MaxTopK:
		return knowledge.NewIndexError("retrieve",
			fmt.Errorf("top_k %d exceeds limit %d: %w", topK, s.opts.MaxTopK, knowledge.ErrInvalidInput))
	}
	return nil
}

func (s *Service) retrieve(ctx context.Context, question string, topK int) ([]knowledge.RetrievedContext, error) {
	vector, err := traced(ctx, s.tracer, "embed_query", func(ctx context.Context) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, question)
	})
	if err != nil {
		return nil, err
	}
	matches, err := traced(ctx, s.tracer, "vector_search", func(ctx context.Context) ([]vectordb.Match, error) {
		return s.store.Search(ctx, vector, vectordb.SearchOptions{TopK: topK, MinScore: s.opts.MinScore})
	})
	if err != nil {
		return nil, knowledge.NewIndexError("search", err)
	}
	if len(matches) == 0 {
		knowledge.RecordRetrievalEmpty(ctx, s.opts.Namespace)
		return []knowledge.RetrievedContext{}, nil
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return s.buildContexts(ctx, matches), nil
}

// traced runs fn inside a child span named after step.
func traced[T any](ctx context.Context, tracer trace.Tracer, step string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, "policyrag.knowledge.retriever."+step)
	defer span.End()
	out, err := fn(ctx)
	if err != nil {
		failSpan(span, err)
	}
	return out, err
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (s *Service) buildContexts(ctx context.Context, matches []vectordb.Match) []knowledge.RetrievedContext {
	contexts := make([]knowledge.RetrievedContext, len(matches))
	total := 0
	for i := range matches {
		contexts[i] = contextFromMatch(matches[i])
		contexts[i].TokenEstimate = s.opts.Estimator.EstimateTokens(ctx, contexts[i].Text)
		total += contexts[i].TokenEstimate
	}
	return trimContexts(contexts, total, s.opts.MaxContextTokens)
}

// trimContexts removes contexts from the tail until the estimate fits.
func trimContexts(contexts []knowledge.RetrievedContext, total int, maxTokens int) []knowledge.RetrievedContext {
	if maxTokens <= 0 {
		return contexts
	}
	for total > maxTokens && len(contexts) > 0 {
		last := len(contexts) - 1
		total -= contexts[last].TokenEstimate
		contexts = contexts[:last]
	}
	return contexts
}

func contextFromMatch(match vectordb.Match) knowledge.RetrievedContext {
	meta := core.CloneMap(match.Metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	text := match.Text
	if text == "" {
		text = metaString(meta, knowledge.MetaText)
	}
	return knowledge.RetrievedContext{
		ChunkID:    match.ID,
		DocumentID: metaString(meta, knowledge.MetaDocumentID),
		Filename:   metaString(meta, knowledge.MetaFilename),
		PageNumber: metaInt(meta, knowledge.MetaPageNumber),
		Text:       text,
		Score:      match.Score,
		Metadata:   meta,
	}
}

func metaString(meta map[string]any, key string) string {
	switch v := meta[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// metaInt reads a page number that may come back as JSON float, int or string.
func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
