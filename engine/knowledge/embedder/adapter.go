package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/compozy/policyrag/pkg/logger"
)

// Adapter validates input and output around a Backend, caches vectors and
// fans document batches out with bounded concurrency.
type Adapter struct {
	id          string
	provider    Provider
	model       string
	dimension   int
	batchSize   int
	concurrency int
	backend     Backend
	cacheMu     sync.Mutex
	cache       *lru.Cache[string, []float32]
}

var (
	errMissingProvider   = errors.New("embedder provider is required")
	errInvalidDimension  = errors.New("embedder dimension must be greater than zero")
	errEmptyText         = errors.New("text is empty")
	errEmptyBatch        = errors.New("no texts to embed")
	errUnexpectedCount   = errors.New("backend returned an unexpected number of vectors")
	errDimensionMismatch = errors.New("backend returned a vector of unexpected dimension")
)

// New builds the configured backend and wraps it.
func New(ctx context.Context, cfg *Config) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	normalized := *cfg
	normalized.applyDefaults()
	if err := validateConfig(&normalized); err != nil {
		return nil, err
	}
	backend, err := buildBackend(ctx, &normalized)
	if err != nil {
		return nil, err
	}
	return Wrap(&normalized, backend)
}

// Wrap constructs an adapter around an existing backend.
func Wrap(cfg *Config, backend Backend) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	normalized := *cfg
	normalized.applyDefaults()
	if backend == nil {
		return nil, fmt.Errorf("embedder %q: backend is required", normalized.ID)
	}
	if err := validateConfig(&normalized); err != nil {
		return nil, err
	}
	a := &Adapter{
		id:          normalized.ID,
		provider:    normalized.Provider,
		model:       normalized.Model,
		dimension:   normalized.Dimension,
		batchSize:   normalized.BatchSize,
		concurrency: normalized.Concurrency,
		backend:     backend,
	}
	if normalized.CacheSize > 0 {
		if err := a.EnableCache(normalized.CacheSize); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Adapter) Dimension() int {
	return a.dimension
}

func (a *Adapter) Provider() Provider {
	return a.provider
}

func (a *Adapter) Model() string {
	return a.model
}

// Close releases backend resources when the backend holds any.
func (a *Adapter) Close() error {
	if closer, ok := a.backend.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// EnableCache initializes an LRU cache keyed by intent and text.
func (a *Adapter) EnableCache(size int) error {
	if size <= 0 {
		return fmt.Errorf("embedder %q: cache size must be greater than zero", a.id)
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return fmt.Errorf("embedder %q: init cache: %w", a.id, err)
	}
	a.cacheMu.Lock()
	a.cache = cache
	a.cacheMu.Unlock()
	return nil
}

// EmbedDocuments embeds passages for indexing. The result has one vector
// per text, in input order.
func (a *Adapter) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, knowledge.NewEmbeddingError("documents", a.withContext(errEmptyBatch))
	}
	for i := range texts {
		if strings.TrimSpace(texts[i]) == "" {
			return nil, knowledge.NewEmbeddingError("documents", a.withContext(fmt.Errorf("text %d: %w", i, errEmptyText)))
		}
	}
	results := make([][]float32, len(texts))
	pending := make(map[string][]int)
	order := make([]string, 0, len(texts))
	for i, text := range texts {
		if vec, ok := a.lookupCache(IntentDocument, text); ok {
			recordCache(ctx, a.provider, true)
			results[i] = vec
			continue
		}
		if _, seen := pending[text]; !seen {
			recordCache(ctx, a.provider, false)
			order = append(order, text)
		}
		pending[text] = append(pending[text], i)
	}
	if len(order) == 0 {
		return results, nil
	}
	embedded, err := a.fanOut(ctx, order)
	if err != nil {
		return nil, knowledge.NewEmbeddingError("documents", a.withContext(err))
	}
	for i, text := range order {
		for _, idx := range pending[text] {
			results[idx] = cloneVector(embedded[i])
		}
		a.storeCache(IntentDocument, text, embedded[i])
	}
	return results, nil
}

// EmbedQuery embeds a question with the query intent.
func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, knowledge.NewEmbeddingError("query", a.withContext(errEmptyText))
	}
	if vec, ok := a.lookupCache(IntentQuery, text); ok {
		recordCache(ctx, a.provider, true)
		return vec, nil
	}
	recordCache(ctx, a.provider, false)
	vectors, err := a.call(ctx, []string{text}, IntentQuery)
	if err != nil {
		return nil, knowledge.NewEmbeddingError("query", a.withContext(err))
	}
	a.storeCache(IntentQuery, text, vectors[0])
	return vectors[0], nil
}

// fanOut splits texts into batches and embeds them with at most
// a.concurrency requests in flight. The first failure cancels the rest.
func (a *Adapter) fanOut(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for start := 0; start < len(texts); start += a.batchSize {
		end := min(start+a.batchSize, len(texts))
		g.Go(func() error {
			vectors, err := a.call(gctx, texts[start:end], IntentDocument)
			if err != nil {
				return fmt.Errorf("batch %d-%d: %w", start, end, err)
			}
			copy(out[start:end], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Adapter) call(ctx context.Context, texts []string, intent Intent) ([][]float32, error) {
	start := time.Now()
	vectors, err := a.backend.Embed(ctx, texts, intent)
	if err != nil {
		recordError(ctx, a.provider, categorizeError(err))
		return nil, err
	}
	if len(vectors) != len(texts) {
		recordError(ctx, a.provider, errorTypeInvalidOutput)
		return nil, fmt.Errorf("%w: got %d for %d texts", errUnexpectedCount, len(vectors), len(texts))
	}
	for i := range vectors {
		if len(vectors[i]) != a.dimension {
			recordError(ctx, a.provider, errorTypeInvalidOutput)
			return nil, fmt.Errorf("%w: got %d, want %d", errDimensionMismatch, len(vectors[i]), a.dimension)
		}
	}
	elapsed := time.Since(start)
	recordGeneration(ctx, a.provider, intent, len(texts), elapsed)
	logger.FromContext(ctx).Debug(
		"Embedded batch",
		"embedder_id", a.id,
		"intent", intent,
		"texts", len(texts),
		"duration", elapsed,
	)
	return vectors, nil
}

func (a *Adapter) lookupCache(intent Intent, text string) ([]float32, bool) {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	if a.cache == nil {
		return nil, false
	}
	value, ok := a.cache.Get(cacheKey(intent, text))
	if !ok {
		return nil, false
	}
	return cloneVector(value), true
}

func (a *Adapter) storeCache(intent Intent, text string, vector []float32) {
	if len(vector) == 0 {
		return
	}
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	if a.cache != nil {
		a.cache.Add(cacheKey(intent, text), cloneVector(vector))
	}
}

func (a *Adapter) withContext(err error) error {
	return fmt.Errorf("embedder %q: %w", a.id, err)
}

func cacheKey(intent Intent, text string) string {
	sum := sha256.Sum256([]byte(string(intent) + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(src []float32) []float32 {
	if len(src) == 0 {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(string(cfg.Provider)) == "" {
		return fmt.Errorf("embedder %q: %w", cfg.ID, errMissingProvider)
	}
	if cfg.Dimension <= 0 {
		return fmt.Errorf("embedder %q: %w", cfg.ID, errInvalidDimension)
	}
	return nil
}

func buildBackend(ctx context.Context, cfg *Config) (Backend, error) {
	switch cfg.Provider {
	case ProviderGemini:
		return newGeminiBackend(ctx, cfg)
	case ProviderOpenAI:
		return newOpenAIBackend(cfg)
	case ProviderVertex:
		return newVertexBackend(ctx, cfg)
	case ProviderHash:
		return NewHashBackend(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("embedder %q: provider %q is not supported", cfg.ID, cfg.Provider)
	}
}
