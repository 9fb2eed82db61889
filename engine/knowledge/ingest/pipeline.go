package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/compozy/policyrag/engine/knowledge/chunk"
	"github.com/compozy/policyrag/engine/knowledge/document"
	"github.com/compozy/policyrag/engine/knowledge/extract"
	"github.com/compozy/policyrag/engine/knowledge/vectordb"
	"github.com/compozy/policyrag/pkg/logger"
)

type Extractor interface {
	Extract(ctx context.Context, raw []byte, filename string) (*extract.Result, error)
}

type Chunker interface {
	Process(pages []knowledge.PageText) ([]chunk.Chunk, error)
}

type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Pipeline runs the write path: extract, chunk, embed, upsert vectors and
// finally insert the metadata record.
type Pipeline struct {
	extractor Extractor
	chunker   Chunker
	embedder  DocumentEmbedder
	vectors   vectordb.Store
	documents document.Store
	gaps      *GapLedger
	opts      Options
}

// Result summarises one ingested document. When the metadata write failed
// Gap is set and Document is not listed until reconciled.
type Result struct {
	Document knowledge.Document
	ChunkIDs []string
	Gap      *knowledge.ConsistencyGap
}

func NewPipeline(
	extractor Extractor,
	chunker Chunker,
	emb DocumentEmbedder,
	vectors vectordb.Store,
	documents document.Store,
	gaps *GapLedger,
	opts Options,
) (*Pipeline, error) {
	switch {
	case extractor == nil:
		return nil, errors.New("ingest: extractor is required")
	case chunker == nil:
		return nil, errors.New("ingest: chunker is required")
	case emb == nil:
		return nil, errors.New("ingest: embedder is required")
	case vectors == nil:
		return nil, errors.New("ingest: vector store is required")
	case documents == nil:
		return nil, errors.New("ingest: document store is required")
	}
	if gaps == nil {
		gaps = NewGapLedger()
	}
	opts.applyDefaults()
	return &Pipeline{
		extractor: extractor,
		chunker:   chunker,
		embedder:  emb,
		vectors:   vectors,
		documents: documents,
		gaps:      gaps,
		opts:      opts,
	}, nil
}

func (p *Pipeline) Gaps() *GapLedger {
	return p.gaps
}

// Ingest indexes one document. A metadata failure after a successful upsert
// returns both the result and a *knowledge.ConsistencyGap.
func (p *Pipeline) Ingest(ctx context.Context, raw []byte, filename string) (*Result, error) {
	start := time.Now()
	log := logger.FromContext(ctx).With("filename", filename)
	doc := knowledge.Document{
		ID:         p.opts.NewID(),
		Filename:   filename,
		UploadDate: p.opts.Now(),
		Status:     knowledge.StatusProcessing,
	}
	log = log.With("document_id", doc.ID)

	extracted, err := p.extractor.Extract(ctx, raw, filename)
	if err != nil {
		p.finish(ctx, start, "extraction_failed")
		return nil, knowledge.NewExtractionError("extract", err)
	}
	doc.NumPages = extracted.NumPages
	chunks, err := p.chunker.Process(extracted.Pages)
	if err != nil {
		p.finish(ctx, start, "chunking_failed")
		return nil, knowledge.NewExtractionError("chunk", err)
	}
	chunkIDs := make([]string, len(chunks))
	for i := range chunks {
		chunkIDs[i] = chunks[i].ID
	}
	if len(chunks) > 0 {
		if err := p.indexChunks(ctx, &doc, chunks); err != nil {
			p.recordFailure(ctx, doc)
			p.finish(ctx, start, "index_failed")
			return nil, err
		}
	} else {
		log.Warn("Document produced no chunks", "pages", doc.NumPages)
	}
	doc.Status = knowledge.StatusCompleted
	doc.ChunksCount = len(chunks)
	result := &Result{Document: doc, ChunkIDs: chunkIDs}
	if err := p.documents.Insert(ctx, &doc); err != nil {
		gap := &knowledge.ConsistencyGap{
			Document:   doc,
			ChunkIDs:   chunkIDs,
			Cause:      err,
			DetectedAt: p.opts.Now(),
		}
		p.gaps.Add(gap)
		knowledge.RecordConsistencyGap(ctx, p.opts.Namespace, knowledge.GapDetected)
		log.Error("Metadata write failed after vectors were indexed", "chunks", len(chunks), "error", err)
		result.Gap = gap
		p.finish(ctx, start, "gap")
		return result, gap
	}
	knowledge.RecordIngestChunks(ctx, p.opts.Namespace, len(chunks))
	duration := p.finish(ctx, start, "completed")
	log.Info(
		"Document ingested",
		"pages", doc.NumPages,
		"chunks", len(chunks),
		"duration_seconds", duration.Seconds(),
	)
	return result, nil
}

func (p *Pipeline) indexChunks(ctx context.Context, doc *knowledge.Document, chunks []chunk.Chunk) error {
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return knowledge.NewEmbeddingError("documents", err)
	}
	if len(vectors) != len(chunks) {
		return knowledge.NewEmbeddingError(
			"documents",
			fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)),
		)
	}
	records := make([]vectordb.Record, len(chunks))
	for i := range chunks {
		excerpt := knowledge.TruncateRunes(chunks[i].Text, p.opts.ExcerptLength)
		records[i] = vectordb.Record{
			ID:        chunks[i].ID,
			Text:      excerpt,
			Embedding: vectors[i],
			Metadata: map[string]any{
				knowledge.MetaDocumentID: doc.ID,
				knowledge.MetaFilename:   doc.Filename,
				knowledge.MetaPageNumber: chunks[i].PageNumber,
				knowledge.MetaText:       excerpt,
			},
		}
	}
	if err := p.upsert(ctx, records); err != nil {
		return knowledge.NewIndexError("upsert", err)
	}
	return nil
}

func (p *Pipeline) upsert(ctx context.Context, records []vectordb.Record) error {
	attempt := 0
	return retry.Do(ctx, p.opts.Upsert.backoff(), func(ctx context.Context) error {
		attempt++
		err := p.vectors.Upsert(ctx, records)
		if err == nil {
			return nil
		}
		if errors.Is(err, vectordb.ErrDimensionMismatch) || ctx.Err() != nil {
			return err
		}
		logger.FromContext(ctx).Warn("Vector upsert failed", "attempt", attempt, "records", len(records), "error", err)
		return retry.RetryableError(err)
	})
}

// recordFailure is best effort: the primary error is returned regardless.
func (p *Pipeline) recordFailure(ctx context.Context, doc knowledge.Document) {
	if !p.opts.RecordFailures {
		return
	}
	doc.Status = knowledge.StatusFailed
	doc.ChunksCount = 0
	if err := p.documents.Insert(context.WithoutCancel(ctx), &doc); err != nil {
		logger.FromContext(ctx).Warn("Failed to record failed document", "document_id", doc.ID, "error", err)
	}
}

func (p *Pipeline) finish(ctx context.Context, start time.Time, outcome string) time.Duration {
	d := time.Since(start)
	knowledge.RecordIngestDuration(ctx, p.opts.Namespace, outcome, d)
	return d
}
