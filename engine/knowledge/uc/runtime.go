// Package uc exposes the core operations consumed by the HTTP server and the CLI.
package uc

import (
	"context"
	"fmt"

	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/compozy/policyrag/engine/knowledge/document"
	"github.com/compozy/policyrag/engine/knowledge/ingest"
	"github.com/compozy/policyrag/engine/knowledge/vectordb"
)

type Retriever interface {
	Retrieve(ctx context.Context, question string, topK int) ([]knowledge.RetrievedContext, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, question string, contexts []knowledge.RetrievedContext) (*knowledge.AnswerResult, error)
}

// Dependencies are the long-lived collaborators shared by every request.
type Dependencies struct {
	Pipeline      *ingest.Pipeline
	Retriever     Retriever
	Synthesizer   Synthesizer
	Vectors       vectordb.Store
	Documents     document.Store
	Namespace     string
	DefaultTopK   int
	SnippetLength int
}

// Runtime bundles the use cases over one set of dependencies.
type Runtime struct {
	ingest    *Ingest
	answer    *Answer
	reset     *ResetCorpus
	list      *ListDocuments
	reconcile *Reconcile
}

func NewRuntime(deps Dependencies) (*Runtime, error) {
	if deps.Pipeline == nil || deps.Retriever == nil || deps.Synthesizer == nil ||
		deps.Vectors == nil || deps.Documents == nil {
		return nil, ErrMissingRuntime
	}
	if deps.Namespace == "" {
		deps.Namespace = knowledge.DefaultNamespace
	}
	if deps.DefaultTopK <= 0 {
		deps.DefaultTopK = knowledge.DefaultTopK
	}
	if deps.SnippetLength <= 0 {
		deps.SnippetLength = knowledge.DefaultSnippetLength
	}
	return &Runtime{
		ingest:    NewIngest(deps.Pipeline),
		answer:    NewAnswer(deps.Retriever, deps.Synthesizer, deps.Namespace, deps.DefaultTopK, deps.SnippetLength),
		reset:     NewResetCorpus(deps.Vectors, deps.Documents, deps.Pipeline.Gaps()),
		list:      NewListDocuments(deps.Documents),
		reconcile: NewReconcile(deps.Pipeline),
	}, nil
}

// Ingest indexes one document. A *knowledge.ConsistencyGap error comes with
// a non-nil output.
func (r *Runtime) Ingest(ctx context.Context, raw []byte, filename string) (*IngestOutput, error) {
	return r.ingest.Execute(ctx, &IngestInput{Raw: raw, Filename: filename})
}

// Answer retrieves up to topK passages and synthesizes a cited answer.
// Zero topK uses the configured default and negative values are rejected.
func (r *Runtime) Answer(ctx context.Context, question string, topK int) (*knowledge.AnswerResult, error) {
	return r.answer.Execute(ctx, &AnswerInput{Question: question, TopK: topK})
}

func (r *Runtime) ResetCorpus(ctx context.Context) (*ResetOutput, error) {
	return r.reset.Execute(ctx)
}

func (r *Runtime) ListDocuments(ctx context.Context) ([]knowledge.Document, error) {
	return r.list.Execute(ctx)
}

func (r *Runtime) Reconcile(ctx context.Context) (*ingest.ReconcileReport, error) {
	return r.reconcile.Execute(ctx)
}

// PendingGaps reports how many documents await reconciliation.
func (r *Runtime) PendingGaps() int {
	return r.reconcile.pipeline.Gaps().Len()
}

func wrapInput(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}
