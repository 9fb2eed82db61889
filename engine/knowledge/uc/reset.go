package uc

import (
	"context"
	"fmt"

	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/compozy/policyrag/engine/knowledge/document"
	"github.com/compozy/policyrag/engine/knowledge/ingest"
	"github.com/compozy/policyrag/engine/knowledge/vectordb"
	"github.com/compozy/policyrag/pkg/logger"
)

// ResetOutput counts what a reset removed. Documents is the figure shown to users.
type ResetOutput struct {
	Documents int `json:"documents"`
	Vectors   int `json:"vectors"`
}

type ResetCorpus struct {
	vectors   vectordb.Store
	documents document.Store
	gaps      *ingest.GapLedger
}

func NewResetCorpus(vectors vectordb.Store, documents document.Store, gaps *ingest.GapLedger) *ResetCorpus {
	return &ResetCorpus{vectors: vectors, documents: documents, gaps: gaps}
}

// Execute removes vectors first so no listed document is left unsearchable,
// then the metadata records. It waits for a running reconcile pass so no
// gap is re-inserted for vectors removed here.
func (uc *ResetCorpus) Execute(ctx context.Context) (*ResetOutput, error) {
	if uc.gaps == nil {
		return uc.reset(ctx)
	}
	var out *ResetOutput
	err := uc.gaps.Exclusive(func() error {
		var err error
		out, err = uc.reset(ctx)
		return err
	})
	return out, err
}

func (uc *ResetCorpus) reset(ctx context.Context) (*ResetOutput, error) {
	vectors, err := uc.vectors.DeleteAll(ctx)
	if err != nil {
		return nil, knowledge.NewIndexError("delete_all", err)
	}
	if uc.gaps != nil {
		uc.gaps.Clear()
	}
	docs, err := uc.documents.DeleteAll(ctx)
	if err != nil {
		return &ResetOutput{Vectors: vectors}, fmt.Errorf("delete document records: %w", err)
	}
	logger.FromContext(ctx).Info("Corpus reset", "documents", docs, "vectors", vectors)
	return &ResetOutput{Documents: docs, Vectors: vectors}, nil
}
