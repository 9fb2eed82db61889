package uc

import (
	"context"
	"strings"

	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/compozy/policyrag/engine/knowledge/ingest"
)

type IngestInput struct {
	Raw      []byte
	Filename string
}

type IngestOutput struct {
	Document knowledge.Document        `json:"document"`
	ChunkIDs []string                  `json:"chunk_ids"`
	Gap      *knowledge.ConsistencyGap `json:"-"`
}

type Ingest struct {
	pipeline *ingest.Pipeline
}

func NewIngest(pipeline *ingest.Pipeline) *Ingest {
	return &Ingest{pipeline: pipeline}
}

func (uc *Ingest) Execute(ctx context.Context, in *IngestInput) (*IngestOutput, error) {
	if in == nil {
		return nil, ErrInvalidInput
	}
	filename := strings.TrimSpace(in.Filename)
	if filename == "" {
		return nil, wrapInput(ErrEmptyFilename)
	}
	res, err := uc.pipeline.Ingest(ctx, in.Raw, filename)
	if res == nil {
		return nil, err
	}
	return &IngestOutput{Document: res.Document, ChunkIDs: res.ChunkIDs, Gap: res.Gap}, err
}
