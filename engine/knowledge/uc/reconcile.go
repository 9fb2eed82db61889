package uc

import (
	"context"

	"github.com/compozy/policyrag/engine/knowledge/ingest"
)

type Reconcile struct {
	pipeline *ingest.Pipeline
}

func NewReconcile(pipeline *ingest.Pipeline) *Reconcile {
	return &Reconcile{pipeline: pipeline}
}

func (uc *Reconcile) Execute(ctx context.Context) (*ingest.ReconcileReport, error) {
	return uc.pipeline.Reconcile(ctx)
}
