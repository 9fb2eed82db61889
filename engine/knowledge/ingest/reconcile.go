package ingest

import (
	"context"
	"errors"

	"github.com/sethvargo/go-retry"

	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/compozy/policyrag/engine/knowledge/document"
	"github.com/compozy/policyrag/engine/knowledge/vectordb"
	"github.com/compozy/policyrag/pkg/logger"
)

// ReconcileReport lists document ids by the outcome of one reconcile pass.
type ReconcileReport struct {
	Resolved   []string `json:"resolved"`
	RolledBack []string `json:"rolled_back"`
	Pending    []string `json:"pending"`
}

// Reconcile retries the metadata write of every open gap. Gaps that still
// fail are rolled back when rollback is enabled, otherwise they stay pending.
// Passes never overlap each other or a corpus reset.
func (p *Pipeline) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	var report *ReconcileReport
	err := p.gaps.Exclusive(func() error {
		var err error
		report, err = p.reconcile(ctx)
		return err
	})
	return report, err
}

func (p *Pipeline) reconcile(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{Resolved: []string{}, RolledBack: []string{}, Pending: []string{}}
	log := logger.FromContext(ctx)
	for _, gap := range p.gaps.Pending() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		id := gap.Document.ID
		err := p.retryInsert(ctx, &gap.Document)
		if err == nil {
			p.gaps.Resolve(id)
			knowledge.RecordConsistencyGap(ctx, p.opts.Namespace, knowledge.GapResolved)
			report.Resolved = append(report.Resolved, id)
			log.Info("Consistency gap resolved", "document_id", id)
			continue
		}
		p.gaps.SetCause(id, err)
		if !p.opts.Rollback {
			report.Pending = append(report.Pending, id)
			log.Warn("Consistency gap still pending", "document_id", id, "error", err)
			continue
		}
		if rbErr := p.vectors.Delete(ctx, vectordb.Filter{IDs: gap.ChunkIDs}); rbErr != nil {
			report.Pending = append(report.Pending, id)
			log.Error("Failed to roll back gap vectors", "document_id", id, "error", rbErr)
			continue
		}
		p.gaps.Resolve(id)
		knowledge.RecordConsistencyGap(ctx, p.opts.Namespace, knowledge.GapRolledBack)
		report.RolledBack = append(report.RolledBack, id)
		log.Warn("Consistency gap rolled back", "document_id", id, "chunks", len(gap.ChunkIDs))
	}
	return report, nil
}

func (p *Pipeline) retryInsert(ctx context.Context, doc *knowledge.Document) error {
	return retry.Do(ctx, p.opts.Reconcile.backoff(), func(ctx context.Context) error {
		err := p.documents.Insert(ctx, doc)
		switch {
		case err == nil, errors.Is(err, document.ErrDuplicate):
			return nil
		case ctx.Err() != nil:
			return err
		default:
			return retry.RetryableError(err)
		}
	})
}
