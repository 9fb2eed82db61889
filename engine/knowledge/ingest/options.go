package ingest

import (
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/compozy/policyrag/engine/knowledge"
)

// RetrySettings configures exponential backoff around a store call.
// Attempts counts the first call, so 1 disables retries.
type RetrySettings struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func (r RetrySettings) backoff() retry.Backoff {
	base := r.Backoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	b := retry.NewExponential(base)
	if r.MaxBackoff > 0 {
		b = retry.WithCappedDuration(r.MaxBackoff, b)
	}
	attempts := max(r.Attempts, 1)
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

type Options struct {
	Namespace     string
	ExcerptLength int
	Upsert        RetrySettings
	Reconcile     RetrySettings
	// RecordFailures inserts a failed document record when embedding or
	// indexing fails.
	RecordFailures bool
	// Rollback deletes the vectors of gaps still unresolved after reconcile retries.
	Rollback bool
	Now      func() time.Time
	NewID    func() string
}

func (o *Options) applyDefaults() {
	if o.Namespace == "" {
		o.Namespace = knowledge.DefaultNamespace
	}
	if o.ExcerptLength <= 0 {
		o.ExcerptLength = knowledge.DefaultExcerptLength
	}
	if o.Upsert.Attempts <= 0 {
		o.Upsert.Attempts = 1
	}
	if o.Reconcile.Attempts <= 0 {
		o.Reconcile.Attempts = 3
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
}
