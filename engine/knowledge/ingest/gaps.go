package ingest

import (
	"sort"
	"sync"

	"github.com/compozy/policyrag/engine/knowledge"
)

// GapLedger tracks documents whose vectors were indexed while their
// metadata write failed.
type GapLedger struct {
	mu   sync.Mutex
	gaps map[string]*knowledge.ConsistencyGap
	// pass serializes reconcile and reset passes over the ledger.
	pass sync.Mutex
}

func NewGapLedger() *GapLedger {
	return &GapLedger{gaps: make(map[string]*knowledge.ConsistencyGap)}
}

func (l *GapLedger) Add(gap *knowledge.ConsistencyGap) {
	if gap == nil {
		return
	}
	stored := *gap
	l.mu.Lock()
	l.gaps[gap.Document.ID] = &stored
	l.mu.Unlock()
}

// SetCause records the latest failure for an open gap.
func (l *GapLedger) SetCause(documentID string, cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gap, ok := l.gaps[documentID]; ok {
		gap.Cause = cause
	}
}

// Exclusive runs fn while no other reconcile or reset pass is running.
func (l *GapLedger) Exclusive(fn func() error) error {
	l.pass.Lock()
	defer l.pass.Unlock()
	return fn()
}

func (l *GapLedger) Resolve(documentID string) {
	l.mu.Lock()
	delete(l.gaps, documentID)
	l.mu.Unlock()
}

// Pending returns copies of the open gaps, oldest first.
func (l *GapLedger) Pending() []knowledge.ConsistencyGap {
	l.mu.Lock()
	out := make([]knowledge.ConsistencyGap, 0, len(l.gaps))
	for _, gap := range l.gaps {
		out = append(out, *gap)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].Document.ID < out[j].Document.ID
	})
	return out
}

func (l *GapLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.gaps)
}

// Clear drops every gap, used when the corpus is reset.
func (l *GapLedger) Clear() {
	l.mu.Lock()
	l.gaps = make(map[string]*knowledge.ConsistencyGap)
	l.mu.Unlock()
}
