package knowledge

import (
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindExtraction Kind = "ExtractionError"
	KindEmbedding  Kind = "EmbeddingError"
	KindIndex      Kind = "IndexError"
	KindGeneration Kind = "GenerationError"
)

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrExtraction = &Error{Kind: KindExtraction}
	ErrEmbedding  = &Error{Kind: KindEmbedding}
	ErrIndex      = &Error{Kind: KindIndex}
	ErrGeneration = &Error{Kind: KindGeneration}
)

// ErrInvalidInput marks failures caused by the caller's arguments.
var ErrInvalidInput = errors.New("invalid input")

// Error is a pipeline failure tagged with the stage that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

func newError(kind Kind, op string, err error) error {
	var existing *Error
	if errors.As(err, &existing) && existing.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func NewExtractionError(op string, err error) error { return newError(KindExtraction, op, err) }

func NewEmbeddingError(op string, err error) error { return newError(KindEmbedding, op, err) }

func NewIndexError(op string, err error) error { return newError(KindIndex, op, err) }

func NewGenerationError(op string, err error) error { return newError(KindGeneration, op, err) }

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// ConsistencyGap reports a document whose vectors were indexed while its
// metadata record could not be written. It is a recoverable state, not a
// pipeline failure.
type ConsistencyGap struct {
	Document   Document
	ChunkIDs   []string
	Cause      error
	DetectedAt time.Time
}

func (g *ConsistencyGap) Error() string {
	return fmt.Sprintf(
		"consistency gap: document %s (%s) has %d indexed vectors without metadata: %v",
		g.Document.ID,
		g.Document.Filename,
		len(g.ChunkIDs),
		g.Cause,
	)
}

func (g *ConsistencyGap) Unwrap() error {
	return g.Cause
}

// AsConsistencyGap extracts a gap from err.
func AsConsistencyGap(err error) (*ConsistencyGap, bool) {
	var gap *ConsistencyGap
	if errors.As(err, &gap) {
		return gap, true
	}
	return nil, false
}
