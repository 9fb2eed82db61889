// Package document defines the metadata store kept next to the vector index.
// Every ingested file gets one record; the record is written after its
// vectors so a listed document is always searchable.
package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/compozy/policyrag/engine/knowledge"
)

// DefaultListLimit caps List when a backend is built without a limit.
const DefaultListLimit = 1000

var (
	// ErrNotFound is returned by Get when no record has the requested id.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate is returned by Insert when the id is already stored.
	ErrDuplicate = errors.New("document already exists")

	errMissingID       = errors.New("document id is required")
	errMissingFilename = errors.New("document filename is required")
	errInvalidStatus   = errors.New("document status is invalid")
	errNegativeCount   = errors.New("document counters must not be negative")
)

// Store persists document metadata records.
type Store interface {
	Insert(ctx context.Context, doc *knowledge.Document) error
	// List returns records newest first.
	List(ctx context.Context) ([]knowledge.Document, error)
	Get(ctx context.Context, id string) (*knowledge.Document, error)
	// DeleteAll removes every record and reports how many were removed.
	DeleteAll(ctx context.Context) (int, error)
	Close(ctx context.Context) error
}

// Validate checks a record before it reaches a backend.
func Validate(doc *knowledge.Document) error {
	if doc == nil {
		return errors.New("document is required")
	}
	if strings.TrimSpace(doc.ID) == "" {
		return errMissingID
	}
	if strings.TrimSpace(doc.Filename) == "" {
		return fmt.Errorf("document %s: %w", doc.ID, errMissingFilename)
	}
	if !doc.Status.Valid() {
		return fmt.Errorf("document %s: %w: %q", doc.ID, errInvalidStatus, doc.Status)
	}
	if doc.NumPages < 0 || doc.ChunksCount < 0 {
		return fmt.Errorf("document %s: %w", doc.ID, errNegativeCount)
	}
	return nil
}

// Normalize returns a copy with the upload date in UTC at microsecond
// precision, which every backend can round-trip.
func Normalize(doc *knowledge.Document) knowledge.Document {
	out := *doc
	if out.UploadDate.IsZero() {
		out.UploadDate = time.Now()
	}
	out.UploadDate = out.UploadDate.UTC().Truncate(time.Microsecond)
	return out
}

func resolveLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
