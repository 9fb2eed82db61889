package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"

	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/compozy/policyrag/engine/knowledge/document"
)

const documentsTable = "documents"

var documentColumns = []string{"id", "filename", "upload_date", "num_pages", "status", "chunks_count"}

// DocumentRepo implements document.Store on a SQLite *sql.DB.
type DocumentRepo struct {
	db    *sql.DB
	limit int
	sb    squirrel.StatementBuilderType
}

var _ document.Store = (*DocumentRepo)(nil)

func NewDocumentRepo(db *sql.DB, limit int) *DocumentRepo {
	if limit <= 0 {
		limit = document.DefaultListLimit
	}
	return &DocumentRepo{
		db:    db,
		limit: limit,
		sb:    squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}
}

func (r *DocumentRepo) Insert(ctx context.Context, doc *knowledge.Document) error {
	if err := document.Validate(doc); err != nil {
		return err
	}
	rec := document.Normalize(doc)
	query, args, err := r.sb.Insert(documentsTable).
		Columns(documentColumns...).
		Values(rec.ID, rec.Filename, rec.UploadDate, rec.NumPages, string(rec.Status), rec.ChunksCount).
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: build insert document: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("document %s: %w", rec.ID, document.ErrDuplicate)
		}
		return fmt.Errorf("sqlite: insert document %s: %w", rec.ID, err)
	}
	return nil
}

func (r *DocumentRepo) List(ctx context.Context) ([]knowledge.Document, error) {
	query, args, err := r.sb.Select(documentColumns...).
		From(documentsTable).
		OrderBy("upload_date DESC", "id ASC").
		Limit(uint64(r.limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build list documents: %w", err)
	}
	docs := make([]knowledge.Document, 0)
	if err := sqlscan.Select(ctx, r.db, &docs, query, args...); err != nil {
		return nil, fmt.Errorf("sqlite: list documents: %w", err)
	}
	for i := range docs {
		docs[i].UploadDate = docs[i].UploadDate.UTC()
	}
	return docs, nil
}

func (r *DocumentRepo) Get(ctx context.Context, id string) (*knowledge.Document, error) {
	query, args, err := r.sb.Select(documentColumns...).
		From(documentsTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build get document: %w", err)
	}
	var doc knowledge.Document
	if err := sqlscan.Get(ctx, r.db, &doc, query, args...); err != nil {
		if sqlscan.NotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", id, document.ErrNotFound)
		}
		return nil, fmt.Errorf("sqlite: get document %s: %w", id, err)
	}
	doc.UploadDate = doc.UploadDate.UTC()
	return &doc, nil
}

func (r *DocumentRepo) DeleteAll(ctx context.Context) (int, error) {
	query, args, err := r.sb.Delete(documentsTable).ToSql()
	if err != nil {
		return 0, fmt.Errorf("sqlite: build delete documents: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete documents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete documents rows affected: %w", err)
	}
	return int(n), nil
}

// Close is a no-op; the handle belongs to Store.
func (r *DocumentRepo) Close(context.Context) error {
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
