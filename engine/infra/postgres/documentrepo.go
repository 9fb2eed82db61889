package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/compozy/policyrag/engine/knowledge/document"
)

const documentsTable = "documents"

var documentColumns = []string{"id", "filename", "upload_date", "num_pages", "status", "chunks_count"}

// DB is the minimal database interface DocumentRepo depends on (pgxpool or pgxmock).
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DocumentRepo implements document.Store on the documents table.
type DocumentRepo struct {
	db    DB
	limit int
	psql  squirrel.StatementBuilderType
}

var _ document.Store = (*DocumentRepo)(nil)

func NewDocumentRepo(db DB, limit int) *DocumentRepo {
	if limit <= 0 {
		limit = document.DefaultListLimit
	}
	return &DocumentRepo{
		db:    db,
		limit: limit,
		psql:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *DocumentRepo) Insert(ctx context.Context, doc *knowledge.Document) error {
	if err := document.Validate(doc); err != nil {
		return err
	}
	rec := document.Normalize(doc)
	query, args, err := r.psql.Insert(documentsTable).
		Columns(documentColumns...).
		Values(rec.ID, rec.Filename, rec.UploadDate, rec.NumPages, string(rec.Status), rec.ChunksCount).
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres: build insert document: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("document %s: %w", rec.ID, document.ErrDuplicate)
		}
		return fmt.Errorf("postgres: insert document %s: %w", rec.ID, err)
	}
	return nil
}

func (r *DocumentRepo) List(ctx context.Context) ([]knowledge.Document, error) {
	query, args, err := r.psql.Select(documentColumns...).
		From(documentsTable).
		OrderBy("upload_date DESC", "id ASC").
		Limit(uint64(r.limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: build list documents: %w", err)
	}
	docs := make([]knowledge.Document, 0)
	if err := pgxscan.Select(ctx, r.db, &docs, query, args...); err != nil {
		return nil, fmt.Errorf("postgres: list documents: %w", err)
	}
	for i := range docs {
		docs[i].UploadDate = docs[i].UploadDate.UTC()
	}
	return docs, nil
}

func (r *DocumentRepo) Get(ctx context.Context, id string) (*knowledge.Document, error) {
	query, args, err := r.psql.Select(documentColumns...).
		From(documentsTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: build get document: %w", err)
	}
	var doc knowledge.Document
	if err := pgxscan.Get(ctx, r.db, &doc, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, fmt.Errorf("document %s: %w", id, document.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: get document %s: %w", id, err)
	}
	doc.UploadDate = doc.UploadDate.UTC()
	return &doc, nil
}

func (r *DocumentRepo) DeleteAll(ctx context.Context) (int, error) {
	query, args, err := r.psql.Delete(documentsTable).ToSql()
	if err != nil {
		return 0, fmt.Errorf("postgres: build delete documents: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete documents: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close is a no-op; the pool belongs to Store.
func (r *DocumentRepo) Close(context.Context) error {
	return nil
}
