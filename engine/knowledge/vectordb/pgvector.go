package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// pgInsertBatch keeps multi-row inserts below the postgres bind parameter limit.
const pgInsertBatch = 500

// pgPool is the subset of pgxpool.Pool used by the store.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type pgStore struct {
	id         string
	pool       pgPool
	table      string
	tableIdent string
	indexIdent string
	dimension  int
	maxTopK    int
	metric     pgMetric
	ensureIdx  bool
	opts       PGVectorOptions
	psql       sq.StatementBuilderType
}

type pgMetric struct {
	operator string
	opsClass string
	// score turns the operator distance into a similarity where higher is better.
	score string
}

var pgMetrics = map[string]pgMetric{
	"cosine": {operator: "<=>", opsClass: "vector_cosine_ops", score: "1 - (embedding <=> ?)"},
	"l2":     {operator: "<->", opsClass: "vector_l2_ops", score: "1 / (1 + (embedding <-> ?))"},
	"ip":     {operator: "<#>", opsClass: "vector_ip_ops", score: "-(embedding <#> ?)"},
}

func newPGStore(ctx context.Context, cfg *Config) (Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("vector_db %q: invalid postgres dsn: %w", cfg.ID, err)
	}
	opts := PGVectorOptions{}
	if cfg.PGVector != nil {
		opts = *cfg.PGVector
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}
	if opts.EFSearch > 0 {
		efSearch := opts.EFSearch
		poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", efSearch))
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("vector_db %q: failed to connect to postgres: %w", cfg.ID, err)
	}
	store := newPGStoreWithPool(pool, cfg)
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	trackVectorPool(cfg.ID, pool)
	return store, nil
}

func newPGStoreWithPool(pool pgPool, cfg *Config) *pgStore {
	metric, ok := pgMetrics[strings.ToLower(strings.TrimSpace(cfg.Metric))]
	if !ok {
		metric = pgMetrics["cosine"]
	}
	table := chooseTable(cfg)
	store := &pgStore{
		id:         cfg.ID,
		pool:       pool,
		table:      table,
		tableIdent: pgx.Identifier{table}.Sanitize(),
		indexIdent: pgx.Identifier{table + "_embedding_idx"}.Sanitize(),
		dimension:  cfg.Dimension,
		maxTopK:    cfg.MaxTopK,
		metric:     metric,
		ensureIdx:  cfg.EnsureIndex,
		psql:       sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
	if cfg.PGVector != nil {
		store.opts = *cfg.PGVector
	}
	return store
}

// chooseTable maps the namespace onto a table name such as health_insurance_rag_chunks.
func chooseTable(cfg *Config) string {
	if t := strings.TrimSpace(cfg.Table); t != "" {
		return t
	}
	base := sanitizeIdentifier(cfg.Namespace)
	if base == "" {
		base = "knowledge"
	}
	return base + "_chunks"
}

func sanitizeIdentifier(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

func (p *pgStore) ensureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("pgvector: enable extension: %w", err)
	}
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		embedding vector(%d) NOT NULL,
		document TEXT NOT NULL DEFAULT '',
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, p.tableIdent, p.dimension)
	if _, err := p.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("pgvector: create table: %w", err)
	}
	if !p.ensureIdx {
		return nil
	}
	if _, err := p.pool.Exec(ctx, p.indexStatement()); err != nil {
		return fmt.Errorf("pgvector: create index: %w", err)
	}
	return nil
}

func (p *pgStore) indexStatement() string {
	switch p.opts.Index {
	case PGVectorIndexIVFFlat:
		lists := p.opts.Lists
		if lists <= 0 {
			lists = 100
		}
		return fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (embedding %s) WITH (lists = %d)",
			p.indexIdent, p.tableIdent, p.metric.opsClass, lists,
		)
	default:
		m := p.opts.M
		if m <= 0 {
			m = 16
		}
		return fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding %s) WITH (m = %d)",
			p.indexIdent, p.tableIdent, p.metric.opsClass, m,
		)
	}
}

func (p *pgStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if err := checkDimension("pgvector", records[i].ID, len(records[i].Embedding), p.dimension); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	for start := 0; start < len(records); start += pgInsertBatch {
		end := min(start+pgInsertBatch, len(records))
		query := p.psql.Insert(p.tableIdent).Columns("id", "embedding", "document", "metadata", "updated_at")
		for _, rec := range records[start:end] {
			metadata, err := json.Marshal(rec.Metadata)
			if err != nil {
				return fmt.Errorf("pgvector: marshal metadata for %q: %w", rec.ID, err)
			}
			query = query.Values(rec.ID, pgvector.NewVector(rec.Embedding), rec.Text, metadata, now)
		}
		query = query.Suffix(`ON CONFLICT (id) DO UPDATE SET
    embedding = excluded.embedding,
    document = excluded.document,
    metadata = excluded.metadata,
    updated_at = excluded.updated_at`)
		stmt, args, err := query.ToSql()
		if err != nil {
			return fmt.Errorf("pgvector: build upsert: %w", err)
		}
		if _, err := p.pool.Exec(ctx, stmt, args...); err != nil {
			return fmt.Errorf("pgvector: upsert %d records: %w", end-start, err)
		}
	}
	return nil
}

type pgMatchRow struct {
	ID       string  `db:"id"`
	Document string  `db:"document"`
	Metadata []byte  `db:"metadata"`
	Score    float64 `db:"score"`
}

func (p *pgStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if err := checkDimension("pgvector", "", len(query), p.dimension); err != nil {
		return nil, err
	}
	topK := resolveTopK(opts.TopK, p.maxTopK)
	vec := pgvector.NewVector(query)
	builder := p.psql.Select("id", "document", "metadata").
		Column(sq.Expr(p.metric.score+" AS score", vec)).
		From(p.tableIdent)
	for _, expr := range metadataPredicates(opts.Filters) {
		builder = builder.Where(expr)
	}
	if opts.MinScore > 0 {
		builder = builder.Where(sq.Expr(p.metric.score+" >= ?", vec, opts.MinScore))
	}
	builder = builder.
		OrderByClause("embedding "+p.metric.operator+" ? ASC", vec).
		OrderBy("id").
		Limit(uint64(topK))
	stmt, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgvector: build search: %w", err)
	}
	var rows []pgMatchRow
	if err := pgxscan.Select(ctx, p.pool, &rows, stmt, args...); err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	results := make([]Match, 0, len(rows))
	for i := range rows {
		meta := make(map[string]any)
		if len(rows[i].Metadata) > 0 {
			if err := json.Unmarshal(rows[i].Metadata, &meta); err != nil {
				return nil, fmt.Errorf("pgvector: decode metadata for %q: %w", rows[i].ID, err)
			}
		}
		results = append(results, Match{
			ID:       rows[i].ID,
			Score:    rows[i].Score,
			Text:     rows[i].Document,
			Metadata: meta,
		})
	}
	return results, nil
}

func metadataPredicates(filters map[string]string) []sq.Sqlizer {
	if len(filters) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]sq.Sqlizer, 0, len(keys))
	for _, key := range keys {
		out = append(out, sq.Expr("metadata ->> ? = ?", key, filters[key]))
	}
	return out
}

func (p *pgStore) Delete(ctx context.Context, filter Filter) error {
	if len(filter.IDs) == 0 && len(filter.Metadata) == 0 {
		return nil
	}
	builder := p.psql.Delete(p.tableIdent)
	if len(filter.IDs) > 0 {
		builder = builder.Where(sq.Expr("id = ANY(?)", filter.IDs))
	}
	for _, expr := range metadataPredicates(filter.Metadata) {
		builder = builder.Where(expr)
	}
	stmt, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("pgvector: build delete: %w", err)
	}
	if _, err := p.pool.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("pgvector: delete: %w", err)
	}
	return nil
}

func (p *pgStore) DeleteAll(ctx context.Context) (int, error) {
	tag, err := p.pool.Exec(ctx, "DELETE FROM "+p.tableIdent)
	if err != nil {
		return 0, fmt.Errorf("pgvector: delete all: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *pgStore) Count(ctx context.Context) (int, error) {
	var total int64
	if err := p.pool.QueryRow(ctx, "SELECT count(*) FROM "+p.tableIdent).Scan(&total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("pgvector: count: %w", err)
	}
	return int(total), nil
}

func (p *pgStore) Close(_ context.Context) error {
	untrackVectorPool(p.id)
	p.pool.Close()
	return nil
}
