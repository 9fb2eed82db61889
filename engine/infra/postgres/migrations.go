package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"math"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"

	"github.com/compozy/policyrag/pkg/logger"

	// Register pgx stdlib driver for database/sql usage in migrations.
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const defaultLockTimeout = 45 * time.Second

// ApplyMigrationsWithLock brings the documents schema up to date. A session
// advisory lock serialises concurrent instances; lockTimeout bounds the wait.
func ApplyMigrationsWithLock(ctx context.Context, dsn string, lockTimeout time.Duration) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("postgres: open db for migrations: %w", err)
	}
	defer db.Close()
	wait := durationOr(lockTimeout, defaultLockTimeout)
	locker, err := lock.NewPostgresSessionLocker(
		// one attempt per second until the timeout is spent
		lock.WithLockTimeout(1, uint64(math.Ceil(wait.Seconds()))),
	)
	if err != nil {
		return fmt.Errorf("postgres: migration locker: %w", err)
	}
	return runMigrations(ctx, db, goose.WithSessionLocker(locker))
}

func runMigrations(ctx context.Context, db *sql.DB, opts ...goose.ProviderOption) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys, opts...)
	if err != nil {
		return fmt.Errorf("postgres: migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("postgres: migrate up: %w", err)
	}
	log := logger.FromContext(ctx)
	for _, res := range results {
		log.Debug("Applied migration", "version", res.Source.Version, "duration", res.Duration)
	}
	log.Info("Postgres migrations applied", "applied", len(results))
	return nil
}
