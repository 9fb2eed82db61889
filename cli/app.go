package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/compozy/policyrag/engine/infra/cache"
	"github.com/compozy/policyrag/engine/infra/monitoring"
	"github.com/compozy/policyrag/engine/infra/postgres"
	"github.com/compozy/policyrag/engine/infra/server"
	"github.com/compozy/policyrag/engine/infra/sqlite"
	"github.com/compozy/policyrag/engine/knowledge/chunk"
	"github.com/compozy/policyrag/engine/knowledge/configutil"
	"github.com/compozy/policyrag/engine/knowledge/document"
	"github.com/compozy/policyrag/engine/knowledge/embedder"
	"github.com/compozy/policyrag/engine/knowledge/extract"
	"github.com/compozy/policyrag/engine/knowledge/ingest"
	"github.com/compozy/policyrag/engine/knowledge/retriever"
	"github.com/compozy/policyrag/engine/knowledge/synth"
	"github.com/compozy/policyrag/engine/knowledge/uc"
	"github.com/compozy/policyrag/engine/knowledge/vectordb"
	"github.com/compozy/policyrag/pkg/config"
	"github.com/compozy/policyrag/pkg/logger"
)

const (
	driverMemory   = "memory"
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
	driverRedis    = "redis"
)

// App is the composition root shared by the server and the one-shot commands.
type App struct {
	Config     *config.Config
	Runtime    *uc.Runtime
	Redis      *cache.Redis
	Monitoring *monitoring.Service
	Health     map[string]server.HealthChecker
	closers    []func(context.Context) error
}

type appOptions struct {
	monitoring bool
	// needRedis opens the shared redis client even when no store uses it.
	needRedis bool
}

// buildApp wires every component from cfg. Partially built state is
// released when a later step fails.
func buildApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *App, err error) {
	app := &App{Config: cfg, Health: map[string]server.HealthChecker{}}
	defer func() {
		if err != nil {
			app.Close(context.WithoutCancel(ctx))
		}
	}()
	if opts.monitoring {
		app.Monitoring = monitoring.NewMonitoringServiceWithFallback(ctx, monitoring.FromAppConfig(cfg))
		if app.Monitoring.IsInitialized() {
			app.Monitoring.SetAsGlobal()
		}
	}
	if opts.needRedis || strings.EqualFold(cfg.Documents.Driver, driverRedis) {
		if err := app.openRedis(ctx); err != nil {
			return nil, err
		}
	}
	documents, err := app.openDocuments(ctx)
	if err != nil {
		return nil, err
	}
	vectors, err := app.openVectors(ctx)
	if err != nil {
		return nil, err
	}
	emb, err := app.openEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	synthesizer, err := buildSynthesizer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	chunker, err := chunk.NewProcessor(configutil.ToChunkSettings(cfg))
	if err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}
	pipeline, err := ingest.NewPipeline(
		extract.New(configutil.ToExtractOptions(cfg)),
		chunker,
		emb,
		vectors,
		documents,
		nil,
		configutil.ToIngestOptions(cfg),
	)
	if err != nil {
		return nil, err
	}
	retrieverOpts, err := configutil.ToRetrieverOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("retriever: %w", err)
	}
	ret, err := retriever.NewService(emb, vectors, retrieverOpts)
	if err != nil {
		return nil, err
	}
	app.Runtime, err = uc.NewRuntime(uc.Dependencies{
		Pipeline:      pipeline,
		Retriever:     ret,
		Synthesizer:   synthesizer,
		Vectors:       vectors,
		Documents:     documents,
		Namespace:     cfg.Knowledge.Namespace,
		DefaultTopK:   cfg.Knowledge.TopK,
		SnippetLength: cfg.Knowledge.SnippetLength,
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) openRedis(ctx context.Context) error {
	r, err := cache.NewRedis(ctx, cache.FromAppConfig(a.Config))
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	a.Redis = r
	a.Health["redis"] = r
	a.addCloser(func(context.Context) error { return r.Close() })
	return nil
}

func (a *App) openDocuments(ctx context.Context) (document.Store, error) {
	cfg := a.Config
	limit := cfg.Documents.ListLimit
	switch strings.ToLower(cfg.Documents.Driver) {
	case "", driverMemory:
		return document.NewMemoryStore(limit), nil
	case driverPostgres:
		pgCfg := configutil.ToPostgresConfig(&cfg.Database)
		if cfg.Database.AutoMigrate {
			if err := postgres.ApplyMigrationsWithLock(ctx, pgCfg.DSN(), cfg.Database.MigrationTimeout); err != nil {
				return nil, err
			}
		}
		store, err := postgres.NewStore(ctx, pgCfg)
		if err != nil {
			return nil, err
		}
		a.Health["postgres"] = store
		a.addCloser(store.Close)
		return postgres.NewDocumentRepo(store.Pool(), limit), nil
	case driverSQLite:
		store, err := sqlite.NewStore(ctx, &sqlite.Config{
			Path:        cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.addCloser(store.Close)
		if err := sqlite.ApplyMigrations(ctx, store.DB()); err != nil {
			return nil, err
		}
		a.Health["sqlite"] = store
		return sqlite.NewDocumentRepo(store.DB(), limit), nil
	case driverRedis:
		if a.Redis == nil {
			return nil, errors.New("documents: redis driver selected but no redis client is open")
		}
		return document.NewRedisStore(a.Redis.Client(), cfg.Documents.KeyPrefix, limit)
	default:
		return nil, fmt.Errorf("documents: unsupported driver %q", cfg.Documents.Driver)
	}
}

func (a *App) openVectors(ctx context.Context) (vectordb.Store, error) {
	vcfg, err := configutil.ToVectorStoreConfig(a.Config)
	if err != nil {
		return nil, err
	}
	store, release, err := vectordb.AcquireShared(ctx, vcfg)
	if err != nil {
		return nil, err
	}
	a.Health["vector_db"] = vectorHealth{store: store}
	a.addCloser(release)
	return store, nil
}

func (a *App) openEmbedder(ctx context.Context) (*embedder.Adapter, error) {
	ecfg, err := configutil.ToEmbedderConfig(a.Config)
	if err != nil {
		return nil, err
	}
	emb, err := embedder.New(ctx, ecfg)
	if err != nil {
		return nil, err
	}
	a.addCloser(func(context.Context) error { return emb.Close() })
	return emb, nil
}

func buildSynthesizer(ctx context.Context, cfg *config.Config) (*synth.Synthesizer, error) {
	scfg, err := configutil.ToSynthConfig(cfg)
	if err != nil {
		return nil, err
	}
	gen, err := synth.NewGenerator(ctx, scfg)
	if err != nil {
		return nil, err
	}
	return synth.New(gen,
		synth.WithGrounding(scfg.Grounding),
		synth.WithShortCircuitEmpty(scfg.ShortCircuitEmpty),
	)
}

func (a *App) addCloser(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse acquisition order. Monitoring is
// shut down by the server that owns it.
func (a *App) Close(ctx context.Context) {
	log := logger.FromContext(ctx)
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			log.Warn("Failed to release resource", "error", err)
		}
	}
	a.closers = nil
}

type vectorHealth struct {
	store vectordb.Store
}

func (v vectorHealth) HealthCheck(ctx context.Context) error {
	if _, err := v.store.Count(ctx); err != nil {
		return fmt.Errorf("vector_db: health check failed: %w", err)
	}
	return nil
}
