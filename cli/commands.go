package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/compozy/policyrag/engine/infra/server"
	knowledgerouter "github.com/compozy/policyrag/engine/infra/server/router/knowledge"
	"github.com/compozy/policyrag/engine/knowledge"
	"github.com/compozy/policyrag/pkg/config"
	"github.com/compozy/policyrag/pkg/logger"
)

const productionEnvironment = "production"

var errResetNotConfirmed = errors.New("refusing to delete every document without --yes")

func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the HTTP API",
		Args:    cobra.NoArgs,
		RunE:    runServe,
	}
	cmd.Flags().String("host", "", "Interface to bind")
	cmd.Flags().Int("port", 0, "Port to listen on")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg := config.FromContext(ctx)
	if cfg.Runtime.Environment == productionEnvironment {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := watchConfig(ctx, config.ManagerFromContext(ctx)); err != nil {
		logger.FromContext(ctx).Warn("Configuration hot reload disabled", "error", err)
	}
	app, err := buildApp(ctx, cfg, appOptions{
		monitoring: true,
		needRedis:  cfg.RateLimit.Enabled && strings.EqualFold(cfg.RateLimit.Store, driverRedis),
	})
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	defer app.Close(context.WithoutCancel(ctx))
	var redisClient redis.UniversalClient
	if app.Redis != nil {
		redisClient = app.Redis.Client()
	}
	srv, err := server.NewServer(ctx, server.Options{
		Config:     cfg,
		Service:    app.Runtime,
		Monitoring: app.Monitoring,
		Redis:      redisClient,
		Health:     app.Health,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Run(ctx)
}

// watchConfig applies edits of the config file to the running server. Only
// the log level changes live; other settings take effect on restart.
func watchConfig(ctx context.Context, manager *config.Manager) error {
	log := logger.FromContext(ctx)
	manager.OnChange(func(next *config.Config) {
		if logger.SetLevel(log, logger.ParseLevel(next.Runtime.LogLevel)) {
			log.Info("Log level updated", "level", next.Runtime.LogLevel)
		}
	})
	return manager.Watch(ctx)
}

// withRuntime builds the runtime for a one-shot command and releases it afterwards.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	app, err := buildApp(ctx, config.FromContext(ctx), appOptions{})
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	defer app.Close(context.WithoutCancel(ctx))
	return fn(ctx, app)
}

func IngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <files...>",
		Short: "Index one or more policy documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, app *App) error {
				resp := knowledgerouter.UploadResponse{Documents: []knowledge.Document{}, Gaps: []knowledgerouter.GapDTO{}}
				for _, path := range args {
					raw, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("read %s: %w", path, err)
					}
					out, err := app.Runtime.Ingest(ctx, raw, filepath.Base(path))
					if gap, ok := knowledge.AsConsistencyGap(err); ok && out != nil {
						logger.FromContext(ctx).Warn("Document indexed with pending metadata", "filename", path, "error", gap)
						resp.Documents = append(resp.Documents, out.Document)
						resp.Gaps = append(resp.Gaps, knowledgerouter.ToGapDTO(gap))
						continue
					}
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					resp.Documents = append(resp.Documents, out.Document)
				}
				resp.Message = fmt.Sprintf("Successfully processed %d documents", len(resp.Documents))
				return newPrinter(cmd).upload(resp)
			})
		},
	}
}

func AskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed policies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topK, err := cmd.Flags().GetInt("top-k")
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("top-k") && topK <= 0 {
				return fmt.Errorf("--top-k must be positive")
			}
			question := strings.Join(args, " ")
			return withRuntime(cmd, func(ctx context.Context, app *App) error {
				result, err := app.Runtime.Answer(ctx, question, topK)
				if err != nil {
					return err
				}
				return newPrinter(cmd).answer(result)
			})
		},
	}
	cmd.Flags().Int("top-k", 0, "Number of passages to retrieve (default from config)")
	return cmd
}

func DocumentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "documents",
		Aliases: []string{"ls"},
		Short:   "List indexed documents, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, app *App) error {
				docs, err := app.Runtime.ListDocuments(ctx)
				if err != nil {
					return err
				}
				return newPrinter(cmd).documents(docs)
			})
		},
	}
}

func ResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every document and clear the vector index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			yes, err := cmd.Flags().GetBool("yes")
			if err != nil {
				return err
			}
			if !yes {
				return errResetNotConfirmed
			}
			return withRuntime(cmd, func(ctx context.Context, app *App) error {
				out, err := app.Runtime.ResetCorpus(ctx)
				if err != nil {
					return err
				}
				return newPrinter(cmd).reset(out)
			})
		},
	}
	cmd.Flags().Bool("yes", false, "Confirm deletion")
	return cmd
}

func ReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Retry metadata writes for documents with pending gaps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(ctx context.Context, app *App) error {
				report, err := app.Runtime.Reconcile(ctx)
				if err != nil {
					return err
				}
				return newPrinter(cmd).reconcile(report)
			})
		},
	}
}
