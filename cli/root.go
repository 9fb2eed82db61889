package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/compozy/policyrag/pkg/config"
	"github.com/compozy/policyrag/pkg/logger"
)

const defaultConfigFile = "policyrag.yaml"

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "policyrag",
		Short:         "Question answering over health insurance policy documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "Path to the config file (default ./"+defaultConfigFile+" when present)")
	pf.String("env-file", ".env", "Path to the environment variables file")
	pf.String("log-level", "info", "Log level (debug, info, warn, error, disabled)")
	pf.Bool("log-json", false, "Emit logs as JSON")
	pf.Bool("log-source", false, "Include source locations in logs")
	pf.Duration("timeout", 0, "Timeout for one-shot commands (0 disables)")
	pf.String("format", "", "Output format: json or tui (auto-detected when empty)")
	pf.String("namespace", "", "Vector index namespace")
	pf.String("vector-db", "", "Vector index provider")
	pf.String("vector-db-dsn", "", "Vector index connection string")
	pf.String("vector-db-path", "", "Vector index directory for the filesystem provider")
	pf.String("documents-driver", "", "Document metadata store (memory, postgres, sqlite, redis)")
	pf.String("db-conn-string", "", "Postgres connection string")
	pf.String("sqlite-path", "", "SQLite database path")
	pf.String("redis-url", "", "Redis connection URL")
	pf.String("embedder", "", "Embedding provider")
	pf.String("embedder-model", "", "Embedding model")
	pf.String("llm", "", "Generation provider")
	pf.String("llm-model", "", "Generation model")
	root.AddCommand(
		ServeCmd(),
		IngestCmd(),
		AskCmd(),
		DocumentsCmd(),
		ResetCmd(),
		ReconcileCmd(),
	)
	return root
}

// SetupGlobalConfig loads the env file, the configuration sources and the
// logger, and attaches the config manager and logger to the command context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := loadEnvFile(cmd); err != nil {
		return err
	}
	sources := make([]config.Source, 0, 2)
	cfgPath, err := resolveConfigPath(cmd)
	if err != nil {
		return err
	}
	if cfgPath != "" {
		sources = append(sources, config.NewYAMLProvider(cfgPath))
	}
	flags := make(map[string]any)
	extractCLIFlags(cmd, flags)
	sources = append(sources, config.NewCLIProvider(flags))
	manager := config.NewManager(config.NewService())
	cfg, err := manager.Load(ctx, sources...)
	if err != nil {
		return err
	}
	logFlags, err := logger.FlagsFromCommand(cmd)
	if err != nil {
		return err
	}
	log := logger.Setup(logFlags, cfg.Runtime.LogLevel)
	ctx = logger.ContextWithLogger(ctx, log)
	ctx = config.ContextWithManager(ctx, manager)
	cmd.SetContext(ctx)
	log.Debug("Configuration loaded", "config_file", cfgPath, "vector_db", cfg.VectorDB.Provider, "documents", cfg.Documents.Driver)
	return nil
}

func resolveConfigPath(cmd *cobra.Command) (string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", fmt.Errorf("failed to get config flag: %w", err)
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file %s: %w", path, err)
		}
		return path, nil
	}
	if info, err := os.Stat(defaultConfigFile); err == nil && info.Mode().IsRegular() {
		return defaultConfigFile, nil
	}
	return "", nil
}

// commandContext applies --timeout to one-shot commands.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil || timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
