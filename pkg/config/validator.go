package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errOverlapTooLarge   = errors.New("knowledge.chunk_overlap must be smaller than knowledge.chunk_size")
	errDefaultTopKTooBig = errors.New("knowledge.top_k must not exceed knowledge.max_top_k")
)

// validateCustom checks cross-field constraints that struct tags cannot express.
func validateCustom(cfg *Config) error {
	if cfg.Knowledge.ChunkOverlap >= cfg.Knowledge.ChunkSize {
		return errOverlapTooLarge
	}
	if cfg.Knowledge.TopK > cfg.Knowledge.MaxTopK {
		return errDefaultTopKTooBig
	}
	if err := validateVectorDB(&cfg.VectorDB); err != nil {
		return err
	}
	if err := validateDocuments(cfg); err != nil {
		return err
	}
	for _, ext := range cfg.Server.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("server.allowed_extensions: %q must start with a dot", ext)
		}
	}
	return nil
}

func validateVectorDB(cfg *VectorDBConfig) error {
	switch cfg.Provider {
	case "pgvector", "qdrant", "redis":
		if strings.TrimSpace(cfg.DSN.Value()) == "" {
			return fmt.Errorf("vector_db.dsn is required for provider %q", cfg.Provider)
		}
	case "filesystem":
		if strings.TrimSpace(cfg.Path) == "" {
			return fmt.Errorf("vector_db.path is required for provider %q", cfg.Provider)
		}
	}
	return nil
}

func validateDocuments(cfg *Config) error {
	switch cfg.Documents.Driver {
	case "postgres":
		db := cfg.Database
		if db.ConnString.Value() == "" && (db.Host == "" || db.Port == "" || db.User == "" || db.DBName == "") {
			return fmt.Errorf("database configuration incomplete: either conn_string or individual components required")
		}
	case "sqlite":
		if strings.TrimSpace(cfg.SQLite.Path) == "" {
			return fmt.Errorf("sqlite.path is required for the sqlite documents driver")
		}
	case "redis":
		if !cfg.Redis.Embedded && cfg.Redis.URL.Value() == "" && cfg.Redis.Addr == "" {
			return fmt.Errorf("redis.url or redis.addr is required for the redis documents driver")
		}
	}
	return nil
}
