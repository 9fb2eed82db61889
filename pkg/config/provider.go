package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type SourceType string

const (
	SourceDefault SourceType = "default"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceCLI     SourceType = "cli"
)

// precedence orders sources; higher values override lower ones.
func (s SourceType) precedence() int {
	switch s {
	case SourceDefault:
		return 0
	case SourceYAML:
		return 1
	case SourceEnv:
		return 2
	case SourceCLI:
		return 3
	default:
		return 1
	}
}

// Source supplies a nested configuration map. Watch calls callback whenever
// the underlying data changes; sources that never change return nil.
type Source interface {
	Load() (map[string]any, error)
	Type() SourceType
	Watch(ctx context.Context, callback func()) error
	Close() error
}

type yamlProvider struct {
	path    string
	mu      sync.Mutex
	watcher *Watcher
}

// NewYAMLProvider reads a YAML file. A missing file yields no keys.
func NewYAMLProvider(path string) Source {
	return &yamlProvider{path: path}
}

func (y *yamlProvider) Load() (map[string]any, error) {
	if y.path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(y.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to read YAML file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML file %s: %w", y.path, err)
	}
	return dropNil(raw), nil
}

func (y *yamlProvider) Type() SourceType { return SourceYAML }

// Watch follows the YAML file. Repeated calls share one file watcher.
func (y *yamlProvider) Watch(ctx context.Context, callback func()) error {
	if y.path == "" {
		return nil
	}
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.watcher == nil {
		w, err := NewWatcher(DefaultDebounce)
		if err != nil {
			return err
		}
		if err := w.Watch(ctx, y.path); err != nil {
			_ = w.Close()
			return fmt.Errorf("failed to watch YAML file: %w", err)
		}
		y.watcher = w
	}
	y.watcher.OnChange(callback)
	return nil
}

func (y *yamlProvider) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.watcher == nil {
		return nil
	}
	err := y.watcher.Close()
	y.watcher = nil
	return err
}

func dropNil(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch typed := v.(type) {
		case nil:
			continue
		case map[string]any:
			if nested := dropNil(typed); len(nested) > 0 {
				out[k] = nested
			}
		default:
			out[k] = v
		}
	}
	return out
}

// CLIFlagPaths maps command-line flag names onto configuration paths.
var CLIFlagPaths = map[string]string{
	"host":               "server.host",
	"port":               "server.port",
	"log-level":          "runtime.log_level",
	"namespace":          "knowledge.namespace",
	"top-k":              "knowledge.top_k",
	"chunk-size":         "knowledge.chunk_size",
	"chunk-overlap":      "knowledge.chunk_overlap",
	"embedder":           "embedder.provider",
	"embedder-model":     "embedder.model",
	"llm":                "llm.provider",
	"llm-model":          "llm.model",
	"grounding":          "llm.grounding",
	"vector-db":          "vector_db.provider",
	"vector-db-dsn":      "vector_db.dsn",
	"vector-db-path":     "vector_db.path",
	"documents-driver":   "documents.driver",
	"db-conn-string":     "database.conn_string",
	"sqlite-path":        "sqlite.path",
	"redis-url":          "redis.url",
	"reconcile-rollback": "ingest.reconcile.rollback",
}

type cliProvider struct {
	flags map[string]any
}

// NewCLIProvider turns changed flag values into configuration keys.
func NewCLIProvider(flags map[string]any) Source {
	return &cliProvider{flags: flags}
}

func (c *cliProvider) Load() (map[string]any, error) {
	out := make(map[string]any)
	for name, value := range c.flags {
		path, ok := CLIFlagPaths[name]
		if !ok {
			continue
		}
		if err := setNested(out, path, value); err != nil {
			return nil, fmt.Errorf("failed to set CLI flag %s: %w", name, err)
		}
	}
	return out, nil
}

func (c *cliProvider) Type() SourceType { return SourceCLI }

// Watch is a no-op: flags are fixed for the life of the process.
func (c *cliProvider) Watch(context.Context, func()) error { return nil }

func (c *cliProvider) Close() error { return nil }

func setNested(m map[string]any, path string, value any) error {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	current := m
	for i, part := range parts[:len(parts)-1] {
		if _, exists := current[part]; !exists {
			current[part] = make(map[string]any)
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return fmt.Errorf("configuration conflict: key %q is not a map", strings.Join(parts[:i+1], "."))
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
	return nil
}
