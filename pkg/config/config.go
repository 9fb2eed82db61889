package config

import (
	"time"
)

// Config is the full policyrag configuration tree.
type Config struct {
	Server      ServerConfig      `koanf:"server"      json:"server"      yaml:"server"`
	Runtime     RuntimeConfig     `koanf:"runtime"     json:"runtime"     yaml:"runtime"`
	Credentials CredentialsConfig `koanf:"credentials" json:"credentials" yaml:"credentials"`
	Knowledge   KnowledgeConfig   `koanf:"knowledge"   json:"knowledge"   yaml:"knowledge"`
	Embedder    EmbedderConfig    `koanf:"embedder"    json:"embedder"    yaml:"embedder"`
	LLM         LLMConfig         `koanf:"llm"         json:"llm"         yaml:"llm"`
	VectorDB    VectorDBConfig    `koanf:"vector_db"   json:"vector_db"   yaml:"vector_db"`
	Documents   DocumentsConfig   `koanf:"documents"   json:"documents"   yaml:"documents"`
	Database    DatabaseConfig    `koanf:"database"    json:"database"    yaml:"database"`
	SQLite      SQLiteConfig      `koanf:"sqlite"      json:"sqlite"      yaml:"sqlite"`
	Redis       RedisConfig       `koanf:"redis"       json:"redis"       yaml:"redis"`
	Ingest      IngestConfig      `koanf:"ingest"      json:"ingest"      yaml:"ingest"`
	RateLimit   RateLimitConfig   `koanf:"ratelimit"   json:"ratelimit"   yaml:"ratelimit"`
	Monitoring  MonitoringConfig  `koanf:"monitoring"  json:"monitoring"  yaml:"monitoring"`
}

type ServerConfig struct {
	Host              string         `koanf:"host"               json:"host"               env:"SERVER_HOST"`
	Port              int            `koanf:"port"               json:"port"               env:"SERVER_PORT"          validate:"min=1,max=65535"`
	BasePath          string         `koanf:"base_path"          json:"base_path"`
	MaxUploadBytes    int64          `koanf:"max_upload_bytes"   json:"max_upload_bytes"   env:"SERVER_MAX_UPLOAD_BYTES" validate:"min=0"`
	AllowedExtensions []string       `koanf:"allowed_extensions" json:"allowed_extensions" env:"SERVER_ALLOWED_EXTENSIONS"`
	CORS              CORSConfig     `koanf:"cors"               json:"cors"`
	Timeouts          ServerTimeouts `koanf:"timeouts"           json:"timeouts"`
}

type CORSConfig struct {
	Enabled          bool     `koanf:"enabled"           json:"enabled"           env:"CORS_ENABLED"`
	AllowedOrigins   []string `koanf:"allowed_origins"   json:"allowed_origins"   env:"CORS_ORIGINS"`
	AllowCredentials bool     `koanf:"allow_credentials" json:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"           json:"max_age"`
}

type ServerTimeouts struct {
	HTTPRead  time.Duration `koanf:"http_read"  json:"http_read"`
	HTTPWrite time.Duration `koanf:"http_write" json:"http_write"`
	HTTPIdle  time.Duration `koanf:"http_idle"  json:"http_idle"`
	Shutdown  time.Duration `koanf:"shutdown"   json:"shutdown"`
	Ingest    time.Duration `koanf:"ingest"     json:"ingest"     env:"SERVER_INGEST_TIMEOUT"`
	Query     time.Duration `koanf:"query"      json:"query"      env:"SERVER_QUERY_TIMEOUT"`
}

type RuntimeConfig struct {
	Environment string `koanf:"environment" json:"environment" env:"RUNTIME_ENVIRONMENT" validate:"oneof=development staging production test"`
	LogLevel    string `koanf:"log_level"   json:"log_level"   env:"LOG_LEVEL"           validate:"oneof=debug info warn error disabled"`
}

// CredentialsConfig holds provider API keys shared by the embedder and the LLM.
type CredentialsConfig struct {
	GeminiAPIKey SensitiveString `koanf:"gemini_api_key" json:"gemini_api_key" env:"GEMINI_API_KEY"`
	OpenAIAPIKey SensitiveString `koanf:"openai_api_key" json:"openai_api_key" env:"OPENAI_API_KEY"`
}

type KnowledgeConfig struct {
	Namespace        string `koanf:"namespace"          json:"namespace"          env:"KNOWLEDGE_NAMESPACE"  validate:"required"`
	ChunkStrategy    string `koanf:"chunk_strategy"     json:"chunk_strategy"     validate:"oneof=paragraph recursive_text_splitter"`
	ChunkSize        int    `koanf:"chunk_size"         json:"chunk_size"         env:"KNOWLEDGE_CHUNK_SIZE" validate:"min=1"`
	ChunkOverlap     int    `koanf:"chunk_overlap"      json:"chunk_overlap"      env:"KNOWLEDGE_CHUNK_OVERLAP" validate:"min=0"`
	OverlapMode      string `koanf:"overlap_mode"       json:"overlap_mode"       validate:"oneof=advisory trailing"`
	TopK             int    `koanf:"top_k"              json:"top_k"              env:"KNOWLEDGE_TOP_K"      validate:"min=1"`
	MaxTopK          int    `koanf:"max_top_k"          json:"max_top_k"          validate:"min=1"`
	SnippetLength    int    `koanf:"snippet_length"     json:"snippet_length"     validate:"min=1"`
	ExcerptLength    int    `koanf:"excerpt_length"     json:"excerpt_length"     validate:"min=1"`
	MaxContextTokens int    `koanf:"max_context_tokens" json:"max_context_tokens" validate:"min=0"`
	TokenEstimator   string `koanf:"token_estimator"    json:"token_estimator"    validate:"oneof=runes tiktoken"`
	AllowText        bool   `koanf:"allow_text"         json:"allow_text"`
	MaxRunes         int    `koanf:"max_runes"          json:"max_runes"          validate:"min=0"`
}

type EmbedderConfig struct {
	Provider    string          `koanf:"provider"    json:"provider"    env:"EMBEDDER_PROVIDER" validate:"oneof=gemini openai vertex hash"`
	Model       string          `koanf:"model"       json:"model"       env:"EMBEDDER_MODEL"`
	APIKey      SensitiveString `koanf:"api_key"     json:"api_key"     env:"EMBEDDER_API_KEY"`
	BaseURL     string          `koanf:"base_url"    json:"base_url"    env:"EMBEDDER_BASE_URL"`
	Project     string          `koanf:"project"     json:"project"     env:"EMBEDDER_PROJECT"`
	Location    string          `koanf:"location"    json:"location"    env:"EMBEDDER_LOCATION"`
	Dimension   int             `koanf:"dimension"   json:"dimension"   validate:"min=1"`
	BatchSize   int             `koanf:"batch_size"  json:"batch_size"  validate:"min=1"`
	Concurrency int             `koanf:"concurrency" json:"concurrency" env:"EMBEDDER_CONCURRENCY" validate:"min=1"`
	CacheSize   int             `koanf:"cache_size"  json:"cache_size"  validate:"min=0"`
}

type LLMConfig struct {
	Provider          string          `koanf:"provider"            json:"provider"            env:"LLM_PROVIDER" validate:"oneof=gemini openai"`
	Model             string          `koanf:"model"               json:"model"               env:"LLM_MODEL"`
	APIKey            SensitiveString `koanf:"api_key"             json:"api_key"             env:"LLM_API_KEY"`
	BaseURL           string          `koanf:"base_url"            json:"base_url"            env:"LLM_BASE_URL"`
	Temperature       float64         `koanf:"temperature"         json:"temperature"         validate:"min=0,max=2"`
	MaxTokens         int             `koanf:"max_tokens"          json:"max_tokens"          validate:"min=0"`
	Grounding         string          `koanf:"grounding"           json:"grounding"           env:"LLM_GROUNDING" validate:"oneof=phrase structured"`
	ShortCircuitEmpty bool            `koanf:"short_circuit_empty" json:"short_circuit_empty"`
}

type VectorDBConfig struct {
	Provider    string          `koanf:"provider"     json:"provider"     env:"VECTOR_DB_PROVIDER" validate:"oneof=memory filesystem pgvector qdrant redis chromem"`
	DSN         SensitiveString `koanf:"dsn"          json:"dsn"          env:"VECTOR_DB_DSN"`
	Path        string          `koanf:"path"         json:"path"         env:"VECTOR_DB_PATH"`
	APIKey      SensitiveString `koanf:"api_key"      json:"api_key"      env:"VECTOR_DB_API_KEY"`
	EnsureIndex bool            `koanf:"ensure_index" json:"ensure_index"`
	Metric      string          `koanf:"metric"       json:"metric"       validate:"oneof=cosine"`
	Consistency string          `koanf:"consistency"  json:"consistency"`
	HTTPTimeout time.Duration   `koanf:"http_timeout" json:"http_timeout"`
	MaxTopK     int             `koanf:"max_top_k"    json:"max_top_k"    validate:"min=0"`
	// Index selects the pgvector index type.
	Index    string `koanf:"index"    json:"index"    validate:"omitempty,oneof=hnsw ivfflat"`
	Compress bool   `koanf:"compress" json:"compress"`
}

type DocumentsConfig struct {
	Driver    string `koanf:"driver"     json:"driver"     env:"DOCUMENTS_DRIVER" validate:"oneof=memory postgres sqlite redis"`
	ListLimit int    `koanf:"list_limit" json:"list_limit" validate:"min=1"`
	KeyPrefix string `koanf:"key_prefix" json:"key_prefix"`
}

type DatabaseConfig struct {
	ConnString       SensitiveString `koanf:"conn_string"       json:"conn_string"       env:"DB_CONN_STRING"`
	Host             string          `koanf:"host"              json:"host"              env:"DB_HOST"`
	Port             string          `koanf:"port"              json:"port"              env:"DB_PORT"`
	User             string          `koanf:"user"              json:"user"              env:"DB_USER"`
	Password         SensitiveString `koanf:"password"          json:"password"          env:"DB_PASSWORD"`
	DBName           string          `koanf:"name"              json:"name"              env:"DB_NAME"`
	SSLMode          string          `koanf:"ssl_mode"          json:"ssl_mode"          env:"DB_SSL_MODE"`
	AutoMigrate      bool            `koanf:"auto_migrate"      json:"auto_migrate"      env:"DB_AUTO_MIGRATE"`
	MigrationTimeout time.Duration   `koanf:"migration_timeout" json:"migration_timeout"`
	MaxOpenConns     int             `koanf:"max_open_conns"    json:"max_open_conns"    validate:"min=0"`
	MaxIdleConns     int             `koanf:"max_idle_conns"    json:"max_idle_conns"    validate:"min=0"`
	ConnMaxLifetime  time.Duration   `koanf:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime  time.Duration   `koanf:"conn_max_idle_time" json:"conn_max_idle_time"`
	PingTimeout      time.Duration   `koanf:"ping_timeout"      json:"ping_timeout"`
}

type SQLiteConfig struct {
	Path        string        `koanf:"path"         json:"path"         env:"SQLITE_PATH"`
	BusyTimeout time.Duration `koanf:"busy_timeout" json:"busy_timeout"`
}

type RedisConfig struct {
	URL      SensitiveString `koanf:"url"      json:"url"      env:"REDIS_URL"`
	Addr     string          `koanf:"addr"     json:"addr"     env:"REDIS_ADDR"`
	Password SensitiveString `koanf:"password" json:"password" env:"REDIS_PASSWORD"`
	DB       int             `koanf:"db"       json:"db"       env:"REDIS_DB" validate:"min=0"`
	Embedded bool            `koanf:"embedded" json:"embedded" env:"REDIS_EMBEDDED"`
}

type IngestConfig struct {
	UpsertAttempts   int             `koanf:"upsert_attempts"    json:"upsert_attempts"    validate:"min=1"`
	UpsertBackoff    time.Duration   `koanf:"upsert_backoff"     json:"upsert_backoff"`
	UpsertMaxBackoff time.Duration   `koanf:"upsert_max_backoff" json:"upsert_max_backoff"`
	RecordFailures   bool            `koanf:"record_failures"    json:"record_failures"    env:"INGEST_RECORD_FAILURES"`
	Reconcile        ReconcileConfig `koanf:"reconcile"          json:"reconcile"`
}

type ReconcileConfig struct {
	Attempts   int           `koanf:"attempts"    json:"attempts"    validate:"min=1"`
	Backoff    time.Duration `koanf:"backoff"     json:"backoff"`
	MaxBackoff time.Duration `koanf:"max_backoff" json:"max_backoff"`
	Rollback   bool          `koanf:"rollback"    json:"rollback"    env:"INGEST_RECONCILE_ROLLBACK"`
}

type RateLimitConfig struct {
	Enabled bool          `koanf:"enabled" json:"enabled" env:"RATELIMIT_ENABLED"`
	Limit   int64         `koanf:"limit"   json:"limit"   env:"RATELIMIT_LIMIT" validate:"min=0"`
	Period  time.Duration `koanf:"period"  json:"period"`
	Store   string        `koanf:"store"   json:"store"   validate:"oneof=memory redis"`
	Prefix  string        `koanf:"prefix"  json:"prefix"`
}

type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" json:"enabled" env:"MONITORING_ENABLED"`
	Path    string `koanf:"path"    json:"path"`
}

// Default returns the configuration used before any source is applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8001,
			BasePath:          "/api/v0",
			MaxUploadBytes:    32 << 20,
			AllowedExtensions: []string{".pdf"},
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				MaxAge:         86400,
			},
			Timeouts: ServerTimeouts{
				HTTPRead:  30 * time.Second,
				HTTPWrite: 5 * time.Minute,
				HTTPIdle:  2 * time.Minute,
				Shutdown:  15 * time.Second,
				Ingest:    5 * time.Minute,
				Query:     time.Minute,
			},
		},
		Runtime: RuntimeConfig{
			Environment: "development",
			LogLevel:    "info",
		},
		Knowledge: KnowledgeConfig{
			Namespace:      "health-insurance-rag",
			ChunkStrategy:  "paragraph",
			ChunkSize:      1000,
			ChunkOverlap:   200,
			OverlapMode:    "advisory",
			TopK:           5,
			MaxTopK:        50,
			SnippetLength:  200,
			ExcerptLength:  1000,
			TokenEstimator: "runes",
		},
		Embedder: EmbedderConfig{
			Provider:    "gemini",
			Model:       "embedding-001",
			Dimension:   768,
			BatchSize:   32,
			Concurrency: 4,
			CacheSize:   512,
		},
		LLM: LLMConfig{
			Provider:          "gemini",
			Model:             "gemini-2.0-flash",
			Grounding:         "phrase",
			ShortCircuitEmpty: true,
		},
		VectorDB: VectorDBConfig{
			Provider:    "memory",
			EnsureIndex: true,
			Metric:      "cosine",
			HTTPTimeout: 30 * time.Second,
		},
		Documents: DocumentsConfig{
			Driver:    "memory",
			ListLimit: 1000,
			KeyPrefix: "policyrag:documents",
		},
		Database: DatabaseConfig{
			Host:             "localhost",
			Port:             "5432",
			User:             "postgres",
			DBName:           "policyrag",
			SSLMode:          "disable",
			AutoMigrate:      true,
			MigrationTimeout: 45 * time.Second,
			MaxOpenConns:     10,
			MaxIdleConns:     2,
			ConnMaxLifetime:  30 * time.Minute,
			ConnMaxIdleTime:  5 * time.Minute,
			PingTimeout:      5 * time.Second,
		},
		SQLite: SQLiteConfig{
			Path:        "policyrag.db",
			BusyTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Ingest: IngestConfig{
			UpsertAttempts:   1,
			UpsertBackoff:    200 * time.Millisecond,
			UpsertMaxBackoff: 2 * time.Second,
			Reconcile: ReconcileConfig{
				Attempts:   3,
				Backoff:    250 * time.Millisecond,
				MaxBackoff: 5 * time.Second,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Limit:   120,
			Period:  time.Minute,
			Store:   "memory",
			Prefix:  "policyrag:ratelimit",
		},
		Monitoring: MonitoringConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// GeminiKey returns the key used by gemini-backed components, preferring
// the component-specific value.
func (c *Config) GeminiKey(override SensitiveString) string {
	if override.Value() != "" {
		return override.Value()
	}
	return c.Credentials.GeminiAPIKey.Value()
}

// OpenAIKey mirrors GeminiKey for openai-backed components.
func (c *Config) OpenAIKey(override SensitiveString) string {
	if override.Value() != "" {
		return override.Value()
	}
	return c.Credentials.OpenAIAPIKey.Value()
}
