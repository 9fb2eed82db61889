package embedder

type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
	ProviderVertex Provider = "vertex"
	ProviderHash   Provider = "hash"
)

// Config describes an embedding backend and the adapter around it.
type Config struct {
	ID          string
	Provider    Provider
	Model       string
	APIKey      string
	BaseURL     string
	Project     string
	Location    string
	Dimension   int
	BatchSize   int
	Concurrency int
	CacheSize   int
}

const (
	defaultBatchSize   = 32
	defaultConcurrency = 4
)

func defaultModel(p Provider) string {
	switch p {
	case ProviderGemini:
		return "embedding-001"
	case ProviderOpenAI:
		return "text-embedding-3-small"
	case ProviderVertex:
		return "text-embedding-004"
	case ProviderHash:
		return "feature-hash"
	default:
		return ""
	}
}

func (c *Config) applyDefaults() {
	if c.ID == "" {
		c.ID = string(c.Provider)
	}
	if c.Model == "" {
		c.Model = defaultModel(c.Provider)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
}
