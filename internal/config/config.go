// Package config loads and validates the retrieval core configuration.
// Configuration is resolved once at startup and passed explicitly into the
// Indexer and search Pipeline constructors; nothing reads environment state
// per call.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for the retrieval core.
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Reranker   RerankerConfig   `yaml:"reranker"`
	Search     SearchConfig     `yaml:"search"`
	Index      IndexConfig      `yaml:"index"`
	LogLevel   string           `yaml:"log_level"`
}

// EmbeddingsConfig configures the bi-encoder backend.
type EmbeddingsConfig struct {
	// Provider selects the backend: "ollama", "openai", or "static".
	Provider string `yaml:"provider"`

	// Model is the embedding model identifier.
	Model string `yaml:"model"`

	// Dimensions is the embedding dimension. 0 means auto-detect at startup.
	// The resolved dimension is fixed for the corpus; changing it requires
	// a full re-index.
	Dimensions int `yaml:"dimensions"`

	// Host is the provider endpoint (Ollama host or OpenAI-compatible base URL).
	Host string `yaml:"host"`

	// APIKeyEnv names the environment variable holding the API key for
	// remote providers. The key itself never appears in config files.
	APIKeyEnv string `yaml:"api_key_env"`

	// BatchSize is the number of texts per provider request.
	BatchSize int `yaml:"batch_size"`

	// MaxRetries bounds retry attempts before ProviderUnavailable.
	MaxRetries int `yaml:"max_retries"`

	// QueryPrefix is prepended to query text before embedding. Asymmetric
	// bi-encoders use a different prompt template for queries than documents.
	QueryPrefix string `yaml:"query_prefix"`

	// CacheSize is the query-embedding LRU capacity.
	CacheSize int `yaml:"cache_size"`
}

// RerankerConfig configures the cross-encoder backend.
type RerankerConfig struct {
	// Enabled turns cross-encoder reranking on.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the rerank service URL.
	Endpoint string `yaml:"endpoint"`

	// Model is the cross-encoder model identifier.
	Model string `yaml:"model"`

	// Timeout bounds the synchronous rerank call; on expiry the pipeline
	// degrades to vector-similarity ordering.
	Timeout time.Duration `yaml:"timeout"`
}

// SearchConfig configures the search pipeline.
type SearchConfig struct {
	// DefaultTopK is the result count when the caller passes none.
	DefaultTopK int `yaml:"default_top_k"`

	// MaxTopK caps the result count.
	MaxTopK int `yaml:"max_top_k"`

	// OversampleFactor multiplies top_k for the candidate fetch before
	// filtering and reranking.
	OversampleFactor int `yaml:"oversample_factor"`

	// MinCandidates is the candidate floor regardless of top_k.
	MinCandidates int `yaml:"min_candidates"`
}

// IndexConfig configures the indexer.
type IndexConfig struct {
	// BatchSize is the number of chunks per embedding batch.
	BatchSize int `yaml:"batch_size"`

	// Parallelism bounds concurrent embedding batches in flight.
	Parallelism int `yaml:"parallelism"`

	// ChunkTokens is the maximum tokens per chunk.
	ChunkTokens int `yaml:"chunk_tokens"`

	// ChunkOverlapTokens is the overlap between fixed-size fallback windows.
	ChunkOverlapTokens int `yaml:"chunk_overlap_tokens"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Host:       "http://localhost:11434",
			BatchSize:  32,
			MaxRetries: 3,
			CacheSize:  1000,
		},
		Reranker: RerankerConfig{
			Enabled: true,
			Timeout: 10 * time.Second,
		},
		Search: SearchConfig{
			DefaultTopK:      10,
			MaxTopK:          100,
			OversampleFactor: 5,
			MinCandidates:    50,
		},
		Index: IndexConfig{
			BatchSize:          32,
			Parallelism:        4,
			ChunkTokens:        256,
			ChunkOverlapTokens: 32,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from path, applies defaults for unset fields,
// then applies environment overrides. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults backfills zero values after file/env merging.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = def.Embeddings.Provider
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = def.Embeddings.Model
	}
	if cfg.Embeddings.Host == "" {
		cfg.Embeddings.Host = def.Embeddings.Host
	}
	if cfg.Embeddings.BatchSize <= 0 {
		cfg.Embeddings.BatchSize = def.Embeddings.BatchSize
	}
	if cfg.Embeddings.MaxRetries <= 0 {
		cfg.Embeddings.MaxRetries = def.Embeddings.MaxRetries
	}
	if cfg.Embeddings.CacheSize <= 0 {
		cfg.Embeddings.CacheSize = def.Embeddings.CacheSize
	}
	if cfg.Reranker.Timeout <= 0 {
		cfg.Reranker.Timeout = def.Reranker.Timeout
	}
	if cfg.Search.DefaultTopK <= 0 {
		cfg.Search.DefaultTopK = def.Search.DefaultTopK
	}
	if cfg.Search.MaxTopK <= 0 {
		cfg.Search.MaxTopK = def.Search.MaxTopK
	}
	if cfg.Search.OversampleFactor <= 0 {
		cfg.Search.OversampleFactor = def.Search.OversampleFactor
	}
	if cfg.Search.MinCandidates <= 0 {
		cfg.Search.MinCandidates = def.Search.MinCandidates
	}
	if cfg.Index.BatchSize <= 0 {
		cfg.Index.BatchSize = def.Index.BatchSize
	}
	if cfg.Index.Parallelism <= 0 {
		cfg.Index.Parallelism = def.Index.Parallelism
	}
	if cfg.Index.ChunkTokens <= 0 {
		cfg.Index.ChunkTokens = def.Index.ChunkTokens
	}
	if cfg.Index.ChunkOverlapTokens <= 0 {
		cfg.Index.ChunkOverlapTokens = def.Index.ChunkOverlapTokens
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
}

// applyEnvOverrides applies APOLLOS_* environment variables. Env has the
// highest priority.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("APOLLOS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("APOLLOS_EMBED_PROVIDER"); v != "" {
		cfg.Embeddings.Provider = v
	}
	if v := os.Getenv("APOLLOS_EMBED_MODEL"); v != "" {
		cfg.Embeddings.Model = v
	}
	if v := os.Getenv("APOLLOS_EMBED_HOST"); v != "" {
		cfg.Embeddings.Host = v
	}
	if v := os.Getenv("APOLLOS_EMBED_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Embeddings.Dimensions = n
		}
	}
	if v := os.Getenv("APOLLOS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	switch c.Embeddings.Provider {
	case "ollama", "openai", "static":
	default:
		return fmt.Errorf("unknown embeddings provider %q (want ollama, openai, or static)", c.Embeddings.Provider)
	}
	if c.Search.DefaultTopK > c.Search.MaxTopK {
		return fmt.Errorf("default_top_k %d exceeds max_top_k %d", c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	if c.Index.ChunkOverlapTokens >= c.Index.ChunkTokens {
		return fmt.Errorf("chunk_overlap_tokens %d must be smaller than chunk_tokens %d",
			c.Index.ChunkOverlapTokens, c.Index.ChunkTokens)
	}
	return nil
}

// APIKey resolves the provider API key from the configured environment
// variable. Empty when unset.
func (c *EmbeddingsConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// defaultDataDir returns ~/.apollos, falling back to the working directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".apollos"
	}
	return home + "/.apollos"
}
