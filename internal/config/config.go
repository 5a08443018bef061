package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/repovec-mcp/internal/budget"
	"github.com/dshills/repovec-mcp/internal/chunker"
	"github.com/dshills/repovec-mcp/internal/embedder"
	"github.com/dshills/repovec-mcp/internal/reassembler"
	"github.com/dshills/repovec-mcp/internal/searcher"
	"github.com/dshills/repovec-mcp/internal/source"
	"github.com/dshills/repovec-mcp/internal/tokenizer"
	"github.com/dshills/repovec-mcp/internal/vectorstore"
)

// Environment variables read by Load
const (
	EnvStore          = "REPOVEC_STORE"
	EnvDBPath         = "REPOVEC_DB_PATH"
	EnvDocumentsIndex = "DOCUMENTS_VDB_INDEX"
	EnvIssuesIndex    = "ISSUES_VDB_INDEX"
)

// Index names used when neither the file nor the environment sets one
const (
	DefaultDocumentsIndex = "documents"
	DefaultIssuesIndex    = "issues"
)

// ErrInvalidConfig wraps every Validate failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the on-disk configuration of repovec
type Config struct {
	Chunking   ChunkingConfig   `toml:"chunking"`
	Budget     BudgetConfig     `toml:"budget"`
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Store      StoreConfig      `toml:"store"`
	GitHub     GitHubConfig     `toml:"github"`
	Reassembly ReassemblyConfig `toml:"reassembly"`
}

// ChunkingConfig holds the line thresholds of the splitter
type ChunkingConfig struct {
	SmallFileLines   int `toml:"small_file_lines"`
	CodeChunkLines   int `toml:"code_chunk_lines"`
	CodeOverlapLines int `toml:"code_overlap_lines"`
	MinChunkLines    int `toml:"min_chunk_lines"`
	TextChunkLines   int `toml:"text_chunk_lines"`
	TextOverlapLines int `toml:"text_overlap_lines"`
}

// BudgetConfig controls token counting
type BudgetConfig struct {
	// Tokenizer is a tiktoken encoding, "heuristic" or "words"
	Tokenizer string `toml:"tokenizer"`
	// Ceiling of 0 derives half the embedding model's input limit
	Ceiling        int    `toml:"ceiling"`
	OversizePolicy string `toml:"oversize_policy"`
}

// EmbeddingConfig selects the provider and the batching behaviour
type EmbeddingConfig struct {
	Provider          string `toml:"provider"`
	Model             string `toml:"model"`
	BaseURL           string `toml:"base_url"`
	APIKey            string `toml:"api_key"`
	CacheSize         int    `toml:"cache_size"`
	BatchSize         int    `toml:"batch_size"`
	MaxRetries        int    `toml:"max_retries"`
	BaseDelayMS       int    `toml:"base_delay_ms"`
	InterBatchDelayMS int    `toml:"inter_batch_delay_ms"`
}

// StoreConfig selects the vector store backend and index names
type StoreConfig struct {
	Backend          string `toml:"backend"`
	Path             string `toml:"path"`
	DocumentsIndex   string `toml:"documents_index"`
	IssuesIndex      string `toml:"issues_index"`
	UpsertBatchSize  int    `toml:"upsert_batch_size"`
	FetchPageSize    int    `toml:"fetch_page_size"`
	FetchConcurrency int    `toml:"fetch_concurrency"`

	PineconeAPIKey     string `toml:"pinecone_api_key"`
	PineconeControlURL string `toml:"pinecone_control_url"`
}

// GitHubConfig configures the issue loader
type GitHubConfig struct {
	Token             string  `toml:"token"`
	BaseURL           string  `toml:"base_url"`
	State             string  `toml:"state"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ReassemblyConfig holds the default combine budget
type ReassemblyConfig struct {
	Budget int `toml:"budget"`
}

// Default returns the built-in configuration
func Default() *Config {
	cc := chunker.DefaultConfig()
	bc := embedder.DefaultBatcherConfig()
	return &Config{
		Chunking: ChunkingConfig{
			SmallFileLines:   cc.SmallFileLines,
			CodeChunkLines:   cc.CodeChunkLines,
			CodeOverlapLines: cc.CodeOverlapLines,
			MinChunkLines:    cc.MinChunkLines,
			TextChunkLines:   cc.TextChunkLines,
			TextOverlapLines: cc.TextOverlapLines,
		},
		Budget: BudgetConfig{
			Tokenizer:      tokenizer.DefaultEncoding,
			OversizePolicy: budget.OversizeTruncate.String(),
		},
		Embedding: EmbeddingConfig{
			CacheSize:         embedder.DefaultCacheSize,
			BatchSize:         bc.BatchSize,
			MaxRetries:        bc.Retry.MaxRetries,
			BaseDelayMS:       int(bc.Retry.BaseDelay / time.Millisecond),
			InterBatchDelayMS: int(bc.InterBatchDelay / time.Millisecond),
		},
		Store: StoreConfig{
			Backend:          vectorstore.BackendSQLite,
			Path:             defaultDBPath(),
			DocumentsIndex:   DefaultDocumentsIndex,
			IssuesIndex:      DefaultIssuesIndex,
			FetchPageSize:    searcher.DefaultFetchPageSize,
			FetchConcurrency: searcher.DefaultFetchConcurrency,
		},
		GitHub: GitHubConfig{
			State: "all",
		},
		Reassembly: ReassemblyConfig{
			Budget: reassembler.DefaultBudget,
		},
	}
}

// DefaultPath returns ~/.repovec/config.toml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".repovec", "config.toml"), nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "repovec.db"
	}
	return filepath.Join(home, ".repovec", "repovec.db")
}

// Load reads path over the defaults and applies environment overrides. An
// empty path uses DefaultPath; a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets the environment override file values. API keys left empty
// here are still picked up by the providers themselves.
func (c *Config) applyEnv() {
	setString(&c.Embedding.Provider, embedder.EnvProvider)
	setString(&c.Store.Backend, EnvStore)
	setString(&c.Store.Path, EnvDBPath)
	setString(&c.Store.DocumentsIndex, EnvDocumentsIndex)
	setString(&c.Store.IssuesIndex, EnvIssuesIndex)
	setString(&c.Store.PineconeAPIKey, vectorstore.EnvPineconeAPIKey)
	setString(&c.GitHub.Token, source.EnvGitHubToken)

	switch strings.ToLower(c.Embedding.Provider) {
	case embedder.ProviderOpenAI:
		setString(&c.Embedding.APIKey, embedder.EnvOpenAIAPIKey)
	case embedder.ProviderJina:
		setString(&c.Embedding.APIKey, embedder.EnvJinaAPIKey)
	case "":
		c.Embedding.Provider = embedder.DetectProvider()
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.ChunkerConfig().Validate(); err != nil {
		return fmt.Errorf("%w: [chunking]: %w", ErrInvalidConfig, err)
	}
	if c.Budget.Ceiling < 0 {
		return fmt.Errorf("%w: [budget] ceiling must be >= 0", ErrInvalidConfig)
	}
	if c.Budget.Tokenizer == "" {
		return fmt.Errorf("%w: [budget] tokenizer is required", ErrInvalidConfig)
	}
	if _, err := budget.ParsePolicy(c.Budget.OversizePolicy); err != nil {
		return fmt.Errorf("%w: [budget]: %w", ErrInvalidConfig, err)
	}

	switch strings.ToLower(c.Embedding.Provider) {
	case embedder.ProviderJina, embedder.ProviderOpenAI, embedder.ProviderOllama, embedder.ProviderLocal:
	default:
		return fmt.Errorf("%w: [embedding] unknown provider %q", ErrInvalidConfig, c.Embedding.Provider)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("%w: [embedding] batch_size must be positive", ErrInvalidConfig)
	}
	if c.Embedding.MaxRetries < 0 || c.Embedding.BaseDelayMS < 0 || c.Embedding.InterBatchDelayMS < 0 {
		return fmt.Errorf("%w: [embedding] retry settings must be >= 0", ErrInvalidConfig)
	}

	switch strings.ToLower(c.Store.Backend) {
	case vectorstore.BackendSQLite, vectorstore.BackendBadger, vectorstore.BackendPinecone:
	default:
		return fmt.Errorf("%w: [store] unknown backend %q", ErrInvalidConfig, c.Store.Backend)
	}
	if c.Store.DocumentsIndex == "" || c.Store.IssuesIndex == "" {
		return fmt.Errorf("%w: [store] index names are required", ErrInvalidConfig)
	}
	if c.Store.DocumentsIndex == c.Store.IssuesIndex {
		return fmt.Errorf("%w: [store] documents and issues must use different indexes", ErrInvalidConfig)
	}

	switch c.GitHub.State {
	case "open", "closed", "all":
	default:
		return fmt.Errorf("%w: [github] state must be open, closed or all", ErrInvalidConfig)
	}
	if c.GitHub.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: [github] requests_per_second must be >= 0", ErrInvalidConfig)
	}

	if c.Reassembly.Budget <= 0 {
		return fmt.Errorf("%w: [reassembly] budget must be positive", ErrInvalidConfig)
	}
	return nil
}

// Save writes the configuration as TOML, creating the parent directory
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ChunkerConfig converts the [chunking] section
func (c *Config) ChunkerConfig() chunker.Config {
	return chunker.Config{
		SmallFileLines:   c.Chunking.SmallFileLines,
		CodeChunkLines:   c.Chunking.CodeChunkLines,
		CodeOverlapLines: c.Chunking.CodeOverlapLines,
		MinChunkLines:    c.Chunking.MinChunkLines,
		TextChunkLines:   c.Chunking.TextChunkLines,
		TextOverlapLines: c.Chunking.TextOverlapLines,
	}
}

// EmbedderConfig converts the [embedding] section
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:  c.Embedding.Provider,
		APIKey:    c.Embedding.APIKey,
		Model:     c.Embedding.Model,
		BaseURL:   c.Embedding.BaseURL,
		CacheSize: c.Embedding.CacheSize,
	}
}

// BatcherConfig converts the batching part of [embedding]
func (c *Config) BatcherConfig() embedder.BatcherConfig {
	return embedder.BatcherConfig{
		BatchSize: c.Embedding.BatchSize,
		Retry: embedder.RetryPolicy{
			MaxRetries: c.Embedding.MaxRetries,
			BaseDelay:  time.Duration(c.Embedding.BaseDelayMS) * time.Millisecond,
		},
		InterBatchDelay: time.Duration(c.Embedding.InterBatchDelayMS) * time.Millisecond,
	}
}

// VectorStoreConfig returns the store configuration bound to index
func (c *Config) VectorStoreConfig(index string) vectorstore.Config {
	return vectorstore.Config{
		Backend: c.Store.Backend,
		Index:   index,
		Path:    c.Store.Path,
		Pinecone: vectorstore.PineconeConfig{
			APIKey:     c.Store.PineconeAPIKey,
			ControlURL: c.Store.PineconeControlURL,
		},
	}
}

// Ceiling returns the configured token ceiling, or the one derived from model
func (c *Config) Ceiling(model string) int {
	if c.Budget.Ceiling > 0 {
		return c.Budget.Ceiling
	}
	return budget.CeilingForModel(model)
}
