package embedder

import (
	"fmt"
	"os"
	"strings"
)

// EnvProvider selects the provider explicitly
const EnvProvider = "REPOVEC_EMBEDDING_PROVIDER"

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	Model     string // Empty selects the provider default
	BaseURL   string // Empty selects the provider default
	CacheSize int
}

// NewFromEnv creates an embedder based on environment variables
// Priority:
// 1. REPOVEC_EMBEDDING_PROVIDER (jina, openai, ollama, local)
// 2. Check for API keys: OPENAI_API_KEY, JINA_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv() (Embedder, error) {
	return New(Config{
		Provider:  DetectProvider(),
		CacheSize: DefaultCacheSize,
	})
}

// New creates an embedder with explicit configuration. An empty APIKey falls
// back to the provider's environment variable.
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	opts := []ProviderOption{WithModel(cfg.Model), WithBaseURL(cfg.BaseURL)}

	provider := strings.ToLower(cfg.Provider)
	switch provider {
	case ProviderJina:
		return asEmbedder(NewJinaProvider(cfg.APIKey, cache, opts...))
	case ProviderOpenAI:
		return asEmbedder(NewOpenAIProvider(cfg.APIKey, cache, opts...))
	case ProviderOllama:
		return asEmbedder(NewOllamaProvider(cfg.BaseURL, cfg.Model, cache))
	case ProviderLocal:
		return asEmbedder(NewLocalProvider(cache))
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}

	return ProviderLocal
}

// asEmbedder keeps a typed nil provider out of the interface on error
func asEmbedder(e Embedder, err error) (Embedder, error) {
	if err != nil {
		return nil, err
	}
	return e, nil
}
