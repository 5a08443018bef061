package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repovec-mcp/internal/chunker"
	"github.com/dshills/repovec-mcp/internal/embedder"
	"github.com/dshills/repovec-mcp/internal/vectorstore"
)

// clearEnv blanks every variable Load reads
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		embedder.EnvProvider, embedder.EnvOpenAIAPIKey, embedder.EnvJinaAPIKey,
		vectorstore.EnvPineconeAPIKey, "GITHUB_TOKEN",
		EnvStore, EnvDBPath, EnvDocumentsIndex, EnvIssuesIndex,
	} {
		t.Setenv(env, "")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)

	assert.Equal(t, chunker.DefaultConfig(), cfg.ChunkerConfig())
	assert.Equal(t, embedder.ProviderLocal, cfg.Embedding.Provider)
	assert.Equal(t, vectorstore.BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, DefaultDocumentsIndex, cfg.Store.DocumentsIndex)
	assert.Equal(t, DefaultIssuesIndex, cfg.Store.IssuesIndex)
	assert.Equal(t, embedder.DefaultBatcherConfig(), cfg.BatcherConfig())
	assert.Equal(t, 3000, cfg.Reassembly.Budget)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[chunking]
code_chunk_lines = 200
code_overlap_lines = 20

[budget]
tokenizer = "heuristic"
ceiling = 1000
oversize_policy = "accept"

[embedding]
provider = "ollama"
model = "nomic-embed-text"
batch_size = 16
base_delay_ms = 250

[store]
backend = "badger"
path = "/tmp/repovec"
documents_index = "docs"

[reassembly]
budget = 1500
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.Chunking.CodeChunkLines)
	assert.Equal(t, 20, cfg.Chunking.CodeOverlapLines)
	assert.Equal(t, chunker.DefaultTextChunkLines, cfg.Chunking.TextChunkLines, "unset keys keep defaults")
	assert.Equal(t, "heuristic", cfg.Budget.Tokenizer)
	assert.Equal(t, 1000, cfg.Ceiling("text-embedding-3-small"))
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 16, cfg.BatcherConfig().BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.BatcherConfig().Retry.BaseDelay)
	assert.Equal(t, 1500, cfg.Reassembly.Budget)

	sc := cfg.VectorStoreConfig(cfg.Store.DocumentsIndex)
	assert.Equal(t, vectorstore.BackendBadger, sc.Backend)
	assert.Equal(t, "docs", sc.Index)
	assert.Equal(t, "/tmp/repovec", sc.Path)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(embedder.EnvProvider, "openai")
	t.Setenv(embedder.EnvOpenAIAPIKey, "sk-test")
	t.Setenv(EnvStore, "pinecone")
	t.Setenv(vectorstore.EnvPineconeAPIKey, "pc-test")
	t.Setenv(EnvDocumentsIndex, "repo-docs")
	t.Setenv(EnvIssuesIndex, "repo-issues")
	t.Setenv("GITHUB_TOKEN", "gh-test")

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[store]\nbackend = \"sqlite\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "sk-test", cfg.EmbedderConfig().APIKey)
	assert.Equal(t, "pinecone", cfg.Store.Backend)
	assert.Equal(t, "pc-test", cfg.VectorStoreConfig("x").Pinecone.APIKey)
	assert.Equal(t, "repo-docs", cfg.Store.DocumentsIndex)
	assert.Equal(t, "repo-issues", cfg.Store.IssuesIndex)
	assert.Equal(t, "gh-test", cfg.GitHub.Token)
	assert.Equal(t, 4095, cfg.Ceiling("text-embedding-3-small"))
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[chunking\n"), 0o600))
	_, err := Load(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.toml")
	require.NoError(t, os.WriteFile(invalid, []byte("[chunking]\ncode_chunk_lines = 10\ncode_overlap_lines = 10\n"), 0o600))
	_, err = Load(invalid)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, chunker.ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "bert" }},
		{"zero batch", func(c *Config) { c.Embedding.BatchSize = 0 }},
		{"negative retries", func(c *Config) { c.Embedding.MaxRetries = -1 }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }},
		{"same index", func(c *Config) { c.Store.IssuesIndex = c.Store.DocumentsIndex }},
		{"bad policy", func(c *Config) { c.Budget.OversizePolicy = "drop" }},
		{"negative ceiling", func(c *Config) { c.Budget.Ceiling = -1 }},
		{"bad issue state", func(c *Config) { c.GitHub.State = "merged" }},
		{"zero reassembly budget", func(c *Config) { c.Reassembly.Budget = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Embedding.Provider = embedder.ProviderLocal
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Embedding.Provider = embedder.ProviderJina
	cfg.Store.IssuesIndex = "tickets"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, embedder.ProviderJina, loaded.Embedding.Provider)
	assert.Equal(t, "tickets", loaded.Store.IssuesIndex)
}
