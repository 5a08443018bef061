package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repovec-mcp/internal/config"
	"github.com/dshills/repovec-mcp/internal/embedder"
)

// run executes the CLI against a config file in a temp dir and returns stdout
func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := newApp()
	a.Writer = &out
	a.ErrWriter = &errOut

	argv := append([]string{"repovec", "--config", cfgPath, "--log-level", "error"}, args...)
	err := a.RunContext(context.Background(), argv)
	return out.String(), err
}

func setupConfig(t *testing.T) string {
	t.Helper()
	for _, env := range []string{
		embedder.EnvProvider, embedder.EnvOpenAIAPIKey, embedder.EnvJinaAPIKey,
		config.EnvStore, config.EnvDBPath, config.EnvDocumentsIndex, config.EnvIssuesIndex,
	} {
		t.Setenv(env, "")
	}

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Embedding.Provider = embedder.ProviderLocal
	cfg.Embedding.InterBatchDelayMS = 0
	cfg.Budget.Tokenizer = "words"
	cfg.Store.Path = filepath.Join(dir, "data", "repovec.db")

	path := filepath.Join(dir, "config.toml")
	require.NoError(t, cfg.Save(path))
	return path
}

func setupRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "guide.md"), []byte("# Guide\n\nRun it.\n"), 0o644))
	return root
}

func TestCLI_IngestAndRead(t *testing.T) {
	cfgPath := setupConfig(t)
	repo := setupRepo(t)

	out, err := run(t, cfgPath, "ingest-repo", "--namespace", "demo", repo)
	require.NoError(t, err)
	var stats map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, float64(2), stats["documents_indexed"])

	out, err = run(t, cfgPath, "prefixes", "-n", "demo")
	require.NoError(t, err)
	assert.Equal(t, "docs_guide.md\nmain.go\n", out)

	out, err = run(t, cfgPath, "fetch", "-n", "demo", "main.go-0", "missing-0")
	require.NoError(t, err)
	var fetched []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &fetched))
	require.Len(t, fetched, 1)
	assert.Equal(t, "main.go-0", fetched[0]["id"])

	out, err = run(t, cfgPath, "fetch-next", "-n", "demo", "main.go-0")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))

	out, err = run(t, cfgPath, "query", "-n", "demo", "-k", "1", "# Guide\n\nRun it.\n")
	require.NoError(t, err)
	var matches []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, "docs_guide.md-0", matches[0]["id"])

	out, err = run(t, cfgPath, "combine", "-n", "demo", "main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc main() {}\n\n", out)

	_, err = run(t, cfgPath, "combine", "-n", "demo", "--budget", "1", "main.go")
	assert.Error(t, err)

	_, err = run(t, cfgPath, "clear", "-n", "demo")
	require.NoError(t, err)
	out, err = run(t, cfgPath, "prefixes", "-n", "demo")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCLI_Errors(t *testing.T) {
	cfgPath := setupConfig(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing namespace", []string{"prefixes"}},
		{"unknown index", []string{"prefixes", "-n", "x", "--index", "wiki"}},
		{"ingest without path", []string{"ingest-repo"}},
		{"fetch without ids", []string{"fetch", "-n", "x"}},
		{"bad slug", []string{"ingest-issues", "not-a-slug"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, cfgPath, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestCLI_InvalidLogLevel(t *testing.T) {
	a := newApp()
	a.Writer = &bytes.Buffer{}
	a.ErrWriter = &bytes.Buffer{}
	err := a.Run([]string{"repovec", "--log-level", "verbose", "version"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestCLI_Version(t *testing.T) {
	out, err := run(t, filepath.Join(t.TempDir(), "none.toml"), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: dev")
	assert.Contains(t, out, "SQLite Driver:")
}

func TestCLI_InitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repovec", "config.toml")

	out, err := run(t, path, "init-config")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)
	assert.FileExists(t, path)

	_, err = run(t, path, "init-config")
	assert.Error(t, err)

	_, err = run(t, path, "init-config", "--force")
	assert.NoError(t, err)
}
