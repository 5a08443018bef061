package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repovec-mcp/internal/budget"
	"github.com/dshills/repovec-mcp/internal/chunker"
	"github.com/dshills/repovec-mcp/internal/embedder"
	"github.com/dshills/repovec-mcp/internal/tokenizer"
	"github.com/dshills/repovec-mcp/internal/vectorstore"
	"github.com/dshills/repovec-mcp/pkg/types"
)

// stubEmbedder embeds each text as [1, len(text)]. Texts containing
// failMarker fail with failErr; block, when set, is waited on before
// every call.
type stubEmbedder struct {
	mu         sync.Mutex
	calls      int
	failMarker string
	failErr    error
	entered    chan struct{}
	block      chan struct{}
}

func (s *stubEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	resp, err := s.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (s *stubEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	out := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		if s.failMarker != "" && strings.Contains(text, s.failMarker) {
			return nil, s.failErr
		}
		out[i] = &embedder.Embedding{Vector: []float32{1, float32(len(text))}, Dimension: 2}
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: out}, nil
}

func (s *stubEmbedder) MaxBatch() int    { return 100 }
func (s *stubEmbedder) Dimension() int   { return 2 }
func (s *stubEmbedder) Provider() string { return "stub" }
func (s *stubEmbedder) Model() string    { return "stub" }
func (s *stubEmbedder) Close() error     { return nil }

// countingStore wraps a Store and counts calls
type countingStore struct {
	vectorstore.Store
	mu        sync.Mutex
	upserts   [][]vectorstore.Record
	deletes   []string
	deleteErr error

	// failUpsert makes the n-th upsert call (1-based) fail
	failUpsert int
	deletedIDs []string
}

func (c *countingStore) Upsert(ctx context.Context, namespace string, records []vectorstore.Record) error {
	c.mu.Lock()
	c.upserts = append(c.upserts, records)
	fail := c.failUpsert > 0 && len(c.upserts) == c.failUpsert
	c.mu.Unlock()
	if fail {
		return errors.New("upsert rejected")
	}
	return c.Store.Upsert(ctx, namespace, records)
}

func (c *countingStore) Delete(ctx context.Context, namespace string, ids []string) error {
	c.mu.Lock()
	c.deletedIDs = append(c.deletedIDs, ids...)
	c.mu.Unlock()
	return c.Store.Delete(ctx, namespace, ids)
}

func (c *countingStore) DeleteNamespace(ctx context.Context, namespace string) error {
	c.mu.Lock()
	c.deletes = append(c.deletes, namespace)
	c.mu.Unlock()
	if c.deleteErr != nil {
		return c.deleteErr
	}
	return c.Store.DeleteNamespace(ctx, namespace)
}

func newStore(t *testing.T) *countingStore {
	t.Helper()
	s, err := vectorstore.NewSQLiteStore(":memory:", "test-index")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return &countingStore{Store: s}
}

func newIngester(t *testing.T, emb embedder.Embedder, store vectorstore.Store) *Ingester {
	t.Helper()

	chk, err := chunker.New()
	require.NoError(t, err)
	enf, err := budget.New(tokenizer.Words{}, 4095)
	require.NoError(t, err)
	batcher, err := embedder.NewBatcher(emb,
		embedder.WithBatcherConfig(embedder.BatcherConfig{
			BatchSize: 100,
			Retry:     embedder.RetryPolicy{MaxRetries: 2, BaseDelay: time.Second},
		}),
		embedder.WithSleeper(embedder.SleeperFunc(func(context.Context, time.Duration) error { return nil })),
	)
	require.NoError(t, err)

	ing, err := New(chk, enf, batcher, store)
	require.NoError(t, err)
	return ing
}

func numberedLines(n int, word string) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("%s line %d", word, i+1)
	}
	return strings.Join(lines, "\n")
}

func TestBuildRecords(t *testing.T) {
	doc := types.NewCodeDocument("a\nb", "src/app/main.py", "/repo/src/app/main.py", "py")
	chunks := []types.Chunk{
		{Ordinal: 0, TotalChunks: 2, Text: "a"},
		{Ordinal: 1, TotalChunks: 2, Text: "b"},
	}

	records, err := BuildRecords(doc, chunks, [][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "src_app_main.py-0", records[0].ID)
	assert.Equal(t, "src_app_main.py-1", records[1].ID)
	assert.Equal(t, "b", records[1].Metadata[types.MetaText])
	assert.Equal(t, 1, records[1].Metadata[types.MetaChunkIndex])
	assert.Equal(t, 2, records[1].Metadata[types.MetaTotalChunks])
	assert.Equal(t, "src/app/main.py", records[1].Metadata["file_path"])
	assert.NotContains(t, records[1].Metadata, "source")

	_, err = BuildRecords(doc, chunks, [][]float32{{1, 0}})
	assert.ErrorIs(t, err, ErrVectorCountMismatch)
}

func TestWriter_BatchesUpserts(t *testing.T) {
	store := newStore(t)
	w := NewWriter(store)

	doc := types.NewCodeDocument("x", "big.txt", "", "txt")
	chunks := make([]types.Chunk, 250)
	vectors := make([][]float32, 250)
	for i := range chunks {
		chunks[i] = types.Chunk{Ordinal: i, TotalChunks: 250, Text: fmt.Sprintf("chunk %d", i)}
		vectors[i] = []float32{1, float32(i)}
	}

	n, err := w.Write(context.Background(), "ns", doc, chunks, vectors)
	require.NoError(t, err)
	assert.Equal(t, 250, n)

	require.Len(t, store.upserts, 3)
	assert.Len(t, store.upserts[0], 100)
	assert.Len(t, store.upserts[1], 100)
	assert.Len(t, store.upserts[2], 50)
}

func TestWriter_ZeroChunksMakesNoCall(t *testing.T) {
	store := newStore(t)
	w := NewWriter(store, WithUpsertBatchSize(10))

	n, err := w.Write(context.Background(), "ns", types.NewCodeDocument("", "a.go", "", "go"), nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.upserts)
}

func TestWriter_FailedBatchRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	store.failUpsert = 3
	w := NewWriter(store, WithUpsertBatchSize(2))

	doc := types.NewCodeDocument("x", "big.txt", "", "txt")
	chunks := make([]types.Chunk, 5)
	vectors := make([][]float32, 5)
	for i := range chunks {
		chunks[i] = types.Chunk{Ordinal: i, TotalChunks: 5, Text: fmt.Sprintf("chunk %d", i)}
		vectors[i] = []float32{1, float32(i)}
	}

	n, err := w.Write(ctx, "ns", doc, chunks, vectors)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert rejected")
	assert.Zero(t, n)
	assert.Equal(t, []string{"big.txt-0", "big.txt-1", "big.txt-2", "big.txt-3"}, store.deletedIDs)

	ids, err := vectorstore.ListAll(ctx, store, "ns", "")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestWriter_FirstBatchFailureDeletesNothing(t *testing.T) {
	store := newStore(t)
	store.failUpsert = 1
	w := NewWriter(store, WithUpsertBatchSize(2))

	doc := types.NewCodeDocument("x", "a.txt", "", "txt")
	chunks := []types.Chunk{{Ordinal: 0, TotalChunks: 1, Text: "a"}}

	_, err := w.Write(context.Background(), "ns", doc, chunks, [][]float32{{1, 0}})
	require.Error(t, err)
	assert.Empty(t, store.deletedIDs)
}

func TestRun_DuplicatePrefixFails(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	docs := []*types.Document{
		types.NewCodeDocument(numberedLines(1000, "nested"), "a/b.md", "", "md"),
		types.NewCodeDocument(numberedLines(10, "flat"), "a_b.md", "", "md"),
		types.NewCodeDocument("other", "c.md", "", "md"),
	}

	stats, err := newIngester(t, &stubEmbedder{}, store).Run(ctx, "ns", docs)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.DocumentsIndexed)
	assert.Equal(t, 1, stats.DocumentsFailed)
	require.Len(t, stats.Failures, 1)
	assert.Equal(t, "a_b.md", stats.Failures[0].Prefix)
	assert.Contains(t, stats.Failures[0].Error, ErrDuplicatePrefix.Error())
	assert.Contains(t, stats.Failures[0].Error, "a/b.md")

	ids, err := vectorstore.ListAll(ctx, store, "ns", "a_b.md-")
	require.NoError(t, err)
	require.Greater(t, len(ids), 1)
	records, err := store.Fetch(ctx, "ns", ids)
	require.NoError(t, err)
	for _, r := range records {
		assert.Equal(t, "a/b.md", r.Metadata["file_path"], r.ID)
		assert.Equal(t, float64(len(ids)), r.Metadata[types.MetaTotalChunks], r.ID)
	}

	all, err := vectorstore.ListAll(ctx, store, "ns", "")
	require.NoError(t, err)
	assert.Len(t, all, stats.RecordsWritten)
}

func TestRun_ClearsThenIngests(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Store.Upsert(ctx, "repo", []vectorstore.Record{{ID: "stale-0", Values: []float32{1, 1}}}))

	docs := []*types.Document{
		types.NewCodeDocument(numberedLines(20, "alpha"), "pkg/alpha.go", "", "go"),
		types.NewCodeDocument(numberedLines(1000, "notes"), "docs/notes.txt", "", "txt"),
		types.NewCodeDocument(numberedLines(5, "readme"), "README.md", "", "md"),
	}

	ing := newIngester(t, &stubEmbedder{}, store)
	stats, err := ing.Run(ctx, "repo", docs)
	require.NoError(t, err)

	assert.Equal(t, []string{"repo"}, store.deletes)
	assert.NotEmpty(t, stats.RunID)
	assert.Equal(t, 3, stats.DocumentsIndexed)
	assert.Zero(t, stats.DocumentsFailed)
	assert.Equal(t, stats.ChunksCreated, stats.RecordsWritten)

	stale, err := store.Fetch(ctx, "repo", []string{"stale-0"})
	require.NoError(t, err)
	assert.Empty(t, stale)

	all, err := vectorstore.ListAll(ctx, store, "repo", "")
	require.NoError(t, err)
	assert.Len(t, all, stats.RecordsWritten)

	ids, err := vectorstore.ListAll(ctx, store, "repo", "docs_notes.txt-")
	require.NoError(t, err)
	require.Greater(t, len(ids), 1)

	records, err := store.Fetch(ctx, "repo", ids)
	require.NoError(t, err)
	for _, r := range records {
		assert.Equal(t, float64(len(ids)), r.Metadata[types.MetaTotalChunks], r.ID)
	}

	single, err := vectorstore.ListAll(ctx, store, "repo", "pkg_alpha.go-")
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg_alpha.go-0"}, single)

	assert.Same(t, stats, ing.LastRun())
	progress := ing.Progress()
	assert.False(t, progress.Running)
	assert.Equal(t, 3, progress.ProcessedDocuments)
}

func TestRun_IssuePrefix(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	doc := types.NewIssueDocument(types.IssueInfo{
		Title:     "Crash on start",
		Author:    "octocat",
		CreatedAt: "2024-01-02T03:04:05Z",
		State:     "open",
		Number:    7,
		Slug:      "owner/repo",
		Labels:    []string{"bug"},
	}, "stack trace here")

	stats, err := newIngester(t, &stubEmbedder{}, store).Run(ctx, "owner/repo", []*types.Document{doc})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DocumentsIndexed)

	got, err := store.Fetch(ctx, "owner/repo", []string{"octocat_2024-01-02T03:04:05Z-0"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	r := got["octocat_2024-01-02T03:04:05Z-0"]
	assert.Equal(t, "Crash on start:\nstack trace here", r.Metadata[types.MetaText])
	assert.Equal(t, "owner/repo", r.Metadata["slug"])
}

func TestRun_SkipAndContinue(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	emb := &stubEmbedder{failMarker: "BROKEN", failErr: fmt.Errorf("%w: api error 500", embedder.ErrProviderFailed)}

	docs := []*types.Document{
		types.NewCodeDocument("fine one", "a.py", "", "py"),
		types.NewCodeDocument("BROKEN content", "b.py", "", "py"),
		types.NewCodeDocument("fine two", "c.py", "", "py"),
		types.NewCodeDocument("   ", "empty.py", "", "py"),
	}

	stats, err := newIngester(t, emb, store).Run(ctx, "ns", docs)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.DocumentsIndexed)
	assert.Equal(t, 1, stats.DocumentsSkipped)
	assert.Equal(t, 1, stats.DocumentsFailed)
	require.Len(t, stats.Failures, 1)
	assert.Equal(t, "b.py", stats.Failures[0].Prefix)
	assert.Contains(t, stats.Failures[0].Error, "api error 500")

	failed, err := vectorstore.ListAll(ctx, store, "ns", "b.py-")
	require.NoError(t, err)
	assert.Empty(t, failed)

	ids, err := vectorstore.ListAll(ctx, store, "ns", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py-0", "c.py-0"}, ids)
}

func TestRun_RateLimitRetriesExhausted(t *testing.T) {
	store := newStore(t)
	emb := &stubEmbedder{failMarker: "x", failErr: &embedder.RateLimitError{Provider: "stub"}}

	stats, err := newIngester(t, emb, store).Run(context.Background(), "ns", []*types.Document{
		types.NewCodeDocument("x", "only.go", "", "go"),
	})
	require.ErrorIs(t, err, ErrAllDocumentsFailed)
	require.NotNil(t, stats)
	require.Len(t, stats.Failures, 1)
	assert.Contains(t, stats.Failures[0].Error, embedder.ErrRetriesExhausted.Error())
	// first call plus two retries
	assert.Equal(t, 3, emb.calls)
}

func TestRun_ClearFailureAborts(t *testing.T) {
	store := newStore(t)
	store.deleteErr = errors.New("store offline")

	stats, err := newIngester(t, &stubEmbedder{}, store).Run(context.Background(), "ns", []*types.Document{
		types.NewCodeDocument("content", "a.go", "", "go"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store offline")
	assert.Zero(t, stats.DocumentsIndexed)
	assert.Empty(t, store.upserts)
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	store := newStore(t)
	emb := &stubEmbedder{entered: make(chan struct{}, 1), block: make(chan struct{})}
	ing := newIngester(t, emb, store)

	docs := []*types.Document{types.NewCodeDocument("content", "a.go", "", "go")}

	done := make(chan error, 1)
	go func() {
		_, err := ing.Run(context.Background(), "ns", docs)
		done <- err
	}()

	<-emb.entered
	assert.True(t, ing.Progress().Running)

	_, err := ing.Run(context.Background(), "ns", docs)
	assert.ErrorIs(t, err, ErrIndexingInProgress)

	close(emb.block)
	require.NoError(t, <-done)

	// the lock is free again
	_, err = ing.Run(context.Background(), "ns", docs)
	assert.NoError(t, err)
}

func TestRun_ContextCancelled(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newIngester(t, &stubEmbedder{}, store).Run(ctx, "ns", []*types.Document{
		types.NewCodeDocument("content", "a.go", "", "go"),
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIndexLock(t *testing.T) {
	var l IndexLock
	assert.True(t, l.TryAcquire())
	assert.True(t, l.Held())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.False(t, l.Held())
	assert.True(t, l.TryAcquire())
}
