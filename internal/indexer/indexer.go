package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/repovec-mcp/internal/budget"
	"github.com/dshills/repovec-mcp/internal/chunker"
	"github.com/dshills/repovec-mcp/internal/embedder"
	"github.com/dshills/repovec-mcp/internal/vectorstore"
	"github.com/dshills/repovec-mcp/pkg/types"
)

var (
	// ErrIndexingInProgress is returned when a run is already active on the ingester
	ErrIndexingInProgress = errors.New("indexing already in progress")
	// ErrAllDocumentsFailed is returned when no document of a run could be indexed
	ErrAllDocumentsFailed = errors.New("all documents failed")
	// ErrDuplicatePrefix is recorded for a document whose prefix an earlier
	// document of the same run already wrote
	ErrDuplicatePrefix = errors.New("duplicate prefix")
)

// Ingester runs the write path: split, enforce the token ceiling, embed,
// write. One run at a time per ingester.
type Ingester struct {
	chunker  *chunker.Chunker
	enforcer *budget.Enforcer
	batcher  *embedder.Batcher
	store    vectorstore.Store
	writer   *Writer

	lock     IndexLock
	progress Progress
	last     atomic.Pointer[Statistics]
	logger   *slog.Logger
}

// Failure records a document that could not be indexed
type Failure struct {
	Prefix string `json:"prefix"`
	Error  string `json:"error"`
}

// Statistics contains statistics about one ingestion run
type Statistics struct {
	RunID            string        `json:"run_id"`
	Namespace        string        `json:"namespace"`
	DocumentsIndexed int           `json:"documents_indexed"`
	DocumentsSkipped int           `json:"documents_skipped"`
	DocumentsFailed  int           `json:"documents_failed"`
	ChunksCreated    int           `json:"chunks_created"`
	RecordsWritten   int           `json:"records_written"`
	Duration         time.Duration `json:"duration"`
	Failures         []Failure     `json:"failures,omitempty"`
}

// Progress tracks the active run
type Progress struct {
	TotalDocuments     atomic.Int32
	ProcessedDocuments atomic.Int32
	FailedDocuments    atomic.Int32
	ChunksCreated      atomic.Int32
}

// ProgressSnapshot is a point-in-time copy of Progress
type ProgressSnapshot struct {
	Running            bool `json:"running"`
	TotalDocuments     int  `json:"total_documents"`
	ProcessedDocuments int  `json:"processed_documents"`
	FailedDocuments    int  `json:"failed_documents"`
	ChunksCreated      int  `json:"chunks_created"`
}

// Option configures an Ingester
type Option func(*Ingester)

// WithLogger sets the ingester's logger
func WithLogger(logger *slog.Logger) Option {
	return func(i *Ingester) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithWriter replaces the default Writer over the ingester's store
func WithWriter(w *Writer) Option {
	return func(i *Ingester) {
		if w != nil {
			i.writer = w
		}
	}
}

// New creates an Ingester. All collaborators are required.
func New(c *chunker.Chunker, e *budget.Enforcer, b *embedder.Batcher, store vectorstore.Store, opts ...Option) (*Ingester, error) {
	if c == nil || e == nil || b == nil || store == nil {
		return nil, errors.New("chunker, enforcer, batcher and store are required")
	}

	i := &Ingester{
		chunker:  c,
		enforcer: e,
		batcher:  b,
		store:    store,
		logger:   slog.Default().With("component", "indexer"),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.writer == nil {
		i.writer = NewWriter(store, WithWriterLogger(i.logger))
	}
	return i, nil
}

// Run clears namespace and ingests docs one after another. A document that
// fails is recorded in Statistics.Failures and the run moves on. Run
// returns an error when the clear fails, ctx ends, or every document
// failed; the statistics gathered so far are returned alongside it.
func (i *Ingester) Run(ctx context.Context, namespace string, docs []*types.Document) (*Statistics, error) {
	if !i.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer i.lock.Release()

	start := time.Now()
	stats := &Statistics{
		RunID:     uuid.NewString(),
		Namespace: namespace,
	}
	defer func() {
		stats.Duration = time.Since(start)
		i.last.Store(stats)
	}()

	i.progress.TotalDocuments.Store(int32(len(docs)))
	i.progress.ProcessedDocuments.Store(0)
	i.progress.FailedDocuments.Store(0)
	i.progress.ChunksCreated.Store(0)

	logger := i.logger.With("run_id", stats.RunID, "namespace", namespace)
	logger.Info("ingestion started", "documents", len(docs))

	if err := i.store.DeleteNamespace(ctx, namespace); err != nil {
		return stats, fmt.Errorf("failed to clear namespace %s: %w", namespace, err)
	}

	// prefixes written so far; ids are <prefix>-<ordinal>, so a second
	// document with the same prefix would overwrite the first one's chunks
	written := make(map[string]string)

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		prefix := doc.Prefix()
		var (
			chunks, n int
			err       error
		)
		if first, dup := written[prefix]; dup && prefix != "" {
			err = fmt.Errorf("%w: %s already written by %s", ErrDuplicatePrefix, prefix, first)
		} else {
			chunks, n, err = i.ingest(ctx, namespace, doc)
		}
		i.progress.ProcessedDocuments.Add(1)

		switch {
		case err == nil && n == 0:
			stats.DocumentsSkipped++
		case err == nil:
			written[prefix] = sourceOf(doc)
			stats.DocumentsIndexed++
			stats.ChunksCreated += chunks
			stats.RecordsWritten += n
			i.progress.ChunksCreated.Add(int32(chunks))
		case ctx.Err() != nil:
			return stats, ctx.Err()
		default:
			if n > 0 {
				// records left behind by a failed rollback still own the prefix
				written[prefix] = sourceOf(doc)
			}
			stats.DocumentsFailed++
			stats.Failures = append(stats.Failures, Failure{Prefix: prefix, Error: err.Error()})
			i.progress.FailedDocuments.Add(1)
			logger.Warn("document failed", "prefix", prefix, "error", err)
		}
	}

	logger.Info("ingestion finished",
		"indexed", stats.DocumentsIndexed,
		"skipped", stats.DocumentsSkipped,
		"failed", stats.DocumentsFailed,
		"records", stats.RecordsWritten)

	if stats.DocumentsFailed > 0 && stats.DocumentsFailed == len(docs) {
		return stats, fmt.Errorf("%w: %d of %d (first: %s)",
			ErrAllDocumentsFailed, stats.DocumentsFailed, len(docs), stats.Failures[0].Error)
	}
	return stats, nil
}

// ingest processes one document and returns its chunk and record counts.
// Empty documents are not an error and write nothing.
func (i *Ingester) ingest(ctx context.Context, namespace string, doc *types.Document) (int, int, error) {
	if err := doc.Validate(); err != nil {
		if errors.Is(err, types.ErrEmptyContent) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	chunks := i.enforcer.Enforce(i.chunker.Split(doc.Text, language(doc)))
	if len(chunks) == 0 {
		return 0, 0, nil
	}
	if err := types.ValidateSequence(chunks); err != nil {
		return 0, 0, err
	}

	texts := make([]string, len(chunks))
	for n := range chunks {
		texts[n] = chunks[n].Text
	}

	// Every embedding must succeed before anything is written
	vectors, err := i.batcher.Embed(ctx, texts)
	if err != nil {
		return len(chunks), 0, err
	}

	written, err := i.writer.Write(ctx, namespace, doc, chunks, vectors)
	if err != nil {
		return len(chunks), written, err
	}
	return len(chunks), written, nil
}

// Progress returns a snapshot of the active or most recent run
func (i *Ingester) Progress() ProgressSnapshot {
	return ProgressSnapshot{
		Running:            i.lock.Held(),
		TotalDocuments:     int(i.progress.TotalDocuments.Load()),
		ProcessedDocuments: int(i.progress.ProcessedDocuments.Load()),
		FailedDocuments:    int(i.progress.FailedDocuments.Load()),
		ChunksCreated:      int(i.progress.ChunksCreated.Load()),
	}
}

// LastRun returns the statistics of the most recent finished run, or nil
func (i *Ingester) LastRun() *Statistics {
	return i.last.Load()
}

// sourceOf names a document in duplicate prefix failures
func sourceOf(doc *types.Document) string {
	switch {
	case doc.Code != nil:
		return doc.Code.FilePath
	case doc.Issue != nil:
		return fmt.Sprintf("%s#%d", doc.Issue.Slug, doc.Issue.Number)
	default:
		return doc.Prefix()
	}
}

func language(doc *types.Document) string {
	if doc.Code != nil {
		return doc.Code.Language
	}
	return ""
}
