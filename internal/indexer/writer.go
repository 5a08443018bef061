package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dshills/repovec-mcp/internal/vectorstore"
	"github.com/dshills/repovec-mcp/pkg/types"
)

// DefaultUpsertBatchSize is the number of records sent per upsert call
const DefaultUpsertBatchSize = 100

// ErrVectorCountMismatch is returned when chunks and vectors differ in length
var ErrVectorCountMismatch = errors.New("chunk and vector counts differ")

// Writer turns embedded chunks into records and upserts them
type Writer struct {
	store     vectorstore.Store
	batchSize int
	logger    *slog.Logger
}

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithUpsertBatchSize overrides DefaultUpsertBatchSize
func WithUpsertBatchSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithWriterLogger sets the writer's logger
func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWriter creates a Writer over store
func NewWriter(store vectorstore.Store, opts ...WriterOption) *Writer {
	w := &Writer{
		store:     store,
		batchSize: DefaultUpsertBatchSize,
		logger:    slog.Default().With("component", "index_writer"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// BuildRecords pairs chunks with their vectors. Every record is addressed
// <prefix>-<ordinal> and carries the document metadata, the chunk position
// and the chunk text.
func BuildRecords(doc *types.Document, chunks []types.Chunk, vectors [][]float32) ([]vectorstore.Record, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d chunks, %d vectors", ErrVectorCountMismatch, len(chunks), len(vectors))
	}

	prefix := doc.Prefix()
	if prefix == "" {
		return nil, fmt.Errorf("%w: document has no prefix", types.ErrMissingSource)
	}

	records := make([]vectorstore.Record, len(chunks))
	for i := range chunks {
		records[i] = vectorstore.Record{
			ID:       chunks[i].ID(prefix).String(),
			Values:   vectors[i],
			Metadata: types.ChunkMetadata(doc, chunks[i]),
		}
	}
	return records, nil
}

// Write upserts the records of one document in batches and returns the
// number written. No store call is made for zero chunks. When a batch fails
// the records already written for the document are deleted again, so a
// failed document leaves nothing behind unless that delete fails too.
func (w *Writer) Write(ctx context.Context, namespace string, doc *types.Document, chunks []types.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	records, err := BuildRecords(doc, chunks, vectors)
	if err != nil {
		return 0, err
	}

	written := 0
	for start := 0; start < len(records); start += w.batchSize {
		end := min(start+w.batchSize, len(records))
		if err := w.store.Upsert(ctx, namespace, records[start:end]); err != nil {
			err = fmt.Errorf("upsert records %d-%d: %w", start, end-1, err)
			return w.rollback(ctx, namespace, records[:written], err)
		}
		written += end - start
	}

	w.logger.Debug("document written",
		"namespace", namespace,
		"prefix", doc.Prefix(),
		"records", written)

	return written, nil
}

// rollback deletes records after a failed upsert and returns how many remain
func (w *Writer) rollback(ctx context.Context, namespace string, records []vectorstore.Record, cause error) (int, error) {
	if len(records) == 0 {
		return 0, cause
	}
	ids := make([]string, len(records))
	for i := range records {
		ids[i] = records[i].ID
	}
	// The delete must run even when ctx ended the upsert
	if err := w.store.Delete(context.WithoutCancel(ctx), namespace, ids); err != nil {
		w.logger.Error("rollback failed", "namespace", namespace, "records", len(ids), "error", err)
		return len(ids), errors.Join(cause, fmt.Errorf("rollback of %d records: %w", len(ids), err))
	}
	w.logger.Warn("document rolled back", "namespace", namespace, "records", len(ids))
	return 0, cause
}
