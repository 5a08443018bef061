package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Batcher defaults
const (
	DefaultBatchSize       = 100
	DefaultMaxRetries      = 8
	DefaultInterBatchDelay = 100 * time.Millisecond
)

// BatcherConfig controls batching, retrying and throttling
type BatcherConfig struct {
	BatchSize       int           // Texts per provider call, clamped to the provider's MaxBatch
	Retry           RetryPolicy   // Applied to rate limited calls only
	InterBatchDelay time.Duration // Minimum spacing between calls; 0 disables throttling
}

// DefaultBatcherConfig returns batches of 100, 8 retries from 1s, 100ms spacing
func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{
		BatchSize:       DefaultBatchSize,
		Retry:           DefaultRetryPolicy(),
		InterBatchDelay: DefaultInterBatchDelay,
	}
}

// Batcher turns a list of texts into index aligned vectors, splitting the
// work into provider sized batches. It returns all vectors or none.
type Batcher struct {
	embedder  Embedder
	config    BatcherConfig
	batchSize int
	sleeper   Sleeper
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// BatcherOption configures a Batcher
type BatcherOption func(*Batcher)

// WithBatcherConfig replaces the default configuration
func WithBatcherConfig(cfg BatcherConfig) BatcherOption {
	return func(b *Batcher) {
		b.config = cfg
	}
}

// WithSleeper replaces the timer used for backoff waits
func WithSleeper(s Sleeper) BatcherOption {
	return func(b *Batcher) {
		if s != nil {
			b.sleeper = s
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) BatcherOption {
	return func(b *Batcher) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBatcher wraps an Embedder
func NewBatcher(emb Embedder, opts ...BatcherOption) (*Batcher, error) {
	if emb == nil {
		return nil, fmt.Errorf("%w: nil embedder", ErrInvalidInput)
	}

	b := &Batcher{
		embedder: emb,
		config:   DefaultBatcherConfig(),
		sleeper:  TimerSleeper{},
		logger:   slog.Default().With("component", "embedder"),
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.config.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive", ErrInvalidInput)
	}
	if b.config.Retry.MaxRetries < 0 || b.config.Retry.BaseDelay < 0 {
		return nil, fmt.Errorf("%w: retry policy must not be negative", ErrInvalidInput)
	}

	b.batchSize = b.config.BatchSize
	if limit := emb.MaxBatch(); limit > 0 && limit < b.batchSize {
		b.batchSize = limit
	}
	if b.config.InterBatchDelay > 0 {
		b.limiter = rate.NewLimiter(rate.Every(b.config.InterBatchDelay), 1)
	}

	return b, nil
}

// Embedder returns the wrapped provider
func (b *Batcher) Embedder() Embedder {
	return b.embedder
}

// BatchSize returns the effective batch size after clamping
func (b *Batcher) BatchSize() int {
	return b.batchSize
}

// Embed returns one vector per text, in input order
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		batch := texts[start:end]

		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("throttle: %w", err)
			}
		}

		resp, err := retryRateLimited(ctx, b.config.Retry, b.sleeper, b.logger, func() (*BatchEmbeddingResponse, error) {
			return b.embedder.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: batch})
		})
		if err != nil {
			return nil, fmt.Errorf("embed texts %d-%d: %w", start, end-1, err)
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
				ErrProviderFailed, len(resp.Embeddings), len(batch))
		}

		for _, emb := range resp.Embeddings {
			vectors = append(vectors, emb.Vector)
		}

		b.logger.Debug("embedded batch", "from", start, "to", end-1, "total", len(texts))
	}

	return vectors, nil
}
