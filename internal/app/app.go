package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"

	"github.com/dshills/repovec-mcp/internal/budget"
	"github.com/dshills/repovec-mcp/internal/chunker"
	"github.com/dshills/repovec-mcp/internal/config"
	"github.com/dshills/repovec-mcp/internal/embedder"
	"github.com/dshills/repovec-mcp/internal/indexer"
	"github.com/dshills/repovec-mcp/internal/reassembler"
	"github.com/dshills/repovec-mcp/internal/searcher"
	"github.com/dshills/repovec-mcp/internal/source"
	"github.com/dshills/repovec-mcp/internal/tokenizer"
	"github.com/dshills/repovec-mcp/internal/vectorstore"
	"github.com/dshills/repovec-mcp/pkg/types"
)

// ErrUnknownIndex is returned by IndexFor for names other than documents or issues
var ErrUnknownIndex = errors.New("unknown index")

// Index bundles the store of one index with its write and read paths
type Index struct {
	Name     string
	Kind     types.Kind
	Store    vectorstore.Store
	Ingester *indexer.Ingester
	Reader   *searcher.Reader
}

// App holds every long-lived handle. Both indexes share one embedder so
// vectors cached while ingesting are reused by queries.
type App struct {
	Config      *config.Config
	Embedder    embedder.Embedder
	Tokenizer   tokenizer.Tokenizer
	Reassembler *reassembler.Reassembler
	Documents   *Index
	Issues      *Index

	logger *slog.Logger
}

// Option configures Open
type Option func(*openOptions)

type openOptions struct {
	embedder embedder.Embedder
	sleeper  embedder.Sleeper
	logger   *slog.Logger
}

// WithEmbedder uses e instead of building one from the config
func WithEmbedder(e embedder.Embedder) Option {
	return func(o *openOptions) { o.embedder = e }
}

// WithSleeper replaces the batcher's backoff sleeper
func WithSleeper(s embedder.Sleeper) Option {
	return func(o *openOptions) { o.sleeper = s }
}

// WithLogger sets the logger handed to every component
func WithLogger(logger *slog.Logger) Option {
	return func(o *openOptions) { o.logger = logger }
}

// Open builds the application from cfg. Close releases the stores.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := openOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	emb := o.embedder
	if emb == nil {
		var err error
		emb, err = embedder.New(cfg.EmbedderConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
	}

	tok, err := tokenizer.New(cfg.Budget.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}

	policy, err := budget.ParsePolicy(cfg.Budget.OversizePolicy)
	if err != nil {
		return nil, err
	}
	enforcer, err := budget.New(tok, cfg.Ceiling(emb.Model()),
		budget.WithPolicy(policy), budget.WithLogger(o.logger.With("component", "budget")))
	if err != nil {
		return nil, err
	}

	splitter, err := chunker.New(chunker.WithConfig(cfg.ChunkerConfig()))
	if err != nil {
		return nil, err
	}

	batcherOpts := []embedder.BatcherOption{
		embedder.WithBatcherConfig(cfg.BatcherConfig()),
		embedder.WithLogger(o.logger.With("component", "batcher")),
	}
	if o.sleeper != nil {
		batcherOpts = append(batcherOpts, embedder.WithSleeper(o.sleeper))
	}
	batcher, err := embedder.NewBatcher(emb, batcherOpts...)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:      cfg,
		Embedder:    emb,
		Tokenizer:   tok,
		Reassembler: reassembler.New(tok),
		logger:      o.logger.With("component", "app"),
	}

	build := func(name string, kind types.Kind) (*Index, error) {
		store, err := vectorstore.Open(ctx, storeConfig(cfg, name))
		if err != nil {
			return nil, fmt.Errorf("failed to open %s index: %w", name, err)
		}

		logger := o.logger.With("index", name)
		writer := indexer.NewWriter(store,
			indexer.WithUpsertBatchSize(cfg.Store.UpsertBatchSize),
			indexer.WithWriterLogger(logger.With("component", "writer")))
		ing, err := indexer.New(splitter, enforcer, batcher, store,
			indexer.WithWriter(writer), indexer.WithLogger(logger.With("component", "indexer")))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		reader, err := searcher.NewReader(store, emb, kind,
			searcher.WithFetchPageSize(cfg.Store.FetchPageSize),
			searcher.WithFetchConcurrency(cfg.Store.FetchConcurrency),
			searcher.WithLogger(logger.With("component", "searcher")))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		return &Index{Name: name, Kind: kind, Store: store, Ingester: ing, Reader: reader}, nil
	}

	if a.Documents, err = build(cfg.Store.DocumentsIndex, types.KindCode); err != nil {
		return nil, err
	}
	if a.Issues, err = build(cfg.Store.IssuesIndex, types.KindIssue); err != nil {
		_ = a.Documents.Store.Close()
		return nil, err
	}

	a.logger.Info("application ready",
		"embedder", emb.Provider(), "model", emb.Model(),
		"store", cfg.Store.Backend, "tokenizer", tok.Name(), "ceiling", enforcer.Ceiling())
	return a, nil
}

// storeConfig gives each badger index its own directory, since one badger
// directory can only be opened once
func storeConfig(cfg *config.Config, index string) vectorstore.Config {
	sc := cfg.VectorStoreConfig(index)
	if strings.EqualFold(sc.Backend, vectorstore.BackendBadger) && sc.Path != "" && sc.Path != ":memory:" {
		sc.Path = filepath.Join(sc.Path, index)
	}
	return sc
}

// IndexFor maps "documents", "issues" or an index name to an Index. An
// empty name selects documents.
func (a *App) IndexFor(name string) (*Index, error) {
	switch name {
	case "", "documents", a.Documents.Name:
		return a.Documents, nil
	case "issues", a.Issues.Name:
		return a.Issues, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndex, name)
	}
}

// RepoLoader returns a loader restricted to include. An empty include
// loads every text file, or only source.DefaultCodeGlobs when codeOnly is set.
func (a *App) RepoLoader(include []string, codeOnly bool) (*source.RepoLoader, error) {
	return source.NewRepoLoader(source.RepoOptions{Include: include, CodeOnly: codeOnly})
}

// IssueLoader returns a GitHub loader configured from [github]
func (a *App) IssueLoader(ctx context.Context) (*source.IssueLoader, error) {
	var opts []source.IssueOption
	if a.Config.GitHub.BaseURL != "" {
		opts = append(opts, source.WithGitHubBaseURL(a.Config.GitHub.BaseURL))
	}
	if a.Config.GitHub.State != "" {
		opts = append(opts, source.WithIssueState(a.Config.GitHub.State))
	}
	if a.Config.GitHub.RequestsPerSecond > 0 {
		opts = append(opts, source.WithRequestRate(rate.Limit(a.Config.GitHub.RequestsPerSecond)))
	}
	return source.NewIssueLoader(ctx, a.Config.GitHub.Token, opts...)
}

// Close closes both stores
func (a *App) Close() error {
	return errors.Join(a.Documents.Store.Close(), a.Issues.Store.Close())
}
