package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/repovec-mcp/internal/embedder"
	"github.com/dshills/repovec-mcp/internal/vectorstore"
	"github.com/dshills/repovec-mcp/pkg/types"
)

const (
	// DefaultTopK is the number of matches a query returns when TopK is unset
	DefaultTopK = 3
	// DefaultFetchPageSize is the number of ids fetched per store call
	DefaultFetchPageSize = 100
	// DefaultFetchConcurrency bounds parallel fetches of one prefix
	DefaultFetchConcurrency = 4

	queryCacheSize = 1000
)

var (
	// ErrEmptyQuery is returned for blank query text
	ErrEmptyQuery = errors.New("query text is required")
	// ErrEmptyPrefix is returned when a prefix fetch has no prefix
	ErrEmptyPrefix = errors.New("prefix is required")
)

// QueryRequest contains parameters for a semantic query
type QueryRequest struct {
	Text          string
	TopK          int // 0 means DefaultTopK
	Namespace     string
	IncludeValues bool
}

// Reader answers queries and fetches against one index. Every result is
// decoded with the metadata schema of the reader's kind.
type Reader struct {
	store    vectorstore.Store
	embedder embedder.Embedder
	kind     types.Kind

	// Query vectors keyed by sha256 of the query text
	queryCache *lru.Cache[[32]byte, []float32]

	pageSize    int
	concurrency int
	logger      *slog.Logger
}

// Option configures a Reader
type Option func(*Reader)

// WithFetchPageSize sets how many ids each fetch call carries
func WithFetchPageSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithFetchConcurrency bounds concurrent fetch calls
func WithFetchConcurrency(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the reader's logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReader creates a Reader. The embedder is only needed for Query and
// may be nil for fetch-only use.
func NewReader(store vectorstore.Store, emb embedder.Embedder, kind types.Kind, opts ...Option) (*Reader, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownKind, kind)
	}

	cache, err := lru.New[[32]byte, []float32](queryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	r := &Reader{
		store:       store,
		embedder:    emb,
		kind:        kind,
		queryCache:  cache,
		pageSize:    DefaultFetchPageSize,
		concurrency: DefaultFetchConcurrency,
		logger:      slog.Default().With("component", "searcher", "kind", string(kind)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Kind returns the metadata schema the reader decodes with
func (r *Reader) Kind() types.Kind {
	return r.kind
}

// Query embeds the request text and returns the closest chunks, best first
func (r *Reader) Query(ctx context.Context, req QueryRequest) ([]types.SearchResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyQuery
	}
	if r.embedder == nil {
		return nil, errors.New("embedder not initialized")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	vector, err := r.queryVector(ctx, req.Text)
	if err != nil {
		return nil, err
	}

	matches, err := r.store.Query(ctx, req.Namespace, vector, topK, req.IncludeValues)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	results := make([]types.SearchResult, 0, len(matches))
	for _, m := range matches {
		score := m.Score
		res, err := r.toResult(m.ID, &score, m.Metadata, m.Values)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	r.logger.Debug("query", "namespace", req.Namespace, "top_k", topK, "results", len(results))
	return results, nil
}

func (r *Reader) queryVector(ctx context.Context, text string) ([]float32, error) {
	key := sha256.Sum256([]byte(r.embedder.Model() + "\x00" + text))
	if v, ok := r.queryCache.Get(key); ok {
		return v, nil
	}

	emb, err := r.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	r.queryCache.Add(key, emb.Vector)
	return emb.Vector, nil
}

// FetchByIDs returns the chunks stored under ids in request order. Ids that
// do not exist are left out.
func (r *Reader) FetchByIDs(ctx context.Context, ids []string, namespace string, includeValues bool) ([]types.SearchResult, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return []types.SearchResult{}, nil
	}

	records, err := r.fetchPaged(ctx, namespace, ids)
	if err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, 0, len(records))
	for _, id := range ids {
		rec, ok := records[id]
		if !ok {
			continue
		}
		var values []float32
		if includeValues {
			values = rec.Values
		}
		res, err := r.toResult(id, nil, rec.Metadata, values)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// FetchByPrefix returns every chunk of the document with the given prefix,
// ordered by ordinal. Ids are listed under prefix+"-" and then filtered on
// their parsed prefix, so "foo" never picks up the chunks of "foo-12".
func (r *Reader) FetchByPrefix(ctx context.Context, prefix, namespace string) ([]types.SearchResult, error) {
	if prefix == "" {
		return nil, ErrEmptyPrefix
	}

	listed, err := vectorstore.ListAll(ctx, r.store, namespace, prefix+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to list prefix %s: %w", prefix, err)
	}

	ids := make([]string, 0, len(listed))
	for _, id := range listed {
		if p, ok := types.PrefixOf(id); ok && p == prefix {
			ids = append(ids, id)
		}
	}

	results, err := r.FetchByIDs(ctx, ids, namespace, false)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ID.Ordinal < results[j].ID.Ordinal
	})
	return results, nil
}

// FetchNext returns the chunk after id, or nil when id is the last chunk
func (r *Reader) FetchNext(ctx context.Context, id, namespace string) (*types.SearchResult, error) {
	cid, err := types.ParseChunkID(id)
	if err != nil {
		return nil, err
	}

	results, err := r.FetchByIDs(ctx, []string{cid.Next().String()}, namespace, false)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// ListPrefixes returns the sorted distinct document prefixes in namespace
func (r *Reader) ListPrefixes(ctx context.Context, namespace string) ([]string, error) {
	ids, err := vectorstore.ListAll(ctx, r.store, namespace, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list ids: %w", err)
	}

	seen := make(map[string]struct{})
	prefixes := make([]string, 0)
	for _, id := range ids {
		p, ok := types.PrefixOf(id)
		if !ok {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	return prefixes, nil
}

// fetchPaged splits ids into pages and fetches them concurrently
func (r *Reader) fetchPaged(ctx context.Context, namespace string, ids []string) (map[string]vectorstore.Record, error) {
	if len(ids) <= r.pageSize {
		records, err := r.store.Fetch(ctx, namespace, ids)
		if err != nil {
			return nil, fmt.Errorf("fetch failed: %w", err)
		}
		return records, nil
	}

	pages := make([]map[string]vectorstore.Record, (len(ids)+r.pageSize-1)/r.pageSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for p := range pages {
		start := p * r.pageSize
		part := ids[start:min(start+r.pageSize, len(ids))]
		g.Go(func() error {
			records, err := r.store.Fetch(gctx, namespace, part)
			if err != nil {
				return err
			}
			pages[p] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	out := make(map[string]vectorstore.Record, len(ids))
	for _, page := range pages {
		for id, rec := range page {
			out[id] = rec
		}
	}
	return out, nil
}

// toResult strips the chunk text from stored metadata and decodes the rest
// with the reader's schema
func (r *Reader) toResult(id string, score *float64, meta map[string]any, values []float32) (types.SearchResult, error) {
	cid, err := types.ParseChunkID(id)
	if err != nil {
		return types.SearchResult{}, err
	}

	text, rest := types.SplitText(meta)
	res := types.SearchResult{ID: cid, Score: score, Text: text, Values: values}

	switch r.kind {
	case types.KindCode:
		res.Code, err = types.DecodeCodeMetadata(id, score, rest)
	case types.KindIssue:
		res.Issue, err = types.DecodeIssueMetadata(id, score, rest)
	}
	if err != nil {
		return types.SearchResult{}, err
	}
	return res, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
