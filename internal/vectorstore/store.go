package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a requested index doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidRecord is returned for records without an id or values
	ErrInvalidRecord = errors.New("invalid record")
	// ErrDimensionMismatch is returned when a vector's length differs from the index
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrUnknownBackend is returned by Open for unsupported backends
	ErrUnknownBackend = errors.New("unknown vector store backend")
)

// DefaultListLimit is the page size used when ListOptions.Limit is zero
const DefaultListLimit = 100

// Record is one stored vector
type Record struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// Match is a query hit. Values are only set when requested.
type Match struct {
	ID       string
	Score    float64
	Values   []float32
	Metadata map[string]any
}

// ListOptions pages through ids
type ListOptions struct {
	Limit           int    // Page size; 0 means DefaultListLimit
	PaginationToken string // Token from the previous page, empty for the first
}

// ListPage is one page of ids in lexicographic order
type ListPage struct {
	IDs       []string
	NextToken string // Empty on the last page
}

// Store is a vector index bound to one index name. Namespaces partition it;
// ids are unique per namespace and an Upsert replaces the previous record.
type Store interface {
	// Upsert writes records, replacing any with the same id
	Upsert(ctx context.Context, namespace string, records []Record) error

	// Query returns the topK records most similar to vector, best first
	Query(ctx context.Context, namespace string, vector []float32, topK int, includeValues bool) ([]Match, error)

	// Fetch returns the records that exist among ids; missing ids are absent
	Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error)

	// List returns one page of ids starting with prefix
	List(ctx context.Context, namespace, prefix string, opts ListOptions) (ListPage, error)

	// Delete removes the records with the given ids; missing ids are ignored
	Delete(ctx context.Context, namespace string, ids []string) error

	// DeleteNamespace removes every record in the namespace
	DeleteNamespace(ctx context.Context, namespace string) error

	// Close releases the backend
	Close() error
}

// ListAll follows pagination tokens and returns every id with the prefix
func ListAll(ctx context.Context, s Store, namespace, prefix string) ([]string, error) {
	var (
		ids   []string
		token string
	)
	for {
		page, err := s.List(ctx, namespace, prefix, ListOptions{PaginationToken: token})
		if err != nil {
			return nil, err
		}
		ids = append(ids, page.IDs...)
		if page.NextToken == "" {
			return ids, nil
		}
		token = page.NextToken
	}
}

// validateRecords checks ids and that every vector has the same length
func validateRecords(records []Record) (int, error) {
	dim := 0
	for i, r := range records {
		if r.ID == "" {
			return 0, fmt.Errorf("%w: record %d has no id", ErrInvalidRecord, i)
		}
		if len(r.Values) == 0 {
			return 0, fmt.Errorf("%w: record %s has no values", ErrInvalidRecord, r.ID)
		}
		if dim == 0 {
			dim = len(r.Values)
		} else if len(r.Values) != dim {
			return 0, fmt.Errorf("%w: record %s has %d values, expected %d",
				ErrDimensionMismatch, r.ID, len(r.Values), dim)
		}
	}
	return dim, nil
}

func listLimit(opts ListOptions) int {
	if opts.Limit <= 0 {
		return DefaultListLimit
	}
	return opts.Limit
}

// Backend names
const (
	BackendSQLite   = "sqlite"
	BackendBadger   = "badger"
	BackendPinecone = "pinecone"
)

// Config selects and configures a backend
type Config struct {
	Backend string
	Index   string // Index name the store is bound to

	// Path is the database file (sqlite) or directory (badger).
	// ":memory:" or an empty path keeps everything in memory.
	Path string

	Pinecone PineconeConfig
}

// Open constructs the configured Store
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Index == "" {
		return nil, fmt.Errorf("index name is required")
	}

	switch strings.ToLower(cfg.Backend) {
	case BackendSQLite, "":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		return asStore(NewSQLiteStore(path, cfg.Index))
	case BackendBadger:
		inMemory := cfg.Path == "" || cfg.Path == ":memory:"
		return asStore(NewBadgerStore(cfg.Path, cfg.Index, inMemory))
	case BackendPinecone:
		return asStore(NewPineconeStore(ctx, cfg.Index, cfg.Pinecone))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

func asStore(s Store, err error) (Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
