package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dshills/repovec-mcp/pkg/types"
)

// SQLiteStore implements Store on a SQLite database. Several indexes can
// share one database file; each store only sees rows of its own index.
type SQLiteStore struct {
	db    *sql.DB
	index string
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// A single connection also keeps ":memory:" databases alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStore opens (or creates) the database at dbPath and binds the
// store to index
func NewSQLiteStore(dbPath, index string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db, index: index}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Index returns the index name the store is bound to
func (s *SQLiteStore) Index() string {
	return s.index
}

// Upsert writes all records in one transaction
func (s *SQLiteStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	dim, err := validateRecords(records)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.checkDimension(ctx, tx, dim); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (index_name, namespace, id, prefix, ordinal, vector, dimension, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(index_name, namespace, id) DO UPDATE SET
			prefix = excluded.prefix,
			ordinal = excluded.ordinal,
			vector = excluded.vector,
			dimension = excluded.dimension,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now()
	for _, r := range records {
		meta, err := encodeMetadata(r.Metadata)
		if err != nil {
			return fmt.Errorf("record %s: %w", r.ID, err)
		}
		prefix, ordinal := splitID(r.ID)
		if _, err := stmt.ExecContext(ctx, s.index, namespace, r.ID, prefix, ordinal,
			serializeVector(r.Values), len(r.Values), meta, now); err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// checkDimension records the index dimension on first use and rejects
// vectors of any other length afterwards
func (s *SQLiteStore) checkDimension(ctx context.Context, q querier, dim int) error {
	var existing int
	err := q.QueryRowContext(ctx, "SELECT dimension FROM index_meta WHERE index_name = ?", s.index).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = q.ExecContext(ctx, "INSERT INTO index_meta (index_name, dimension) VALUES (?, ?)", s.index, dim)
		if err != nil {
			return fmt.Errorf("failed to record index dimension: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index dimension: %w", err)
	}
	if existing != dim {
		return fmt.Errorf("%w: index %s has dimension %d, got %d", ErrDimensionMismatch, s.index, existing, dim)
	}
	return nil
}

// Query returns the topK most similar records
func (s *SQLiteStore) Query(ctx context.Context, namespace string, vector []float32, topK int, includeValues bool) ([]Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidRecord)
	}

	candidates, err := searchVector(ctx, s.db, s.index, namespace, vector, topK)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []Match{}, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	records, err := s.Fetch(ctx, namespace, ids)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		r, ok := records[c.id]
		if !ok {
			continue
		}
		m := Match{ID: c.id, Score: c.score, Metadata: r.Metadata}
		if includeValues {
			m.Values = r.Values
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Fetch loads records by id
func (s *SQLiteStore) Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error) {
	out := make(map[string]Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	// Stay well below SQLite's host parameter limit
	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		part := ids[start:min(start+chunk, len(ids))]

		args := make([]interface{}, 0, len(part)+2)
		args = append(args, s.index, namespace)
		for _, id := range part {
			args = append(args, id)
		}

		query := `SELECT id, vector, metadata FROM records WHERE index_name = ? AND namespace = ? AND id IN (` +
			strings.TrimSuffix(strings.Repeat("?,", len(part)), ",") + `)`

		if err := s.scanRecords(ctx, query, args, out); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func (s *SQLiteStore) scanRecords(ctx context.Context, query string, args []interface{}, out map[string]Record) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to fetch records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id   string
			blob []byte
			meta string
		)
		if err := rows.Scan(&id, &blob, &meta); err != nil {
			return fmt.Errorf("failed to scan record: %w", err)
		}
		decoded, err := decodeMetadata(meta)
		if err != nil {
			return fmt.Errorf("record %s: %w", id, err)
		}
		out[id] = Record{ID: id, Values: deserializeVector(blob), Metadata: decoded}
	}
	return rows.Err()
}

// List pages through ids with the given prefix in lexicographic order.
// The pagination token is the last id of the previous page.
func (s *SQLiteStore) List(ctx context.Context, namespace, prefix string, opts ListOptions) (ListPage, error) {
	limit := listLimit(opts)

	// Fetch one extra row to learn whether another page exists
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM records
		WHERE index_name = ? AND namespace = ? AND substr(id, 1, ?) = ? AND id > ?
		ORDER BY id
		LIMIT ?
	`, s.index, namespace, utf8.RuneCountInString(prefix), prefix, opts.PaginationToken, limit+1)
	if err != nil {
		return ListPage{}, fmt.Errorf("failed to list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return ListPage{}, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return ListPage{}, err
	}

	page := ListPage{IDs: ids}
	if len(ids) > limit {
		page.IDs = ids[:limit]
		page.NextToken = ids[limit-1]
	}
	return page, nil
}

// Delete removes records by id in one transaction
func (s *SQLiteStore) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		part := ids[start:min(start+chunk, len(ids))]

		args := make([]interface{}, 0, len(part)+2)
		args = append(args, s.index, namespace)
		for _, id := range part {
			args = append(args, id)
		}

		query := `DELETE FROM records WHERE index_name = ? AND namespace = ? AND id IN (` +
			strings.TrimSuffix(strings.Repeat("?,", len(part)), ",") + `)`
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to delete records: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteNamespace removes every record of the namespace in this index
func (s *SQLiteStore) DeleteNamespace(ctx context.Context, namespace string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE index_name = ? AND namespace = ?", s.index, namespace); err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", namespace, err)
	}
	return nil
}

// Count returns the number of records in a namespace
func (s *SQLiteStore) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE index_name = ? AND namespace = ?", s.index, namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// splitID returns the prefix and ordinal of a <prefix>-<ordinal> id, or the
// id itself and -1 for ids of another shape
func splitID(id string) (string, int) {
	cid, err := types.ParseChunkID(id)
	if err != nil {
		return id, -1
	}
	return cid.Prefix, cid.Ordinal
}

func encodeMetadata(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]any, error) {
	meta := make(map[string]any)
	if s == "" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(s), &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return meta, nil
}
