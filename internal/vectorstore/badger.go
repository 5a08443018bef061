package vectorstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// recordKeyPrefix starts every record key: rv:<index>:<namespace>:<id>
const recordKeyPrefix = "rv"

// BadgerStore implements Store on an embedded BadgerDB. Keys sort by id
// within a namespace, so List is a bounded prefix scan.
type BadgerStore struct {
	db     *badger.DB
	index  string
	logger *slog.Logger
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

// NewBadgerStore opens a BadgerDB at dir, creating the directory if needed
func NewBadgerStore(dir, index string, inMemory bool) (*BadgerStore, error) {
	logger := slog.Default().With("component", "badger", "index", index)

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
		info, err := os.Stat(dir)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", dir)
		}
		opts = badger.DefaultOptions(dir)
	}

	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &BadgerStore{db: db, index: index, logger: logger}, nil
}

// Close closes the BadgerDB database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// namespacePrefix is the key prefix shared by all records of a namespace
func (b *BadgerStore) namespacePrefix(namespace string) []byte {
	return []byte(recordKeyPrefix + ":" + escapeKeyPart(b.index) + ":" + escapeKeyPart(namespace) + ":")
}

func (b *BadgerStore) recordKey(namespace, id string) []byte {
	return append(b.namespacePrefix(namespace), id...)
}

// escapeKeyPart keeps ':' out of key segments so a namespace can never
// reach into another's key range
func escapeKeyPart(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	return strings.ReplaceAll(s, ":", "%3A")
}

// Upsert writes records in a single write batch
func (b *BadgerStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	dim, err := validateRecords(records)
	if err != nil {
		return err
	}
	if err := b.checkDimension(dim); err != nil {
		return err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		value, err := encodeBadgerValue(r)
		if err != nil {
			return fmt.Errorf("record %s: %w", r.ID, err)
		}
		if err := wb.Set(b.recordKey(namespace, r.ID), value); err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", r.ID, err)
		}
	}

	return wb.Flush()
}

// checkDimension stores the index dimension under rvmeta:<index> on first
// use and rejects any other length afterwards
func (b *BadgerStore) checkDimension(dim int) error {
	key := []byte("rvmeta:" + escapeKeyPart(b.index))

	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			buf := make([]byte, 4)
			binary.BigEndian.PutUint32(buf, uint32(dim))
			return txn.Set(key, buf)
		}
		if err != nil {
			return fmt.Errorf("failed to read index dimension: %w", err)
		}
		return item.Value(func(val []byte) error {
			if len(val) != 4 {
				return fmt.Errorf("corrupt dimension entry for index %s", b.index)
			}
			if existing := int(binary.BigEndian.Uint32(val)); existing != dim {
				return fmt.Errorf("%w: index %s has dimension %d, got %d", ErrDimensionMismatch, b.index, existing, dim)
			}
			return nil
		})
	})
}

// Query scans the namespace and ranks by cosine similarity
func (b *BadgerStore) Query(ctx context.Context, namespace string, vector []float32, topK int, includeValues bool) ([]Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidRecord)
	}

	all := make(map[string]Record)
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := b.namespacePrefix(namespace)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id := string(item.Key()[len(prefix):])
			err := item.Value(func(val []byte) error {
				r, err := decodeBadgerValue(id, val)
				if err != nil {
					return err
				}
				all[id] = r
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan namespace: %w", err)
	}

	vectors := make(map[string][]float32, len(all))
	for id, r := range all {
		vectors[id] = r.Values
	}

	candidates := topCandidates(vectors, vector, topK)
	matches := make([]Match, len(candidates))
	for i, c := range candidates {
		r := all[c.id]
		matches[i] = Match{ID: c.id, Score: c.score, Metadata: r.Metadata}
		if includeValues {
			matches[i].Values = r.Values
		}
	}
	return matches, nil
}

// Fetch loads records by key; missing ids are skipped
func (b *BadgerStore) Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error) {
	out := make(map[string]Record, len(ids))

	err := b.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			item, err := txn.Get(b.recordKey(namespace, id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			err = item.Value(func(val []byte) error {
				r, err := decodeBadgerValue(id, val)
				if err != nil {
					return err
				}
				out[id] = r
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}

	return out, nil
}

// List walks keys in order. The pagination token is the last id returned.
func (b *BadgerStore) List(ctx context.Context, namespace, prefix string, opts ListOptions) (ListPage, error) {
	limit := listLimit(opts)
	nsPrefix := b.namespacePrefix(namespace)

	var page ListPage
	err := b.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.PrefetchValues = false
		iopts.Prefix = append(append([]byte{}, nsPrefix...), prefix...)
		it := txn.NewIterator(iopts)
		defer it.Close()

		start := iopts.Prefix
		if opts.PaginationToken != "" {
			start = b.recordKey(namespace, opts.PaginationToken)
		}

		for it.Seek(start); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := string(it.Item().Key()[len(nsPrefix):])
			if id == opts.PaginationToken {
				continue
			}
			if len(page.IDs) == limit {
				page.NextToken = page.IDs[limit-1]
				return nil
			}
			page.IDs = append(page.IDs, id)
		}
		return nil
	})
	if err != nil {
		return ListPage{}, fmt.Errorf("failed to list records: %w", err)
	}
	return page, nil
}

// Delete removes records by key in a single write batch
func (b *BadgerStore) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := wb.Delete(b.recordKey(namespace, id)); err != nil {
			return fmt.Errorf("failed to delete record %s: %w", id, err)
		}
	}
	return wb.Flush()
}

// DeleteNamespace drops every key under the namespace prefix
func (b *BadgerStore) DeleteNamespace(ctx context.Context, namespace string) error {
	if err := b.db.DropPrefix(b.namespacePrefix(namespace)); err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", namespace, err)
	}
	return nil
}

// encodeBadgerValue lays a record out as: uint32 dimension, the vector
// (little-endian float32), then JSON metadata
func encodeBadgerValue(r Record) ([]byte, error) {
	meta, err := encodeMetadata(r.Metadata)
	if err != nil {
		return nil, err
	}
	vec := serializeVector(r.Values)
	buf := make([]byte, 4, 4+len(vec)+len(meta))
	binary.BigEndian.PutUint32(buf, uint32(len(r.Values)))
	buf = append(buf, vec...)
	return append(buf, meta...), nil
}

func decodeBadgerValue(id string, val []byte) (Record, error) {
	if len(val) < 4 {
		return Record{}, fmt.Errorf("record %s: truncated value", id)
	}
	dim := int(binary.BigEndian.Uint32(val))
	end := 4 + dim*4
	if len(val) < end {
		return Record{}, fmt.Errorf("record %s: truncated vector", id)
	}
	// val is only valid inside the transaction; deserializeVector copies
	values := deserializeVector(val[4:end])
	meta, err := decodeMetadata(string(val[end:]))
	if err != nil {
		return Record{}, fmt.Errorf("record %s: %w", id, err)
	}
	return Record{ID: id, Values: values, Metadata: meta}, nil
}
