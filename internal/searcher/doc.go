// Package searcher reads chunks back out of a vector index.
//
// A Reader is bound to one store and one document kind. It supports four
// lookups:
//
//   - Query: embed a question and return the closest chunks with scores
//   - FetchByIDs: load chunks by their <prefix>-<ordinal> ids
//   - FetchByPrefix: load every chunk of one document, ordered by ordinal
//   - FetchNext: load the chunk following a given id
//
// ListPrefixes enumerates the documents of a namespace. Reads never modify
// the index, so large prefix fetches run as concurrent paged calls.
//
// Stored metadata is decoded strictly: a record with fields outside the
// reader's schema is reported as a types.ValidationError.
package searcher
