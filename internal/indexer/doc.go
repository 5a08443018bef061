// Package indexer writes documents into a vector store.
//
// An Ingester runs the write path for a batch of documents:
//
//  1. clear the target namespace
//  2. split each document into line fragments (chunker)
//  3. re-split fragments that exceed the token ceiling (budget)
//  4. embed every chunk, retrying rate limited calls (embedder)
//  5. upsert one record per chunk, addressed <prefix>-<ordinal> (Writer)
//
// Documents are processed one at a time. A document that fails is
// recorded and skipped; its records are only written once all of its
// embeddings exist.
//
//	ing, err := indexer.New(chk, enf, batcher, store)
//	stats, err := ing.Run(ctx, "owner/repo", docs)
//	fmt.Printf("indexed %d documents (%d failed)\n", stats.DocumentsIndexed, stats.DocumentsFailed)
package indexer
