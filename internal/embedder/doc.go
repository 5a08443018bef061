// Package embedder generates vector embeddings for chunks using various providers.
//
// The embedder supports several providers (OpenAI, Jina AI, an Ollama or other
// OpenAI-compatible host, and an offline hash based provider) and adds
// batching, caching and rate limit handling on top.
//
// # Basic Usage
//
//	// Create embedder (auto-detects provider from environment)
//	emb, err := embedder.NewFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	batcher, err := embedder.NewBatcher(emb)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	vectors, err := batcher.Embed(ctx, texts)
//	// vectors[i] belongs to texts[i]
//
// # Provider Selection
//
// NewFromEnv selects a provider from environment variables:
//
//  1. If REPOVEC_EMBEDDING_PROVIDER is set → use specified provider
//  2. Else if OPENAI_API_KEY is set → use OpenAI
//  3. Else if JINA_API_KEY is set → use Jina AI
//  4. Else → fallback to local provider (offline mode)
//
// # Provider Comparison
//
// OpenAI (text-embedding-3-small):
//   - Dimensions: 1536
//   - Max input: 8191 tokens
//
// Jina AI (jina-embeddings-v3):
//   - Dimensions: 1024
//
// Ollama (nomic-embed-text):
//   - Dimensions: 768
//   - Talks to http://localhost:11434/v1 by default
//
// Local:
//   - Dimensions: 384
//   - Deterministic vectors derived from SHA-256, for tests and offline use.
//     Similar texts are not close to each other.
//
// # Rate Limits
//
// Providers make exactly one call per GenerateBatch. An HTTP 429 is returned
// as a *RateLimitError, which matches ErrRateLimited.
//
// The Batcher is where retrying happens. Each batch that is rate limited is
// retried after 1s, 2s, 4s and so on, up to RetryPolicy.MaxRetries (8) times;
// after that the batch fails with ErrRetriesExhausted. Any other error fails
// the batch at once. Batches are spaced at least InterBatchDelay (100ms) apart.
// The batcher returns every vector or none.
//
//	vectors, err := batcher.Embed(ctx, texts)
//	if errors.Is(err, embedder.ErrRetriesExhausted) {
//	    // provider kept refusing; try again later
//	}
//
// # Caching
//
// HTTP providers keep an LRU cache keyed by ComputeHash(model, text). Cached
// texts are not sent again, and Get returns copies so callers may mutate them.
package embedder
