package embedder

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkComputeHash(b *testing.B) {
	texts := []string{
		"short",
		"medium length text for hashing",
		"this is a longer text that represents a typical code chunk that might be embedded for semantic search in a codebase",
	}

	for _, text := range texts {
		b.Run(fmt.Sprintf("len=%d", len(text)), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_ = ComputeHash(DefaultOpenAIModel, text)
			}
		})
	}
}

func BenchmarkCache(b *testing.B) {
	cache := NewCache(10000)
	emb := &Embedding{Vector: make([]float32, OpenAIDimension), Dimension: OpenAIDimension}
	for i := 0; i < 1000; i++ {
		cache.Set(fmt.Sprintf("hash-%d", i), emb)
	}

	b.Run("get-hit", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = cache.Get(fmt.Sprintf("hash-%d", i%1000))
		}
	})

	b.Run("get-miss", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = cache.Get(fmt.Sprintf("nonexistent-%d", i))
		}
	})
}

func BenchmarkBatcherLocal(b *testing.B) {
	provider, _ := NewLocalProvider(nil)
	cfg := DefaultBatcherConfig()
	cfg.InterBatchDelay = 0
	batcher, err := NewBatcher(provider, WithBatcherConfig(cfg))
	if err != nil {
		b.Fatal(err)
	}

	texts := make([]string, 250)
	for i := range texts {
		texts[i] = fmt.Sprintf("func F%d() int { return %d }", i, i)
	}

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := batcher.Embed(ctx, texts); err != nil {
			b.Fatal(err)
		}
	}
}
