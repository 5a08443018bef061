package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Ollama defaults
const (
	DefaultOllamaBaseURL = "http://localhost:11434/v1"
	DefaultOllamaModel   = "nomic-embed-text"
	OllamaDimension      = 768
)

// OllamaProvider implements Embedder against any OpenAI-compatible host
// (Ollama, LM Studio, vLLM) through langchaingo
type OllamaProvider struct {
	embedder  embeddings.Embedder
	model     string
	dimension int
	cache     *Cache
	logger    *slog.Logger
}

// NewOllamaProvider creates an embedder for a local OpenAI-compatible server.
// An empty baseURL or model selects the defaults.
func NewOllamaProvider(baseURL, model string, cache *Cache) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}

	// Local servers ignore the token but the client requires one
	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken("none"),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama client: %v", ErrProviderFailed, err)
	}

	emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(false), embeddings.WithBatchSize(MaxBatchSize))
	if err != nil {
		return nil, fmt.Errorf("%w: ollama embedder: %v", ErrProviderFailed, err)
	}

	dimension := OllamaDimension
	if dim, ok := modelDimensions[model]; ok {
		dimension = dim
	}

	return &OllamaProvider{
		embedder:  emb,
		model:     model,
		dimension: dimension,
		cache:     cache,
		logger:    slog.Default().With("component", "ollama-embedder"),
	}, nil
}

func (o *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := o.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (o *OllamaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	o.logger.Debug("generating embeddings for texts", "count", len(req.Texts))

	embeddings := make([]*Embedding, len(req.Texts))
	var missing []int
	for i, text := range req.Texts {
		if o.cache != nil {
			if emb, ok := o.cache.Get(ComputeHash(o.model, text)); ok {
				embeddings[i] = emb
				continue
			}
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = req.Texts[i]
		}

		vectors, err := o.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			o.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
			return nil, classifyClientError(err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("%w: ollama returned %d embeddings for %d texts",
				ErrProviderFailed, len(vectors), len(texts))
		}

		for j, i := range missing {
			emb := &Embedding{
				Vector:    vectors[j],
				Dimension: len(vectors[j]),
				Provider:  ProviderOllama,
				Model:     o.model,
				Hash:      ComputeHash(o.model, req.Texts[i]),
			}
			embeddings[i] = emb
			if o.cache != nil {
				o.cache.Set(emb.Hash, emb)
			}
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderOllama,
		Model:      o.model,
	}, nil
}

// classifyClientError maps langchaingo failures onto this package's errors.
// The client only exposes the status code in its message.
func classifyClientError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "rate limit") {
		return &RateLimitError{Provider: ProviderOllama, Body: msg}
	}
	return fmt.Errorf("%w: %v", ErrProviderFailed, err)
}

func (o *OllamaProvider) MaxBatch() int {
	return MaxBatchSize
}

func (o *OllamaProvider) Dimension() int {
	return o.dimension
}

func (o *OllamaProvider) Provider() string {
	return ProviderOllama
}

func (o *OllamaProvider) Model() string {
	return o.model
}

func (o *OllamaProvider) Close() error {
	return nil
}
