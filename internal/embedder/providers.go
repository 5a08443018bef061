package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderLocal  = "local"

	// Environment variables holding API keys
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"

	// Default endpoints
	DefaultJinaBaseURL   = "https://api.jina.ai/v1"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "local-embeddings"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Batch limits
	MaxBatchSize = 100

	DefaultCacheSize = 10000
)

// modelDimensions lists the output size of models whose size differs from
// their provider's default
var modelDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
}

// ProviderOption configures an HTTP backed provider
type ProviderOption func(*httpEmbedder)

// WithBaseURL points the provider at another endpoint, e.g. a proxy or test server
func WithBaseURL(url string) ProviderOption {
	return func(h *httpEmbedder) {
		if url != "" {
			h.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithModel overrides the provider's default model
func WithModel(model string) ProviderOption {
	return func(h *httpEmbedder) {
		if model == "" {
			return
		}
		h.model = model
		if dim, ok := modelDimensions[model]; ok {
			h.dimension = dim
		}
	}
}

// WithHTTPClient replaces the default client (30s timeout)
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(h *httpEmbedder) {
		if c != nil {
			h.httpClient = c
		}
	}
}

// httpEmbedder talks to an OpenAI style /embeddings endpoint. Jina and
// OpenAI share the wire format and differ only in defaults.
type httpEmbedder struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
}

func newHTTPEmbedder(name, baseURL, apiKey, model string, dimension int, cache *Cache, opts []ProviderOption) httpEmbedder {
	h := httpEmbedder{
		name:      name,
		baseURL:   baseURL,
		apiKey:    apiKey,
		model:     model,
		dimension: dimension,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache: cache,
	}
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

func (h *httpEmbedder) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := h.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}

	return resp.Embeddings[0], nil
}

// GenerateBatch serves cached texts locally and sends the rest in one request
func (h *httpEmbedder) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	model := req.Model
	if model == "" {
		model = h.model
	}

	embeddings := make([]*Embedding, len(req.Texts))
	var missing []int
	for i, text := range req.Texts {
		if h.cache != nil {
			if emb, ok := h.cache.Get(ComputeHash(model, text)); ok {
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

		fresh, err := h.callAPI(ctx, texts, model)
		if err != nil {
			return nil, err
		}
		if len(fresh) != len(texts) {
			return nil, fmt.Errorf("%w: %s returned %d embeddings for %d texts",
				ErrProviderFailed, h.name, len(fresh), len(texts))
		}

		for j, i := range missing {
			emb := fresh[j]
			emb.Hash = ComputeHash(model, req.Texts[i])
			embeddings[i] = emb
			if h.cache != nil {
				h.cache.Set(emb.Hash, emb)
			}
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   h.name,
		Model:      model,
	}, nil
}

func (h *httpEmbedder) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": model,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.apiKey)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: api call: %v", ErrProviderFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &RateLimitError{
			Provider:   h.name,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       string(bodyBytes),
		}
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: api error %d: %s", ErrProviderFailed, resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// Results are documented to come back in input order, but carry an index
	sort.SliceStable(apiResp.Data, func(a, b int) bool {
		return apiResp.Data[a].Index < apiResp.Data[b].Index
	})

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		embeddings[i] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  h.name,
			Model:     apiResp.Model,
		}
	}

	return embeddings, nil
}

func (h *httpEmbedder) MaxBatch() int {
	return MaxBatchSize
}

func (h *httpEmbedder) Dimension() int {
	return h.dimension
}

func (h *httpEmbedder) Provider() string {
	return h.name
}

func (h *httpEmbedder) Model() string {
	return h.model
}

func (h *httpEmbedder) Close() error {
	h.httpClient.CloseIdleConnections()
	return nil
}

// parseRetryAfter reads the delay-seconds form of Retry-After
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// JinaProvider implements Embedder using Jina AI API
type JinaProvider struct {
	httpEmbedder
}

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(apiKey string, cache *Cache, opts ...ProviderOption) (*JinaProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvJinaAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}

	return &JinaProvider{
		httpEmbedder: newHTTPEmbedder(ProviderJina, DefaultJinaBaseURL, apiKey, DefaultJinaModel, JinaDimension, cache, opts),
	}, nil
}

// OpenAIProvider implements Embedder using OpenAI API
type OpenAIProvider struct {
	httpEmbedder
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(apiKey string, cache *Cache, opts ...ProviderOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}

	return &OpenAIProvider{
		httpEmbedder: newHTTPEmbedder(ProviderOpenAI, DefaultOpenAIBaseURL, apiKey, DefaultOpenAIModel, OpenAIDimension, cache, opts),
	}, nil
}

// LocalProvider produces deterministic vectors derived from a hash of the
// text. It needs no network and is meant for offline runs and tests.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	return &LocalProvider{
		model:     DefaultLocalModel,
		dimension: LocalDimension,
		cache:     cache,
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	hash := ComputeHash(l.model, req.Text)
	if l.cache != nil {
		if emb, ok := l.cache.Get(hash); ok {
			return emb, nil
		}
	}

	emb := &Embedding{
		Vector:    HashVector(req.Text, l.dimension),
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      hash,
	}

	if l.cache != nil {
		l.cache.Set(hash, emb)
	}

	return emb, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text, Model: req.Model})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

func (l *LocalProvider) MaxBatch() int {
	return MaxBatchSize
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// HashVector expands the SHA-256 of text into a unit vector of dim values.
// Equal texts always map to equal vectors.
func HashVector(text string, dim int) []float32 {
	vector := make([]float32, dim)
	var block [32]byte
	for i := 0; i < dim; i++ {
		if i%len(block) == 0 {
			block = sha256Block(text, i/len(block))
		}
		vector[i] = float32(block[i%len(block)])/127.5 - 1
	}
	return NormalizeVector(vector)
}

func sha256Block(text string, counter int) [32]byte {
	buf := make([]byte, 8, 8+len(text))
	binary.BigEndian.PutUint64(buf, uint64(counter))
	return sha256.Sum256(append(buf, text...))
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
