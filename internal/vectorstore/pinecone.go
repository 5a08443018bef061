package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPineconeControlURL is the control plane used to resolve index hosts
	DefaultPineconeControlURL = "https://api.pinecone.io"
	// PineconeAPIVersion is sent with every request
	PineconeAPIVersion = "2024-07"
	// EnvPineconeAPIKey is the environment variable holding the API key
	EnvPineconeAPIKey = "PINECONE_API_KEY"

	// pineconeFetchChunk keeps fetch URLs short
	pineconeFetchChunk = 100
	// pineconeMaxListLimit is the largest page the list endpoint serves
	pineconeMaxListLimit = 100
	// pineconeDeleteChunk is the most ids one delete call accepts
	pineconeDeleteChunk = 1000
	// pineconeMaxUpsertBytes is the request size limit of the upsert endpoint
	pineconeMaxUpsertBytes = 2 << 20
	// upsertEnvelopeBytes leaves room for the namespace and JSON framing
	upsertEnvelopeBytes = 1 << 10
)

// PineconeConfig configures the Pinecone backend
type PineconeConfig struct {
	APIKey string

	// Host is the index data-plane host. When empty it is resolved from
	// the control plane by index name.
	Host       string
	ControlURL string

	Timeout    time.Duration
	HTTPClient *http.Client
}

// PineconeStore implements Store against a Pinecone serverless index
type PineconeStore struct {
	baseURL    string
	apiKey     string
	index      string
	httpClient *http.Client
	logger     *slog.Logger

	// maxUpsertBytes caps the encoded size of one upsert request
	maxUpsertBytes int
}

// pineconeVector is the wire shape of a stored vector
type pineconeVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// pineconeStatusError carries a non-2xx response
type pineconeStatusError struct {
	Status int
	Body   string
}

func (e *pineconeStatusError) Error() string {
	return fmt.Sprintf("pinecone API error: %d %s", e.Status, e.Body)
}

// NewPineconeStore binds a store to the named index
func NewPineconeStore(ctx context.Context, index string, cfg PineconeConfig) (*PineconeStore, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pinecone api key is required")
	}
	if index == "" {
		return nil, fmt.Errorf("pinecone index name is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	s := &PineconeStore{
		apiKey:         cfg.APIKey,
		index:          index,
		httpClient:     client,
		logger:         slog.Default().With("component", "pinecone", "index", index),
		maxUpsertBytes: pineconeMaxUpsertBytes,
	}

	host := cfg.Host
	if host == "" {
		control := cfg.ControlURL
		if control == "" {
			control = DefaultPineconeControlURL
		}
		resolved, err := s.describeIndexHost(ctx, strings.TrimRight(control, "/"))
		if err != nil {
			return nil, err
		}
		host = resolved
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	s.baseURL = strings.TrimRight(host, "/")

	return s, nil
}

func (s *PineconeStore) describeIndexHost(ctx context.Context, controlURL string) (string, error) {
	var resp struct {
		Host string `json:"host"`
	}
	err := s.doRequest(ctx, http.MethodGet, controlURL+"/indexes/"+url.PathEscape(s.index), nil, &resp)
	var statusErr *pineconeStatusError
	if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
		return "", fmt.Errorf("%w: pinecone index %s", ErrNotFound, s.index)
	}
	if err != nil {
		return "", fmt.Errorf("failed to describe index: %w", err)
	}
	if resp.Host == "" {
		return "", fmt.Errorf("pinecone index %s has no host", s.index)
	}
	return resp.Host, nil
}

// Close is a no-op; the HTTP client holds no per-store resources
func (s *PineconeStore) Close() error {
	return nil
}

func (s *PineconeStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if _, err := validateRecords(records); err != nil {
		return err
	}

	batches, err := s.upsertBatches(records)
	if err != nil {
		return err
	}

	for _, batch := range batches {
		body := map[string]any{
			"vectors":   batch,
			"namespace": namespace,
		}
		if err := s.doRequest(ctx, http.MethodPost, s.baseURL+"/vectors/upsert", body, nil); err != nil {
			return fmt.Errorf("failed to upsert %d records: %w", len(batch), err)
		}
	}
	if len(batches) > 1 {
		s.logger.Debug("upsert split by size", "records", len(records), "requests", len(batches))
	}
	return nil
}

// upsertBatches encodes records once and groups them so that no request
// body exceeds maxUpsertBytes
func (s *PineconeStore) upsertBatches(records []Record) ([][]json.RawMessage, error) {
	limit := s.maxUpsertBytes - upsertEnvelopeBytes

	var (
		batches [][]json.RawMessage
		current []json.RawMessage
		size    int
	)
	for _, r := range records {
		raw, err := json.Marshal(pineconeVector{ID: r.ID, Values: r.Values, Metadata: r.Metadata})
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", r.ID, err)
		}
		if len(raw) > limit {
			return nil, fmt.Errorf("%w: record %s encodes to %d bytes, limit %d",
				ErrInvalidRecord, r.ID, len(raw), limit)
		}
		// +1 for the separating comma
		if len(current) > 0 && size+len(raw)+1 > limit {
			batches = append(batches, current)
			current, size = nil, 0
		}
		current = append(current, raw)
		size += len(raw) + 1
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches, nil
}

func (s *PineconeStore) Query(ctx context.Context, namespace string, vector []float32, topK int, includeValues bool) ([]Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidRecord)
	}
	if topK <= 0 {
		return []Match{}, nil
	}

	body := map[string]any{
		"vector":          vector,
		"topK":            topK,
		"namespace":       namespace,
		"includeValues":   includeValues,
		"includeMetadata": true,
	}
	var resp struct {
		Matches []struct {
			ID       string         `json:"id"`
			Score    float64        `json:"score"`
			Values   []float32      `json:"values"`
			Metadata map[string]any `json:"metadata"`
		} `json:"matches"`
	}
	if err := s.doRequest(ctx, http.MethodPost, s.baseURL+"/query", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}

	matches := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		match := Match{ID: m.ID, Score: m.Score, Metadata: m.Metadata}
		if includeValues {
			match.Values = m.Values
		}
		matches = append(matches, match)
	}
	return matches, nil
}

func (s *PineconeStore) Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error) {
	out := make(map[string]Record, len(ids))

	for start := 0; start < len(ids); start += pineconeFetchChunk {
		part := ids[start:min(start+pineconeFetchChunk, len(ids))]

		q := url.Values{}
		for _, id := range part {
			q.Add("ids", id)
		}
		q.Set("namespace", namespace)

		var resp struct {
			Vectors map[string]pineconeVector `json:"vectors"`
		}
		if err := s.doRequest(ctx, http.MethodGet, s.baseURL+"/vectors/fetch?"+q.Encode(), nil, &resp); err != nil {
			return nil, fmt.Errorf("failed to fetch records: %w", err)
		}
		for id, v := range resp.Vectors {
			if v.Metadata == nil {
				v.Metadata = map[string]any{}
			}
			out[id] = Record{ID: id, Values: v.Values, Metadata: v.Metadata}
		}
	}

	return out, nil
}

func (s *PineconeStore) List(ctx context.Context, namespace, prefix string, opts ListOptions) (ListPage, error) {
	limit := min(listLimit(opts), pineconeMaxListLimit)

	q := url.Values{}
	q.Set("namespace", namespace)
	q.Set("limit", strconv.Itoa(limit))
	if prefix != "" {
		q.Set("prefix", prefix)
	}
	if opts.PaginationToken != "" {
		q.Set("paginationToken", opts.PaginationToken)
	}

	var resp struct {
		Vectors []struct {
			ID string `json:"id"`
		} `json:"vectors"`
		Pagination *struct {
			Next string `json:"next"`
		} `json:"pagination"`
	}
	if err := s.doRequest(ctx, http.MethodGet, s.baseURL+"/vectors/list?"+q.Encode(), nil, &resp); err != nil {
		return ListPage{}, fmt.Errorf("failed to list records: %w", err)
	}

	page := ListPage{IDs: make([]string, 0, len(resp.Vectors))}
	for _, v := range resp.Vectors {
		page.IDs = append(page.IDs, v.ID)
	}
	if resp.Pagination != nil {
		page.NextToken = resp.Pagination.Next
	}
	return page, nil
}

// Delete removes ids in chunks of pineconeDeleteChunk. A namespace that was
// never written answers 404, which counts as nothing to delete.
func (s *PineconeStore) Delete(ctx context.Context, namespace string, ids []string) error {
	for start := 0; start < len(ids); start += pineconeDeleteChunk {
		part := ids[start:min(start+pineconeDeleteChunk, len(ids))]
		body := map[string]any{
			"ids":       part,
			"namespace": namespace,
		}
		err := s.doRequest(ctx, http.MethodPost, s.baseURL+"/vectors/delete", body, nil)
		var statusErr *pineconeStatusError
		if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to delete %d records: %w", len(part), err)
		}
	}
	return nil
}

// DeleteNamespace issues deleteAll. A namespace that was never written
// answers 404, which counts as already empty.
func (s *PineconeStore) DeleteNamespace(ctx context.Context, namespace string) error {
	body := map[string]any{
		"deleteAll": true,
		"namespace": namespace,
	}
	err := s.doRequest(ctx, http.MethodPost, s.baseURL+"/vectors/delete", body, nil)
	var statusErr *pineconeStatusError
	if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
		s.logger.Debug("namespace not found on delete", "namespace", namespace)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", namespace, err)
	}
	return nil
}

func (s *PineconeStore) doRequest(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal pinecone request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create pinecone request: %w", err)
	}
	req.Header.Set("Api-Key", s.apiKey)
	req.Header.Set("X-Pinecone-API-Version", PineconeAPIVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pinecone request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read pinecone response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return &pineconeStatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse pinecone response: %w", err)
	}
	return nil
}
