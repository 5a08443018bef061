package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePinecone serves the data plane endpoints from an in-memory map
type fakePinecone struct {
	mu      sync.Mutex
	vectors map[string]map[string]pineconeVector // namespace -> id -> vector
	deletes []string
	apiKeys []string
	// body sizes of upsert requests
	upsertSizes []int
}

func newFakePinecone() *fakePinecone {
	return &fakePinecone{vectors: make(map[string]map[string]pineconeVector)}
}

func (f *fakePinecone) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.apiKeys = append(f.apiKeys, r.Header.Get("Api-Key"))
	if r.Header.Get("X-Pinecone-API-Version") != PineconeAPIVersion {
		http.Error(w, "missing api version", http.StatusBadRequest)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/vectors/upsert":
		var body struct {
			Vectors   []pineconeVector `json:"vectors"`
			Namespace string           `json:"namespace"`
		}
		data, err := io.ReadAll(r.Body)
		if err == nil {
			err = json.Unmarshal(data, &body)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.upsertSizes = append(f.upsertSizes, len(data))
		ns := f.vectors[body.Namespace]
		if ns == nil {
			ns = make(map[string]pineconeVector)
			f.vectors[body.Namespace] = ns
		}
		for _, v := range body.Vectors {
			ns[v.ID] = v
		}
		writeJSON(w, map[string]any{"upsertedCount": len(body.Vectors)})

	case r.Method == http.MethodPost && r.URL.Path == "/query":
		var body struct {
			Vector        []float32 `json:"vector"`
			TopK          int       `json:"topK"`
			Namespace     string    `json:"namespace"`
			IncludeValues bool      `json:"includeValues"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		values := make(map[string][]float32)
		for id, v := range f.vectors[body.Namespace] {
			values[id] = v.Values
		}
		var matches []map[string]any
		for _, c := range topCandidates(values, body.Vector, body.TopK) {
			m := map[string]any{"id": c.id, "score": c.score, "metadata": f.vectors[body.Namespace][c.id].Metadata}
			if body.IncludeValues {
				m["values"] = values[c.id]
			}
			matches = append(matches, m)
		}
		writeJSON(w, map[string]any{"matches": matches, "namespace": body.Namespace})

	case r.Method == http.MethodGet && r.URL.Path == "/vectors/fetch":
		q := r.URL.Query()
		out := make(map[string]pineconeVector)
		for _, id := range q["ids"] {
			if v, ok := f.vectors[q.Get("namespace")][id]; ok {
				out[id] = v
			}
		}
		writeJSON(w, map[string]any{"vectors": out})

	case r.Method == http.MethodGet && r.URL.Path == "/vectors/list":
		q := r.URL.Query()
		var ids []string
		for id := range f.vectors[q.Get("namespace")] {
			if strings.HasPrefix(id, q.Get("prefix")) && id > q.Get("paginationToken") {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		limit := 100
		if l := q.Get("limit"); l != "" {
			_ = json.Unmarshal([]byte(l), &limit)
		}
		resp := map[string]any{}
		if len(ids) > limit {
			ids = ids[:limit]
			resp["pagination"] = map[string]string{"next": ids[limit-1]}
		}
		list := make([]map[string]string, len(ids))
		for i, id := range ids {
			list[i] = map[string]string{"id": id}
		}
		resp["vectors"] = list
		writeJSON(w, resp)

	case r.Method == http.MethodPost && r.URL.Path == "/vectors/delete":
		var body struct {
			IDs       []string `json:"ids"`
			DeleteAll bool     `json:"deleteAll"`
			Namespace string   `json:"namespace"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ns, ok := f.vectors[body.Namespace]
		if !body.DeleteAll {
			for _, id := range body.IDs {
				delete(ns, id)
			}
			writeJSON(w, map[string]any{})
			return
		}
		f.deletes = append(f.deletes, body.Namespace)
		if !ok {
			http.Error(w, `{"code":5,"message":"Namespace not found"}`, http.StatusNotFound)
			return
		}
		delete(f.vectors, body.Namespace)
		writeJSON(w, map[string]any{})

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestPinecone(t *testing.T) (*PineconeStore, *fakePinecone) {
	fake := newFakePinecone()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	s, err := NewPineconeStore(context.Background(), "docs", PineconeConfig{APIKey: "pc-key", Host: server.URL})
	require.NoError(t, err)
	return s, fake
}

func TestPineconeStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestPinecone(t)

	require.NoError(t, s.Upsert(ctx, "ns", []Record{
		{ID: "a-0", Values: []float32{1, 0}, Metadata: map[string]any{"text": "first"}},
		{ID: "a-1", Values: []float32{0, 1}, Metadata: map[string]any{"text": "second"}},
	}))

	got, err := s.Fetch(ctx, "ns", []string{"a-0", "a-9"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got["a-0"].Metadata["text"])

	matches, err := s.Query(ctx, "ns", []float32{0, 1}, 1, true)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a-1", matches[0].ID)
	assert.Equal(t, []float32{0, 1}, matches[0].Values)

	fake.mu.Lock()
	for _, key := range fake.apiKeys {
		assert.Equal(t, "pc-key", key)
	}
	fake.mu.Unlock()
}

func TestPineconeStore_ListAllFollowsTokens(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestPinecone(t)

	var records []Record
	for _, id := range []string{"p-0", "p-1", "p-2", "q-0"} {
		records = append(records, Record{ID: id, Values: []float32{1}})
	}
	require.NoError(t, s.Upsert(ctx, "ns", records))

	page, err := s.List(ctx, "ns", "p-", ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"p-0", "p-1"}, page.IDs)
	assert.Equal(t, "p-1", page.NextToken)

	ids, err := ListAll(ctx, s, "ns", "p-")
	require.NoError(t, err)
	assert.Equal(t, []string{"p-0", "p-1", "p-2"}, ids)
}

func TestPineconeStore_DeleteNamespace(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestPinecone(t)

	require.NoError(t, s.Upsert(ctx, "ns", []Record{{ID: "a-0", Values: []float32{1}}}))
	require.NoError(t, s.DeleteNamespace(ctx, "ns"))
	// missing namespace answers 404 and is treated as empty
	require.NoError(t, s.DeleteNamespace(ctx, "ns"))

	got, err := s.Fetch(ctx, "ns", []string{"a-0"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, []string{"ns", "ns"}, fake.deletes)
}

func TestPineconeStore_ResolvesHost(t *testing.T) {
	data := httptest.NewServer(newFakePinecone())
	defer data.Close()

	control := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/indexes/docs":
			writeJSON(w, map[string]any{"name": "docs", "host": data.URL})
		default:
			http.NotFound(w, r)
		}
	}))
	defer control.Close()

	ctx := context.Background()
	s, err := NewPineconeStore(ctx, "docs", PineconeConfig{APIKey: "k", ControlURL: control.URL})
	require.NoError(t, err)
	assert.Equal(t, data.URL, s.baseURL)
	require.NoError(t, s.Upsert(ctx, "ns", []Record{{ID: "a-0", Values: []float32{1}}}))

	_, err = NewPineconeStore(ctx, "missing", PineconeConfig{APIKey: "k", ControlURL: control.URL})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPineconeStore_Errors(t *testing.T) {
	_, err := NewPineconeStore(context.Background(), "docs", PineconeConfig{Host: "example.com"})
	assert.Error(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	s, err := NewPineconeStore(context.Background(), "docs", PineconeConfig{APIKey: "k", Host: server.URL})
	require.NoError(t, err)

	err = s.Upsert(context.Background(), "ns", []Record{{ID: "a-0", Values: []float32{1}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")

	err = s.DeleteNamespace(context.Background(), "ns")
	assert.Error(t, err)
}

func TestPineconeStore_HostScheme(t *testing.T) {
	s, err := NewPineconeStore(context.Background(), "docs", PineconeConfig{APIKey: "k", Host: "docs-abc.svc.pinecone.io/"})
	require.NoError(t, err)
	assert.Equal(t, "https://docs-abc.svc.pinecone.io", s.baseURL)
}

func TestPineconeStore_DeleteIDs(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestPinecone(t)

	require.NoError(t, s.Upsert(ctx, "ns", []Record{
		{ID: "a-0", Values: []float32{1}},
		{ID: "a-1", Values: []float32{1}},
		{ID: "b-0", Values: []float32{1}},
	}))
	require.NoError(t, s.Delete(ctx, "ns", []string{"a-0", "a-1", "missing-0"}))

	ids, err := ListAll(ctx, s, "ns", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"b-0"}, ids)
	assert.Empty(t, fake.deletes, "no deleteAll was issued")

	require.NoError(t, s.Delete(ctx, "ns", nil))
}

func TestPineconeStore_UpsertSplitsBySize(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestPinecone(t)
	s.maxUpsertBytes = upsertEnvelopeBytes + 600

	text := strings.Repeat("x", 200)
	records := make([]Record, 7)
	for i := range records {
		records[i] = Record{
			ID:       fmt.Sprintf("big.txt-%d", i),
			Values:   []float32{1, 0},
			Metadata: map[string]any{"text": text},
		}
	}
	require.NoError(t, s.Upsert(ctx, "ns", records))

	fake.mu.Lock()
	sizes := append([]int(nil), fake.upsertSizes...)
	fake.mu.Unlock()
	assert.Greater(t, len(sizes), 1)
	for _, n := range sizes {
		assert.LessOrEqual(t, n, s.maxUpsertBytes)
	}

	ids, err := ListAll(ctx, s, "ns", "big.txt-")
	require.NoError(t, err)
	assert.Len(t, ids, 7)

	// a single record over the limit is rejected before any request
	huge := Record{ID: "huge-0", Values: []float32{1, 0}, Metadata: map[string]any{"text": strings.Repeat("y", 2000)}}
	err = s.Upsert(ctx, "ns", []Record{huge})
	assert.ErrorIs(t, err, ErrInvalidRecord)
	fake.mu.Lock()
	assert.Len(t, fake.upsertSizes, len(sizes))
	fake.mu.Unlock()
}
