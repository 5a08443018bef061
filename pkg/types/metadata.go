package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Reserved metadata keys
const (
	MetaText        = "text"
	MetaLegacyText  = "embedding_text"
	MetaChunkIndex  = "chunk_index"
	MetaTotalChunks = "total_chunks"
	MetaID          = "id"
	MetaScore       = "score"
)

// CodeMetadata is the read-side schema of a code chunk
type CodeMetadata struct {
	FilePath    string   `json:"file_path"`
	Language    string   `json:"language"`
	ChunkIndex  int      `json:"chunk_index"`
	TotalChunks int      `json:"total_chunks"`
	ID          string   `json:"id"`
	Score       *float64 `json:"score"`
}

// IssueMetadata is the read-side schema of an issue chunk
type IssueMetadata struct {
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	ChunkIndex  int      `json:"chunk_index"`
	TotalChunks int      `json:"total_chunks"`
	ID          string   `json:"id"`
	Score       *float64 `json:"score"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	ClosedAt    string   `json:"closed_at"`
	State       string   `json:"state"`
	Number      int      `json:"number"`
	Slug        string   `json:"slug"`
	Labels      []string `json:"labels"`
}

// ChunkMetadata builds the stored metadata of one chunk: document fields plus
// position and the chunk text under the reserved key.
func ChunkMetadata(doc *Document, chunk Chunk) map[string]any {
	meta := doc.Metadata()
	meta[MetaChunkIndex] = chunk.Ordinal
	meta[MetaTotalChunks] = chunk.TotalChunks
	meta[MetaText] = chunk.Text
	return meta
}

// SplitText removes the chunk text from stored metadata and returns it.
// The input map is not modified.
func SplitText(stored map[string]any) (string, map[string]any) {
	rest := make(map[string]any, len(stored))
	var text string
	for k, v := range stored {
		rest[k] = v
	}
	for _, key := range []string{MetaText, MetaLegacyText} {
		if v, ok := rest[key]; ok {
			delete(rest, key)
			if s, ok := v.(string); ok && text == "" {
				text = s
			}
		}
	}
	return text, rest
}

// DecodeCodeMetadata validates stored metadata against the code schema.
// Unknown fields are rejected.
func DecodeCodeMetadata(id string, score *float64, meta map[string]any) (*CodeMetadata, error) {
	var out CodeMetadata
	if err := strictDecode(id, score, meta, &out); err != nil {
		return nil, &ValidationError{Kind: KindCode, ID: id, Err: err}
	}
	return &out, nil
}

// DecodeIssueMetadata validates stored metadata against the issue schema.
// Unknown fields are rejected.
func DecodeIssueMetadata(id string, score *float64, meta map[string]any) (*IssueMetadata, error) {
	var out IssueMetadata
	if err := strictDecode(id, score, meta, &out); err != nil {
		return nil, &ValidationError{Kind: KindIssue, ID: id, Err: err}
	}
	return &out, nil
}

func strictDecode(id string, score *float64, meta map[string]any, out any) error {
	payload := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		payload[k] = v
	}
	payload[MetaID] = id
	payload[MetaScore] = score

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}
