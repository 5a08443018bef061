package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// searchVector ranks the records of a namespace by cosine similarity
func searchVector(ctx context.Context, q querier, index, namespace string, queryVector []float32, topK int) ([]candidate, error) {
	// Use optimized SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, q, index, namespace, queryVector, topK)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorFallback(ctx, q, index, namespace, queryVector, topK)
}

// searchVectorOptimized uses sqlite-vec extension for SQL-based vector similarity search
func searchVectorOptimized(ctx context.Context, q querier, index, namespace string, queryVector []float32, topK int) ([]candidate, error) {
	if topK <= 0 {
		return []candidate{}, nil
	}

	// vec_distance_cosine returns distance (lower is better)
	query := `
		SELECT id, 1.0 - vec_distance_cosine(vector, ?) AS similarity
		FROM records
		WHERE index_name = ? AND namespace = ? AND dimension = ?
		ORDER BY similarity DESC, id
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, query, serializeVector(queryVector), index, namespace, len(queryVector), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]candidate, 0, topK)
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, c)
	}

	return results, rows.Err()
}

// searchVectorFallback computes similarity in Go. It is used when the
// sqlite-vec extension is not available (purego builds).
func searchVectorFallback(ctx context.Context, q querier, index, namespace string, queryVector []float32, topK int) ([]candidate, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, vector FROM records WHERE index_name = ? AND namespace = ? AND dimension = ?`,
		index, namespace, len(queryVector))
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := computeSimilarityScores(rows, queryVector)
	if err != nil {
		return nil, err
	}

	sortCandidates(candidates)

	if topK < len(candidates) {
		candidates = candidates[:max(topK, 0)]
	}
	return candidates, nil
}

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, queryVector []float32) ([]candidate, error) {
	candidates := make([]candidate, 0, 256)

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}

		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue
		}

		candidates = append(candidates, candidate{id: id, score: cosineSimilarity(queryVector, vector)})
	}

	return candidates, rows.Err()
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// candidate is a record id with its similarity score
type candidate struct {
	id    string
	score float64
}

// sortCandidates orders by score descending, ties by id so results are stable
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
}

// topCandidates scores vectors in memory; used by backends without SQL
func topCandidates(records map[string][]float32, queryVector []float32, topK int) []candidate {
	candidates := make([]candidate, 0, len(records))
	for id, v := range records {
		if len(v) != len(queryVector) {
			continue
		}
		candidates = append(candidates, candidate{id: id, score: cosineSimilarity(queryVector, v)})
	}
	sortCandidates(candidates)
	if topK < len(candidates) {
		candidates = candidates[:max(topK, 0)]
	}
	return candidates
}
