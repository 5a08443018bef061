package types

// SearchResult is one chunk returned by a query or fetch
type SearchResult struct {
	// Identification
	ID ChunkID

	// Scoring; nil for fetches
	Score *float64

	// Content
	Text   string
	Values []float32 // Only populated when requested

	// Exactly one of these is set, matching the reader's kind
	Code  *CodeMetadata
	Issue *IssueMetadata
}

// Kind reports which metadata schema the result carries
func (sr *SearchResult) Kind() Kind {
	if sr.Issue != nil {
		return KindIssue
	}
	return KindCode
}

// TotalChunks returns the chunk count of the result's document
func (sr *SearchResult) TotalChunks() int {
	if sr.Issue != nil {
		return sr.Issue.TotalChunks
	}
	if sr.Code != nil {
		return sr.Code.TotalChunks
	}
	return 0
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if err := sr.ID.Validate(); err != nil {
		return err
	}

	if (sr.Code == nil) == (sr.Issue == nil) {
		return ErrInvalidMetadata
	}

	return nil
}

// AsChunk converts the result back into a chunk for reassembly
func (sr *SearchResult) AsChunk() Chunk {
	return Chunk{
		Ordinal:     sr.ID.Ordinal,
		TotalChunks: sr.TotalChunks(),
		Text:        sr.Text,
	}
}
