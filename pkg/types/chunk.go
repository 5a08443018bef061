package types

import (
	"errors"
)

// Chunk is a bounded fragment of a document, ready for embedding
type Chunk struct {
	// Position within the document
	Ordinal     int
	TotalChunks int

	// Content
	Text       string
	TokenCount int

	// Source lines covered, 1-based and inclusive
	StartLine int
	EndLine   int
}

// ID returns the chunk's address under the given document prefix
func (c *Chunk) ID(prefix string) ChunkID {
	return ChunkID{Prefix: prefix, Ordinal: c.Ordinal}
}

// ValidateContent checks the chunk text and line range
func (c *Chunk) ValidateContent() error {
	if c.Text == "" {
		return ErrEmptyContent
	}

	if c.StartLine < 0 || c.EndLine < 0 {
		return errors.New("line numbers must not be negative")
	}

	if c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}

	return nil
}

// Validate performs comprehensive validation of the chunk
func (c *Chunk) Validate() error {
	if err := c.ValidateContent(); err != nil {
		return err
	}

	if c.Ordinal < 0 || c.Ordinal >= c.TotalChunks {
		return ErrInvalidOrdinal
	}

	return nil
}

// ValidateSequence checks that chunks form one complete document:
// ordinals 0..n-1 in order and the same total on every chunk.
func ValidateSequence(chunks []Chunk) error {
	for i := range chunks {
		if chunks[i].Ordinal != i || chunks[i].TotalChunks != len(chunks) {
			return ErrInvalidOrdinal
		}
	}
	return nil
}
