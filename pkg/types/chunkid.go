package types

import (
	"fmt"
	"strconv"
	"strings"
)

// ChunkID addresses one chunk in the index as <prefix>-<ordinal>.
// The prefix may itself contain hyphens; the ordinal is always the text
// after the last one.
type ChunkID struct {
	Prefix  string
	Ordinal int
}

// String serializes the ID to its canonical form
func (id ChunkID) String() string {
	return id.Prefix + "-" + strconv.Itoa(id.Ordinal)
}

// Next returns the ID of the following chunk of the same document
func (id ChunkID) Next() ChunkID {
	return ChunkID{Prefix: id.Prefix, Ordinal: id.Ordinal + 1}
}

// Validate checks that the ID can be serialized and parsed back unchanged
func (id ChunkID) Validate() error {
	if id.Prefix == "" {
		return fmt.Errorf("%w: empty prefix", ErrInvalidChunkID)
	}
	if id.Ordinal < 0 {
		return fmt.Errorf("%w: negative ordinal %d", ErrInvalidChunkID, id.Ordinal)
	}
	return nil
}

// ParseChunkID splits s at its last hyphen. The ordinal must be a canonical
// non-negative decimal so that ParseChunkID(s).String() == s.
func ParseChunkID(s string) (ChunkID, error) {
	idx := strings.LastIndexByte(s, '-')
	if idx <= 0 || idx == len(s)-1 {
		return ChunkID{}, fmt.Errorf("%w: %q", ErrInvalidChunkID, s)
	}

	digits := s[idx+1:]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return ChunkID{}, fmt.Errorf("%w: non-numeric ordinal in %q", ErrInvalidChunkID, s)
		}
	}
	if len(digits) > 1 && digits[0] == '0' {
		return ChunkID{}, fmt.Errorf("%w: leading zero in %q", ErrInvalidChunkID, s)
	}

	ordinal, err := strconv.Atoi(digits)
	if err != nil {
		return ChunkID{}, fmt.Errorf("%w: %v", ErrInvalidChunkID, err)
	}

	return ChunkID{Prefix: s[:idx], Ordinal: ordinal}, nil
}

// PrefixOf returns the prefix of a serialized ID, or false when s is not a chunk ID
func PrefixOf(s string) (string, bool) {
	id, err := ParseChunkID(s)
	if err != nil {
		return "", false
	}
	return id.Prefix, true
}
