package types

import (
	"errors"
	"fmt"
)

// Domain errors for type validation
var (
	ErrInvalidChunkID  = errors.New("invalid chunk ID")
	ErrInvalidOrdinal  = errors.New("ordinal must be >= 0 and < total chunks")
	ErrEmptyContent    = errors.New("content cannot be empty")
	ErrUnknownKind     = errors.New("unknown document kind")
	ErrInvalidMetadata = errors.New("invalid chunk metadata")
	ErrMissingSource   = errors.New("document source info is required")
)

// ValidationError describes a metadata payload that failed strict decoding
type ValidationError struct {
	Kind Kind
	ID   string
	Err  error
}

func (e *ValidationError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s metadata for %s: %v", e.Kind, e.ID, e.Err)
	}
	return fmt.Sprintf("%s metadata: %v", e.Kind, e.Err)
}

// Unwrap exposes ErrInvalidMetadata so callers can use errors.Is
func (e *ValidationError) Unwrap() []error {
	return []error{ErrInvalidMetadata, e.Err}
}
