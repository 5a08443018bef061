package reassembler

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dshills/repovec-mcp/internal/tokenizer"
	"github.com/dshills/repovec-mcp/pkg/types"
)

// DefaultBudget is the token budget used when a caller does not set one
const DefaultBudget = 3000

var (
	// ErrOverBudget is matched by every *OverBudgetError
	ErrOverBudget = errors.New("combined chunks exceed token budget")
	// ErrInvalidBudget is returned for budgets below one token
	ErrInvalidBudget = errors.New("token budget must be positive")
)

// OverBudgetError reports the size of a combination that did not fit
type OverBudgetError struct {
	Tokens int
	Budget int
}

func (e *OverBudgetError) Error() string {
	return fmt.Sprintf("combined chunks are %d tokens, budget is %d", e.Tokens, e.Budget)
}

func (e *OverBudgetError) Is(target error) bool {
	return target == ErrOverBudget
}

// Reassembler merges retrieved chunks back into one block of text
type Reassembler struct {
	tok    tokenizer.Tokenizer
	logger *slog.Logger
}

// New creates a Reassembler that counts tokens with tok
func New(tok tokenizer.Tokenizer) *Reassembler {
	return &Reassembler{
		tok:    tok,
		logger: slog.Default().With("component", "reassembler"),
	}
}

// Combine orders chunks by ordinal and joins them with newlines. When the
// result is over budget it returns an *OverBudgetError and no text; the
// caller narrows the set and tries again.
func (r *Reassembler) Combine(chunks []types.Chunk, budget int) (string, error) {
	if budget <= 0 {
		return "", ErrInvalidBudget
	}

	sorted := make([]types.Chunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Ordinal < sorted[j].Ordinal
	})

	texts := make([]string, len(sorted))
	for i := range sorted {
		texts[i] = sorted[i].Text
	}
	combined := strings.Join(texts, "\n")

	if tokens := r.tok.Count(combined); tokens > budget {
		r.logger.Debug("combination over budget", "chunks", len(chunks), "tokens", tokens, "budget", budget)
		return "", &OverBudgetError{Tokens: tokens, Budget: budget}
	}
	return combined, nil
}

// CombineAround narrows chunks toward seed until they fit. Each round drops
// the chunk whose ordinal is farthest from seed, the higher ordinal first on
// a tie. It returns the text and the chunks that made it in. A single chunk
// that is still over budget yields the *OverBudgetError.
func (r *Reassembler) CombineAround(chunks []types.Chunk, seed, budget int) (string, []types.Chunk, error) {
	if budget <= 0 {
		return "", nil, ErrInvalidBudget
	}

	kept := make([]types.Chunk, len(chunks))
	copy(kept, chunks)

	for {
		text, err := r.Combine(kept, budget)
		if err == nil {
			sort.SliceStable(kept, func(i, j int) bool {
				return kept[i].Ordinal < kept[j].Ordinal
			})
			return text, kept, nil
		}
		if !errors.Is(err, ErrOverBudget) || len(kept) <= 1 {
			return "", nil, err
		}
		kept = dropFarthest(kept, seed)
	}
}

func dropFarthest(chunks []types.Chunk, seed int) []types.Chunk {
	far := 0
	for i := 1; i < len(chunks); i++ {
		di, df := distance(chunks[i].Ordinal, seed), distance(chunks[far].Ordinal, seed)
		if di > df || (di == df && chunks[i].Ordinal > chunks[far].Ordinal) {
			far = i
		}
	}
	return append(chunks[:far:far], chunks[far+1:]...)
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
