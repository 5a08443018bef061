package budget

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/repovec-mcp/internal/chunker"
	"github.com/dshills/repovec-mcp/internal/tokenizer"
	"github.com/dshills/repovec-mcp/pkg/types"
)

// ErrInvalidCeiling is returned for a non-positive token ceiling
var ErrInvalidCeiling = errors.New("token ceiling must be positive")

// DefaultModelMaxInput is assumed for models missing from ModelMaxInput
const DefaultModelMaxInput = 8191

// ModelMaxInput lists the maximum input length, in tokens, of known embedding models
var ModelMaxInput = map[string]int{
	"text-embedding-3-small": 8191,
	"text-embedding-3-large": 8191,
	"text-embedding-ada-002": 8191,
	"jina-embeddings-v3":     8194,
	"nomic-embed-text":       8192,
	"local-embeddings":       8191,
}

// CeilingForModel returns half the model's maximum input length
func CeilingForModel(model string) int {
	limit, ok := ModelMaxInput[model]
	if !ok {
		limit = DefaultModelMaxInput
	}
	return limit / 2
}

// OversizePolicy decides what happens to a single line that alone exceeds the ceiling
type OversizePolicy int

const (
	// OversizeTruncate cuts the line down to the ceiling
	OversizeTruncate OversizePolicy = iota
	// OversizeAccept keeps the whole line as one over-budget chunk
	OversizeAccept
)

func (p OversizePolicy) String() string {
	switch p {
	case OversizeTruncate:
		return "truncate"
	case OversizeAccept:
		return "accept"
	default:
		return fmt.Sprintf("OversizePolicy(%d)", int(p))
	}
}

// ParsePolicy maps "truncate" or "accept" to a policy
func ParsePolicy(s string) (OversizePolicy, error) {
	switch strings.ToLower(s) {
	case "", "truncate":
		return OversizeTruncate, nil
	case "accept":
		return OversizeAccept, nil
	default:
		return 0, fmt.Errorf("unknown oversize policy %q", s)
	}
}

// Enforcer re-splits fragments so that every chunk fits the token ceiling
type Enforcer struct {
	tok     tokenizer.Tokenizer
	ceiling int
	policy  OversizePolicy
	logger  *slog.Logger
}

// Option configures an Enforcer
type Option func(*Enforcer)

// WithPolicy sets the oversize line policy
func WithPolicy(p OversizePolicy) Option {
	return func(e *Enforcer) {
		e.policy = p
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Enforcer) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Enforcer with the given tokenizer and ceiling
func New(tok tokenizer.Tokenizer, ceiling int, opts ...Option) (*Enforcer, error) {
	if ceiling <= 0 {
		return nil, ErrInvalidCeiling
	}
	e := &Enforcer{
		tok:     tok,
		ceiling: ceiling,
		policy:  OversizeTruncate,
		logger:  slog.Default().With("component", "budget"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Ceiling returns the token ceiling
func (e *Enforcer) Ceiling() int {
	return e.ceiling
}

// Enforce turns raw fragments into the document's final chunks. Fragments over
// the ceiling are re-split on line boundaries, never inside a line. The result
// is numbered 0..n-1 and every chunk carries TotalChunks = n.
func (e *Enforcer) Enforce(fragments []chunker.Fragment) []types.Chunk {
	var pieces []types.Chunk
	for _, f := range fragments {
		if e.tok.Count(f.Text) <= e.ceiling {
			pieces = append(pieces, types.Chunk{Text: f.Text, StartLine: f.StartLine, EndLine: f.EndLine})
			continue
		}
		pieces = append(pieces, e.splitLines(f)...)
	}

	chunks := make([]types.Chunk, 0, len(pieces))
	for _, p := range pieces {
		if p.Text == "" {
			continue
		}
		chunks = append(chunks, p)
	}
	for i := range chunks {
		chunks[i].Ordinal = i
		chunks[i].TotalChunks = len(chunks)
		chunks[i].TokenCount = e.tok.Count(chunks[i].Text)
	}
	return chunks
}

// splitLines accumulates whole lines until the next one would push the piece
// over the ceiling
func (e *Enforcer) splitLines(f chunker.Fragment) []types.Chunk {
	lines := strings.Split(f.Text, "\n")

	var (
		pieces  []types.Chunk
		current []string
		first   int // index in lines of current[0]
	)

	flush := func() {
		if len(current) == 0 {
			return
		}
		pieces = append(pieces, types.Chunk{
			Text:      strings.Join(current, "\n"),
			StartLine: f.StartLine + first,
			EndLine:   f.StartLine + first + len(current) - 1,
		})
		current = nil
	}

	for i, line := range lines {
		if e.tok.Count(line) > e.ceiling {
			flush()
			pieces = append(pieces, e.oversizedLine(line, f.StartLine+i))
			continue
		}

		if len(current) > 0 {
			candidate := strings.Join(current, "\n") + "\n" + line
			if e.tok.Count(candidate) > e.ceiling {
				flush()
			}
		}
		if len(current) == 0 {
			first = i
		}
		current = append(current, line)
	}
	flush()

	return pieces
}

func (e *Enforcer) oversizedLine(line string, lineNo int) types.Chunk {
	tokens := e.tok.Count(line)
	text := line
	if e.policy == OversizeTruncate {
		text = e.tok.Truncate(line, e.ceiling)
	}
	e.logger.Warn("line exceeds token ceiling",
		"line", lineNo, "tokens", tokens, "ceiling", e.ceiling, "policy", e.policy.String())
	return types.Chunk{Text: text, StartLine: lineNo, EndLine: lineNo}
}
