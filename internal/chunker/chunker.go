package chunker

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/repovec-mcp/internal/parser"
)

// Default line thresholds
const (
	DefaultSmallFileLines   = 300
	DefaultCodeChunkLines   = 500
	DefaultCodeOverlapLines = 100
	DefaultMinChunkLines    = 50
	DefaultTextChunkLines   = 300
	DefaultTextOverlapLines = 40
)

// ErrInvalidConfig is returned for thresholds that cannot make progress
var ErrInvalidConfig = errors.New("invalid chunker config")

// Config holds the line thresholds of the splitter
type Config struct {
	SmallFileLines   int // Files at or below this size stay whole
	CodeChunkLines   int // Max window for structured code
	CodeOverlapLines int // Lines shared by consecutive code windows
	MinChunkLines    int // Code fragments below this merge into their predecessor
	TextChunkLines   int // Window for unstructured text
	TextOverlapLines int // Lines shared by consecutive text windows
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{
		SmallFileLines:   DefaultSmallFileLines,
		CodeChunkLines:   DefaultCodeChunkLines,
		CodeOverlapLines: DefaultCodeOverlapLines,
		MinChunkLines:    DefaultMinChunkLines,
		TextChunkLines:   DefaultTextChunkLines,
		TextOverlapLines: DefaultTextOverlapLines,
	}
}

// Validate rejects configurations whose windows would not advance
func (c Config) Validate() error {
	if c.SmallFileLines < 0 {
		return fmt.Errorf("%w: small file lines must be >= 0", ErrInvalidConfig)
	}
	if c.CodeChunkLines <= 0 || c.TextChunkLines <= 0 {
		return fmt.Errorf("%w: chunk lines must be positive", ErrInvalidConfig)
	}
	if c.CodeOverlapLines < 0 || c.TextOverlapLines < 0 || c.MinChunkLines < 0 {
		return fmt.Errorf("%w: overlap and minimum must be >= 0", ErrInvalidConfig)
	}
	if c.CodeChunkLines-c.CodeOverlapLines <= 0 {
		return fmt.Errorf("%w: code overlap %d must be smaller than window %d",
			ErrInvalidConfig, c.CodeOverlapLines, c.CodeChunkLines)
	}
	if c.TextChunkLines-c.TextOverlapLines <= 0 {
		return fmt.Errorf("%w: text overlap %d must be smaller than window %d",
			ErrInvalidConfig, c.TextOverlapLines, c.TextChunkLines)
	}
	if c.MinChunkLines > c.CodeChunkLines {
		return fmt.Errorf("%w: minimum %d exceeds code window %d",
			ErrInvalidConfig, c.MinChunkLines, c.CodeChunkLines)
	}
	return nil
}

// Fragment is a raw piece of a document before token budgeting
type Fragment struct {
	Text      string
	StartLine int // 1-based, inclusive
	EndLine   int // 1-based, inclusive
}

// Lines returns how many lines the fragment covers
func (f Fragment) Lines() int {
	return f.EndLine - f.StartLine + 1
}

// Chunker splits documents into line-based fragments
type Chunker struct {
	parser *parser.Parser
	config Config
}

// Option configures a Chunker
type Option func(*Chunker)

// WithConfig overrides the default thresholds
func WithConfig(cfg Config) Option {
	return func(c *Chunker) {
		c.config = cfg
	}
}

// New creates a new Chunker instance
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		parser: parser.New(),
		config: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.config.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Config returns the thresholds in use
func (c *Chunker) Config() Config {
	return c.config
}

// Split divides text into fragments. ext is the document's language tag (a
// file extension); recognized code gets structure-aware windows, everything
// else a fixed sliding window.
func (c *Chunker) Split(text, ext string) []Fragment {
	lines := splitLines(text)
	if len(lines) <= c.config.SmallFileLines {
		return []Fragment{{Text: text, StartLine: 1, EndLine: max(len(lines), 1)}}
	}

	if lang, ok := LanguageFor(ext); ok {
		result := c.parser.Parse("source."+ext, []byte(text), lang)
		return c.splitStructured(lines, result.Boundaries)
	}

	return c.splitSliding(lines)
}

// splitStructured windows code at most CodeChunkLines long. A window ends at
// the last declaration boundary inside it when one lies far enough from the
// start to leave both a viable fragment and room for the overlap.
func (c *Chunker) splitStructured(lines []string, boundaries []int) []Fragment {
	n := len(lines)
	cfg := c.config
	minEnd := max(cfg.MinChunkLines, cfg.CodeOverlapLines)

	type span struct{ start, end int } // end exclusive
	var spans []span

	start := 0
	for start < n {
		end := start + cfg.CodeChunkLines
		if end >= n {
			end = n
		} else if b, ok := lastBoundary(boundaries, start+minEnd, end); ok {
			end = b
		}
		spans = append(spans, span{start, end})
		if end == n {
			break
		}

		next := end - cfg.CodeOverlapLines
		if next <= start {
			next = end
		}
		start = next
	}

	// Fold undersized fragments into their predecessor by extending its range
	merged := spans[:1]
	for _, s := range spans[1:] {
		if s.end-s.start < cfg.MinChunkLines {
			merged[len(merged)-1].end = s.end
			continue
		}
		merged = append(merged, s)
	}

	fragments := make([]Fragment, len(merged))
	for i, s := range merged {
		fragments[i] = makeFragment(lines, s.start, s.end)
	}
	return fragments
}

// splitSliding is the fixed window used for unstructured text
func (c *Chunker) splitSliding(lines []string) []Fragment {
	n := len(lines)
	step := c.config.TextChunkLines - c.config.TextOverlapLines

	var fragments []Fragment
	for start := 0; start < n; start += step {
		end := min(start+c.config.TextChunkLines, n)
		fragments = append(fragments, makeFragment(lines, start, end))
		if end == n {
			break
		}
	}
	return fragments
}

// lastBoundary returns the greatest boundary b with lo < b < hi
func lastBoundary(boundaries []int, lo, hi int) (int, bool) {
	i := sort.SearchInts(boundaries, hi) - 1
	if i >= 0 && boundaries[i] > lo {
		return boundaries[i], true
	}
	return 0, false
}

func makeFragment(lines []string, start, end int) Fragment {
	return Fragment{
		Text:      strings.Join(lines[start:end], "\n"),
		StartLine: start + 1,
		EndLine:   end,
	}
}

// splitLines splits on newlines, dropping the empty element a trailing
// newline would produce
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
