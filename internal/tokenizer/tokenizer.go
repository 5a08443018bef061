package tokenizer

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE encoding used by current OpenAI embedding models
const DefaultEncoding = "cl100k_base"

// ErrUnknownEncoding is returned for encodings tiktoken does not ship
var ErrUnknownEncoding = errors.New("unknown tokenizer encoding")

// Tokenizer counts and truncates text in model tokens
type Tokenizer interface {
	// Count returns the number of tokens in text
	Count(text string) int

	// Truncate returns the longest prefix of text holding at most max tokens
	Truncate(text string, max int) string

	// Name identifies the encoding
	Name() string
}

var loaderOnce sync.Once

// BPE is a Tokenizer backed by tiktoken. Encodings are loaded from the
// offline bundle so no network access is needed.
type BPE struct {
	name string
	enc  *tiktoken.Tiktoken
}

// NewBPE loads the named encoding (e.g. "cl100k_base")
func NewBPE(encoding string) (*BPE, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	if encoding == "" {
		encoding = DefaultEncoding
	}

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownEncoding, encoding, err)
	}

	return &BPE{name: encoding, enc: enc}, nil
}

// ForModel loads the encoding used by an OpenAI model name
func ForModel(model string) (*BPE, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("%w: model %s: %v", ErrUnknownEncoding, model, err)
	}
	return &BPE{name: model, enc: enc}, nil
}

func (b *BPE) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(b.enc.Encode(text, nil, nil))
}

func (b *BPE) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	tokens := b.enc.Encode(text, nil, nil)
	if len(tokens) <= max {
		return text
	}
	// A token may hold only part of a multibyte rune; drop tokens until the
	// prefix decodes to whole runes and still re-encodes within max.
	for n := max; n > 0; n-- {
		out := b.enc.Decode(tokens[:n])
		if !utf8.ValidString(out) {
			continue
		}
		if len(b.enc.Encode(out, nil, nil)) <= max {
			return out
		}
	}
	return ""
}

func (b *BPE) Name() string {
	return b.name
}

// Heuristic estimates tokens as characters / 4. It needs no encoding tables
// and is used for offline providers and tests.
type Heuristic struct{}

func (Heuristic) Count(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		return 1
	}
	return n
}

func (Heuristic) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	limit := max * 4
	if len(text) <= limit {
		return text
	}
	// Back off to a rune boundary
	for limit > 0 && !isRuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

func (Heuristic) Name() string {
	return "heuristic"
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// Words counts whitespace separated words. It is exact and predictable,
// which makes budget arithmetic easy to reason about in tests.
type Words struct{}

func (Words) Count(text string) int {
	return len(strings.Fields(text))
}

func (Words) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	fields := strings.Fields(text)
	if len(fields) <= max {
		return text
	}
	return strings.Join(fields[:max], " ")
}

func (Words) Name() string {
	return "words"
}

// New returns the tokenizer named by kind: "heuristic", "words", or a
// tiktoken encoding name.
func New(kind string) (Tokenizer, error) {
	switch kind {
	case "heuristic":
		return Heuristic{}, nil
	case "words":
		return Words{}, nil
	default:
		return NewBPE(kind)
	}
}
