package reassembler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repovec-mcp/internal/tokenizer"
	"github.com/dshills/repovec-mcp/pkg/types"
)

func chunk(ordinal int, text string) types.Chunk {
	return types.Chunk{Ordinal: ordinal, Text: text}
}

func TestCombine(t *testing.T) {
	r := New(tokenizer.Words{})

	tests := []struct {
		name    string
		chunks  []types.Chunk
		budget  int
		want    string
		wantErr error
	}{
		{
			name:   "sorted by ordinal",
			chunks: []types.Chunk{chunk(2, "c c"), chunk(0, "a a"), chunk(1, "b b")},
			budget: 6,
			want:   "a a\nb b\nc c",
		},
		{
			name:    "one token over",
			chunks:  []types.Chunk{chunk(0, "a a"), chunk(1, "b b"), chunk(2, "c c")},
			budget:  5,
			wantErr: ErrOverBudget,
		},
		{
			name:   "empty input",
			chunks: nil,
			budget: 1,
			want:   "",
		},
		{
			name:    "invalid budget",
			chunks:  []types.Chunk{chunk(0, "a")},
			budget:  0,
			wantErr: ErrInvalidBudget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Combine(tt.chunks, tt.budget)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCombine_OverBudgetError(t *testing.T) {
	r := New(tokenizer.Words{})

	_, err := r.Combine([]types.Chunk{chunk(0, "one two three")}, 2)

	var obe *OverBudgetError
	require.True(t, errors.As(err, &obe))
	assert.Equal(t, 3, obe.Tokens)
	assert.Equal(t, 2, obe.Budget)
}

func TestCombine_DoesNotReorderInput(t *testing.T) {
	r := New(tokenizer.Words{})
	in := []types.Chunk{chunk(1, "b"), chunk(0, "a")}

	_, err := r.Combine(in, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, in[0].Ordinal)
}

func TestCombineAround(t *testing.T) {
	r := New(tokenizer.Words{})
	chunks := []types.Chunk{
		chunk(0, "zero"), chunk(1, "one"), chunk(2, "two"), chunk(3, "three"), chunk(4, "four"),
	}

	tests := []struct {
		name     string
		seed     int
		budget   int
		want     string
		ordinals []int
	}{
		{"everything fits", 2, 5, "zero\none\ntwo\nthree\nfour", []int{0, 1, 2, 3, 4}},
		{"drops both ends", 2, 3, "one\ntwo\nthree", []int{1, 2, 3}},
		{"ties drop the higher ordinal", 2, 2, "one\ntwo", []int{1, 2}},
		{"seed at the start", 0, 2, "zero\none", []int{0, 1}},
		{"only the seed", 4, 1, "four", []int{4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, kept, err := r.CombineAround(chunks, tt.seed, tt.budget)
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)

			ordinals := make([]int, len(kept))
			for i, c := range kept {
				ordinals[i] = c.Ordinal
			}
			assert.Equal(t, tt.ordinals, ordinals)
		})
	}

	assert.Len(t, chunks, 5, "input is left untouched")
}

func TestCombineAround_SingleChunkTooLarge(t *testing.T) {
	r := New(tokenizer.Words{})

	_, _, err := r.CombineAround([]types.Chunk{chunk(0, "a b c"), chunk(1, "d e f")}, 0, 2)
	assert.ErrorIs(t, err, ErrOverBudget)
}
