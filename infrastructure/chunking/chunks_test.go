package chunking

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/vecsync/domain/vectorizer"
)

func TestCharacterSplitter_HardSlicesOversizedPiece(t *testing.T) {
	s, err := NewCharacterSplitter(ChunkParams{Size: 10, Overlap: 2}, "\n\n")
	require.NoError(t, err)

	chunks := s.Split("abcdefghijklmnopqrstuvwxyz")

	assert.Equal(t, []string{"abcdefghij", "ijklmnopqr", "qrstuvwxyz"}, chunks.Texts())
}

func TestCharacterSplitter_PacksPieces(t *testing.T) {
	s, err := NewCharacterSplitter(ChunkParams{Size: 8, Overlap: 0}, "\n\n")
	require.NoError(t, err)

	chunks := s.Split("aaa\n\nbbb\n\nccc")

	assert.Equal(t, []string{"aaa\n\nbbb", "ccc"}, chunks.Texts())
	for i, c := range chunks.All() {
		assert.Equal(t, i, c.Seq())
	}
}

func TestCharacterSplitter_DropsEmptyPieces(t *testing.T) {
	s, err := NewCharacterSplitter(ChunkParams{Size: 100, Overlap: 0}, "\n\n")
	require.NoError(t, err)

	chunks := s.Split("\n\na\n\n\n\nb\n\n")

	assert.Equal(t, []string{"a\n\nb"}, chunks.Texts())
}

func TestCharacterSplitter_RegexKeepsMatchedSeparator(t *testing.T) {
	s, err := New(vectorizer.CharacterTextSplitter{
		ChunkSettings: vectorizer.ChunkSettings{Size: 3, Overlap: 0, IsSeparatorRegex: true},
		Separator:     `\s+`,
	})
	require.NoError(t, err)

	chunks := s.Split("a  b\tc")

	assert.Equal(t, []string{"a", "b\tc"}, chunks.Texts())
}

func TestSplitters_EmptyInputProducesNoChunks(t *testing.T) {
	character, err := NewCharacterSplitter(ChunkParams{Size: 10, Overlap: 2}, "\n\n")
	require.NoError(t, err)
	recursive, err := NewRecursiveSplitter(ChunkParams{Size: 10, Overlap: 2}, nil)
	require.NoError(t, err)

	for _, s := range []Splitter{character, recursive} {
		for _, text := range []string{"", "   ", "\n\n\t"} {
			chunks := s.Split(text)
			assert.Zero(t, chunks.Len())
			assert.Empty(t, chunks.Texts())
		}
	}
}

func TestRecursiveSplitter_FallsThroughSeparators(t *testing.T) {
	s, err := NewRecursiveSplitter(ChunkParams{Size: 20, Overlap: 0}, nil)
	require.NoError(t, err)

	chunks := s.Split("The quick brown fox jumps over the lazy dog.\n\nShort one.")

	assert.Equal(t, []string{
		"The quick brown fox",
		"jumps over the lazy",
		"dog\n\nShort one.",
	}, chunks.Texts())
}

func TestRecursiveSplitter_FirstPresentSeparatorWins(t *testing.T) {
	s, err := NewRecursiveSplitter(ChunkParams{Size: 12, Overlap: 0}, []string{"\n", " "})
	require.NoError(t, err)

	chunks := s.Split("one two\nthree four")

	assert.Equal(t, []string{"one two", "three four"}, chunks.Texts())
}

func TestRecursiveSplitter_NoSeparatorPresentSlices(t *testing.T) {
	s, err := NewRecursiveSplitter(ChunkParams{Size: 4, Overlap: 1}, []string{"\n\n"})
	require.NoError(t, err)

	chunks := s.Split("abcdefg")

	assert.Equal(t, []string{"abcd", "defg"}, chunks.Texts())
}

func TestRecursiveSplitter_ExactOverlap(t *testing.T) {
	words := make([]string, 400)
	for i := range words {
		words[i] = fmt.Sprintf("word%03d", i)
	}
	text := strings.Join(words, " ")

	s, err := New(vectorizer.RecursiveCharacterTextSplitter{
		ChunkSettings: vectorizer.ChunkSettings{Size: 128, Overlap: 10},
		Separators:    vectorizer.DefaultSeparators,
	})
	require.NoError(t, err)

	chunks := s.Split(text).Texts()
	require.Greater(t, len(chunks), 10)

	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 128, "chunk %d too long", i)
		if i == 0 {
			continue
		}
		prev := []rune(chunks[i-1])
		tail := string(prev[len(prev)-10:])
		assert.True(t, strings.HasPrefix(c, tail), "chunk %d does not start with the previous tail %q", i, tail)
	}
	assert.True(t, strings.HasPrefix(chunks[0], "word000"))
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1], "word399"))
}

func TestRecursiveSplitter_MultibyteRunes(t *testing.T) {
	s, err := NewRecursiveSplitter(ChunkParams{Size: 3, Overlap: 1}, []string{""})
	require.NoError(t, err)

	chunks := s.Split("αβγδε")

	assert.Equal(t, []string{"αβγ", "γδε"}, chunks.Texts())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  vectorizer.Chunking
		msg  string
	}{
		{
			name: "overlap equals size",
			cfg: vectorizer.CharacterTextSplitter{
				ChunkSettings: vectorizer.ChunkSettings{Size: 10, Overlap: 10},
				Separator:     " ",
			},
			msg: "overlap (10) must be less than size (10)",
		},
		{
			name: "bad regex",
			cfg: vectorizer.RecursiveCharacterTextSplitter{
				ChunkSettings: vectorizer.ChunkSettings{Size: 10, IsSeparatorRegex: true},
				Separators:    []string{"[a-"},
			},
			msg: "separator",
		},
		{
			name: "no separators",
			cfg: vectorizer.RecursiveCharacterTextSplitter{
				ChunkSettings: vectorizer.ChunkSettings{Size: 10},
			},
			msg: "separators must not be empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, vectorizer.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
