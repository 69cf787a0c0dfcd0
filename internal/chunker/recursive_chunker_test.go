package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_EmptyInput(t *testing.T) {
	assert.Empty(t, Split("", 100, 0))
	assert.Empty(t, Split(" \n\t ", 100, 0))
}

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	assert.Equal(t, []string{"Short text."}, Split("  Short text.  ", 100, 0))
}

func TestSplit_PrefersParagraphs(t *testing.T) {
	text := "para one is here.\n\npara two is here."
	assert.Equal(t, []string{"para one is here.", "para two is here."}, Split(text, 20, 0))
}

func TestSplit_FallsBackToSentences(t *testing.T) {
	text := "First sentence here. Second sentence here. Third one."
	assert.Equal(t,
		[]string{"First sentence here.", "Second sentence here.", "Third one."},
		Split(text, 25, 0))
}

func TestSplit_HardCutsUnbrokenText(t *testing.T) {
	chunks := Split(strings.Repeat("a", 25), 10, 0)
	require.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("a", 10), chunks[0])
	assert.Equal(t, strings.Repeat("a", 10), chunks[1])
	assert.Equal(t, strings.Repeat("a", 5), chunks[2])
}

func TestSplit_HardCutWithOverlap(t *testing.T) {
	chunks := Split("abcdefghij", 4, 2)
	assert.Equal(t, []string{"abcd", "cdef", "efgh", "ghij"}, chunks)
}

func TestSplit_WordOverlap(t *testing.T) {
	chunks := Split("one two three four five six", 10, 4)
	assert.Equal(t, []string{"one two", "two three", "four five", "six"}, chunks)
}

func TestSplit_RespectsLimitInRunes(t *testing.T) {
	text := strings.Repeat("Привет мир, это тестовый текст. ", 40)
	for _, chunk := range Split(text, 50, 0) {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 50)
		assert.NotEmpty(t, chunk)
	}
}

func TestSplit_NoChunkExceedsLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("Sentence number ")
		b.WriteString(strings.Repeat("x", i%30))
		b.WriteString(". ")
		if i%7 == 0 {
			b.WriteString("\n\n")
		}
	}
	chunks := Split(b.String(), 120, 20)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 120)
	}
}

func TestNewRecursiveChunker_Defaults(t *testing.T) {
	c := NewRecursiveChunker(0, -1)
	assert.Equal(t, DefaultChunkSize, c.chunkSize)
	assert.Equal(t, DefaultChunkOverlap, c.overlap)

	c = NewRecursiveChunker(10, 10)
	assert.Equal(t, 0, c.overlap)
}
