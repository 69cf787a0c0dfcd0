package hasher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHash_IgnoresCaseAndSurroundingWhitespace(t *testing.T) {
	assert.Equal(t, Hash("example text"), Hash("  Example Text  "))
	assert.Equal(t, Hash("example text"), Hash("EXAMPLE\ttext\n"))
}

func TestHash_CollapsesInnerWhitespace(t *testing.T) {
	assert.Equal(t, Hash("a b c"), Hash("a   b\n\nc"))
}

func TestHash_DistinctTexts(t *testing.T) {
	assert.NotEqual(t, Hash("alpha"), Hash("beta"))
	assert.Len(t, Hash("alpha"), 64)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hello world", Normalize("  Hello \n World "))
	assert.Equal(t, "", Normalize(" \t\n "))
}

func TestCollapse_KeepsCase(t *testing.T) {
	assert.Equal(t, "Hello World", Collapse("  Hello \n World "))
}
