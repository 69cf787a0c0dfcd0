package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 0
)

// separators are tried in order: paragraph, line, sentence, word.
// Text that matches none of them is hard cut.
var separators = []*regexp.Regexp{
	regexp.MustCompile(`\n\s*\n`),
	regexp.MustCompile(`\n`),
	regexp.MustCompile(`[.!?]+\s+`),
	regexp.MustCompile(`\s+`),
}

// RecursiveChunker splits text into chunks of at most chunkSize runes,
// preferring natural boundaries, with optional overlap between neighbours.
type RecursiveChunker struct {
	chunkSize int
	overlap   int
}

func NewRecursiveChunker(chunkSize, overlap int) *RecursiveChunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultChunkOverlap
	}
	return &RecursiveChunker{chunkSize: chunkSize, overlap: overlap}
}

// Split is a shorthand for NewRecursiveChunker(chunkSize, overlap).Split(text).
func Split(text string, chunkSize, overlap int) []string {
	return NewRecursiveChunker(chunkSize, overlap).Split(text)
}

// Split returns the trimmed, non-empty chunks of text in document order.
func (c *RecursiveChunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var chunks []string
	for _, piece := range c.split(text, 0) {
		if p := strings.TrimSpace(piece); p != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks
}

func (c *RecursiveChunker) split(text string, level int) []string {
	if utf8.RuneCountInString(text) <= c.chunkSize {
		return []string{text}
	}
	for level < len(separators) && !separators[level].MatchString(text) {
		level++
	}
	if level == len(separators) {
		return c.hardCut(text)
	}
	var out, pending []string
	for _, piece := range splitAfter(text, separators[level]) {
		if utf8.RuneCountInString(piece) <= c.chunkSize {
			pending = append(pending, piece)
			continue
		}
		out = append(out, c.merge(pending)...)
		pending = nil
		out = append(out, c.split(piece, level+1)...)
	}
	return append(out, c.merge(pending)...)
}

// merge packs pieces, each already within the limit, into chunks.
func (c *RecursiveChunker) merge(pieces []string) []string {
	var out, window []string
	size := 0
	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if size+n > c.chunkSize && len(window) > 0 {
			out = append(out, strings.Join(window, ""))
			for len(window) > 0 && (size > c.overlap || size+n > c.chunkSize) {
				size -= utf8.RuneCountInString(window[0])
				window = window[1:]
			}
		}
		window = append(window, p)
		size += n
	}
	if len(window) > 0 {
		out = append(out, strings.Join(window, ""))
	}
	return out
}

func (c *RecursiveChunker) hardCut(text string) []string {
	runes := []rune(text)
	step := c.chunkSize - c.overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+c.chunkSize, len(runes))
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

// splitAfter cuts text after every separator match, keeping the separator
// attached to the preceding piece.
func splitAfter(text string, sep *regexp.Regexp) []string {
	var pieces []string
	last := 0
	for _, loc := range sep.FindAllStringIndex(text, -1) {
		if loc[1] <= last {
			continue
		}
		pieces = append(pieces, text[last:loc[1]])
		last = loc[1]
	}
	if last < len(text) {
		pieces = append(pieces, text[last:])
	}
	return pieces
}
