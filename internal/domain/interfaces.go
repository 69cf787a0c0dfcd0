package domain

import (
	"context"
	"time"
)

// UnknownSource marks chunks whose originating document cannot be derived.
const UnknownSource = "unknown"

// Row is a single logical unit of raw text produced by an Extractor.
type Row struct {
	Text   string
	Source string
}

// Chunk is a unit of indexed text. Its JSON form is the corpus store record.
type Chunk struct {
	Text      string `json:"text"`
	Hash      string `json:"hash"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// FileBundle holds the chunks and vectors produced from one uploaded document.
// Chunks[i] is described by Vectors[i].
type FileBundle struct {
	Chunks  []Chunk
	Vectors [][]float32
}

// Filename returns the source of the first chunk, or "" for an empty bundle.
func (b FileBundle) Filename() string {
	if len(b.Chunks) == 0 {
		return ""
	}
	return b.Chunks[0].Source
}

// Answer is the result handed back to callers and stored in the answer cache.
type Answer struct {
	Answer    string   `json:"answer"`
	Passages  []string `json:"texts"`
	Available bool     `json:"available"`
	Cached    bool     `json:"cached,omitempty"`
}

// Extractor turns a file path, directory path or raw string into text rows.
type Extractor interface {
	Extract(ctx context.Context, source string) ([]Row, error)
}

// Embedder converts texts into fixed-dimension vectors.
// Dimension may return 0 until the first successful call.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Synthesizer produces an answer from a question and its context passages.
type Synthesizer interface {
	Generate(ctx context.Context, question string, passages []string) (string, error)
}

// AnswerCache stores answers keyed by question.
type AnswerCache interface {
	Get(ctx context.Context, question string) (Answer, bool, error)
	Put(ctx context.Context, question string, answer Answer, ttl time.Duration) error
	// Flush drops every cached answer.
	Flush(ctx context.Context) error
	Close() error
}
