package session

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"ragmerge/internal/chunker"
	"ragmerge/internal/domain"
	"ragmerge/internal/embedding"
	"ragmerge/internal/hasher"
)

// BuilderConfig controls how uploads are chunked and embedded.
type BuilderConfig struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	Concurrency  int
	PreserveCase bool
}

// Builder turns an uploaded file into a FileBundle. Chunks are not
// deduplicated against the permanent corpus.
type Builder struct {
	cfg       BuilderConfig
	extractor domain.Extractor
	embedder  domain.Embedder
	chunker   *chunker.RecursiveChunker
	now       func() time.Time
}

// NewBuilder returns a bundle builder.
func NewBuilder(cfg BuilderConfig, extractor domain.Extractor, embedder domain.Embedder) *Builder {
	return &Builder{
		cfg:       cfg,
		extractor: extractor,
		embedder:  embedder,
		chunker:   chunker.NewRecursiveChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		now:       time.Now,
	}
}

// Build extracts, chunks and embeds the file at path. Every chunk carries
// the file's base name as its source.
func (b *Builder) Build(ctx context.Context, path string) (domain.FileBundle, error) {
	rows, err := b.extractor.Extract(ctx, path)
	if err != nil {
		return domain.FileBundle{}, fmt.Errorf("extract %s: %w", filepath.Base(path), err)
	}
	name := filepath.Base(path)
	ts := b.now().UTC().Format(time.RFC3339)

	var chunks []domain.Chunk
	for _, r := range rows {
		for _, piece := range b.chunker.Split(r.Text) {
			text := hasher.Normalize(piece)
			if b.cfg.PreserveCase {
				text = hasher.Collapse(piece)
			}
			if text == "" {
				continue
			}
			chunks = append(chunks, domain.Chunk{Text: text, Hash: hasher.Hash(piece), Source: name, Timestamp: ts})
		}
	}
	if len(chunks) == 0 {
		return domain.FileBundle{}, fmt.Errorf("%s: %w", name, domain.ErrEmptySource)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embedding.Batch(ctx, b.embedder, texts, b.cfg.BatchSize, b.cfg.Concurrency)
	if err != nil {
		return domain.FileBundle{}, fmt.Errorf("embed %s: %w", name, err)
	}
	return domain.FileBundle{Chunks: chunks, Vectors: vectors}, nil
}
