// Package embedding contains the embedding provider adapters and the
// batching helpers used by the indexing and query paths.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"ragmerge/internal/domain"
)

const DefaultBatchSize = 32

// Batch embeds texts in batches of batchSize with at most concurrency
// batches in flight. The result follows the order of texts.
func Batch(ctx context.Context, emb domain.Embedder, texts []string, batchSize, concurrency int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			vecs, err := emb.Embed(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embed batch [%d:%d]: got %d vectors for %d texts", start, end, len(vecs), end-start)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if _, err := Dimension(out); err != nil {
		return nil, err
	}
	return out, nil
}

// One embeds a single text.
func One(ctx context.Context, emb domain.Embedder, text string) ([]float32, error) {
	vecs, err := emb.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, errors.New("embedder returned no vector")
	}
	return vecs[0], nil
}

// Dimension returns the common length of vectors, failing on empty or mixed sizes.
func Dimension(vectors [][]float32) (int, error) {
	if len(vectors) == 0 {
		return 0, nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return 0, errors.New("empty embedding vector")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return 0, fmt.Errorf("vector %d has %d values, want %d: %w", i, len(v), dim, domain.ErrDimensionMismatch)
		}
	}
	return dim, nil
}
