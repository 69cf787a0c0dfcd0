// Package query answers nearest-neighbour questions against an immutable
// snapshot of the permanent corpus.
package query

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/phuslu/log"

	"ragmerge/internal/corpus"
	"ragmerge/internal/domain"
	"ragmerge/internal/embedding"
	"ragmerge/internal/logger"
	"ragmerge/internal/rerank"
	"ragmerge/internal/vectorstore"
	"ragmerge/internal/vectorstore/flat"
)

const DefaultTopK = 5

// Config holds query parameters.
type Config struct {
	TopK int
}

// Engine searches one corpus snapshot. texts[i] is described by index position i.
// An Engine is never modified after construction.
type Engine struct {
	texts    []string
	index    vectorstore.Index
	embedder domain.Embedder
	reranker *rerank.Reranker
	k        int
	log      *log.Logger
}

// NewEngine builds an engine over texts and index.
func NewEngine(texts []string, index vectorstore.Index, embedder domain.Embedder, reranker *rerank.Reranker, cfg Config, l *log.Logger) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return &Engine{
		texts:    texts,
		index:    index,
		embedder: embedder,
		reranker: reranker,
		k:        cfg.TopK,
		log:      logger.OrDiscard(l),
	}
}

// Len returns the number of passages in the snapshot.
func (e *Engine) Len() int { return len(e.texts) }

// K returns how many passages Query returns at most.
func (e *Engine) K() int { return e.k }

// Embedder returns the embedder used for questions.
func (e *Engine) Embedder() domain.Embedder { return e.embedder }

// Query returns up to K passages for question, nearest first, or in
// reranked order when reranking is enabled.
func (e *Engine) Query(ctx context.Context, question string) ([]string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.ErrEmptyQuestion
	}
	vec, err := embedding.One(ctx, e.embedder, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	return e.QueryVector(ctx, question, vec)
}

// QueryVector is Query for a question that is already embedded. The
// question text is only used for reranking.
func (e *Engine) QueryVector(ctx context.Context, question string, vec []float32) ([]string, error) {
	breadth := e.k
	if e.reranker.Enabled() && e.reranker.CandidatePool() > e.k {
		breadth = e.reranker.CandidatePool()
	}
	if e.index == nil {
		return nil, nil
	}
	if n := e.index.Len(); n != len(e.texts) {
		return nil, fmt.Errorf("%d texts, %d vectors: %w", len(e.texts), n, domain.ErrInconsistentIndex)
	}
	hits, err := e.index.Search(vec, breadth)
	if err != nil {
		return nil, err
	}

	passages := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Position < 0 || h.Position >= len(e.texts) {
			e.log.Warn().Int("position", h.Position).Int("texts", len(e.texts)).Msg("index position out of range, skipping")
			continue
		}
		passages = append(passages, e.texts[h.Position])
	}
	if e.reranker.Enabled() {
		return e.reranker.Rerank(ctx, question, passages, e.k), nil
	}
	if len(passages) > e.k {
		passages = passages[:e.k]
	}
	return passages, nil
}

// Builder makes engines for new snapshots with fixed collaborators.
type Builder struct {
	Embedder domain.Embedder
	Reranker *rerank.Reranker
	Config   Config
	Log      *log.Logger
}

// Build returns an engine over chunks and index, or nil when index is nil.
func (b Builder) Build(chunks []domain.Chunk, index *flat.Index) *Engine {
	if index == nil {
		return nil
	}
	return NewEngine(corpus.Texts(chunks), index, b.Embedder, b.Reranker, b.Config, b.Log)
}

// Open builds an engine from the persisted corpus and index. A missing
// index file yields a nil engine and no error.
func (b Builder) Open(store *corpus.Store, indexPath string) (*Engine, error) {
	index, err := flat.LoadIndex(indexPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	chunks, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	if len(chunks) != index.Len() {
		return nil, fmt.Errorf("%d chunks, %d vectors: %w", len(chunks), index.Len(), domain.ErrInconsistentIndex)
	}
	return b.Build(chunks, index), nil
}
