// Package retrieval combines permanent and session passages for one question.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"ragmerge/internal/domain"
	"ragmerge/internal/embedding"
	"ragmerge/internal/logger"
	"ragmerge/internal/query"
	"ragmerge/internal/vectorstore/flat"
)

// Result is the outcome of one retrieval. Available is false only when
// there is neither a permanent index nor a session to search.
type Result struct {
	Passages  []string
	Available bool
}

// Retriever produces passages for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string) (Result, error)
}

// PermanentOnly searches the permanent engine and returns its result as is.
type PermanentOnly struct {
	Engine *query.Engine
}

// Retrieve implements Retriever.
func (p PermanentOnly) Retrieve(ctx context.Context, question string) (Result, error) {
	if p.Engine == nil {
		return Result{}, nil
	}
	passages, err := p.Engine.Query(ctx, question)
	if err != nil {
		return Result{}, err
	}
	return Result{Passages: passages, Available: true}, nil
}

// PermanentPlusSession searches the permanent engine (if any) and the session
// bundles in parallel and merges the results, permanent first.
type PermanentPlusSession struct {
	Engine   *query.Engine
	Bundles  []domain.FileBundle
	Embedder domain.Embedder
	K        int
	Log      *log.Logger
}

// Retrieve implements Retriever. The question is embedded once and the
// vector is shared by both sides. A failing side is logged and contributes
// nothing; only when both sides fail is an error returned.
func (p PermanentPlusSession) Retrieve(ctx context.Context, question string) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, domain.ErrEmptyQuestion
	}
	l := logger.OrDiscard(p.Log)
	embedder := p.Embedder
	if embedder == nil && p.Engine != nil {
		embedder = p.Engine.Embedder()
	}
	if embedder == nil {
		return Result{}, errors.New("no embedder for session search")
	}
	vec, err := embedding.One(ctx, embedder, question)
	if err != nil {
		return Result{}, fmt.Errorf("embed question: %w", err)
	}

	var permanent, temporary []string
	var permErr, sessErr error
	var g errgroup.Group
	if p.Engine != nil {
		g.Go(func() error {
			permanent, permErr = p.Engine.QueryVector(ctx, question, vec)
			return nil
		})
	}
	g.Go(func() error {
		temporary, sessErr = SearchBundles(p.Bundles, vec, p.K)
		return nil
	})
	_ = g.Wait()

	if permErr != nil {
		l.Warn().Err(permErr).Msg("permanent search failed, using session passages only")
	}
	if sessErr != nil {
		l.Warn().Err(sessErr).Msg("session search failed, using permanent passages only")
	}
	if sessErr != nil && (permErr != nil || p.Engine == nil) {
		return Result{}, errors.Join(permErr, sessErr)
	}
	return Result{Passages: Merge(permanent, temporary, p.K), Available: true}, nil
}

// Select picks the retriever for one request.
func Select(engine *query.Engine, bundles []domain.FileBundle, embedder domain.Embedder, k int, l *log.Logger) Retriever {
	if len(bundles) == 0 {
		return PermanentOnly{Engine: engine}
	}
	if k <= 0 {
		k = query.DefaultTopK
	}
	return PermanentPlusSession{Engine: engine, Bundles: bundles, Embedder: embedder, K: k, Log: l}
}

// Merge concatenates permanent then temporary passages, drops exact
// duplicates keeping the first occurrence, and caps the result at 2k.
func Merge(permanent, temporary []string, k int) []string {
	limit := 2 * k
	out := make([]string, 0, len(permanent)+len(temporary))
	seen := make(map[string]struct{}, cap(out))
	for _, list := range [][]string{permanent, temporary} {
		for _, p := range list {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	if k > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SearchBundles builds a transient squared-L2 index over every chunk of the
// bundles and returns the k passages nearest to vec.
func SearchBundles(bundles []domain.FileBundle, vec []float32, k int) ([]string, error) {
	var texts []string
	var vectors [][]float32
	for _, b := range bundles {
		if len(b.Chunks) != len(b.Vectors) {
			return nil, fmt.Errorf("session file %q has %d chunks and %d vectors", b.Filename(), len(b.Chunks), len(b.Vectors))
		}
		for i, c := range b.Chunks {
			texts = append(texts, c.Text)
			vectors = append(vectors, b.Vectors[i])
		}
	}
	if len(texts) == 0 {
		return nil, nil
	}
	index, err := flat.FromVectors(vectors)
	if err != nil {
		return nil, err
	}
	hits, err := index.Search(vec, k)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = texts[h.Position]
	}
	return out, nil
}
