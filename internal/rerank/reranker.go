// Package rerank reorders retrieved passages with a query/passage scorer.
package rerank

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/phuslu/log"

	"ragmerge/internal/logger"
)

const (
	DefaultCandidatePool = 20
	DefaultBatchSize     = 16
	DefaultMaxChars      = 1000
)

// Scorer assigns a relevance score to each passage for the question.
// Higher is more relevant.
type Scorer interface {
	Score(ctx context.Context, question string, passages []string) ([]float64, error)
}

// Loader builds the scorer when reranking is enabled.
type Loader func(ctx context.Context) (Scorer, error)

// Config controls reranking.
type Config struct {
	Enabled       bool
	Scorer        string
	URL           string
	Model         string
	Timeout       time.Duration
	CandidatePool int
	BatchSize     int
	MaxChars      int
}

// Reranker reorders passages. It is disabled unless a scorer was loaded.
type Reranker struct {
	cfg    Config
	scorer Scorer
	log    *log.Logger
}

// New returns a reranker. A disabled config, a nil loader or a load failure
// yields a disabled reranker.
func New(ctx context.Context, cfg Config, load Loader, l *log.Logger) *Reranker {
	if cfg.CandidatePool <= 0 {
		cfg.CandidatePool = DefaultCandidatePool
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxChars == 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	r := &Reranker{cfg: cfg, log: logger.OrDiscard(l)}
	if !cfg.Enabled {
		return r
	}
	if load == nil {
		r.log.Warn().Msg("rerank is enabled but no scorer is configured, disabling rerank")
		return r
	}
	s, err := load(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to initialize reranker, disabling rerank")
		return r
	}
	r.scorer = s
	r.log.Info().Str("scorer", cfg.Scorer).Msg("loaded reranker")
	return r
}

// NewWithScorer returns an enabled reranker using s.
func NewWithScorer(cfg Config, s Scorer, l *log.Logger) *Reranker {
	cfg.Enabled = true
	return New(context.Background(), cfg, func(context.Context) (Scorer, error) { return s, nil }, l)
}

// Enabled reports whether passages will actually be rescored.
func (r *Reranker) Enabled() bool {
	return r != nil && r.scorer != nil
}

// CandidatePool is how many passages to retrieve before reranking.
func (r *Reranker) CandidatePool() int {
	if r == nil {
		return 0
	}
	return r.cfg.CandidatePool
}

// Rerank returns the topK passages by descending score. Equal scores keep
// their input order. When disabled, or if scoring fails, the first topK
// passages are returned unchanged. A topK of zero or less keeps all passages.
func (r *Reranker) Rerank(ctx context.Context, question string, passages []string, topK int) []string {
	if topK <= 0 || topK > len(passages) {
		topK = len(passages)
	}
	if !r.Enabled() || len(passages) == 0 || strings.TrimSpace(question) == "" {
		return passages[:topK]
	}

	scores, err := r.score(ctx, question, passages)
	if err != nil {
		r.log.Warn().Err(err).Msg("rerank failed, keeping retrieval order")
		return passages[:topK]
	}
	order := make([]int, len(passages))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	out := make([]string, topK)
	for i := range out {
		out[i] = passages[order[i]]
	}
	return out
}

func (r *Reranker) score(ctx context.Context, question string, passages []string) ([]float64, error) {
	scores := make([]float64, 0, len(passages))
	for start := 0; start < len(passages); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(passages))
		batch := make([]string, end-start)
		for i, p := range passages[start:end] {
			batch[i] = truncate(p, r.cfg.MaxChars)
		}
		s, err := r.scorer.Score(ctx, question, batch)
		if err != nil {
			return nil, err
		}
		if len(s) != len(batch) {
			return nil, fmt.Errorf("scorer returned %d scores for %d passages", len(s), len(batch))
		}
		scores = append(scores, s...)
	}
	return scores, nil
}

// truncate keeps the first n runes of s. A non-positive n keeps everything.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
