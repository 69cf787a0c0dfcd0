// Package indexing runs the ingestion pipeline that feeds the permanent
// corpus and its vector index.
package indexing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/phuslu/log"

	"ragmerge/internal/chunker"
	"ragmerge/internal/corpus"
	"ragmerge/internal/domain"
	"ragmerge/internal/embedding"
	"ragmerge/internal/fsutil"
	"ragmerge/internal/hasher"
	"ragmerge/internal/logger"
	"ragmerge/internal/vectorstore/flat"
)

// Config holds the indexing parameters.
type Config struct {
	EmbeddingsPath    string
	QualityReportPath string
	MinTextLength     int
	ChunkSize         int
	ChunkOverlap      int
	BatchSize         int
	Concurrency       int
	Incremental       bool
	DeleteOnError     bool
	// PreserveCase keeps chunk case when normalizing; whitespace is always collapsed.
	PreserveCase bool
}

// Result summarizes one indexing run.
type Result struct {
	Source   string        `json:"source"`
	Rows     int           `json:"rows"`
	NewRows  int           `json:"new_rows"`
	Chunks   int           `json:"chunks"`
	Total    int           `json:"total"`
	NoOp     bool          `json:"no_op"`
	Quality  QualityReport `json:"quality"`
	Duration time.Duration `json:"duration"`
}

// CommitFunc receives the corpus and index after every change so a new query
// snapshot can be published. Both are nil after a clear.
type CommitFunc func(chunks []domain.Chunk, index *flat.Index)

// Option customizes an Engine.
type Option func(*Engine)

// WithCommitHook registers fn to run after each successful change.
func WithCommitHook(fn CommitFunc) Option {
	return func(e *Engine) { e.onCommit = fn }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine ingests documents into the corpus store and the vector index.
// Run, RunRows, Clear and DeleteSource are serialized.
type Engine struct {
	cfg       Config
	extractor domain.Extractor
	embedder  domain.Embedder
	corpus    *corpus.Store
	index     *flat.Store
	chunker   *chunker.RecursiveChunker
	log       *log.Logger
	now       func() time.Time
	onCommit  CommitFunc

	mu     sync.Mutex
	hashes map[string]struct{}
}

// New creates an engine. In incremental mode the known hashes and the
// existing index are loaded; a corrupt corpus or index file is an error.
func New(cfg Config, extractor domain.Extractor, embedder domain.Embedder, cs *corpus.Store, is *flat.Store, l *log.Logger, opts ...Option) (*Engine, error) {
	if embedder == nil {
		return nil, errors.New("indexing: embedder is required")
	}
	if cs == nil || is == nil {
		return nil, errors.New("indexing: corpus and index stores are required")
	}
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = DefaultMinTextLength
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embedding.DefaultBatchSize
	}
	if cfg.EmbeddingsPath == "" {
		cfg.EmbeddingsPath = filepath.Join(filepath.Dir(cs.Path()), "embeddings.bin")
	}
	e := &Engine{
		cfg:       cfg,
		extractor: extractor,
		embedder:  embedder,
		corpus:    cs,
		index:     is,
		chunker:   chunker.NewRecursiveChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		log:       logger.OrDiscard(l),
		now:       time.Now,
		hashes:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.Incremental {
		hashes, err := cs.Hashes()
		if err != nil {
			return nil, fmt.Errorf("load existing hashes: %w", err)
		}
		e.hashes = hashes
		e.log.Info().Int("hashes", len(hashes)).Msg("loaded existing hashes")
		if err := is.LoadIndex(""); err != nil {
			return nil, fmt.Errorf("load index: %w", err)
		}
	}
	return e, nil
}

// KnownHashes returns the number of chunk hashes the engine treats as indexed.
func (e *Engine) KnownHashes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.hashes)
}

// Run extracts source (a file, a directory or raw text) and indexes it.
func (e *Engine) Run(ctx context.Context, source string) (Result, error) {
	if e.extractor == nil {
		return Result{}, errors.New("indexing: no extractor configured")
	}
	rows, err := e.extractor.Extract(ctx, source)
	if err != nil {
		e.log.Error().Err(err).Msg("failed to load data")
		return Result{}, fmt.Errorf("extract: %w", err)
	}
	e.log.Info().Int("rows", len(rows)).Msg("loaded records from data source")
	return e.RunRows(ctx, rows, sourceName(source))
}

// RunRows indexes already extracted rows. Rows without a source are
// attributed to name, or to "unknown" when name is empty.
func (e *Engine) RunRows(ctx context.Context, rows []domain.Row, name string) (res Result, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	if name == "" {
		name = domain.UnknownSource
	}
	res.Source = name
	res.Rows = len(rows)
	defer func() { res.Duration = time.Since(start) }()

	report, kept := CheckQuality(rows, e.cfg.MinTextLength)
	res.Quality = report
	e.log.Info().Int("passed", len(kept)).Int("removed", report.RemovedDocs).Msg("data quality check completed")
	if e.cfg.QualityReportPath != "" {
		if werr := WriteReport(e.cfg.QualityReportPath, report); werr != nil {
			e.log.Warn().Err(werr).Str("path", e.cfg.QualityReportPath).Msg("failed to write quality report")
		}
	}

	snap, err := e.snapshot()
	if err != nil {
		return res, fmt.Errorf("snapshot stores: %w", err)
	}
	defer func() {
		if err != nil {
			e.fail(snap, err)
		}
	}()

	known := e.hashes
	if !e.cfg.Incremental {
		if err = e.removeFiles(); err != nil {
			return res, err
		}
		known = map[string]struct{}{}
	}

	fresh := kept[:0:0]
	for _, r := range kept {
		if _, ok := known[hasher.Hash(r.Text)]; !ok {
			fresh = append(fresh, r)
		}
	}
	res.NewRows = len(fresh)
	if len(fresh) == 0 {
		e.log.Info().Msg("no new unique texts to index")
		return e.noop(res), nil
	}

	chunks := e.chunk(fresh, name)
	chunks = dedupChunks(chunks, known)
	if len(chunks) == 0 {
		e.log.Info().Msg("no new unique chunks to index")
		return e.noop(res), nil
	}
	e.log.Info().Int("chunks", len(chunks)).Msg("found new chunks to index")

	added, err := e.corpus.Merge(chunks)
	if err != nil {
		return res, fmt.Errorf("save processed data: %w", err)
	}
	if len(added) == 0 {
		return e.noop(res), nil
	}

	vectors, err := embedding.Batch(ctx, e.embedder, corpus.Texts(added), e.cfg.BatchSize, e.cfg.Concurrency)
	if err != nil {
		return res, fmt.Errorf("create embeddings: %w", err)
	}
	if err = e.storeVectors(vectors); err != nil {
		return res, err
	}

	all, err := e.corpus.Load()
	if err != nil {
		return res, err
	}
	if len(all) != e.index.Total() {
		err = fmt.Errorf("%d chunks, %d vectors: %w", len(all), e.index.Total(), domain.ErrInconsistentIndex)
		return res, err
	}

	if e.cfg.Incremental {
		for _, c := range added {
			e.hashes[c.Hash] = struct{}{}
		}
	} else {
		e.hashes = corpus.HashSet(added)
	}
	res.Chunks = len(added)
	res.Total = len(all)
	e.commit(all, e.index.Current())
	e.log.Info().Str("source", name).Int("chunks", res.Chunks).Int("total", res.Total).Msg("indexing completed")
	return res, nil
}

// noop finishes a run that added nothing. A rebuild that added nothing
// leaves the stores empty, so the cleared state is published.
func (e *Engine) noop(res Result) Result {
	res.NoOp = true
	if !e.cfg.Incremental {
		e.hashes = map[string]struct{}{}
		e.commit(nil, nil)
	}
	res.Total = e.index.Total()
	return res
}

func (e *Engine) chunk(rows []domain.Row, name string) []domain.Chunk {
	ts := e.now().UTC().Format(time.RFC3339)
	var out []domain.Chunk
	for _, r := range rows {
		src := r.Source
		if src == "" {
			src = name
		}
		for _, piece := range e.chunker.Split(r.Text) {
			text := e.normalize(piece)
			if text == "" {
				continue
			}
			out = append(out, domain.Chunk{Text: text, Hash: hasher.Hash(piece), Source: src, Timestamp: ts})
		}
	}
	e.log.Info().Int("chunks", len(out)).Int("texts", len(rows)).Msg("created chunks")
	return out
}

func (e *Engine) normalize(text string) string {
	if e.cfg.PreserveCase {
		return hasher.Collapse(text)
	}
	return hasher.Normalize(text)
}

// dedupChunks drops chunks whose hash is known or repeats an earlier chunk.
func dedupChunks(chunks []domain.Chunk, known map[string]struct{}) []domain.Chunk {
	seen := make(map[string]struct{}, len(chunks))
	out := chunks[:0:0]
	for _, c := range chunks {
		if _, ok := known[c.Hash]; ok {
			continue
		}
		if _, ok := seen[c.Hash]; ok {
			continue
		}
		seen[c.Hash] = struct{}{}
		out = append(out, c)
	}
	return out
}

// storeVectors appends to (incremental) or replaces the side-car and index.
func (e *Engine) storeVectors(vectors [][]float32) error {
	if !e.cfg.Incremental {
		if err := flat.WriteMatrix(e.cfg.EmbeddingsPath, vectors); err != nil {
			return fmt.Errorf("save embeddings: %w", err)
		}
		return e.index.CreateIndex(vectors, true)
	}

	existing, err := flat.ReadMatrix(e.cfg.EmbeddingsPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		e.log.Info().Msg("created new embeddings (no existing found)")
	case err != nil:
		return fmt.Errorf("read embeddings: %w", err)
	default:
		e.log.Info().Int("existing", len(existing)).Int("new", len(vectors)).Msg("combined embeddings")
	}
	all := make([][]float32, 0, len(existing)+len(vectors))
	all = append(append(all, existing...), vectors...)
	if err := flat.WriteMatrix(e.cfg.EmbeddingsPath, all); err != nil {
		return fmt.Errorf("save embeddings: %w", err)
	}
	return e.index.CreateIndex(vectors, false)
}

// Clear removes the corpus, side-car and index and publishes an empty state.
func (e *Engine) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.removeFiles(); err != nil {
		return err
	}
	e.hashes = map[string]struct{}{}
	e.commit(nil, nil)
	e.log.Info().Msg("cleared indexed data")
	return nil
}

// DeleteSource removes every chunk of source and rebuilds the side-car and
// index from the remaining vectors. It returns the number of removed chunks.
func (e *Engine) DeleteSource(ctx context.Context, source string) (removed int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	all, err := e.corpus.Load()
	if err != nil {
		return 0, err
	}
	keep := make([]domain.Chunk, 0, len(all))
	positions := make([]int, 0, len(all))
	for i, c := range all {
		if c.Source == source {
			removed++
			continue
		}
		keep = append(keep, c)
		positions = append(positions, i)
	}
	if removed == 0 {
		return 0, fmt.Errorf("%q: %w", source, domain.ErrDocumentNotFound)
	}

	snap, err := e.snapshot()
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			e.rollback(snap)
		}
	}()

	if len(keep) == 0 {
		if err = e.removeFiles(); err != nil {
			return 0, err
		}
		e.hashes = map[string]struct{}{}
		e.commit(nil, nil)
		return removed, nil
	}

	vectors, err := e.vectorsFor(ctx, all, keep, positions)
	if err != nil {
		return 0, err
	}
	if err = e.corpus.Save(keep); err != nil {
		return 0, err
	}
	if err = flat.WriteMatrix(e.cfg.EmbeddingsPath, vectors); err != nil {
		return 0, err
	}
	if err = e.index.CreateIndex(vectors, true); err != nil {
		return 0, err
	}
	e.hashes = corpus.HashSet(keep)
	e.commit(keep, e.index.Current())
	e.log.Info().Str("source", source).Int("removed", removed).Int("remaining", len(keep)).Msg("deleted document")
	return removed, nil
}

// vectorsFor picks the vectors of the kept chunks from the side-car, falling
// back to the live index and finally to re-embedding.
func (e *Engine) vectorsFor(ctx context.Context, all, keep []domain.Chunk, positions []int) ([][]float32, error) {
	pick := func(src [][]float32) [][]float32 {
		out := make([][]float32, len(positions))
		for i, p := range positions {
			out[i] = src[p]
		}
		return out
	}
	if side, err := flat.ReadMatrix(e.cfg.EmbeddingsPath); err == nil && len(side) == len(all) {
		return pick(side), nil
	}
	if cur := e.index.Current(); cur.Len() == len(all) {
		e.log.Warn().Msg("embeddings side-car out of step, using index vectors")
		return pick(cur.Vectors()), nil
	}
	e.log.Warn().Int("chunks", len(keep)).Msg("no stored vectors match the corpus, re-embedding")
	return embedding.Batch(ctx, e.embedder, corpus.Texts(keep), e.cfg.BatchSize, e.cfg.Concurrency)
}

// Documents lists the indexed sources.
func (e *Engine) Documents() ([]corpus.Document, error) {
	chunks, err := e.corpus.Load()
	if err != nil {
		return nil, err
	}
	return corpus.Documents(chunks), nil
}

type snapshot struct {
	files []fsutil.Snapshot
}

func (e *Engine) snapshot() (snapshot, error) {
	var s snapshot
	for _, p := range e.paths() {
		f, err := fsutil.Take(p)
		if err != nil {
			return snapshot{}, err
		}
		s.files = append(s.files, f)
	}
	return s, nil
}

func (e *Engine) rollback(s snapshot) {
	for _, f := range s.files {
		if err := f.Restore(); err != nil {
			e.log.Error().Err(err).Str("path", f.Path).Msg("rollback failed")
		}
	}
	if err := e.index.LoadIndex(""); err != nil {
		e.log.Error().Err(err).Msg("reload index after rollback failed")
	}
	e.log.Warn().Msg("rolled back to previous data")
}

func (e *Engine) fail(s snapshot, cause error) {
	e.log.Error().Err(cause).Msg("indexing error")
	if !e.cfg.DeleteOnError {
		e.rollback(s)
		return
	}
	if err := e.removeFiles(); err != nil {
		e.log.Error().Err(err).Msg("failed to remove data after error")
	}
	e.hashes = map[string]struct{}{}
	e.commit(nil, nil)
}

func (e *Engine) paths() []string {
	return []string{e.corpus.Path(), e.cfg.EmbeddingsPath, e.index.Path()}
}

func (e *Engine) removeFiles() error {
	if err := e.corpus.Delete(); err != nil {
		return err
	}
	if err := fsutil.Remove(e.cfg.EmbeddingsPath); err != nil {
		return err
	}
	return e.index.DeleteIndex()
}

func (e *Engine) commit(chunks []domain.Chunk, index *flat.Index) {
	if e.onCommit != nil {
		e.onCommit(chunks, index)
	}
}

func sourceName(source string) string {
	if _, err := os.Stat(source); err == nil {
		return filepath.Base(filepath.Clean(source))
	}
	return domain.UnknownSource
}
