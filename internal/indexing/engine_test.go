package indexing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragmerge/internal/corpus"
	"ragmerge/internal/domain"
	"ragmerge/internal/embedding/lexical"
	"ragmerge/internal/extractor"
	"ragmerge/internal/logger"
	"ragmerge/internal/vectorstore/flat"
)

type flakyEmbedder struct {
	*lexical.Embedder
	fail  atomic.Bool
	calls atomic.Int32
}

func (f *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, errors.New("embedding service down")
	}
	return f.Embedder.Embed(ctx, texts)
}

type fixture struct {
	dir     string
	corpus  *corpus.Store
	index   *flat.Store
	emb     *flakyEmbedder
	engine  *Engine
	commits []int
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:    dir,
		corpus: corpus.New(filepath.Join(dir, "processed.json")),
		index:  flat.NewStore(filepath.Join(dir, "index.flat"), logger.Discard()),
		emb:    &flakyEmbedder{Embedder: lexical.NewEmbedder(64)},
	}
	cfg.EmbeddingsPath = filepath.Join(dir, "embeddings.bin")
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 200
	}
	var err error
	f.engine, err = New(cfg, extractor.New(logger.Discard()), f.emb, f.corpus, f.index, logger.Discard(),
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }),
		WithCommitHook(func(chunks []domain.Chunk, idx *flat.Index) {
			require.Equal(t, len(chunks), idx.Len())
			f.commits = append(f.commits, len(chunks))
		}))
	require.NoError(t, err)
	return f
}

func (f *fixture) assertConsistent(t *testing.T, want int) {
	t.Helper()
	chunks, err := f.corpus.Load()
	require.NoError(t, err)
	assert.Len(t, chunks, want)
	assert.Equal(t, want, f.index.Total())
	side, err := flat.ReadMatrix(filepath.Join(f.dir, "embeddings.bin"))
	if want == 0 {
		assert.True(t, errors.Is(err, os.ErrNotExist) || len(side) == 0)
		return
	}
	require.NoError(t, err)
	assert.Len(t, side, want)

	disk, err := flat.LoadIndex(f.index.Path())
	require.NoError(t, err)
	assert.Equal(t, want, disk.Len())
}

const (
	textA = "The quick brown fox jumps over the lazy dog near the river bank."
	textB = "Vector databases store embeddings for nearest neighbour search."
	textC = "Sessions hold temporary uploads that expire after two hours."
)

func TestNew_RequiresEmbedder(t *testing.T) {
	dir := t.TempDir()
	_, err := New(Config{}, nil, nil, corpus.New(filepath.Join(dir, "c.json")), flat.NewStore(filepath.Join(dir, "i"), nil), nil)
	assert.Error(t, err)
}

func TestNew_IncrementalCorruptCorpus(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "processed.json")
	require.NoError(t, os.WriteFile(path, []byte("[{"), 0o644))

	_, err := New(Config{Incremental: true}, nil, lexical.NewEmbedder(8), corpus.New(path), flat.NewStore(filepath.Join(dir, "i"), nil), nil)
	assert.Error(t, err)
}

func TestRunRows_IdempotentIncremental(t *testing.T) {
	f := newFixture(t, Config{Incremental: true})
	ctx := context.Background()

	first, err := f.engine.RunRows(ctx, rowsOf(textA, textB), "notes.txt")
	require.NoError(t, err)
	assert.False(t, first.NoOp)
	assert.Equal(t, 2, first.Chunks)

	before, err := os.ReadFile(f.corpus.Path())
	require.NoError(t, err)
	calls := f.emb.calls.Load()

	second, err := f.engine.RunRows(ctx, rowsOf(textA, textB), "notes.txt")
	require.NoError(t, err)
	assert.True(t, second.NoOp)
	assert.Equal(t, 2, second.Total)
	assert.Equal(t, calls, f.emb.calls.Load(), "no embedding work on re-run")

	after, err := os.ReadFile(f.corpus.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	f.assertConsistent(t, 2)
}

func TestRunRows_DuplicateRows(t *testing.T) {
	f := newFixture(t, Config{Incremental: true, MinTextLength: 1})

	res, err := f.engine.RunRows(context.Background(), rowsOf("A", "A", "B"), "")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Quality.DuplicateTexts.Count)
	chunks, err := f.corpus.Load()
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "a", chunks[0].Text)
	assert.Equal(t, "b", chunks[1].Text)
	assert.Equal(t, domain.UnknownSource, chunks[0].Source)
	assert.Equal(t, "2026-03-01T12:00:00Z", chunks[0].Timestamp)
	f.assertConsistent(t, 2)
}

func TestRunRows_IncrementalAppends(t *testing.T) {
	f := newFixture(t, Config{Incremental: true})
	ctx := context.Background()

	_, err := f.engine.RunRows(ctx, rowsOf(textA), "a.txt")
	require.NoError(t, err)
	res, err := f.engine.RunRows(ctx, rowsOf(textA, textB, textC), "b.txt")
	require.NoError(t, err)

	assert.Equal(t, 2, res.NewRows)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, 3, res.Total)
	f.assertConsistent(t, 3)
	assert.Equal(t, []int{1, 3}, f.commits)
	assert.Equal(t, 3, f.engine.KnownHashes())
}

func TestRunRows_ConcurrentRunsKeepOrder(t *testing.T) {
	f := newFixture(t, Config{Incremental: true})
	ctx := context.Background()

	pool := make([]string, 12)
	for i := range pool {
		pool[i] = fmt.Sprintf("Passage %d describes the harbour district and its lighthouse number %d.", i, i*7)
	}

	const workers, runs = 8, 5
	var wg sync.WaitGroup
	errs := make(chan error, workers*runs)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for r := 0; r < runs; r++ {
				start := (w + r) % len(pool)
				rows := rowsOf(pool[start], pool[(start+3)%len(pool)], pool[(start+5)%len(pool)])
				if _, err := f.engine.RunRows(ctx, rows, fmt.Sprintf("w%d.txt", w)); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	f.assertConsistent(t, len(pool))
	chunks, err := f.corpus.Load()
	require.NoError(t, err)
	disk, err := flat.LoadIndex(f.index.Path())
	require.NoError(t, err)
	vectors := disk.Vectors()
	require.Len(t, vectors, len(chunks))

	seen := map[string]struct{}{}
	for i, c := range chunks {
		want, err := f.emb.Embedder.Embed(ctx, []string{c.Text})
		require.NoError(t, err)
		assert.Equal(t, want[0], vectors[i], "position %d", i)
		_, dup := seen[c.Hash]
		assert.False(t, dup, "hash %s stored twice", c.Hash)
		seen[c.Hash] = struct{}{}
	}
	for i := 1; i < len(f.commits); i++ {
		assert.Greater(t, f.commits[i], f.commits[i-1])
	}
}

func TestRunRows_ChunkLevelDedupAcrossDocuments(t *testing.T) {
	f := newFixture(t, Config{Incremental: true, ChunkSize: 70})
	ctx := context.Background()

	_, err := f.engine.RunRows(ctx, rowsOf(textA), "a.txt")
	require.NoError(t, err)
	res, err := f.engine.RunRows(ctx, rowsOf(textA+"\n\n"+textB), "b.txt")
	require.NoError(t, err)

	assert.Equal(t, 1, res.NewRows)
	assert.Equal(t, 1, res.Chunks)
	f.assertConsistent(t, 2)
}

func TestRunRows_RebuildReplaces(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.engine.RunRows(ctx, rowsOf(textA, textB), "a.txt")
	require.NoError(t, err)
	res, err := f.engine.RunRows(ctx, rowsOf(textC), "c.txt")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Total)
	f.assertConsistent(t, 1)
	chunks, err := f.corpus.Load()
	require.NoError(t, err)
	assert.Equal(t, "c.txt", chunks[0].Source)
}

func TestRunRows_RebuildWithNothingLeavesEmpty(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.engine.RunRows(ctx, rowsOf(textA), "a.txt")
	require.NoError(t, err)
	res, err := f.engine.RunRows(ctx, rowsOf("tiny"), "b.txt")
	require.NoError(t, err)

	assert.True(t, res.NoOp)
	f.assertConsistent(t, 0)
	assert.Equal(t, []int{1, 0}, f.commits)
}

func TestRunRows_FailureRollsBack(t *testing.T) {
	f := newFixture(t, Config{Incremental: true})
	ctx := context.Background()

	_, err := f.engine.RunRows(ctx, rowsOf(textA), "a.txt")
	require.NoError(t, err)
	before, err := os.ReadFile(f.corpus.Path())
	require.NoError(t, err)

	f.emb.fail.Store(true)
	_, err = f.engine.RunRows(ctx, rowsOf(textB), "b.txt")
	require.Error(t, err)

	after, err := os.ReadFile(f.corpus.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	f.assertConsistent(t, 1)
	assert.Equal(t, 1, f.engine.KnownHashes())

	f.emb.fail.Store(false)
	res, err := f.engine.RunRows(ctx, rowsOf(textB), "b.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
	f.assertConsistent(t, 2)
}

func TestRunRows_FailureRebuildRestoresPrevious(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.engine.RunRows(ctx, rowsOf(textA, textB), "a.txt")
	require.NoError(t, err)

	f.emb.fail.Store(true)
	_, err = f.engine.RunRows(ctx, rowsOf(textC), "c.txt")
	require.Error(t, err)

	f.assertConsistent(t, 2)
}

func TestRunRows_DeleteOnError(t *testing.T) {
	f := newFixture(t, Config{Incremental: true, DeleteOnError: true})
	ctx := context.Background()

	_, err := f.engine.RunRows(ctx, rowsOf(textA), "a.txt")
	require.NoError(t, err)

	f.emb.fail.Store(true)
	_, err = f.engine.RunRows(ctx, rowsOf(textB), "b.txt")
	require.Error(t, err)

	f.assertConsistent(t, 0)
	assert.Equal(t, 0, f.engine.KnownHashes())
	assert.Equal(t, []int{1, 0}, f.commits)
}

func TestRunRows_WritesQualityReport(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, Config{Incremental: true, QualityReportPath: filepath.Join(dir, "quality.json")})

	_, err := f.engine.RunRows(context.Background(), rowsOf("", textA), "a.txt")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "quality.json"))
	assert.NoError(t, err)
}

func TestRun_FileAndRawSources(t *testing.T) {
	f := newFixture(t, Config{Incremental: true})
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "guide.txt")
	require.NoError(t, os.WriteFile(path, []byte(textA), 0o644))

	res, err := f.engine.Run(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "guide.txt", res.Source)

	_, err = f.engine.Run(ctx, textB)
	require.NoError(t, err)

	docs, err := f.engine.Documents()
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "guide.txt", docs[0].Filename)
	assert.Equal(t, domain.UnknownSource, docs[1].Filename)
}

func TestClear(t *testing.T) {
	f := newFixture(t, Config{Incremental: true})
	ctx := context.Background()
	_, err := f.engine.RunRows(ctx, rowsOf(textA), "a.txt")
	require.NoError(t, err)

	require.NoError(t, f.engine.Clear())

	f.assertConsistent(t, 0)
	assert.Equal(t, 0, f.engine.KnownHashes())
	assert.Equal(t, 0, f.commits[len(f.commits)-1])

	res, err := f.engine.RunRows(ctx, rowsOf(textA), "a.txt")
	require.NoError(t, err)
	assert.False(t, res.NoOp)
}

func TestDeleteSource(t *testing.T) {
	f := newFixture(t, Config{Incremental: true})
	ctx := context.Background()
	_, err := f.engine.RunRows(ctx, rowsOf(textA, textB), "a.txt")
	require.NoError(t, err)
	_, err = f.engine.RunRows(ctx, rowsOf(textC), "c.txt")
	require.NoError(t, err)
	keptVector := f.index.Current().Vectors()[2]

	removed, err := f.engine.DeleteSource(ctx, "a.txt")
	require.NoError(t, err)

	assert.Equal(t, 2, removed)
	f.assertConsistent(t, 1)
	assert.Equal(t, keptVector, f.index.Current().Vectors()[0])
	assert.Equal(t, 1, f.engine.KnownHashes())

	_, err = f.engine.DeleteSource(ctx, "a.txt")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDeleteSource_LastDocument(t *testing.T) {
	f := newFixture(t, Config{Incremental: true})
	ctx := context.Background()
	_, err := f.engine.RunRows(ctx, rowsOf(textA), "a.txt")
	require.NoError(t, err)

	removed, err := f.engine.DeleteSource(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	f.assertConsistent(t, 0)
}

func TestDeleteSource_ReembedsWithoutSideCar(t *testing.T) {
	f := newFixture(t, Config{Incremental: true})
	ctx := context.Background()
	_, err := f.engine.RunRows(ctx, rowsOf(textA, textB), "a.txt")
	require.NoError(t, err)
	_, err = f.engine.RunRows(ctx, rowsOf(textC), "c.txt")
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(f.dir, "embeddings.bin")))
	require.NoError(t, f.index.DeleteIndex())

	_, err = f.engine.DeleteSource(ctx, "c.txt")
	require.NoError(t, err)
	f.assertConsistent(t, 2)
}

func TestReload_NewEngineSeesExistingHashes(t *testing.T) {
	f := newFixture(t, Config{Incremental: true})
	ctx := context.Background()
	_, err := f.engine.RunRows(ctx, rowsOf(textA), "a.txt")
	require.NoError(t, err)

	index := flat.NewStore(f.index.Path(), logger.Discard())
	again, err := New(Config{Incremental: true, EmbeddingsPath: filepath.Join(f.dir, "embeddings.bin")}, nil, f.emb, f.corpus, index, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, 1, again.KnownHashes())
	assert.Equal(t, 1, index.Total())

	res, err := again.RunRows(ctx, rowsOf(textA, textB), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 2, index.Total())
}
