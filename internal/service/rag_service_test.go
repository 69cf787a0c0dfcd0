package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragmerge/internal/cache"
	"ragmerge/internal/corpus"
	"ragmerge/internal/domain"
	"ragmerge/internal/embedding/lexical"
	"ragmerge/internal/extractor"
	"ragmerge/internal/indexing"
	"ragmerge/internal/logger"
	"ragmerge/internal/query"
	"ragmerge/internal/session"
	"ragmerge/internal/vectorstore/flat"
)

type echoSynth struct {
	calls atomic.Int32
	err   error
}

func (e *echoSynth) Generate(_ context.Context, _ string, passages []string) (string, error) {
	e.calls.Add(1)
	if e.err != nil {
		return "", e.err
	}
	return strings.Join(passages, " | "), nil
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (domain.Answer, bool, error) {
	return domain.Answer{}, false, errors.New("cache down")
}
func (brokenCache) Put(context.Context, string, domain.Answer, time.Duration) error {
	return errors.New("cache down")
}
func (brokenCache) Flush(context.Context) error { return errors.New("cache down") }
func (brokenCache) Close() error                  { return nil }

func newService(t *testing.T, c domain.AnswerCache) (*RAGService, *echoSynth, string) {
	t.Helper()
	dir := t.TempDir()
	emb := lexical.NewEmbedder(128)
	ext := extractor.New(logger.Discard())
	cs := corpus.New(filepath.Join(dir, "processed.json"))
	indexPath := filepath.Join(dir, "index.flat")
	holder := query.NewHolder(query.Builder{Embedder: emb, Config: query.Config{TopK: 2}})
	idx, err := indexing.New(indexing.Config{ChunkSize: 200, MinTextLength: 1, Incremental: true},
		ext, emb, cs, flat.NewStore(indexPath, logger.Discard()), logger.Discard(),
		indexing.WithCommitHook(CommitHook(holder, c, logger.Discard())))
	require.NoError(t, err)

	synth := &echoSynth{}
	svc, err := NewRAGService(Deps{
		Indexer:     idx,
		Holder:      holder,
		Corpus:      cs,
		IndexPath:   indexPath,
		Sessions:    session.NewManager(session.Config{}, logger.Discard()),
		Builder:     session.NewBuilder(session.BuilderConfig{ChunkSize: 200}, ext, emb),
		Embedder:    emb,
		Synthesizer: synth,
		Cache:       c,
	}, Config{TopK: 2}, logger.Discard())
	require.NoError(t, err)
	return svc, synth, dir
}

func TestAsk_UnavailableWithoutIndex(t *testing.T) {
	svc, synth, _ := newService(t, nil)
	a, err := svc.Ask(context.Background(), "anything", "")
	require.NoError(t, err)
	assert.False(t, a.Available)
	assert.Equal(t, UnavailableAnswer, a.Answer)
	assert.Zero(t, synth.calls.Load())
}

func TestAsk_EmptyQuestion(t *testing.T) {
	svc, _, _ := newService(t, nil)
	_, err := svc.Ask(context.Background(), "  ", "")
	assert.ErrorIs(t, err, domain.ErrEmptyQuestion)
}

func TestAsk_UnknownSession(t *testing.T) {
	svc, _, _ := newService(t, nil)
	_, err := svc.Ask(context.Background(), "q", "nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestAsk_PermanentAndCache(t *testing.T) {
	mem := cache.NewMemory()
	svc, synth, _ := newService(t, mem)
	ctx := context.Background()

	_, err := svc.Index(ctx, "golang compiles to native machine code quickly")
	require.NoError(t, err)
	assert.True(t, svc.Status().IndexLoaded)

	a, err := svc.Ask(ctx, "golang native code", "")
	require.NoError(t, err)
	assert.True(t, a.Available)
	assert.False(t, a.Cached)
	assert.Contains(t, a.Answer, "golang compiles")

	a, err = svc.Ask(ctx, "golang native code", "")
	require.NoError(t, err)
	assert.True(t, a.Cached)
	assert.EqualValues(t, 1, synth.calls.Load())
}

func TestAsk_IndexChangesDropCachedAnswers(t *testing.T) {
	mem := cache.NewMemory()
	svc, synth, _ := newService(t, mem)
	ctx := context.Background()

	_, err := svc.Index(ctx, "golang compiles to native machine code quickly")
	require.NoError(t, err)
	_, err = svc.Ask(ctx, "golang native code", "")
	require.NoError(t, err)

	_, err = svc.Index(ctx, "rust also compiles to native machine code")
	require.NoError(t, err)
	a, err := svc.Ask(ctx, "golang native code", "")
	require.NoError(t, err)
	assert.False(t, a.Cached)
	assert.EqualValues(t, 2, synth.calls.Load())

	removed, err := svc.DeleteDocument(ctx, domain.UnknownSource)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	a, err = svc.Ask(ctx, "golang native code", "")
	require.NoError(t, err)
	assert.False(t, a.Cached)
	assert.False(t, a.Available)
	assert.Empty(t, a.Passages)
}

func TestAsk_CacheErrorsAreIgnored(t *testing.T) {
	svc, _, _ := newService(t, brokenCache{})
	ctx := context.Background()
	_, err := svc.Index(ctx, "the orchard grows apples and pears")
	require.NoError(t, err)

	a, err := svc.Ask(ctx, "apples", "")
	require.NoError(t, err)
	assert.True(t, a.Available)
}

func TestAsk_SessionMergesAfterPermanentAndSkipsCache(t *testing.T) {
	mem := cache.NewMemory()
	svc, synth, dir := newService(t, mem)
	ctx := context.Background()

	_, err := svc.Index(ctx, "permanent passage about rivers and lakes")
	require.NoError(t, err)

	upload := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(upload, []byte("session passage about rivers and boats"), 0o644))
	id, info, err := svc.Upload(ctx, "", upload)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "notes.txt", info.Filename)
	assert.Equal(t, 1, info.Chunks)

	a, err := svc.Ask(ctx, "rivers", id)
	require.NoError(t, err)
	require.Len(t, a.Passages, 2)
	assert.Equal(t, "permanent passage about rivers and lakes", a.Passages[0])
	assert.Equal(t, "session passage about rivers and boats", a.Passages[1])

	_, err = svc.Ask(ctx, "rivers", id)
	require.NoError(t, err)
	assert.EqualValues(t, 2, synth.calls.Load())

	_, ok, err := mem.Get(ctx, "rivers")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAsk_SessionOnly(t *testing.T) {
	svc, _, dir := newService(t, nil)
	ctx := context.Background()
	upload := filepath.Join(dir, "only.txt")
	require.NoError(t, os.WriteFile(upload, []byte("volcanoes erupt molten rock"), 0o644))
	id, _, err := svc.Upload(ctx, "", upload)
	require.NoError(t, err)

	a, err := svc.Ask(ctx, "volcanoes", id)
	require.NoError(t, err)
	assert.True(t, a.Available)
	assert.Equal(t, []string{"volcanoes erupt molten rock"}, a.Passages)
}

func TestUploadAll_FailureLeavesSessionsUntouched(t *testing.T) {
	svc, _, dir := newService(t, nil)
	ctx := context.Background()
	good := filepath.Join(dir, "good.txt")
	blank := filepath.Join(dir, "blank.txt")
	require.NoError(t, os.WriteFile(good, []byte("tidal pools hold starfish and anemones"), 0o644))
	require.NoError(t, os.WriteFile(blank, []byte("  \n "), 0o644))

	_, _, err := svc.UploadAll(ctx, "", []string{good, blank})
	assert.ErrorIs(t, err, domain.ErrEmptySource)
	assert.Zero(t, svc.Sessions.Len())

	id, infos, err := svc.UploadAll(ctx, "", []string{good})
	require.NoError(t, err)
	require.Len(t, infos, 1)

	_, _, err = svc.UploadAll(ctx, id, []string{good, blank})
	require.Error(t, err)
	files, ok := svc.Sessions.Files(id)
	require.True(t, ok)
	assert.Len(t, files, 1)
}

func TestAsk_SynthesizerError(t *testing.T) {
	svc, synth, _ := newService(t, nil)
	synth.err = errors.New("model offline")
	_, err := svc.Index(context.Background(), "some indexed text here")
	require.NoError(t, err)
	_, err = svc.Ask(context.Background(), "text", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model offline")
}

func TestReloadAndClear(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()
	_, err := svc.Index(ctx, "reloadable content for the index")
	require.NoError(t, err)

	svc.Holder.Clear()
	assert.False(t, svc.Status().IndexLoaded)
	require.NoError(t, svc.Reload())
	assert.Equal(t, 1, svc.Status().Chunks)

	docs, err := svc.Documents()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, domain.UnknownSource, docs[0].Filename)

	require.NoError(t, svc.Clear())
	assert.False(t, svc.Status().IndexLoaded)
	require.NoError(t, svc.Reload())
	assert.False(t, svc.Status().IndexLoaded)
}
