// Package service answers questions over the permanent index and per-session
// uploads, and exposes the indexing and session operations behind one API.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phuslu/log"

	"ragmerge/internal/cache"
	"ragmerge/internal/corpus"
	"ragmerge/internal/domain"
	"ragmerge/internal/indexing"
	"ragmerge/internal/logger"
	"ragmerge/internal/query"
	"ragmerge/internal/retrieval"
	"ragmerge/internal/session"
	"ragmerge/internal/vectorstore/flat"
)

const (
	// UnavailableAnswer is returned when neither an index nor a session exists.
	UnavailableAnswer = "The index is not available. Index documents or upload a file first."
	// NoMatchAnswer is returned when retrieval found no passages.
	NoMatchAnswer = "No relevant information was found."
)

// Config holds answer-level parameters.
type Config struct {
	TopK     int
	CacheTTL time.Duration
}

// Deps are the collaborators of a RAGService. Cache may be nil.
type Deps struct {
	Indexer     *indexing.Engine
	Holder      *query.Holder
	Corpus      *corpus.Store
	IndexPath   string
	Sessions    *session.Manager
	Builder     *session.Builder
	Embedder    domain.Embedder
	Synthesizer domain.Synthesizer
	Cache       domain.AnswerCache
}

// RAGService is the application facade used by the CLI, TUI and HTTP API.
type RAGService struct {
	Deps
	cfg Config
	log *log.Logger
}

// Status describes what the service currently serves.
type Status struct {
	IndexLoaded bool   `json:"index_loaded"`
	Chunks      int    `json:"chunks"`
	Sessions    int    `json:"sessions"`
	Embedder    string `json:"embedder"`
	Cache       bool   `json:"cache"`
}

// CommitHook publishes every indexing change to h and then drops the
// cached answers, which may quote passages that changed. c may be nil.
func CommitHook(h *query.Holder, c domain.AnswerCache, l *log.Logger) indexing.CommitFunc {
	l = logger.OrDiscard(l)
	return func(chunks []domain.Chunk, index *flat.Index) {
		h.Commit(chunks, index)
		flushCache(c, l)
	}
}

func flushCache(c domain.AnswerCache, l *log.Logger) {
	if c == nil {
		return
	}
	if err := c.Flush(context.Background()); err != nil {
		l.Warn().Err(err).Msg("answer cache flush failed")
	}
}

// NewRAGService validates deps and applies defaults.
func NewRAGService(d Deps, cfg Config, l *log.Logger) (*RAGService, error) {
	if d.Indexer == nil || d.Holder == nil || d.Corpus == nil || d.Sessions == nil || d.Builder == nil {
		return nil, errors.New("service: indexer, holder, corpus, sessions and builder are required")
	}
	if d.Embedder == nil || d.Synthesizer == nil {
		return nil, errors.New("service: embedder and synthesizer are required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = query.DefaultTopK
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	return &RAGService{Deps: d, cfg: cfg, log: logger.OrDiscard(l)}, nil
}

// Ask answers question. With a session id the session's uploads are merged
// with the permanent results; such answers are never cached.
func (s *RAGService) Ask(ctx context.Context, question, sessionID string) (domain.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.Answer{}, domain.ErrEmptyQuestion
	}
	var bundles []domain.FileBundle
	if sessionID != "" {
		var ok bool
		if bundles, ok = s.Sessions.GetTempIndex(sessionID); !ok {
			return domain.Answer{}, fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionNotFound)
		}
	}
	cacheable := len(bundles) == 0 && s.Cache != nil

	if cacheable {
		a, ok, err := s.Cache.Get(ctx, question)
		if err != nil {
			s.log.Warn().Err(err).Msg("answer cache read failed")
		} else if ok {
			s.log.Debug().Str("key", cache.Key(question)).Msg("answer cache hit")
			return a, nil
		}
	}

	engine := s.Holder.Load()
	res, err := retrieval.Select(engine, bundles, s.Embedder, s.cfg.TopK, s.log).Retrieve(ctx, question)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("retrieve: %w", err)
	}
	if !res.Available {
		return domain.Answer{Answer: UnavailableAnswer}, nil
	}
	if len(res.Passages) == 0 {
		return domain.Answer{Answer: NoMatchAnswer, Available: true}, nil
	}

	start := time.Now()
	text, err := s.Synthesizer.Generate(ctx, question, res.Passages)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("synthesize: %w", err)
	}
	s.log.Info().Int("passages", len(res.Passages)).Dur("took", time.Since(start)).Msg("answer generated")
	answer := domain.Answer{Answer: text, Passages: res.Passages, Available: true}

	if cacheable {
		if err := s.Cache.Put(ctx, question, answer, s.cfg.CacheTTL); err != nil {
			s.log.Warn().Err(err).Msg("answer cache write failed")
		}
	}
	return answer, nil
}

// Index ingests a file, directory or raw text into the permanent corpus.
func (s *RAGService) Index(ctx context.Context, source string) (indexing.Result, error) {
	return s.Indexer.Run(ctx, source)
}

// Clear removes the permanent corpus and index.
func (s *RAGService) Clear() error {
	return s.Indexer.Clear()
}

// Documents lists the indexed documents.
func (s *RAGService) Documents() ([]corpus.Document, error) {
	return s.Indexer.Documents()
}

// DeleteDocument removes every chunk indexed from filename.
func (s *RAGService) DeleteDocument(ctx context.Context, filename string) (int, error) {
	return s.Indexer.DeleteSource(ctx, filename)
}

// Reload republishes the permanent snapshot from disk.
func (s *RAGService) Reload() error {
	if err := s.Holder.Reload(s.Corpus, s.IndexPath); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	flushCache(s.Cache, s.log)
	n := 0
	if e := s.Holder.Load(); e != nil {
		n = e.Len()
	}
	s.log.Info().Int("chunks", n).Msg("index reloaded")
	return nil
}

// Status reports the current snapshot and session counts.
func (s *RAGService) Status() Status {
	st := Status{Sessions: s.Sessions.Len(), Embedder: s.Embedder.Name(), Cache: s.Cache != nil}
	if e := s.Holder.Load(); e != nil {
		st.IndexLoaded = true
		st.Chunks = e.Len()
	}
	return st
}

// Upload adds the file at path to a session. An empty sessionID starts a
// new session; the id used is returned.
func (s *RAGService) Upload(ctx context.Context, sessionID, path string) (string, session.FileInfo, error) {
	id, infos, err := s.UploadAll(ctx, sessionID, []string{path})
	if err != nil {
		return "", session.FileInfo{}, err
	}
	return id, infos[0], nil
}

// UploadAll adds every file in paths to a session. All files are extracted
// and embedded before the session is touched, so a failing file leaves no
// partial upload behind and no new session is created.
func (s *RAGService) UploadAll(ctx context.Context, sessionID string, paths []string) (string, []session.FileInfo, error) {
	bundles := make([]domain.FileBundle, 0, len(paths))
	for _, p := range paths {
		b, err := s.Builder.Build(ctx, p)
		if err != nil {
			return "", nil, err
		}
		bundles = append(bundles, b)
	}

	created := sessionID == ""
	if created {
		sessionID = s.Sessions.GenerateSessionID()
	}
	infos := make([]session.FileInfo, 0, len(bundles))
	for _, b := range bundles {
		if err := s.Sessions.AddTempIndex(sessionID, b); err != nil {
			if created {
				s.Sessions.RemoveTempIndex(sessionID)
			}
			return "", nil, err
		}
		info := session.FileInfo{Filename: b.Filename(), Chunks: len(b.Chunks)}
		for _, c := range b.Chunks {
			info.TotalChars += len([]rune(c.Text))
		}
		infos = append(infos, info)
		s.log.Info().Str("session", sessionID).Str("file", info.Filename).Int("chunks", info.Chunks).Msg("session upload indexed")
	}
	return sessionID, infos, nil
}
