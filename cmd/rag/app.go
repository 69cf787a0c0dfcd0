package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/phuslu/log"

	"ragmerge/internal/cache"
	"ragmerge/internal/config"
	"ragmerge/internal/corpus"
	"ragmerge/internal/domain"
	"ragmerge/internal/embedding/gemini"
	"ragmerge/internal/embedding/lexical"
	"ragmerge/internal/embedding/openai"
	"ragmerge/internal/extractor"
	"ragmerge/internal/indexing"
	"ragmerge/internal/query"
	"ragmerge/internal/rerank"
	"ragmerge/internal/scheduler"
	"ragmerge/internal/service"
	"ragmerge/internal/session"
	"ragmerge/internal/synthesizer"
	"ragmerge/internal/synthesizer/claude"
	"ragmerge/internal/synthesizer/ollama"
	"ragmerge/internal/vectorstore/flat"
)

// application holds the assembled components for one command invocation.
type application struct {
	cfg       *config.AppConfig
	log       *log.Logger
	svc       *service.RAGService
	cache     domain.AnswerCache
	extractor *extractor.Extractor
}

func newApplication(ctx context.Context, cfg *config.AppConfig, l *log.Logger) (*application, error) {
	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	emb, err := buildEmbedder(ctx, cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	synth, err := buildSynthesizer(cfg.Synthesizer)
	if err != nil {
		return nil, fmt.Errorf("synthesizer: %w", err)
	}
	ac, err := buildCache(cfg.Cache, l)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	rc := rerankConfig(cfg.Rerank)
	holder := query.NewHolder(query.Builder{
		Embedder: emb,
		Reranker: rerank.New(ctx, rc, rc.Loader(), l),
		Config:   query.Config{TopK: cfg.Retrieval.TopK},
		Log:      l,
	})

	ext := extractor.New(l)
	cs := corpus.New(cfg.Data.CorpusPath())
	idx, err := indexing.New(indexing.Config{
		EmbeddingsPath:    cfg.Data.EmbeddingsPath(),
		QualityReportPath: cfg.Data.QualityReportPath(),
		MinTextLength:     cfg.Indexing.MinTextLength,
		ChunkSize:         cfg.Chunker.Size,
		ChunkOverlap:      cfg.Chunker.Overlap,
		BatchSize:         cfg.Indexing.BatchSize,
		Concurrency:       cfg.Indexing.Concurrency,
		Incremental:       cfg.Indexing.Incremental,
		DeleteOnError:     cfg.Indexing.DeleteOnError,
		PreserveCase:      cfg.Indexing.PreserveCase,
	}, ext, emb, cs, flat.NewStore(cfg.Data.IndexPath(), l), l, indexing.WithCommitHook(service.CommitHook(holder, ac, l)))
	if err != nil {
		closeCache(ac, l)
		return nil, err
	}

	svc, err := service.NewRAGService(service.Deps{
		Indexer:   idx,
		Holder:    holder,
		Corpus:    cs,
		IndexPath: cfg.Data.IndexPath(),
		Sessions: session.NewManager(session.Config{
			MaxAge:      time.Duration(cfg.Session.MaxAgeMinutes) * time.Minute,
			MaxSessions: cfg.Session.MaxSessions,
		}, l),
		Builder: session.NewBuilder(session.BuilderConfig{
			ChunkSize:    cfg.Chunker.Size,
			ChunkOverlap: cfg.Chunker.Overlap,
			BatchSize:    cfg.Indexing.BatchSize,
			Concurrency:  cfg.Indexing.Concurrency,
			PreserveCase: cfg.Indexing.PreserveCase,
		}, ext, emb),
		Embedder:    emb,
		Synthesizer: synth,
		Cache:       ac,
	}, service.Config{
		TopK:     cfg.Retrieval.TopK,
		CacheTTL: time.Duration(cfg.Cache.TTLHours) * time.Hour,
	}, l)
	if err != nil {
		closeCache(ac, l)
		return nil, err
	}
	if err := svc.Reload(); err != nil {
		l.Warn().Err(err).Msg("persisted index could not be loaded, starting without one")
	}
	return &application{cfg: cfg, log: l, svc: svc, cache: ac, extractor: ext}, nil
}

// schedule registers the maintenance jobs shared by serve and watch.
func (a *application) schedule() (*scheduler.Scheduler, error) {
	s := scheduler.New(a.log)
	if err := s.AddSessionSweep(a.cfg.Session.SweepSchedule, a.svc.Sessions); err != nil {
		return nil, err
	}
	if p, ok := a.cache.(cache.Purger); ok {
		if err := s.AddCachePurge(a.cfg.Cache.PurgeSchedule, p); err != nil {
			return nil, err
		}
	}
	if err := s.AddReindex(a.cfg.Watch.ReindexSchedule, a.svc.Indexer, a.cfg.Watch.ReindexSources); err != nil {
		return nil, err
	}
	return s, nil
}

func (a *application) Close() {
	closeCache(a.cache, a.log)
}

func closeCache(c domain.AnswerCache, l *log.Logger) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		l.Warn().Err(err).Msg("failed to close answer cache")
	}
}

func buildEmbedder(ctx context.Context, cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "lexical", "":
		dim := lexical.DefaultDimension
		if cfg.Lexical != nil && cfg.Lexical.Dimension > 0 {
			dim = cfg.Lexical.Dimension
		}
		return lexical.NewEmbedder(dim), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		return openai.NewClient(openai.Config{
			BaseURL:           cfg.OpenAI.BaseURL,
			APIKeyEnv:         cfg.OpenAI.APIKeyEnv,
			Model:             cfg.OpenAI.Model,
			Timeout:           time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			MaxRetries:        cfg.OpenAI.MaxRetries,
			RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
		})
	case "gemini":
		if cfg.Gemini == nil {
			return nil, fmt.Errorf("gemini embedder config missing")
		}
		return gemini.NewClient(ctx, gemini.Config{
			APIKeyEnv: cfg.Gemini.APIKeyEnv,
			Model:     cfg.Gemini.Model,
			Dimension: cfg.Gemini.Dimension,
		})
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}

func buildSynthesizer(cfg config.SynthesizerConfig) (domain.Synthesizer, error) {
	switch cfg.Type {
	case "extractive", "":
		return synthesizer.NewExtractive(cfg.MaxSentences), nil
	case "ollama":
		oc := ollama.Config{PromptTemplate: cfg.PromptTemplate}
		if cfg.Ollama != nil {
			oc.BaseURL = cfg.Ollama.BaseURL
			oc.Model = cfg.Ollama.Model
			oc.Timeout = time.Duration(cfg.Ollama.TimeoutSecs) * time.Second
		}
		return ollama.New(oc), nil
	case "claude":
		cc := claude.Config{PromptTemplate: cfg.PromptTemplate}
		if cfg.Claude != nil {
			cc.APIKeyEnv = cfg.Claude.APIKeyEnv
			cc.Model = cfg.Claude.Model
			cc.MaxTokens = cfg.Claude.MaxTokens
			cc.Timeout = time.Duration(cfg.Claude.TimeoutSecs) * time.Second
		}
		return claude.New(cc)
	default:
		return nil, fmt.Errorf("unknown synthesizer: %s", cfg.Type)
	}
}

// buildCache returns nil for type "none".
func buildCache(cfg config.CacheConfig, l *log.Logger) (domain.AnswerCache, error) {
	switch cfg.Type {
	case "none":
		return nil, nil
	case "memory", "":
		return cache.NewMemory(), nil
	case "badger":
		return cache.OpenBadger(cfg.Path, l)
	case "sqlite":
		return cache.OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown cache: %s", cfg.Type)
	}
}

func rerankConfig(cfg config.RerankConfig) rerank.Config {
	return rerank.Config{
		Enabled:       cfg.Enabled,
		Scorer:        cfg.Scorer,
		URL:           cfg.URL,
		Model:         cfg.Model,
		Timeout:       time.Duration(cfg.TimeoutSecs) * time.Second,
		CandidatePool: cfg.CandidatePool,
		BatchSize:     cfg.BatchSize,
		MaxChars:      cfg.MaxChars,
	}
}
