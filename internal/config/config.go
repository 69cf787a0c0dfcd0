// Package config loads the application configuration from YAML or TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"ragmerge/internal/domain"
	"ragmerge/internal/logger"
)

// DataConfig locates the persisted corpus, index and side files. Relative
// file names are resolved against Dir.
type DataConfig struct {
	Dir               string `yaml:"dir" toml:"dir" validate:"required"`
	CorpusFile        string `yaml:"corpus_file" toml:"corpus_file"`
	IndexFile         string `yaml:"index_file" toml:"index_file"`
	EmbeddingsFile    string `yaml:"embeddings_file" toml:"embeddings_file"`
	QualityReportFile string `yaml:"quality_report_file" toml:"quality_report_file"`
	UploadDir         string `yaml:"upload_dir" toml:"upload_dir"`
}

func (d DataConfig) resolve(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.Dir, name)
}

func (d DataConfig) CorpusPath() string        { return d.resolve(d.CorpusFile) }
func (d DataConfig) IndexPath() string         { return d.resolve(d.IndexFile) }
func (d DataConfig) EmbeddingsPath() string    { return d.resolve(d.EmbeddingsFile) }
func (d DataConfig) QualityReportPath() string { return d.resolve(d.QualityReportFile) }
func (d DataConfig) UploadPath() string        { return d.resolve(d.UploadDir) }

// IndexingConfig controls the ingestion pipeline.
type IndexingConfig struct {
	Incremental   bool `yaml:"incremental" toml:"incremental"`
	DeleteOnError bool `yaml:"delete_on_error" toml:"delete_on_error"`
	MinTextLength int  `yaml:"min_text_length" toml:"min_text_length" validate:"min=0"`
	BatchSize     int  `yaml:"batch_size" toml:"batch_size" validate:"min=0"`
	Concurrency   int  `yaml:"concurrency" toml:"concurrency" validate:"min=0"`
	PreserveCase  bool `yaml:"preserve_case" toml:"preserve_case"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Size    int `yaml:"size" toml:"size" validate:"min=1"`
	Overlap int `yaml:"overlap" toml:"overlap" validate:"min=0,ltfield=Size"`
}

// LexicalEmbedderConfig configures the offline feature-hashing embedder.
type LexicalEmbedderConfig struct {
	Dimension int `yaml:"dimension" toml:"dimension" validate:"min=1"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL           string  `yaml:"base_url" toml:"base_url" validate:"omitempty,url"`
	APIKeyEnv         string  `yaml:"api_key_env" toml:"api_key_env"`
	Model             string  `yaml:"model" toml:"model"`
	TimeoutSecs       int     `yaml:"timeout_secs" toml:"timeout_secs" validate:"min=0"`
	MaxRetries        int     `yaml:"max_retries" toml:"max_retries" validate:"min=0"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second" validate:"min=0"`
}

// GeminiEmbedderConfig configures the Gemini embedder.
type GeminiEmbedderConfig struct {
	APIKeyEnv string `yaml:"api_key_env" toml:"api_key_env"`
	Model     string `yaml:"model" toml:"model"`
	Dimension int    `yaml:"dimension" toml:"dimension" validate:"min=0"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type    string                 `yaml:"type" toml:"type" validate:"oneof=lexical openai gemini"`
	Lexical *LexicalEmbedderConfig `yaml:"lexical,omitempty" toml:"lexical,omitempty"`
	OpenAI  *OpenAIEmbedderConfig  `yaml:"openai,omitempty" toml:"openai,omitempty"`
	Gemini  *GeminiEmbedderConfig  `yaml:"gemini,omitempty" toml:"gemini,omitempty"`
}

// RetrievalConfig controls how many passages are returned per side.
type RetrievalConfig struct {
	TopK int `yaml:"top_k" toml:"top_k" validate:"min=1"`
}

// RerankConfig configures the optional second-stage reranker.
type RerankConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	Scorer        string `yaml:"scorer" toml:"scorer" validate:"omitempty,oneof=lexical http"`
	URL           string `yaml:"url" toml:"url" validate:"omitempty,url"`
	Model         string `yaml:"model" toml:"model"`
	TimeoutSecs   int    `yaml:"timeout_secs" toml:"timeout_secs" validate:"min=0"`
	CandidatePool int    `yaml:"candidate_pool" toml:"candidate_pool" validate:"min=0"`
	BatchSize     int    `yaml:"batch_size" toml:"batch_size" validate:"min=0"`
	MaxChars      int    `yaml:"max_chars" toml:"max_chars" validate:"min=0"`
}

// SessionConfig bounds the temporary per-session indexes.
type SessionConfig struct {
	MaxAgeMinutes int    `yaml:"max_age_minutes" toml:"max_age_minutes" validate:"min=1"`
	MaxSessions   int    `yaml:"max_sessions" toml:"max_sessions" validate:"min=1"`
	SweepSchedule string `yaml:"sweep_schedule" toml:"sweep_schedule"`
}

// OllamaConfig configures the Ollama synthesizer.
type OllamaConfig struct {
	BaseURL     string `yaml:"base_url" toml:"base_url" validate:"omitempty,url"`
	Model       string `yaml:"model" toml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" toml:"timeout_secs" validate:"min=0"`
}

// ClaudeConfig configures the Claude synthesizer.
type ClaudeConfig struct {
	APIKeyEnv   string `yaml:"api_key_env" toml:"api_key_env"`
	Model       string `yaml:"model" toml:"model"`
	MaxTokens   int    `yaml:"max_tokens" toml:"max_tokens" validate:"min=0"`
	TimeoutSecs int    `yaml:"timeout_secs" toml:"timeout_secs" validate:"min=0"`
}

// SynthesizerConfig selects how answers are produced from passages.
type SynthesizerConfig struct {
	Type           string        `yaml:"type" toml:"type" validate:"oneof=extractive ollama claude"`
	MaxSentences   int           `yaml:"max_sentences" toml:"max_sentences" validate:"min=0"`
	PromptTemplate string        `yaml:"prompt_template,omitempty" toml:"prompt_template,omitempty"`
	Ollama         *OllamaConfig `yaml:"ollama,omitempty" toml:"ollama,omitempty"`
	Claude         *ClaudeConfig `yaml:"claude,omitempty" toml:"claude,omitempty"`
}

// CacheConfig selects the answer cache backend.
type CacheConfig struct {
	Type          string `yaml:"type" toml:"type" validate:"oneof=none memory badger sqlite"`
	Path          string `yaml:"path" toml:"path" validate:"required_if=Type badger,required_if=Type sqlite"`
	TTLHours      int    `yaml:"ttl_hours" toml:"ttl_hours" validate:"min=0"`
	PurgeSchedule string `yaml:"purge_schedule" toml:"purge_schedule"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr        string `yaml:"addr" toml:"addr" validate:"required"`
	BodyLimitMB int    `yaml:"body_limit_mb" toml:"body_limit_mb" validate:"min=1"`
}

// WatchConfig lists directories kept in sync with the index and sources
// re-indexed on a schedule.
type WatchConfig struct {
	Dirs            []string `yaml:"dirs,omitempty" toml:"dirs,omitempty"`
	DebounceMillis  int      `yaml:"debounce_millis" toml:"debounce_millis" validate:"min=0"`
	ReindexSchedule string   `yaml:"reindex_schedule" toml:"reindex_schedule"`
	ReindexSources  []string `yaml:"reindex_sources,omitempty" toml:"reindex_sources,omitempty"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Data        DataConfig        `yaml:"data" toml:"data"`
	Indexing    IndexingConfig    `yaml:"indexing" toml:"indexing"`
	Chunker     ChunkerConfig     `yaml:"chunker" toml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder" toml:"embedder"`
	Retrieval   RetrievalConfig   `yaml:"retrieval" toml:"retrieval"`
	Rerank      RerankConfig      `yaml:"rerank" toml:"rerank"`
	Session     SessionConfig     `yaml:"session" toml:"session"`
	Synthesizer SynthesizerConfig `yaml:"synthesizer" toml:"synthesizer"`
	Cache       CacheConfig       `yaml:"cache" toml:"cache"`
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Watch       WatchConfig       `yaml:"watch" toml:"watch"`
	Log         logger.Config     `yaml:"log" toml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if isTOML(path) {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/rag/config.yaml.
// If neither exists, it writes defaults to ~/.config/rag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks field constraints. Failures wrap domain.ErrInvalidConfig.
func Validate(cfg *AppConfig) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	if cfg.Rerank.Scorer == "http" && cfg.Rerank.URL == "" {
		return fmt.Errorf("%w: rerank.url is required for the http scorer", domain.ErrInvalidConfig)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "rag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Data:        DataConfig{Dir: "data"},
		Indexing:    IndexingConfig{Incremental: true},
		Embedder:    EmbedderConfig{Type: "lexical"},
		Synthesizer: SynthesizerConfig{Type: "extractive"},
		Cache:       CacheConfig{Type: "memory"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	d := &cfg.Data
	if d.Dir == "" {
		d.Dir = "data"
	}
	if d.CorpusFile == "" {
		d.CorpusFile = "processed_data.json"
	}
	if d.IndexFile == "" {
		d.IndexFile = "index.flat"
	}
	if d.EmbeddingsFile == "" {
		d.EmbeddingsFile = "embeddings.bin"
	}
	if d.QualityReportFile == "" {
		d.QualityReportFile = "quality_report.json"
	}
	if d.UploadDir == "" {
		d.UploadDir = "uploads"
	}

	if cfg.Indexing.MinTextLength == 0 {
		cfg.Indexing.MinTextLength = 10
	}
	if cfg.Indexing.BatchSize == 0 {
		cfg.Indexing.BatchSize = 32
	}
	if cfg.Indexing.Concurrency == 0 {
		cfg.Indexing.Concurrency = 4
	}
	if cfg.Chunker.Size == 0 {
		cfg.Chunker.Size = 1000
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "lexical"
	}
	switch cfg.Embedder.Type {
	case "lexical":
		if cfg.Embedder.Lexical == nil {
			cfg.Embedder.Lexical = &LexicalEmbedderConfig{}
		}
		if cfg.Embedder.Lexical.Dimension == 0 {
			cfg.Embedder.Lexical.Dimension = 512
		}
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.MaxRetries == 0 {
			o.MaxRetries = 3
		}
	case "gemini":
		if cfg.Embedder.Gemini == nil {
			cfg.Embedder.Gemini = &GeminiEmbedderConfig{}
		}
		if cfg.Embedder.Gemini.APIKeyEnv == "" {
			cfg.Embedder.Gemini.APIKeyEnv = "GEMINI_API_KEY"
		}
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Rerank.Scorer == "" {
		cfg.Rerank.Scorer = "lexical"
	}
	if cfg.Rerank.CandidatePool == 0 {
		cfg.Rerank.CandidatePool = 20
	}
	if cfg.Rerank.TimeoutSecs == 0 {
		cfg.Rerank.TimeoutSecs = 30
	}

	if cfg.Session.MaxAgeMinutes == 0 {
		cfg.Session.MaxAgeMinutes = 120
	}
	if cfg.Session.MaxSessions == 0 {
		cfg.Session.MaxSessions = 100
	}

	if cfg.Synthesizer.Type == "" {
		cfg.Synthesizer.Type = "extractive"
	}
	if cfg.Synthesizer.MaxSentences == 0 {
		cfg.Synthesizer.MaxSentences = 3
	}
	switch cfg.Synthesizer.Type {
	case "ollama":
		if cfg.Synthesizer.Ollama == nil {
			cfg.Synthesizer.Ollama = &OllamaConfig{}
		}
		if cfg.Synthesizer.Ollama.BaseURL == "" {
			cfg.Synthesizer.Ollama.BaseURL = "http://localhost:11434"
		}
		if cfg.Synthesizer.Ollama.Model == "" {
			cfg.Synthesizer.Ollama.Model = "llama3.2"
		}
	case "claude":
		if cfg.Synthesizer.Claude == nil {
			cfg.Synthesizer.Claude = &ClaudeConfig{}
		}
		if cfg.Synthesizer.Claude.APIKeyEnv == "" {
			cfg.Synthesizer.Claude.APIKeyEnv = "ANTHROPIC_API_KEY"
		}
	}

	if cfg.Cache.Type == "" {
		cfg.Cache.Type = "memory"
	}
	if cfg.Cache.TTLHours == 0 {
		cfg.Cache.TTLHours = 24
	}
	if cfg.Cache.Path == "" {
		switch cfg.Cache.Type {
		case "badger":
			cfg.Cache.Path = filepath.Join(d.Dir, "cache")
		case "sqlite":
			cfg.Cache.Path = filepath.Join(d.Dir, "cache.db")
		}
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.BodyLimitMB == 0 {
		cfg.Server.BodyLimitMB = 32
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
