// Package ollama generates answers with a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ragmerge/internal/domain"
	"ragmerge/internal/synthesizer"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.2"
)

// Config configures the Ollama synthesizer.
type Config struct {
	BaseURL        string
	Model          string
	PromptTemplate string
	Timeout        time.Duration
}

// Synthesizer calls /api/generate with the filled prompt template.
type Synthesizer struct {
	baseURL  string
	model    string
	template string
	client   *http.Client
}

var _ domain.Synthesizer = (*Synthesizer)(nil)

// New returns an Ollama synthesizer.
func New(cfg Config) *Synthesizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	return &Synthesizer{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		model:    cfg.Model,
		template: cfg.PromptTemplate,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate implements domain.Synthesizer.
func (s *Synthesizer) Generate(ctx context.Context, question string, passages []string) (string, error) {
	if err := synthesizer.Validate(question, passages); err != nil {
		return "", err
	}
	body, err := json.Marshal(generateRequest{
		Model:  s.model,
		Prompt: synthesizer.BuildPrompt(s.template, question, passages),
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling Ollama: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Ollama returned status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}
