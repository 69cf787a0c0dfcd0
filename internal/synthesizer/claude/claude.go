// Package claude generates answers with the Anthropic Messages API.
package claude

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"ragmerge/internal/domain"
	"ragmerge/internal/synthesizer"
)

const (
	DefaultModel     = "claude-sonnet-4-5"
	DefaultMaxTokens = 1024
	DefaultKeyEnv    = "ANTHROPIC_API_KEY"
)

// Config configures the Claude synthesizer. The API key is read from APIKeyEnv.
type Config struct {
	APIKeyEnv      string
	Model          string
	MaxTokens      int
	PromptTemplate string
	Timeout        time.Duration
}

// Synthesizer sends the filled prompt as a single user message.
type Synthesizer struct {
	client    anthropic.Client
	model     string
	maxTokens int
	template  string
	timeout   time.Duration
}

var _ domain.Synthesizer = (*Synthesizer)(nil)

// New returns a Claude synthesizer, failing when the API key is missing.
func New(cfg Config, opts ...option.RequestOption) (*Synthesizer, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = DefaultKeyEnv
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Synthesizer{
		client:    anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(key)}, opts...)...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		template:  cfg.PromptTemplate,
		timeout:   cfg.Timeout,
	}, nil
}

// Generate implements domain.Synthesizer.
func (s *Synthesizer) Generate(ctx context.Context, question string, passages []string) (string, error) {
	if err := synthesizer.Validate(question, passages); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(s.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(synthesizer.BuildPrompt(s.template, question, passages))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude completion failed: %w", err)
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(text.String()), nil
}
