package gemini

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-embedding-001"

// Config configures the Gemini embeddings client.
type Config struct {
	APIKeyEnv string
	Model     string
	// Dimension requests a reduced output dimensionality; zero keeps the model default.
	Dimension int
}

// Client embeds text through the Gemini API.
type Client struct {
	client    *genai.Client
	model     string
	outputDim int32
	dimension atomic.Int64
}

// NewClient creates a Gemini embeddings client. The API key is read from cfg.APIKeyEnv.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "GEMINI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}
	c := &Client{client: client, model: cfg.Model, outputDim: int32(cfg.Dimension)}
	if cfg.Dimension > 0 {
		c.dimension.Store(int64(cfg.Dimension))
	}
	return c, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "gemini:" + c.model }

// Dimension returns the configured or learned vector size.
func (c *Client) Dimension() int { return int(c.dimension.Load()) }

// Embed returns one embedding per text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	var cfg *genai.EmbedContentConfig
	if c.outputDim > 0 {
		dim := c.outputDim
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}
	result, err := c.client.Models.EmbedContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}
	if result == nil || len(result.Embeddings) != len(texts) {
		got := 0
		if result != nil {
			got = len(result.Embeddings)
		}
		return nil, fmt.Errorf("gemini embeddings: got %d vectors for %d inputs", got, len(texts))
	}
	out := make([][]float32, len(texts))
	for i, e := range result.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("gemini embeddings: empty vector at %d", i)
		}
		out[i] = e.Values
	}
	c.dimension.CompareAndSwap(0, int64(len(out[0])))
	return out, nil
}
