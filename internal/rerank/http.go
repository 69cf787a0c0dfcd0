package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPScorer calls a cross-encoder service exposing POST /rerank.
// The request is {"query", "texts"} and the response either a list of
// {"index", "score"} objects or {"scores": [...]}.
type HTTPScorer struct {
	url    string
	model  string
	client *http.Client
}

// NewHTTPScorer returns a scorer for the service at baseURL.
func NewHTTPScorer(baseURL, model string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPScorer{
		url:    strings.TrimRight(baseURL, "/") + "/rerank",
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type indexedScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Score implements Scorer.
func (h *HTTPScorer) Score(ctx context.Context, question string, passages []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Query: question, Texts: passages, Model: h.model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank service: %s: %s", resp.Status, bytes.TrimSpace(payload))
	}
	return decodeScores(payload, len(passages))
}

func decodeScores(payload []byte, n int) ([]float64, error) {
	var wrapped struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil && wrapped.Scores != nil {
		if len(wrapped.Scores) != n {
			return nil, fmt.Errorf("rerank service returned %d scores for %d passages", len(wrapped.Scores), n)
		}
		return wrapped.Scores, nil
	}
	var list []indexedScore
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	out := make([]float64, n)
	seen := make([]bool, n)
	for _, s := range list {
		if s.Index < 0 || s.Index >= n {
			return nil, fmt.Errorf("rerank index %d out of range", s.Index)
		}
		out[s.Index] = s.Score
		seen[s.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank response missing passage %d", i)
		}
	}
	return out, nil
}

// Loader returns the loader for cfg.Scorer. The http scorer is probed once
// so an unreachable service disables reranking at startup.
func (cfg Config) Loader() Loader {
	return func(ctx context.Context) (Scorer, error) {
		switch cfg.Scorer {
		case "", "lexical":
			return Lexical{}, nil
		case "http":
			if cfg.URL == "" {
				return nil, errors.New("rerank url is not set")
			}
			s := NewHTTPScorer(cfg.URL, cfg.Model, cfg.Timeout)
			if _, err := s.Score(ctx, "ping", []string{"pong"}); err != nil {
				return nil, fmt.Errorf("probe %s: %w", s.url, err)
			}
			return s, nil
		default:
			return nil, fmt.Errorf("unknown rerank scorer %q", cfg.Scorer)
		}
	}
}
