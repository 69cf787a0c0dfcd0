package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragmerge/internal/domain"
)

func TestNew_MissingKey(t *testing.T) {
	t.Setenv("TEST_CLAUDE_KEY", "")
	_, err := New(Config{APIKeyEnv: "TEST_CLAUDE_KEY"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEST_CLAUDE_KEY")
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"test-model",` +
			`"content":[{"type":"text","text":" Paris. "}],"stop_reason":"end_turn",` +
			`"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()
	t.Setenv("TEST_CLAUDE_KEY", "secret")

	s, err := New(Config{APIKeyEnv: "TEST_CLAUDE_KEY", Model: "test-model"},
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	require.NoError(t, err)

	got, err := s.Generate(context.Background(), "capital?", []string{"Paris is the capital."})
	require.NoError(t, err)
	assert.Equal(t, "Paris.", got)
}

func TestGenerate_Validates(t *testing.T) {
	t.Setenv("TEST_CLAUDE_KEY", "secret")
	s, err := New(Config{APIKeyEnv: "TEST_CLAUDE_KEY"})
	require.NoError(t, err)
	_, err = s.Generate(context.Background(), "", []string{"p"})
	assert.ErrorIs(t, err, domain.ErrEmptyQuestion)
}
