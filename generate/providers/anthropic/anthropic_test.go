package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deepnoodle-ai/forge/generate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantCode string
		blank    bool
	}{
		{
			name:     "bare payload",
			text:     `{"code": "fetch_page(url)", "dependencies": [{"name": "nokogiri"}]}`,
			wantCode: "fetch_page(url)",
		},
		{
			name:     "payload wrapped in prose",
			text:     "Here is the program:\n\n{\"code\": \"run()\"}\n\nLet me know.",
			wantCode: "run()",
		},
		{
			name:  "no json at all",
			text:  "I cannot help with that.",
			blank: true,
		},
		{
			name:  "malformed json",
			text:  `{"code": "run(`,
			blank: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			response := parseResponse(tt.text)
			if tt.blank {
				assert.True(t, response.Blank())
				return
			}
			require.False(t, response.Blank())
			assert.Equal(t, tt.wantCode, *response.Code)
		})
	}
}

func newMessagesServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestGenerate(t *testing.T) {
	var captured apiRequest
	server := newMessagesServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": `{"code": "scrape()", "dependencies": [{"name": "nokogiri"}]}`},
			},
		})
	})

	provider := New(
		WithAPIKey("test-key"),
		WithEndpoint(server.URL),
		WithModel("claude-sonnet-4-0"),
	)
	response, err := provider.Generate(context.Background(), &generate.Request{
		SystemPrompt: "write programs",
		UserPrompt:   "scrape the page",
		Feedback: []generate.Feedback{
			{Kind: generate.FeedbackGuardrail, Message: "do not mutate the registry"},
		},
	})
	require.NoError(t, err)
	require.False(t, response.Blank())
	assert.Equal(t, "scrape()", *response.Code)
	require.Len(t, response.Dependencies, 1)
	assert.Equal(t, "nokogiri", response.Dependencies[0].Name)

	assert.Equal(t, "claude-sonnet-4-0", captured.Model)
	assert.Equal(t, "write programs", captured.System)
	require.Len(t, captured.Messages, 1)
	assert.Contains(t, captured.Messages[0].Content, "scrape the page")
	assert.Contains(t, captured.Messages[0].Content, "do not mutate the registry",
		"feedback from prior attempts reaches the model")
}

func TestGenerateRetriesOverloaded(t *testing.T) {
	var calls atomic.Int64
	server := newMessagesServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"type": "text", "text": `{"code": "ok()"}`}},
		})
	})

	provider := New(
		WithAPIKey("test-key"),
		WithEndpoint(server.URL),
		WithMaxRetries(2),
		WithRetryBaseWait(time.Millisecond),
	)
	response, err := provider.Generate(context.Background(), &generate.Request{UserPrompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok()", *response.Code)
	assert.EqualValues(t, 2, calls.Load())
}

func TestGenerateSurfacesClientErrors(t *testing.T) {
	var calls atomic.Int64
	server := newMessagesServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	provider := New(
		WithAPIKey("test-key"),
		WithEndpoint(server.URL),
		WithMaxRetries(3),
		WithRetryBaseWait(time.Millisecond),
	)
	_, err := provider.Generate(context.Background(), &generate.Request{UserPrompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.EqualValues(t, 1, calls.Load(), "client errors are not retried")
}
