// Package anthropic implements generate.Generator against the Anthropic
// Messages API. The model is instructed to answer with a single JSON
// object carrying the program source and its dependency manifest.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/deepnoodle-ai/forge/generate"
	"github.com/deepnoodle-ai/forge/retry"
)

var (
	DefaultModel         = "claude-sonnet-4-20250514"
	DefaultEndpoint      = "https://api.anthropic.com/v1/messages"
	DefaultMaxTokens     = 4096
	DefaultClient        = &http.Client{Timeout: 300 * time.Second}
	DefaultMaxRetries    = 6
	DefaultRetryBaseWait = 2 * time.Second
	DefaultVersion       = "2023-06-01"
)

var _ generate.Generator = &Provider{}

type Provider struct {
	client        *http.Client
	apiKey        string
	endpoint      string
	model         string
	maxTokens     int
	maxRetries    int
	retryBaseWait time.Duration
	version       string
}

func New(opts ...Option) *Provider {
	p := &Provider{
		apiKey:        os.Getenv("ANTHROPIC_API_KEY"),
		endpoint:      DefaultEndpoint,
		client:        DefaultClient,
		model:         DefaultModel,
		maxTokens:     DefaultMaxTokens,
		maxRetries:    DefaultMaxRetries,
		retryBaseWait: DefaultRetryBaseWait,
		version:       DefaultVersion,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "anthropic" }

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *Provider) Generate(ctx context.Context, request *generate.Request) (*generate.Response, error) {
	model := request.Model
	if model == "" {
		model = p.model
	}
	if request.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, request.Timeout)
		defer cancel()
	}
	body, err := json.Marshal(apiRequest{
		Model:     model,
		MaxTokens: p.maxTokens,
		System:    request.SystemPrompt,
		Messages:  []apiMessage{{Role: "user", Content: p.userContent(request)}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var result apiResponse
	err = retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Api-Key", p.apiKey)
		req.Header.Set("Anthropic-Version", p.version)

		resp, err := p.client.Do(req)
		if err != nil {
			return retry.NewRecoverableError(fmt.Errorf("http request: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			payload, _ := io.ReadAll(resp.Body)
			err := fmt.Errorf("api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
			if shouldRetry(resp.StatusCode) {
				return retry.NewRecoverableError(err)
			}
			return err
		}
		return json.NewDecoder(resp.Body).Decode(&result)
	}, retry.WithMaxRetries(p.maxRetries), retry.WithBaseWait(p.retryBaseWait))
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return parseResponse(text.String()), nil
}

// userContent renders the prompt plus any corrective feedback from prior
// attempts. Prompt wording belongs to the caller; feedback is appended in
// a fixed, minimal frame.
func (p *Provider) userContent(request *generate.Request) string {
	var b strings.Builder
	b.WriteString(request.UserPrompt)
	if request.Schema != nil {
		if encoded, err := json.Marshal(request.Schema); err == nil {
			b.WriteString("\n\nThe result must satisfy this schema:\n")
			b.Write(encoded)
		}
	}
	for _, feedback := range request.Feedback {
		fmt.Fprintf(&b, "\n\nPrevious attempt failed (%s): %s", feedback.Kind, feedback.Message)
	}
	return b.String()
}

// parseResponse extracts {"code": ..., "dependencies": [...]} from the
// model's text. Missing or unparseable payloads yield a blank Response so
// the engine can classify it as invalid_code.
func parseResponse(text string) *generate.Response {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return &generate.Response{}
	}
	var response generate.Response
	if err := json.Unmarshal([]byte(text[start:end+1]), &response); err != nil {
		return &generate.Response{}
	}
	return &response
}

func shouldRetry(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}
