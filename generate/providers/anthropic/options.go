package anthropic

import (
	"net/http"
	"time"
)

// Option configures a Provider.
type Option func(*Provider)

func WithAPIKey(apiKey string) Option {
	return func(p *Provider) { p.apiKey = apiKey }
}

func WithClient(client *http.Client) Option {
	return func(p *Provider) { p.client = client }
}

func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

func WithMaxTokens(maxTokens int) Option {
	return func(p *Provider) { p.maxTokens = maxTokens }
}

func WithMaxRetries(maxRetries int) Option {
	return func(p *Provider) { p.maxRetries = maxRetries }
}

func WithRetryBaseWait(baseWait time.Duration) Option {
	return func(p *Provider) { p.retryBaseWait = baseWait }
}

func WithVersion(version string) Option {
	return func(p *Provider) { p.version = version }
}
