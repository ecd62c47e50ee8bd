// Package anthropic implements engine.Provider against the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"fmt"
	"os"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"tableside/internal/engine"
)

// DefaultMaxTokens is the response token cap applied when neither the
// request nor the configuration sets one.
const DefaultMaxTokens = 4096

// Config configures the Anthropic provider.
type Config struct {
	// APIKey authenticates against the API. Falls back to the
	// ANTHROPIC_API_KEY environment variable when empty.
	APIKey string `yaml:"apiKey"`

	// Model is the model identifier, e.g. "claude-sonnet-4-5".
	Model string `yaml:"model"`

	// MaxTokens caps response length. Zero means DefaultMaxTokens.
	MaxTokens int `yaml:"maxTokens"`

	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string `yaml:"baseUrl"`
}

// Provider implements engine.Provider using the Anthropic Messages API.
type Provider struct {
	config Config
	client sdkanthropic.Client
}

var _ engine.Provider = (*Provider)(nil)

// New creates an Anthropic provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		config: cfg,
		client: sdkanthropic.NewClient(opts...),
	}, nil
}

// Complete sends a synchronous completion request to the Messages API.
func (p *Provider) Complete(ctx context.Context, req engine.CompletionRequest) (engine.CompletionResponse, error) {
	params := convertRequest(req, p.config)

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return engine.CompletionResponse{}, mapError(err)
	}

	return convertResponse(msg), nil
}

// ModelName returns the configured model identifier.
func (p *Provider) ModelName() string {
	return p.config.Model
}
