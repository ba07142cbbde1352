// Package anthropic streams plan generations from the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/yungbote/planforge-backend/internal/generation/provider"
)

const Name = "anthropic"

type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	// HTTPClient overrides the transport; tests use it to avoid the network.
	HTTPClient *http.Client
}

type Provider struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

func New(cfg Config) (*Provider, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("anthropic: api key required")
	}
	// The router owns retries; the SDK's own retry loop would multiply them.
	opts := []option.RequestOption{option.WithAPIKey(key), option.WithMaxRetries(0)}
	if u := strings.TrimSpace(cfg.BaseURL); u != "" {
		opts = append(opts, option.WithBaseURL(u))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &Provider{
		client:    sdk.NewClient(opts...),
		model:     model,
		maxTokens: int64(maxTokens),
	}, nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Generate(ctx context.Context, req provider.Request) (*provider.Result, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if s := strings.TrimSpace(req.System); s != "" {
		params.System = []sdk.TextBlockParam{{Text: s}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	// Pull the first event here so connection and status errors surface from
	// Generate, where the router can still retry or fall through.
	if !stream.Next() {
		err := stream.Err()
		_ = stream.Close()
		if err == nil {
			return nil, provider.Errorf(Name, provider.KindInvalidResponse, "empty stream")
		}
		return nil, mapError(err)
	}

	seq := func(yield func(string, error) bool) {
		defer stream.Close()
		for {
			if text := textOf(stream.Current()); text != "" {
				if !yield(text, nil) {
					return
				}
			}
			if !stream.Next() {
				break
			}
		}
		if err := stream.Err(); err != nil {
			yield("", mapError(err))
		}
	}
	return &provider.Result{
		Stream:   seq,
		Metadata: provider.Metadata{Provider: Name, Model: model},
	}, nil
}

func textOf(ev sdk.MessageStreamEventUnion) string {
	delta, ok := ev.AsAny().(sdk.ContentBlockDeltaEvent)
	if !ok {
		return ""
	}
	if td, ok := delta.Delta.AsAny().(sdk.TextDelta); ok {
		return td.Text
	}
	return ""
}

func mapError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return provider.FromStatus(Name, apiErr.StatusCode, "")
	}
	return provider.Wrap(Name, err)
}
