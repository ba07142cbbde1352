// Package oaihttp streams plan generations from any OpenAI-compatible
// chat-completions endpoint.
package oaihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/planforge-backend/internal/generation/provider"
)

const Name = "openai_compatible"

type Config struct {
	BaseURL             string
	APIKey              string
	Model               string
	ChatCompletionsPath string
	// ConnectTimeout bounds dialing and TLS only; the generation deadline comes from ctx.
	ConnectTimeout time.Duration
}

type Provider struct {
	baseURL  string
	apiKey   string
	model    string
	chatPath string

	httpClient *http.Client
}

func New(cfg Config) (*Provider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("oai_http: base_url required")
	}
	chatPath := strings.TrimSpace(cfg.ChatCompletionsPath)
	if chatPath == "" {
		chatPath = "/v1/chat/completions"
	}
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = 10 * time.Second
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connect,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Provider{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      model,
		chatPath:   chatPath,
		httpClient: &http.Client{Transport: tr},
	}, nil
}

// NewWithHTTPClient is intended for tests; it avoids network access by using a custom RoundTripper.
func NewWithHTTPClient(cfg Config, httpClient *http.Client) (*Provider, error) {
	p, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		p.httpClient = httpClient
	}
	return p, nil
}

func (p *Provider) Name() string { return Name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Stream         bool           `json:"stream"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatCompletionStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content,omitempty"`
		} `json:"delta,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"choices"`
	Error any `json:"error,omitempty"`
}

func (p *Provider) Generate(ctx context.Context, req provider.Request) (*provider.Result, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	msgs := make([]chatMessage, 0, 2)
	if s := strings.TrimSpace(req.System); s != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: s})
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, provider.Errorf(Name, provider.KindClient, "empty prompt")
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})

	body := chatCompletionRequest{
		Model:          model,
		Messages:       msgs,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		Stream:         true,
		ResponseFormat: map[string]any{"type": "json_object"},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.chatPath, &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.Wrap(Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		return nil, provider.FromStatus(Name, resp.StatusCode, string(raw))
	}

	seq := func(yield func(string, error) bool) {
		defer resp.Body.Close()
		stopped := false
		err := streamSSE(resp.Body, func(data string) error {
			data = strings.TrimSpace(data)
			if data == "" || data == "[DONE]" {
				return nil
			}
			var chunk chatCompletionStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return nil
			}
			if chunk.Error != nil {
				b, _ := json.Marshal(chunk.Error)
				return provider.Errorf(Name, provider.KindServer, "upstream stream error: %s", string(b))
			}
			for _, c := range chunk.Choices {
				delta := c.Delta.Content
				if delta == "" {
					delta = c.Text
				}
				if delta == "" {
					continue
				}
				if !yield(delta, nil) {
					stopped = true
					return errStop
				}
			}
			return nil
		})
		if stopped || err == nil {
			return
		}
		if ctx.Err() != nil {
			yield("", context.Cause(ctx))
			return
		}
		yield("", provider.Wrap(Name, err))
	}
	return &provider.Result{
		Stream:   seq,
		Metadata: provider.Metadata{Provider: Name, Model: model},
	}, nil
}

var errStop = errors.New("stream consumer stopped")
