// Package mock is a deterministic in-process provider for tests and local runs.
package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/yungbote/planforge-backend/internal/generation/provider"
)

// DefaultResponse is a minimal valid plan: one module with two tasks.
const DefaultResponse = `{"modules":[{"title":"Foundations","description":"Core concepts and vocabulary.","estimatedMinutes":90,"tasks":[{"title":"Read an overview","description":"Survey the main ideas.","estimatedMinutes":45},{"title":"Work a small example","description":"Apply the ideas end to end.","estimatedMinutes":45}]}]}`

type Provider struct {
	// Response is streamed back on success. Empty means DefaultResponse.
	Response string
	// Errors are returned by successive calls before any call succeeds.
	Errors []error
	// StreamErr, when set, is yielded after the full response has streamed.
	StreamErr error
	// Delay is slept before the first chunk; ChunkDelay between chunks.
	Delay      time.Duration
	ChunkDelay time.Duration
	ChunkSize  int
	ProviderID string

	calls atomic.Int64
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string {
	if p.ProviderID != "" {
		return p.ProviderID
	}
	return "mock"
}

// Calls reports how many times Generate was invoked.
func (p *Provider) Calls() int { return int(p.calls.Load()) }

func (p *Provider) Generate(ctx context.Context, req provider.Request) (*provider.Result, error) {
	_ = req
	n := p.calls.Add(1)

	if int(n) <= len(p.Errors) {
		if err := p.Errors[n-1]; err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := p.Response
	if text == "" {
		text = DefaultResponse
	}
	chunk := p.ChunkSize
	if chunk <= 0 {
		chunk = 16
	}

	stream := func(yield func(string, error) bool) {
		if !sleep(ctx, p.Delay) {
			yield("", context.Cause(ctx))
			return
		}
		for i := 0; i < len(text); i += chunk {
			if i > 0 && !sleep(ctx, p.ChunkDelay) {
				yield("", context.Cause(ctx))
				return
			}
			end := min(i+chunk, len(text))
			if !yield(text[i:end], nil) {
				return
			}
		}
		if p.StreamErr != nil {
			yield("", p.StreamErr)
		}
	}
	return &provider.Result{
		Stream:   stream,
		Metadata: provider.Metadata{Provider: p.Name(), Model: "mock"},
	}, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
