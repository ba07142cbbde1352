package oaihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/yungbote/planforge-backend/internal/generation/provider"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestGenerateStreamsDeltas(t *testing.T) {
	client := &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if req.URL.Path != "/v1/chat/completions" {
				t.Fatalf("unexpected path: %s", req.URL.Path)
			}
			if got := req.Header.Get("Authorization"); got != "Bearer k" {
				t.Fatalf("auth=%q", got)
			}
			var in chatCompletionRequest
			if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
				t.Fatalf("decode req: %v", err)
			}
			if !in.Stream || in.Model != "m" || len(in.Messages) != 2 {
				t.Fatalf("unexpected request: %+v", in)
			}
			body := strings.Join([]string{
				`data: {"choices":[{"delta":{"content":"{\"modules\":"}}]}`,
				``,
				`: keepalive`,
				`data: {"choices":[{"delta":{"content":"[]}"}}]}`,
				``,
				`data: [DONE]`,
				``,
			}, "\n")
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
				Body:       io.NopCloser(strings.NewReader(body)),
			}, nil
		}),
	}

	p, err := NewWithHTTPClient(Config{BaseURL: "http://upstream", APIKey: "k", Model: "m"}, client)
	if err != nil {
		t.Fatalf("NewWithHTTPClient: %v", err)
	}
	res, err := p.Generate(context.Background(), provider.Request{System: "s", Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	text, err := provider.Collect(res.Stream)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if text != `{"modules":[]}` {
		t.Fatalf("text=%q", text)
	}
}

func TestGenerateMapsStatus(t *testing.T) {
	cases := map[int]provider.Kind{
		http.StatusTooManyRequests:    provider.KindRateLimit,
		http.StatusBadRequest:         provider.KindClient,
		http.StatusServiceUnavailable: provider.KindServer,
		http.StatusGatewayTimeout:     provider.KindTimeout,
	}
	for status, want := range cases {
		client := &http.Client{
			Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
				return &http.Response{
					StatusCode: status,
					Body:       io.NopCloser(bytes.NewReader([]byte(`{"error":"nope"}`))),
				}, nil
			}),
		}
		p, _ := NewWithHTTPClient(Config{BaseURL: "http://upstream"}, client)
		_, err := p.Generate(context.Background(), provider.Request{Prompt: "p"})
		var pe *provider.Error
		if !errors.As(err, &pe) {
			t.Fatalf("status %d: expected provider error, got %v", status, err)
		}
		if pe.Kind != want || pe.StatusCode != status {
			t.Fatalf("status %d: kind=%s", status, pe.Kind)
		}
	}
}

func TestGenerateSurfacesStreamError(t *testing.T) {
	client := &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			body := "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\ndata: {\"error\":{\"message\":\"overloaded\"}}\n\n"
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}, nil
		}),
	}
	p, _ := NewWithHTTPClient(Config{BaseURL: "http://upstream"}, client)
	res, err := p.Generate(context.Background(), provider.Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	text, err := provider.Collect(res.Stream)
	if text != "x" {
		t.Fatalf("text=%q", text)
	}
	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Kind != provider.KindServer {
		t.Fatalf("expected server stream error, got %v", err)
	}
}
