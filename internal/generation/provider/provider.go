// Package provider abstracts the text-generation backends used to build plans.
package provider

import (
	"context"
	"iter"
	"strings"
)

type Request struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

type Metadata struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	// Tries counts every call made across the chain, including the successful one.
	Tries int `json:"tries"`
}

// Result carries a lazily consumed stream of text chunks. The stream must be
// ranged over exactly once; cancelling the generation ctx stops it early.
type Result struct {
	Stream   iter.Seq2[string, error]
	Metadata Metadata
}

type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Result, error)
}

// TextStream yields text in chunk-sized pieces, stopping with ctx's error if
// it is cancelled between chunks.
func TextStream(ctx context.Context, text string, chunk int) iter.Seq2[string, error] {
	if chunk <= 0 {
		chunk = len(text)
	}
	return func(yield func(string, error) bool) {
		for i := 0; i < len(text); i += chunk {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			end := min(i+chunk, len(text))
			if !yield(text[i:end], nil) {
				return
			}
		}
	}
}

// Collect drains a stream into a single string.
func Collect(stream iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for chunk, err := range stream {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}
