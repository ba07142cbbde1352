// Package parser turns raw model output into a validated module/task tree.
package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"regexp"
	"strings"

	"github.com/yungbote/planforge-backend/internal/generation"
)

// ErrInvalidResponse marks output that is not well-formed or fails shape checks.
var ErrInvalidResponse = errors.New("invalid_response")

// MaxResponseBytes bounds the accumulated buffer.
const MaxResponseBytes = 1 << 20

var firstModuleRe = regexp.MustCompile(`"modules"\s*:\s*\[\s*\{`)

type Options struct {
	// OnFirstModule fires once when the buffer first shows an opened module object.
	OnFirstModule func()
}

// ParseStream accumulates chunks until the stream ends, then parses the buffer.
// Stream and ctx errors are returned as-is; they are not parse failures.
func ParseStream(ctx context.Context, stream iter.Seq2[string, error], opts Options) (*generation.ParsedGeneration, error) {
	var buf strings.Builder
	fired := opts.OnFirstModule == nil
	for chunk, err := range stream {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, context.Cause(ctx)
		}
		if buf.Len()+len(chunk) > MaxResponseBytes {
			return nil, invalid("response exceeds %d bytes", MaxResponseBytes)
		}
		// Rescan a short overlap so a marker split across chunks is still seen.
		from := max(0, buf.Len()-32)
		buf.WriteString(chunk)
		if !fired && firstModuleRe.MatchString(buf.String()[from:]) {
			fired = true
			opts.OnFirstModule()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	return Parse(buf.String())
}

type rawTask struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	EstimatedMinutes *float64 `json:"estimatedMinutes"`
}

type rawModule struct {
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	EstimatedMinutes *float64  `json:"estimatedMinutes"`
	Tasks            []rawTask `json:"tasks"`
}

type rawPlan struct {
	Modules []rawModule `json:"modules"`
}

// Parse validates a complete response. Module minutes are recomputed from
// their tasks so the tree is internally consistent.
func Parse(text string) (*generation.ParsedGeneration, error) {
	body := extractJSON(text)
	if body == "" {
		return nil, invalid("empty response")
	}

	dec := json.NewDecoder(strings.NewReader(body))
	var plan rawPlan
	if err := dec.Decode(&plan); err != nil {
		return nil, invalid("malformed json: %v", err)
	}
	if dec.More() {
		return nil, invalid("trailing data after plan object")
	}

	if len(plan.Modules) == 0 {
		return nil, invalid("no modules")
	}
	modules := make([]generation.Module, 0, len(plan.Modules))
	for i, rm := range plan.Modules {
		title := strings.TrimSpace(rm.Title)
		if title == "" {
			return nil, invalid("module %d: missing title", i)
		}
		if len(rm.Tasks) == 0 {
			return nil, invalid("module %d: no tasks", i)
		}
		if rm.EstimatedMinutes != nil {
			if _, err := minutes(*rm.EstimatedMinutes); err != nil {
				return nil, invalid("module %d: %v", i, err)
			}
		}
		m := generation.Module{
			Title:       title,
			Description: strings.TrimSpace(rm.Description),
			Tasks:       make([]generation.Task, 0, len(rm.Tasks)),
		}
		for j, rt := range rm.Tasks {
			tt := strings.TrimSpace(rt.Title)
			if tt == "" {
				return nil, invalid("module %d task %d: missing title", i, j)
			}
			if rt.EstimatedMinutes == nil {
				return nil, invalid("module %d task %d: missing estimatedMinutes", i, j)
			}
			mins, err := minutes(*rt.EstimatedMinutes)
			if err != nil {
				return nil, invalid("module %d task %d: %v", i, j, err)
			}
			m.Tasks = append(m.Tasks, generation.Task{
				Title:            tt,
				Description:      strings.TrimSpace(rt.Description),
				EstimatedMinutes: mins,
			})
			m.EstimatedMinutes += mins
		}
		modules = append(modules, m)
	}
	return &generation.ParsedGeneration{Modules: modules, RawText: text}, nil
}

func minutes(v float64) (int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("estimatedMinutes must be a non-negative number, got %v", v)
	}
	if v > 100_000 {
		return 0, fmt.Errorf("estimatedMinutes %v out of range", v)
	}
	return int(math.Round(v)), nil
}

// extractJSON strips markdown fences and any prose around the outermost object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl != -1 {
			s = s[nl+1:]
		} else {
			s = strings.Trim(s, "`")
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "{") {
		return s
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end < start {
		return ""
	}
	return strings.TrimSpace(s[start : end+1])
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidResponse, fmt.Sprintf(format, args...))
}
