package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/planforge-backend/internal/generation/provider"
)

const valid = `{"modules":[{"title":" Intro ","description":"d","estimatedMinutes":999,"tasks":[{"title":"A","estimatedMinutes":30},{"title":"B","description":"b","estimatedMinutes":44.6}]}]}`

func TestParseValid(t *testing.T) {
	pg, err := Parse(valid)
	require.NoError(t, err)
	require.Len(t, pg.Modules, 1)
	m := pg.Modules[0]
	assert.Equal(t, "Intro", m.Title)
	assert.Len(t, m.Tasks, 2)
	assert.Equal(t, 45, m.Tasks[1].EstimatedMinutes)
	assert.Equal(t, 75, m.EstimatedMinutes, "module minutes are recomputed from tasks")
	assert.Equal(t, valid, pg.RawText)
}

func TestParseStripsFencesAndProse(t *testing.T) {
	for _, in := range []string{
		"```json\n" + valid + "\n```",
		"Here is your plan:\n" + valid + "\nEnjoy!",
	} {
		_, err := Parse(in)
		assert.NoError(t, err, in)
	}
}

func TestParseRejectsBadShapes(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"not json":         "sorry, I cannot help with that",
		"truncated":        `{"modules":[{"title":"A","tasks":[{"title":"x","estimatedMinutes":5}]`,
		"no modules":       `{"modules":[]}`,
		"module no title":  `{"modules":[{"title":"","tasks":[{"title":"x","estimatedMinutes":5}]}]}`,
		"module no tasks":  `{"modules":[{"title":"A","tasks":[]}]}`,
		"task no title":    `{"modules":[{"title":"A","tasks":[{"title":" ","estimatedMinutes":5}]}]}`,
		"task no minutes":  `{"modules":[{"title":"A","tasks":[{"title":"x"}]}]}`,
		"negative minutes": `{"modules":[{"title":"A","tasks":[{"title":"x","estimatedMinutes":-1}]}]}`,
		"string minutes":   `{"modules":[{"title":"A","tasks":[{"title":"x","estimatedMinutes":"5"}]}]}`,
	}
	for name, in := range cases {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalidResponse, name)
	}
}

func TestParseStreamFiresFirstModuleOnce(t *testing.T) {
	fired := 0
	stream := provider.TextStream(context.Background(), valid, 3)
	pg, err := ParseStream(context.Background(), stream, Options{OnFirstModule: func() { fired++ }})
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Len(t, pg.Modules[0].Tasks, 2)
}

func TestParseStreamPropagatesStreamError(t *testing.T) {
	boom := errors.New("connection reset")
	stream := func(yield func(string, error) bool) {
		if !yield(`{"modules":[`, nil) {
			return
		}
		yield("", boom)
	}
	_, err := ParseStream(context.Background(), stream, Options{})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrInvalidResponse)
}

func TestParseStreamHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stream := func(yield func(string, error) bool) { yield("{", nil) }
	_, err := ParseStream(ctx, stream, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
