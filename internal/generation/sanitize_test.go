package generation

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeTruncatesAndNormalizes(t *testing.T) {
	in := Input{
		Topic:       strings.Repeat("é", MaxTopicRunes+5),
		Notes:       "  keep me  ",
		WeeklyHours: 200,
	}
	out := Sanitize(in)

	assert.True(t, out.TruncatedTopic)
	assert.Len(t, []rune(out.Input.Topic), MaxTopicRunes)
	assert.False(t, out.TruncatedNotes)
	assert.Equal(t, "keep me", out.Input.Notes)
	assert.True(t, out.NormalizedEffort)
	assert.Equal(t, float64(MaxWeeklyHours), out.Input.WeeklyHours)
	assert.Equal(t, SkillBeginner, out.Input.SkillLevel)
	assert.Equal(t, StyleMixed, out.Input.LearningStyle)
}

func TestSanitizeLeavesValidInputAlone(t *testing.T) {
	in := Input{Topic: "Distributed Systems", WeeklyHours: 5, SkillLevel: SkillIntermediate, LearningStyle: StyleReading}
	out := Sanitize(in)

	assert.False(t, out.TruncatedTopic)
	assert.False(t, out.TruncatedNotes)
	assert.False(t, out.NormalizedEffort)
	assert.Equal(t, in, out.Input)
}

func TestPromptHashIsStableAndInputSensitive(t *testing.T) {
	planID, userID := uuid.New(), uuid.New()
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	in := Input{Topic: "Go", WeeklyHours: 3, StartDate: &start}

	a := PromptHash(planID, userID, in)
	b := PromptHash(planID, userID, in)
	require.Equal(t, a, b)
	assert.Len(t, a, 64)

	in.Topic = "Rust"
	assert.NotEqual(t, a, PromptHash(planID, userID, in))
	assert.NotEqual(t, a, PromptHash(uuid.New(), userID, Input{Topic: "Go", WeeklyHours: 3, StartDate: &start}))
}
