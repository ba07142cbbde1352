package generation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxTopicRunes      = 200
	MaxNotesRunes      = 2000
	MaxPDFContextRunes = 8000

	MinWeeklyHours = 1
	MaxWeeklyHours = 80
)

// Sanitized is an Input after truncation and effort normalization, with a
// record of which corrections were applied.
type Sanitized struct {
	Input            Input
	TruncatedTopic   bool
	TruncatedNotes   bool
	NormalizedEffort bool
}

func Sanitize(in Input) Sanitized {
	out := Sanitized{Input: in}

	out.Input.Topic, out.TruncatedTopic = truncateRunes(strings.TrimSpace(in.Topic), MaxTopicRunes)
	out.Input.Notes, out.TruncatedNotes = truncateRunes(strings.TrimSpace(in.Notes), MaxNotesRunes)
	out.Input.PDFContext, _ = truncateRunes(strings.TrimSpace(in.PDFContext), MaxPDFContextRunes)

	switch out.Input.SkillLevel {
	case SkillBeginner, SkillIntermediate, SkillAdvanced:
	default:
		out.Input.SkillLevel = SkillBeginner
	}
	switch out.Input.LearningStyle {
	case StyleReading, StyleVideo, StylePractice, StyleMixed:
	default:
		out.Input.LearningStyle = StyleMixed
	}

	hours := in.WeeklyHours
	switch {
	case math.IsNaN(hours) || hours < MinWeeklyHours:
		hours = MinWeeklyHours
	case hours > MaxWeeklyHours:
		hours = MaxWeeklyHours
	}
	if hours != in.WeeklyHours {
		out.NormalizedEffort = true
	}
	out.Input.WeeklyHours = hours

	if out.Input.StartDate != nil {
		d := out.Input.StartDate.UTC()
		out.Input.StartDate = &d
	}
	if out.Input.DeadlineDate != nil {
		d := out.Input.DeadlineDate.UTC()
		out.Input.DeadlineDate = &d
	}
	return out
}

func truncateRunes(s string, max int) (string, bool) {
	if max <= 0 {
		return "", s != ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s, false
	}
	return string(r[:max]), true
}

// PromptHash is a content-addressed key over the canonical JSON encoding of
// (planID, userID, input). Struct field order makes the encoding stable.
func PromptHash(planID, userID uuid.UUID, in Input) string {
	payload := struct {
		PlanID string `json:"planId"`
		UserID string `json:"userId"`
		Input  Input  `json:"input"`
	}{
		PlanID: planID.String(),
		UserID: userID.String(),
		Input:  in,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		b = []byte(planID.String() + "|" + userID.String() + "|" + in.Topic)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
