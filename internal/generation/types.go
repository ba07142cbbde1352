// Package generation holds the value types shared by the plan generation
// pipeline: the caller-supplied input, the parsed module/task tree, and input
// sanitation applied at reservation time.
package generation

import (
	"time"

	"github.com/google/uuid"
)

type SkillLevel string

const (
	SkillBeginner     SkillLevel = "beginner"
	SkillIntermediate SkillLevel = "intermediate"
	SkillAdvanced     SkillLevel = "advanced"
)

type LearningStyle string

const (
	StyleReading  LearningStyle = "reading"
	StyleVideo    LearningStyle = "video"
	StylePractice LearningStyle = "practice"
	StyleMixed    LearningStyle = "mixed"
)

// Input is the caller-supplied description of the plan to generate.
type Input struct {
	Topic         string        `json:"topic"`
	Notes         string        `json:"notes,omitempty"`
	SkillLevel    SkillLevel    `json:"skillLevel"`
	WeeklyHours   float64       `json:"weeklyHours"`
	LearningStyle LearningStyle `json:"learningStyle"`
	StartDate     *time.Time    `json:"startDate,omitempty"`
	DeadlineDate  *time.Time    `json:"deadlineDate,omitempty"`
	PDFContext    string        `json:"pdfContext,omitempty"`
}

// AttemptContext identifies who is generating which plan.
type AttemptContext struct {
	PlanID uuid.UUID
	UserID uuid.UUID
	Input  Input
}

type Task struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	EstimatedMinutes int    `json:"estimatedMinutes"`
}

type Module struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	EstimatedMinutes int    `json:"estimatedMinutes"`
	Tasks            []Task `json:"tasks"`
}

// ParsedGeneration is validated model output plus the raw text kept for audit.
type ParsedGeneration struct {
	Modules []Module
	RawText string
}

// CountTasks returns the number of tasks across modules.
func CountTasks(modules []Module) int {
	n := 0
	for _, m := range modules {
		n += len(m.Tasks)
	}
	return n
}

// TotalMinutes sums task minutes across modules.
func TotalMinutes(modules []Module) int {
	total := 0
	for _, m := range modules {
		for _, t := range m.Tasks {
			total += t.EstimatedMinutes
		}
	}
	return total
}
