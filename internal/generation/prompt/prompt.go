// Package prompt renders the provider request for a sanitized plan input.
package prompt

import (
	"fmt"
	"strings"

	"github.com/yungbote/planforge-backend/internal/generation"
	"github.com/yungbote/planforge-backend/internal/generation/provider"
)

// Limits the model is asked to respect; the reservation manager enforces them
// again on persistence.
const (
	MaxModules        = 12
	MaxTasksPerModule = 20
)

const system = `You design structured, self-paced learning curricula.
Return ONLY a JSON object of the form
{"modules":[{"title":string,"description":string,"estimatedMinutes":number,"tasks":[{"title":string,"description":string,"estimatedMinutes":number}]}]}
Do not include markdown fences or commentary.`

// Build renders the request. The input must already be sanitized.
func Build(in generation.Input) provider.Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", in.Topic)
	fmt.Fprintf(&b, "Skill level: %s\n", in.SkillLevel)
	fmt.Fprintf(&b, "Weekly time budget: %g hours\n", in.WeeklyHours)
	fmt.Fprintf(&b, "Preferred learning style: %s\n", in.LearningStyle)
	if in.StartDate != nil {
		fmt.Fprintf(&b, "Start date: %s\n", in.StartDate.Format("2006-01-02"))
	}
	if in.DeadlineDate != nil {
		fmt.Fprintf(&b, "Deadline: %s\n", in.DeadlineDate.Format("2006-01-02"))
	}
	if in.Notes != "" {
		fmt.Fprintf(&b, "\nLearner notes:\n%s\n", in.Notes)
	}
	if in.PDFContext != "" {
		fmt.Fprintf(&b, "\nReference material extracted from the learner's document:\n%s\n", in.PDFContext)
	}
	fmt.Fprintf(&b, "\nProduce between 1 and %d modules, each with 1 to %d concrete tasks. ", MaxModules, MaxTasksPerModule)
	b.WriteString("Order modules and tasks from first to last to study. ")
	b.WriteString("Estimate minutes realistically for the stated skill level.")

	return provider.Request{
		System:      system,
		Prompt:      b.String(),
		Temperature: 0.4,
	}
}
