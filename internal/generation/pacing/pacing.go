// Package pacing fits a generated module/task tree into the learner's time
// budget. It only ever removes trailing tasks; it never adds content.
package pacing

import (
	"math"
	"time"

	"github.com/yungbote/planforge-backend/internal/generation"
)

type Result struct {
	Modules []generation.Module
	Trimmed bool
	// CapacityMinutes is zero when no deadline constrains the plan.
	CapacityMinutes int
	TasksBefore     int
	TasksAfter      int
}

// Weeks counts whole weeks between start and deadline, rounded up, minimum 1.
func Weeks(start, deadline time.Time) int {
	days := deadline.Sub(start).Hours() / 24
	w := int(math.Ceil(days / 7))
	return max(1, w)
}

// Capacity is the minute budget for a deadline-bound plan.
func Capacity(weeklyHours float64, weeks int) int {
	return int(math.Floor(weeklyHours * 60 * float64(max(1, weeks))))
}

// Pace trims trailing tasks until total minutes fit the capacity implied by
// the input's deadline. now stands in for a missing start date. Modules left
// without tasks are dropped, and at least one task always survives.
func Pace(modules []generation.Module, in generation.Input, now time.Time) Result {
	before := generation.CountTasks(modules)
	res := Result{Modules: modules, TasksBefore: before, TasksAfter: before}
	if in.DeadlineDate == nil {
		return res
	}
	start := now
	if in.StartDate != nil {
		start = *in.StartDate
	}
	capacity := Capacity(in.WeeklyHours, Weeks(start, *in.DeadlineDate))
	res.CapacityMinutes = capacity
	if generation.TotalMinutes(modules) <= capacity {
		return res
	}

	out := make([]generation.Module, 0, len(modules))
	used, kept := 0, 0
	for _, m := range modules {
		pm := m
		pm.Tasks = nil
		pm.EstimatedMinutes = 0
		for _, t := range m.Tasks {
			if kept > 0 && used+t.EstimatedMinutes > capacity {
				break
			}
			pm.Tasks = append(pm.Tasks, t)
			pm.EstimatedMinutes += t.EstimatedMinutes
			used += t.EstimatedMinutes
			kept++
		}
		if len(pm.Tasks) == 0 {
			break
		}
		out = append(out, pm)
		if len(pm.Tasks) < len(m.Tasks) {
			break
		}
	}

	res.Modules = out
	res.TasksAfter = kept
	res.Trimmed = kept < before
	return res
}
