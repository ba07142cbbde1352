// Package scheduling lays a persisted task tree out on a weekly calendar.
package scheduling

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	SessionsPerWeek = 3
	dateLayout      = "2006-01-02"
)

// sessionDayOffsets anchors each week's sessions relative to the week start.
var sessionDayOffsets = [SessionsPerWeek]int{0, 2, 4}

var (
	ErrInvalidWeeklyHours = errors.New("weekly hours must be positive")
	ErrNegativeMinutes    = errors.New("task minutes must not be negative")
)

type Task struct {
	ID               uuid.UUID
	ModuleID         uuid.UUID
	Title            string
	EstimatedMinutes int
	Order            int
}

type Inputs struct {
	Tasks        []Task
	StartDate    time.Time
	DeadlineDate *time.Time
	WeeklyHours  float64
	Timezone     string
}

type Session struct {
	TaskID           uuid.UUID `json:"taskId"`
	TaskTitle        string    `json:"taskTitle"`
	EstimatedMinutes int       `json:"estimatedMinutes"`
}

type Day struct {
	Date     string    `json:"date"`
	Sessions []Session `json:"sessions"`
}

type Week struct {
	WeekNumber int    `json:"weekNumber"`
	StartDate  string `json:"startDate"`
	EndDate    string `json:"endDate"`
	Days       []Day  `json:"days"`
}

type Schedule struct {
	Weeks         []Week `json:"weeks"`
	TotalWeeks    int    `json:"totalWeeks"`
	TotalSessions int    `json:"totalSessions"`
	// ExceedsDeadline is set when the last scheduled day falls after the deadline.
	ExceedsDeadline bool `json:"exceedsDeadline,omitempty"`
}

// Distribute fills three sessions per week in task order, splitting tasks that
// do not fit the current session. The sum of session minutes always equals
// the sum of task minutes.
func Distribute(in Inputs) (*Schedule, error) {
	if !(in.WeeklyHours > 0) || math.IsInf(in.WeeklyHours, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWeeklyHours, in.WeeklyHours)
	}
	tasks := slices.Clone(in.Tasks)
	total := 0
	for _, t := range tasks {
		if t.EstimatedMinutes < 0 {
			return nil, fmt.Errorf("%w: task %s has %d", ErrNegativeMinutes, t.ID, t.EstimatedMinutes)
		}
		total += t.EstimatedMinutes
	}
	out := &Schedule{Weeks: []Week{}}
	if total == 0 {
		return out, nil
	}
	slices.SortStableFunc(tasks, func(a, b Task) int { return a.Order - b.Order })

	caps := sessionCaps(in.WeeklyHours)
	// grid[w][s] holds the entries of session s in week w.
	var grid [][SessionsPerWeek][]Session
	week, slot, room := 0, 0, caps[0]
	grid = append(grid, [SessionsPerWeek][]Session{})
	for _, t := range tasks {
		left := t.EstimatedMinutes
		for left > 0 {
			if room == 0 {
				slot++
				if slot == SessionsPerWeek {
					slot = 0
					week++
					grid = append(grid, [SessionsPerWeek][]Session{})
				}
				room = caps[slot]
			}
			n := min(left, room)
			grid[week][slot] = append(grid[week][slot], Session{TaskID: t.ID, TaskTitle: t.Title, EstimatedMinutes: n})
			left -= n
			room -= n
		}
	}

	weeklyMinutes := caps[0] + caps[1] + caps[2]
	weeks := max(len(grid), ceilDiv(total, weeklyMinutes))
	start := startOfDay(in.StartDate, in.Timezone)
	var last time.Time
	for w := 0; w < weeks; w++ {
		ws := start.AddDate(0, 0, 7*w)
		wk := Week{
			WeekNumber: w + 1,
			StartDate:  ws.Format(dateLayout),
			EndDate:    ws.AddDate(0, 0, 6).Format(dateLayout),
			Days:       []Day{},
		}
		if w < len(grid) {
			for s, sessions := range grid[w] {
				if len(sessions) == 0 {
					continue
				}
				day := ws.AddDate(0, 0, sessionDayOffsets[s])
				wk.Days = append(wk.Days, Day{Date: day.Format(dateLayout), Sessions: sessions})
				out.TotalSessions += len(sessions)
				last = day
			}
		}
		out.Weeks = append(out.Weeks, wk)
	}
	out.TotalWeeks = len(out.Weeks)
	if in.DeadlineDate != nil && !last.IsZero() {
		out.ExceedsDeadline = last.After(startOfDay(*in.DeadlineDate, in.Timezone))
	}
	return out, nil
}

// sessionCaps splits the weekly minute budget over the sessions, giving any
// remainder to the earliest ones. Every session holds at least one minute.
func sessionCaps(weeklyHours float64) [SessionsPerWeek]int {
	weekly := max(SessionsPerWeek, int(math.Floor(weeklyHours*60)))
	var caps [SessionsPerWeek]int
	for i := range caps {
		caps[i] = weekly / SessionsPerWeek
		if i < weekly%SessionsPerWeek {
			caps[i]++
		}
	}
	return caps
}

func startOfDay(t time.Time, tz string) time.Time {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
