package reservation

import (
	"context"

	"github.com/google/uuid"

	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/generation/failure"
)

// Outcome is the record handed to the metrics sink when an attempt finalizes.
type Outcome struct {
	AttemptID      uuid.UUID
	PlanID         uuid.UUID
	AttemptNumber  int
	Status         types.AttemptStatus
	Classification failure.Classification
	DurationMs     int64
	ModulesCount   int
	TasksCount     int
	Terminal       bool
	Reconciled     bool
}

type MetricsSink interface {
	RecordAttempt(ctx context.Context, o Outcome)
}

// RejectionSink is optionally implemented by a MetricsSink to count
// reservation rejections, which never produce an attempt row.
type RejectionSink interface {
	IncRejection(reason failure.Classification)
}

type nopSink struct{}

func (nopSink) RecordAttempt(context.Context, Outcome) {}

// emit never lets a sink failure reach the caller.
func (m *Manager) emit(ctx context.Context, o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("Metrics sink panicked", "panic", r, "attempt_id", o.AttemptID)
		}
	}()
	m.metrics.RecordAttempt(ctx, o)
}

func (m *Manager) emitRejection(reason failure.Classification) {
	rs, ok := m.metrics.(RejectionSink)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("Metrics sink panicked", "panic", r, "reason", reason)
		}
	}()
	rs.IncRejection(reason)
}
