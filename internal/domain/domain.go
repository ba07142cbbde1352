package domain

import (
	"github.com/yungbote/planforge-backend/internal/domain/jobs"
	"github.com/yungbote/planforge-backend/internal/domain/planning"
)

type (
	GenerationStatus = planning.GenerationStatus
	AttemptStatus    = planning.AttemptStatus

	LearningPlan      = planning.LearningPlan
	GenerationAttempt = planning.GenerationAttempt
	PlanModule        = planning.PlanModule
	PlanTask          = planning.PlanTask
	PlanSchedule      = planning.PlanSchedule
	GenerationLock    = planning.GenerationLock

	JobRun = jobs.JobRun
)

const (
	GenerationPending      = planning.GenerationPending
	GenerationGenerating   = planning.GenerationGenerating
	GenerationReady        = planning.GenerationReady
	GenerationPendingRetry = planning.GenerationPendingRetry
	GenerationFailed       = planning.GenerationFailed

	AttemptInProgress = planning.AttemptInProgress
	AttemptSuccess    = planning.AttemptSuccess
	AttemptFailure    = planning.AttemptFailure
)

// Models lists every table the service owns, in migration order.
func Models() []any {
	return []any{
		&planning.LearningPlan{},
		&planning.GenerationAttempt{},
		&planning.PlanModule{},
		&planning.PlanTask{},
		&planning.PlanSchedule{},
		&planning.GenerationLock{},
		&jobs.JobRun{},
	}
}
