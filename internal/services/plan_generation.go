package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/planforge-backend/internal/data/repos"
	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/domain/jobs"
	"github.com/yungbote/planforge-backend/internal/generation"
	"github.com/yungbote/planforge-backend/internal/generation/orchestrator"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

// JobDispatcher hands a queued job to an external runner such as Temporal.
// When nil, queued jobs are picked up by the in-process worker pool.
type JobDispatcher interface {
	Dispatch(ctx context.Context, job *types.JobRun) error
}

type GenerationPayload struct {
	PlanID uuid.UUID `json:"plan_id"`
}

type PlanGenerationService interface {
	// Generate runs one attempt and marks the plan ready on success.
	Generate(ctx context.Context, userID, planID uuid.UUID, allowed []types.GenerationStatus) (orchestrator.Outcome, error)
	// Enqueue records a generation job, returning the existing one if a
	// runnable job is already queued for the plan.
	Enqueue(ctx context.Context, userID, planID uuid.UUID) (*types.JobRun, bool, error)
}

type planGenerationService struct {
	db         *gorm.DB
	log        *logger.Logger
	plans      repos.PlanRepo
	jobs       repos.JobRunRepo
	orch       *orchestrator.Orchestrator
	dispatcher JobDispatcher
}

func NewPlanGenerationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	plans repos.PlanRepo,
	jobRuns repos.JobRunRepo,
	orch *orchestrator.Orchestrator,
	dispatcher JobDispatcher,
) PlanGenerationService {
	return &planGenerationService{
		db:         db,
		log:        baseLog.With("service", "PlanGenerationService"),
		plans:      plans,
		jobs:       jobRuns,
		orch:       orch,
		dispatcher: dispatcher,
	}
}

func (s *planGenerationService) Generate(ctx context.Context, userID, planID uuid.UUID, allowed []types.GenerationStatus) (orchestrator.Outcome, error) {
	plan, err := s.plans.GetByID(dbctx.New(ctx), planID)
	if err != nil {
		return nil, err
	}
	if plan == nil || plan.UserID != userID {
		return nil, ErrPlanNotFound
	}

	out, err := s.orch.Run(ctx, generation.AttemptContext{
		PlanID: plan.ID,
		UserID: userID,
		Input:  PlanInput(plan),
	}, orchestrator.Options{AllowedStatuses: allowed})
	if err != nil {
		return nil, err
	}
	if success, ok := out.(*orchestrator.Success); ok {
		marked, err := s.plans.MarkReady(dbctx.New(context.WithoutCancel(ctx)), plan.ID)
		if err != nil {
			return nil, fmt.Errorf("mark plan ready: %w", err)
		}
		if !marked {
			s.log.Warn("Plan left generating before it could be marked ready", "plan_id", plan.ID, "attempt_id", success.AttemptID)
		}
	}
	return out, nil
}

func (s *planGenerationService) Enqueue(ctx context.Context, userID, planID uuid.UUID) (*types.JobRun, bool, error) {
	dbc := dbctx.New(ctx)
	plan, err := s.plans.GetByID(dbc, planID)
	if err != nil {
		return nil, false, err
	}
	if plan == nil || plan.UserID != userID {
		return nil, false, ErrPlanNotFound
	}

	var (
		job     *types.JobRun
		created bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		existing, err := s.jobs.GetLatestByEntity(dbc, userID, planID, jobs.JobTypePlanGeneration)
		if err != nil {
			return err
		}
		if existing != nil && (existing.Status == jobs.StatusQueued || existing.Status == jobs.StatusRunning) {
			job = existing
			return nil
		}
		payload, _ := json.Marshal(GenerationPayload{PlanID: planID})
		rows, err := s.jobs.Create(dbc, []*types.JobRun{{
			OwnerUserID: userID,
			JobType:     jobs.JobTypePlanGeneration,
			EntityID:    planID,
			Status:      jobs.StatusQueued,
			Payload:     datatypes.JSON(payload),
			Result:      datatypes.JSON([]byte(`{}`)),
		}})
		if err != nil {
			return err
		}
		job, created = rows[0], true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created && s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, job); err != nil {
			s.log.Warn("Job dispatch failed; leaving it for the worker pool", "job_id", job.ID, "error", err)
		}
	}
	if created {
		s.log.Info("Generation job enqueued", "job_id", job.ID, "plan_id", planID)
	}
	return job, created, nil
}
