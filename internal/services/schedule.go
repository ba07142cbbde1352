package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/planforge-backend/internal/data/repos"
	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
	"github.com/yungbote/planforge-backend/internal/scheduling"
)

type ScheduleService interface {
	// Get returns the plan's schedule, recomputing it when the task tree or
	// pacing inputs changed since it was cached.
	Get(dbc dbctx.Context, userID, planID uuid.UUID) (*scheduling.Schedule, error)
}

type scheduleService struct {
	db         *gorm.DB
	log        *logger.Logger
	plans      repos.PlanRepo
	curriculum repos.CurriculumRepo
	schedules  repos.ScheduleRepo
}

func NewScheduleService(db *gorm.DB, baseLog *logger.Logger, plans repos.PlanRepo, curriculum repos.CurriculumRepo, schedules repos.ScheduleRepo) ScheduleService {
	return &scheduleService{
		db:         db,
		log:        baseLog.With("service", "ScheduleService"),
		plans:      plans,
		curriculum: curriculum,
		schedules:  schedules,
	}
}

func (s *scheduleService) Get(dbc dbctx.Context, userID, planID uuid.UUID) (*scheduling.Schedule, error) {
	plan, err := s.plans.GetByID(dbc, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil || plan.UserID != userID {
		return nil, ErrPlanNotFound
	}
	if plan.GenerationStatus != types.GenerationReady {
		return nil, ErrPlanNotReady
	}
	modules, err := s.curriculum.ListByPlan(dbc, planID)
	if err != nil {
		return nil, err
	}

	in := ScheduleInputs(plan, modules)
	hash, err := inputsHash(in)
	if err != nil {
		return nil, err
	}
	cached, err := s.schedules.Get(dbc, planID)
	if err != nil {
		return nil, err
	}
	if cached != nil && cached.InputsHash == hash {
		var out scheduling.Schedule
		if err := json.Unmarshal(cached.Schedule, &out); err == nil {
			return &out, nil
		}
		s.log.Warn("Cached schedule unreadable; recomputing", "plan_id", planID)
	}

	out, err := scheduling.Distribute(in)
	if err != nil {
		return nil, fmt.Errorf("distribute tasks: %w", err)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	if err := s.schedules.Upsert(dbc, &types.PlanSchedule{
		PlanID:     planID,
		InputsHash: hash,
		Schedule:   datatypes.JSON(raw),
		UpdatedAt:  time.Now().UTC(),
	}); err != nil {
		return nil, err
	}
	s.log.Debug("Schedule computed", "plan_id", planID, "weeks", out.TotalWeeks, "sessions", out.TotalSessions)
	return out, nil
}

// ScheduleInputs flattens a plan's modules into ordered distributor tasks.
// A plan without a start date starts on the day it was created.
func ScheduleInputs(plan *types.LearningPlan, modules []*types.PlanModule) scheduling.Inputs {
	in := scheduling.Inputs{
		StartDate:    plan.CreatedAt,
		DeadlineDate: plan.DeadlineDate,
		WeeklyHours:  plan.WeeklyHours,
		Timezone:     plan.Timezone,
	}
	if plan.StartDate != nil {
		in.StartDate = *plan.StartDate
	}
	for _, m := range modules {
		for _, t := range m.Tasks {
			in.Tasks = append(in.Tasks, scheduling.Task{
				ID:               t.ID,
				ModuleID:         m.ID,
				Title:            t.Title,
				EstimatedMinutes: t.EstimatedMinutes,
				Order:            len(in.Tasks),
			})
		}
	}
	return in
}

func inputsHash(in scheduling.Inputs) (string, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
