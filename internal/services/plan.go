package services

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/planforge-backend/internal/data/repos"
	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/generation"
	"github.com/yungbote/planforge-backend/internal/generation/reservation"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

var (
	ErrPlanNotFound = reservation.ErrPlanNotFound
	ErrPlanNotReady = errors.New("plan is not ready")
	ErrInvalidPlan  = errors.New("invalid plan")
)

type CreatePlanInput struct {
	Topic         string     `json:"topic"`
	Notes         string     `json:"notes"`
	SkillLevel    string     `json:"skillLevel"`
	WeeklyHours   float64    `json:"weeklyHours"`
	LearningStyle string     `json:"learningStyle"`
	Timezone      string     `json:"timezone"`
	StartDate     *time.Time `json:"startDate"`
	DeadlineDate  *time.Time `json:"deadlineDate"`
}

type PlanService interface {
	Create(dbc dbctx.Context, userID uuid.UUID, in CreatePlanInput) (*types.LearningPlan, error)
	Get(dbc dbctx.Context, userID, planID uuid.UUID) (*types.LearningPlan, error)
	ListForUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.LearningPlan, error)
	Curriculum(dbc dbctx.Context, userID, planID uuid.UUID) ([]*types.PlanModule, error)
	Attempts(dbc dbctx.Context, userID, planID uuid.UUID) ([]*types.GenerationAttempt, error)
}

type planService struct {
	db         *gorm.DB
	log        *logger.Logger
	plans      repos.PlanRepo
	attempts   repos.AttemptRepo
	curriculum repos.CurriculumRepo
}

func NewPlanService(db *gorm.DB, baseLog *logger.Logger, plans repos.PlanRepo, attempts repos.AttemptRepo, curriculum repos.CurriculumRepo) PlanService {
	return &planService{
		db:         db,
		log:        baseLog.With("service", "PlanService"),
		plans:      plans,
		attempts:   attempts,
		curriculum: curriculum,
	}
}

func (s *planService) Create(dbc dbctx.Context, userID uuid.UUID, in CreatePlanInput) (*types.LearningPlan, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidPlan)
	}
	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidPlan)
	}
	if !(in.WeeklyHours > 0) || math.IsInf(in.WeeklyHours, 0) {
		return nil, fmt.Errorf("%w: weeklyHours must be positive", ErrInvalidPlan)
	}
	if in.StartDate != nil && in.DeadlineDate != nil && in.DeadlineDate.Before(*in.StartDate) {
		return nil, fmt.Errorf("%w: deadline precedes start", ErrInvalidPlan)
	}
	tz := strings.TrimSpace(in.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidPlan, tz)
	}
	plan := &types.LearningPlan{
		UserID:           userID,
		Topic:            topic,
		Notes:            strings.TrimSpace(in.Notes),
		SkillLevel:       string(skillLevel(in.SkillLevel)),
		WeeklyHours:      in.WeeklyHours,
		LearningStyle:    string(learningStyle(in.LearningStyle)),
		Timezone:         tz,
		StartDate:        utcPtr(in.StartDate),
		DeadlineDate:     utcPtr(in.DeadlineDate),
		GenerationStatus: types.GenerationPending,
		IsQuotaEligible:  true,
	}
	if err := s.plans.Create(dbc, plan); err != nil {
		return nil, err
	}
	s.log.Info("Plan created", "plan_id", plan.ID, "user_id", userID)
	return plan, nil
}

func (s *planService) Get(dbc dbctx.Context, userID, planID uuid.UUID) (*types.LearningPlan, error) {
	plan, err := s.plans.GetByID(dbc, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil || plan.UserID != userID {
		return nil, ErrPlanNotFound
	}
	return plan, nil
}

func (s *planService) ListForUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.LearningPlan, error) {
	return s.plans.ListByUser(dbc, userID, limit)
}

func (s *planService) Curriculum(dbc dbctx.Context, userID, planID uuid.UUID) ([]*types.PlanModule, error) {
	if _, err := s.Get(dbc, userID, planID); err != nil {
		return nil, err
	}
	return s.curriculum.ListByPlan(dbc, planID)
}

func (s *planService) Attempts(dbc dbctx.Context, userID, planID uuid.UUID) ([]*types.GenerationAttempt, error) {
	if _, err := s.Get(dbc, userID, planID); err != nil {
		return nil, err
	}
	return s.attempts.ListByPlan(dbc, planID)
}

// PlanInput rebuilds the generation input from a stored plan.
func PlanInput(p *types.LearningPlan) generation.Input {
	return generation.Input{
		Topic:         p.Topic,
		Notes:         p.Notes,
		SkillLevel:    skillLevel(p.SkillLevel),
		WeeklyHours:   p.WeeklyHours,
		LearningStyle: learningStyle(p.LearningStyle),
		StartDate:     p.StartDate,
		DeadlineDate:  p.DeadlineDate,
	}
}

func skillLevel(s string) generation.SkillLevel {
	switch lvl := generation.SkillLevel(strings.ToLower(strings.TrimSpace(s))); lvl {
	case generation.SkillBeginner, generation.SkillIntermediate, generation.SkillAdvanced:
		return lvl
	default:
		return generation.SkillBeginner
	}
}

func learningStyle(s string) generation.LearningStyle {
	switch st := generation.LearningStyle(strings.ToLower(strings.TrimSpace(s))); st {
	case generation.StyleReading, generation.StyleVideo, generation.StylePractice, generation.StyleMixed:
		return st
	default:
		return generation.StyleMixed
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
