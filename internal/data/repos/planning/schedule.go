package planning

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

type ScheduleRepo interface {
	Get(dbc dbctx.Context, planID uuid.UUID) (*types.PlanSchedule, error)
	Upsert(dbc dbctx.Context, s *types.PlanSchedule) error
	Delete(dbc dbctx.Context, planID uuid.UUID) error
}

type scheduleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewScheduleRepo(db *gorm.DB, baseLog *logger.Logger) ScheduleRepo {
	return &scheduleRepo{
		db:  db,
		log: baseLog.With("repo", "ScheduleRepo"),
	}
}

func (r *scheduleRepo) Get(dbc dbctx.Context, planID uuid.UUID) (*types.PlanSchedule, error) {
	var s types.PlanSchedule
	if err := dbc.DB(r.db).Where("plan_id = ?", planID).Limit(1).Find(&s).Error; err != nil {
		return nil, err
	}
	if s.PlanID == uuid.Nil {
		return nil, nil
	}
	return &s, nil
}

func (r *scheduleRepo) Upsert(dbc dbctx.Context, s *types.PlanSchedule) error {
	s.UpdatedAt = time.Now().UTC()
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "plan_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"inputs_hash", "schedule", "updated_at"}),
	}).Create(s).Error
}

func (r *scheduleRepo) Delete(dbc dbctx.Context, planID uuid.UUID) error {
	return dbc.DB(r.db).Where("plan_id = ?", planID).Delete(&types.PlanSchedule{}).Error
}
