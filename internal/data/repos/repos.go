package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/planforge-backend/internal/data/repos/jobs"
	"github.com/yungbote/planforge-backend/internal/data/repos/planning"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

type PlanRepo = planning.PlanRepo
type AttemptRepo = planning.AttemptRepo
type CurriculumRepo = planning.CurriculumRepo
type ScheduleRepo = planning.ScheduleRepo

type JobRunRepo = jobs.JobRunRepo

func NewPlanRepo(db *gorm.DB, baseLog *logger.Logger) PlanRepo {
	return planning.NewPlanRepo(db, baseLog)
}
func NewAttemptRepo(db *gorm.DB, baseLog *logger.Logger) AttemptRepo {
	return planning.NewAttemptRepo(db, baseLog)
}
func NewCurriculumRepo(db *gorm.DB, baseLog *logger.Logger) CurriculumRepo {
	return planning.NewCurriculumRepo(db, baseLog)
}
func NewScheduleRepo(db *gorm.DB, baseLog *logger.Logger) ScheduleRepo {
	return planning.NewScheduleRepo(db, baseLog)
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo { return jobs.NewJobRunRepo(db, baseLog) }
