package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/planforge-backend/internal/data/repos"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

type Repos struct {
	Plan       repos.PlanRepo
	Attempt    repos.AttemptRepo
	Curriculum repos.CurriculumRepo
	Schedule   repos.ScheduleRepo
	JobRun     repos.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Plan:       repos.NewPlanRepo(db, log),
		Attempt:    repos.NewAttemptRepo(db, log),
		Curriculum: repos.NewCurriculumRepo(db, log),
		Schedule:   repos.NewScheduleRepo(db, log),
		JobRun:     repos.NewJobRunRepo(db, log),
	}
}
