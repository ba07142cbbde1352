package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/planforge-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(domain.Models()...)
}

// EnsureGenerationIndexes installs the constraints AutoMigrate cannot express.
// Both statements are valid on postgres and sqlite.
func EnsureGenerationIndexes(db *gorm.DB) error {
	// At most one in-flight attempt per plan, regardless of which code path inserted it.
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_generation_attempts_one_in_progress
		ON generation_attempts (plan_id)
		WHERE status = 'in_progress';
	`).Error; err != nil {
		return fmt.Errorf("create idx_generation_attempts_one_in_progress: %w", err)
	}

	// Rate-window scans: attempts by plan, newest first.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_generation_attempts_plan_created
		ON generation_attempts (plan_id, created_at);
	`).Error; err != nil {
		return fmt.Errorf("create idx_generation_attempts_plan_created: %w", err)
	}

	// Claim loop: queued jobs oldest first.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_runs_status_created
		ON job_runs (status, created_at);
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_runs_status_created: %w", err)
	}
	return nil
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureGenerationIndexes(s.db); err != nil {
		s.log.Error("Generation index migration failed", "error", err)
		return err
	}
	return nil
}
