package planning

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type GenerationStatus string

const (
	GenerationPending      GenerationStatus = "pending"
	GenerationGenerating   GenerationStatus = "generating"
	GenerationReady        GenerationStatus = "ready"
	GenerationPendingRetry GenerationStatus = "pending_retry"
	GenerationFailed       GenerationStatus = "failed"
)

// Terminal reports whether the status can no longer be changed by generation.
func (s GenerationStatus) Terminal() bool {
	return s == GenerationReady || s == GenerationFailed
}

// LearningPlan is owned by the plans surface; the generation core only
// mutates GenerationStatus, IsQuotaEligible and UpdatedAt.
type LearningPlan struct {
	ID               uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           uuid.UUID        `gorm:"type:uuid;not null;index" json:"user_id"`
	Topic            string           `gorm:"column:topic;not null" json:"topic"`
	Notes            string           `gorm:"column:notes;type:text" json:"notes,omitempty"`
	SkillLevel       string           `gorm:"column:skill_level;not null;default:'beginner'" json:"skill_level"`
	WeeklyHours      float64          `gorm:"column:weekly_hours;not null" json:"weekly_hours"`
	LearningStyle    string           `gorm:"column:learning_style;not null;default:'mixed'" json:"learning_style"`
	Timezone         string           `gorm:"column:timezone;not null;default:'UTC'" json:"timezone"`
	StartDate        *time.Time       `gorm:"column:start_date" json:"start_date,omitempty"`
	DeadlineDate     *time.Time       `gorm:"column:deadline_date" json:"deadline_date,omitempty"`
	GenerationStatus GenerationStatus `gorm:"column:generation_status;not null;index" json:"generation_status"`
	IsQuotaEligible  bool             `gorm:"column:is_quota_eligible;not null;default:true" json:"is_quota_eligible"`
	CreatedAt        time.Time        `gorm:"not null;index" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"not null" json:"updated_at"`
}

func (LearningPlan) TableName() string { return "learning_plans" }

func (p *LearningPlan) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.GenerationStatus == "" {
		p.GenerationStatus = GenerationPending
	}
	return nil
}
