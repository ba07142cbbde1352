package planning

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSuccess    AttemptStatus = "success"
	AttemptFailure    AttemptStatus = "failure"
)

// GenerationAttempt is one admitted try at generating a plan. Rows are
// retained for audit and rate accounting.
type GenerationAttempt struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PlanID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"plan_id"`
	Status           AttemptStatus  `gorm:"column:status;not null;index" json:"status"`
	Classification   *string        `gorm:"column:classification" json:"classification,omitempty"`
	DurationMs       int64          `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
	ModulesCount     int            `gorm:"column:modules_count;not null;default:0" json:"modules_count"`
	TasksCount       int            `gorm:"column:tasks_count;not null;default:0" json:"tasks_count"`
	TruncatedTopic   bool           `gorm:"column:truncated_topic;not null;default:false" json:"truncated_topic"`
	TruncatedNotes   bool           `gorm:"column:truncated_notes;not null;default:false" json:"truncated_notes"`
	NormalizedEffort bool           `gorm:"column:normalized_effort;not null;default:false" json:"normalized_effort"`
	PromptHash       string         `gorm:"column:prompt_hash;not null;index" json:"prompt_hash"`
	Metadata         datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;index" json:"created_at"`
}

func (GenerationAttempt) TableName() string { return "generation_attempts" }

func (a *GenerationAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
