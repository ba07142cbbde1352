package planning

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PlanModule struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	PlanID           uuid.UUID  `gorm:"type:uuid;not null;index:idx_plan_module_order,priority:1" json:"plan_id"`
	Position         int        `gorm:"column:position;not null;index:idx_plan_module_order,priority:2" json:"position"`
	Title            string     `gorm:"column:title;not null" json:"title"`
	Description      string     `gorm:"column:description;type:text" json:"description,omitempty"`
	EstimatedMinutes int        `gorm:"column:estimated_minutes;not null;default:0" json:"estimated_minutes"`
	Tasks            []PlanTask `gorm:"foreignKey:ModuleID;references:ID" json:"tasks,omitempty"`
	CreatedAt        time.Time  `gorm:"not null" json:"created_at"`
}

func (PlanModule) TableName() string { return "plan_modules" }

func (m *PlanModule) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

type PlanTask struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PlanID           uuid.UUID `gorm:"type:uuid;not null;index" json:"plan_id"`
	ModuleID         uuid.UUID `gorm:"type:uuid;not null;index" json:"module_id"`
	Position         int       `gorm:"column:position;not null" json:"position"`
	Title            string    `gorm:"column:title;not null" json:"title"`
	Description      string    `gorm:"column:description;type:text" json:"description,omitempty"`
	EstimatedMinutes int       `gorm:"column:estimated_minutes;not null;default:0" json:"estimated_minutes"`
	CreatedAt        time.Time `gorm:"not null" json:"created_at"`
}

func (PlanTask) TableName() string { return "plan_tasks" }

func (t *PlanTask) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// PlanSchedule caches the distributor output for a plan. InputsHash changes
// whenever the task tree or the plan's pacing inputs change.
type PlanSchedule struct {
	PlanID     uuid.UUID      `gorm:"type:uuid;primaryKey" json:"plan_id"`
	InputsHash string         `gorm:"column:inputs_hash;not null" json:"inputs_hash"`
	Schedule   datatypes.JSON `gorm:"column:schedule;type:jsonb;not null" json:"schedule"`
	UpdatedAt  time.Time      `gorm:"not null" json:"updated_at"`
}

func (PlanSchedule) TableName() string { return "plan_schedules" }

// GenerationLock backs the transaction-scoped per-user lock. One row per key;
// the row is locked FOR UPDATE for the duration of a reservation.
type GenerationLock struct {
	Key       string    `gorm:"column:key;primaryKey" json:"key"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (GenerationLock) TableName() string { return "generation_locks" }
