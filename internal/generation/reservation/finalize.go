package reservation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/generation"
	"github.com/yungbote/planforge-backend/internal/generation/failure"
	"github.com/yungbote/planforge-backend/internal/generation/provider"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
)

// Metadata is persisted on the attempt row for audit. It never carries raw
// provider error text.
type Metadata struct {
	Provider      *provider.Metadata `json:"provider,omitempty"`
	Timeout       TimeoutInfo        `json:"timeout"`
	Pacing        *PacingInfo        `json:"pacing,omitempty"`
	Normalization *Normalization     `json:"normalization,omitempty"`
	Failure       *FailureInfo       `json:"failure,omitempty"`
	Reconciled    bool               `json:"reconciled,omitempty"`
}

type TimeoutInfo struct {
	Extended bool `json:"extended"`
	TimedOut bool `json:"timedOut"`
}

type PacingInfo struct {
	Trimmed         bool `json:"trimmed"`
	CapacityMinutes int  `json:"capacityMinutes,omitempty"`
	TasksBefore     int  `json:"tasksBefore"`
	TasksAfter      int  `json:"tasksAfter"`
}

type Normalization struct {
	ModulesClamped  bool `json:"modulesClamped"`
	TasksClamped    bool `json:"tasksClamped"`
	OriginalModules int  `json:"originalModules"`
	OriginalTasks   int  `json:"originalTasks"`
}

type FailureInfo struct {
	Kind       string `json:"kind,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
	Provider   string `json:"provider,omitempty"`
}

type SuccessInput struct {
	AttemptID  uuid.UUID
	PlanID     uuid.UUID
	Modules    []generation.Module
	DurationMs int64
	Metadata   Metadata
}

type SuccessOutcome struct {
	Modules      []generation.Module
	ModulesCount int
	TasksCount   int
	Metadata     Metadata
}

// FinalizeSuccess persists the clamped module/task tree and marks the attempt
// successful in one transaction. The plan's ready transition belongs to the caller.
func (m *Manager) FinalizeSuccess(ctx context.Context, res *Reserved, in SuccessInput) (*SuccessOutcome, error) {
	if res == nil || in.AttemptID != res.AttemptID || in.PlanID != res.PlanID {
		return nil, ErrAttemptMismatch
	}
	modules, norm := m.normalize(in.Modules)
	if len(modules) == 0 {
		return nil, ErrEmptyCurriculum
	}
	meta := in.Metadata
	meta.Normalization = &norm
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	tasksCount := generation.CountTasks(modules)

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := m.repos.Curriculum.ReplaceForPlan(dbc, res.PlanID, toRows(modules)); err != nil {
			return fmt.Errorf("write curriculum: %w", err)
		}
		ok, err := m.repos.Attempts.FinalizeInProgress(dbc, res.AttemptID, map[string]interface{}{
			"status":         types.AttemptSuccess,
			"classification": nil,
			"duration_ms":    max(0, in.DurationMs),
			"modules_count":  len(modules),
			"tasks_count":    tasksCount,
			"metadata":       datatypes.JSON(raw),
		})
		if err != nil {
			return fmt.Errorf("finalize attempt: %w", err)
		}
		if !ok {
			return ErrAttemptNotInProgress
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("Attempt succeeded",
		"plan_id", res.PlanID,
		"attempt_id", res.AttemptID,
		"modules", len(modules),
		"tasks", tasksCount,
		"duration_ms", in.DurationMs,
	)
	m.emit(ctx, Outcome{
		AttemptID:     res.AttemptID,
		PlanID:        res.PlanID,
		AttemptNumber: res.AttemptNumber,
		Status:        types.AttemptSuccess,
		DurationMs:    in.DurationMs,
		ModulesCount:  len(modules),
		TasksCount:    tasksCount,
	})
	return &SuccessOutcome{Modules: modules, ModulesCount: len(modules), TasksCount: tasksCount, Metadata: meta}, nil
}

// normalize drops empty modules and clamps module and per-module task counts.
func (m *Manager) normalize(in []generation.Module) ([]generation.Module, Normalization) {
	norm := Normalization{OriginalModules: len(in), OriginalTasks: generation.CountTasks(in)}
	out := make([]generation.Module, 0, min(len(in), m.cfg.MaxModules))
	for _, mod := range in {
		if len(mod.Tasks) == 0 {
			continue
		}
		if len(out) == m.cfg.MaxModules {
			norm.ModulesClamped = true
			break
		}
		if len(mod.Tasks) > m.cfg.MaxTasksPerModule {
			norm.TasksClamped = true
			mod.Tasks = mod.Tasks[:m.cfg.MaxTasksPerModule]
		}
		mod.EstimatedMinutes = 0
		for _, t := range mod.Tasks {
			mod.EstimatedMinutes += t.EstimatedMinutes
		}
		out = append(out, mod)
	}
	return out, norm
}

func toRows(modules []generation.Module) []*types.PlanModule {
	rows := make([]*types.PlanModule, 0, len(modules))
	for i, mod := range modules {
		row := &types.PlanModule{
			Position:         i,
			Title:            mod.Title,
			Description:      mod.Description,
			EstimatedMinutes: mod.EstimatedMinutes,
			Tasks:            make([]types.PlanTask, 0, len(mod.Tasks)),
		}
		for j, t := range mod.Tasks {
			row.Tasks = append(row.Tasks, types.PlanTask{
				Position:         j,
				Title:            t.Title,
				Description:      t.Description,
				EstimatedMinutes: t.EstimatedMinutes,
			})
		}
		rows = append(rows, row)
	}
	return rows
}

type FailureInput struct {
	AttemptID      uuid.UUID
	PlanID         uuid.UUID
	Classification failure.Classification
	// Retryable is the error-specific verdict; see failure.IsRetryable.
	Retryable  bool
	DurationMs int64
	Metadata   Metadata
}

type FailureOutcome struct {
	Terminal   bool
	PlanStatus types.GenerationStatus
}

// FinalizeFailure marks the attempt failed and moves the plan to failed
// (terminal) or pending_retry. A failure is terminal when it is not retryable
// or the attempt used the last slot under the cap.
func (m *Manager) FinalizeFailure(ctx context.Context, res *Reserved, in FailureInput) (*FailureOutcome, error) {
	if res == nil || in.AttemptID != res.AttemptID || in.PlanID != res.PlanID {
		return nil, ErrAttemptMismatch
	}
	return m.finalizeFailure(ctx, res.PlanID, res.AttemptID, res.AttemptNumber, in)
}

func (m *Manager) finalizeFailure(ctx context.Context, planID, attemptID uuid.UUID, attemptNumber int, in FailureInput) (*FailureOutcome, error) {
	raw, err := json.Marshal(in.Metadata)
	if err != nil {
		return nil, err
	}
	terminal := !in.Retryable || attemptNumber >= m.cfg.AttemptCap
	out := &FailureOutcome{Terminal: terminal, PlanStatus: types.GenerationPendingRetry}
	if terminal {
		out.PlanStatus = types.GenerationFailed
	}
	classification := string(in.Classification)

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		ok, err := m.repos.Attempts.FinalizeInProgress(dbc, attemptID, map[string]interface{}{
			"status":         types.AttemptFailure,
			"classification": classification,
			"duration_ms":    max(0, in.DurationMs),
			"metadata":       datatypes.JSON(raw),
		})
		if err != nil {
			return fmt.Errorf("finalize attempt: %w", err)
		}
		if !ok {
			return ErrAttemptNotInProgress
		}
		var eligible *bool
		if terminal {
			f := false
			eligible = &f
		}
		if err := m.repos.Plans.SetGenerationStatus(dbc, planID, out.PlanStatus, eligible); err != nil {
			return fmt.Errorf("update plan status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Warn("Attempt failed",
		"plan_id", planID,
		"attempt_id", attemptID,
		"attempt_number", attemptNumber,
		"classification", classification,
		"terminal", terminal,
		"duration_ms", in.DurationMs,
	)
	m.emit(ctx, Outcome{
		AttemptID:      attemptID,
		PlanID:         planID,
		AttemptNumber:  attemptNumber,
		Status:         types.AttemptFailure,
		Classification: in.Classification,
		DurationMs:     in.DurationMs,
		Terminal:       terminal,
		Reconciled:     in.Metadata.Reconciled,
	})
	return out, nil
}
