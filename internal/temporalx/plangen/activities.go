package plangen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"gorm.io/datatypes"

	"github.com/yungbote/planforge-backend/internal/data/repos"
	"github.com/yungbote/planforge-backend/internal/domain/jobs"
	"github.com/yungbote/planforge-backend/internal/generation/failure"
	"github.com/yungbote/planforge-backend/internal/generation/orchestrator"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
	"github.com/yungbote/planforge-backend/internal/services"
)

type Activities struct {
	Log        *logger.Logger
	Generation services.PlanGenerationService
	// Jobs is optional; when set the originating job row tracks the workflow.
	Jobs repos.JobRunRepo
}

// Attempt runs one generation attempt. Expected attempt failures are
// returned as results; only infrastructure errors are returned as errors.
func (a *Activities) Attempt(ctx context.Context, in Input) (AttemptResult, error) {
	userID, err := uuid.Parse(in.UserID)
	if err != nil {
		return AttemptResult{}, temporal.NewNonRetryableApplicationError("invalid user_id", "invalid_input", err)
	}
	planID, err := uuid.Parse(in.PlanID)
	if err != nil {
		return AttemptResult{}, temporal.NewNonRetryableApplicationError("invalid plan_id", "invalid_input", err)
	}
	if activity.IsActivity(ctx) {
		activity.RecordHeartbeat(ctx, in.PlanID)
	}

	out, err := a.Generation.Generate(ctx, userID, planID, nil)
	if errors.Is(err, services.ErrPlanNotFound) {
		return AttemptResult{}, temporal.NewNonRetryableApplicationError("plan not found", "plan_not_found", err)
	}
	if err != nil {
		return AttemptResult{}, err
	}
	res := Result(out)
	a.recordJob(ctx, in.JobID, res)
	return res, nil
}

// Result flattens an orchestrator outcome into a serializable result.
func Result(out orchestrator.Outcome) AttemptResult {
	switch o := out.(type) {
	case *orchestrator.Success:
		return AttemptResult{
			Status:        StatusSucceeded,
			AttemptID:     o.AttemptID.String(),
			AttemptNumber: o.AttemptNumber,
		}
	case *orchestrator.Failure:
		r := AttemptResult{
			Status:            StatusFailed,
			AttemptNumber:     o.AttemptNumber,
			Classification:    string(o.Classification),
			Rejected:          o.Rejected,
			Retryable:         o.Retryable,
			Terminal:          o.Terminal,
			RetryAfterSeconds: int((o.RetryAfter + time.Second - 1) / time.Second),
			PlanStatus:        string(o.CurrentStatus),
		}
		if o.AttemptID != uuid.Nil {
			r.AttemptID = o.AttemptID.String()
		}
		// A concurrent attempt owns the plan; waiting here would only race it.
		if o.Rejected && o.Classification == failure.InProgress {
			r.Retryable = false
		}
		return r
	default:
		return AttemptResult{Status: StatusFailed, Classification: string(failure.Unknown)}
	}
}

func (a *Activities) recordJob(ctx context.Context, rawJobID string, res AttemptResult) {
	if a.Jobs == nil || rawJobID == "" {
		return
	}
	jobID, err := uuid.Parse(rawJobID)
	if err != nil {
		return
	}
	status := jobs.StatusSucceeded
	errText := ""
	if res.Status != StatusSucceeded {
		// Non-terminal rounds keep the job running while the workflow waits.
		status = jobs.StatusRunning
		if res.Terminal || !res.Retryable {
			status = jobs.StatusFailed
		}
		errText = fmt.Sprintf("generation attempt failed: %s", res.Classification)
	}
	raw, _ := json.Marshal(res)
	now := time.Now().UTC()
	if err := a.Jobs.UpdateFields(dbctx.New(ctx), jobID, map[string]interface{}{
		"status":       status,
		"error":        errText,
		"result":       datatypes.JSON(raw),
		"heartbeat_at": now,
		"updated_at":   now,
	}); err != nil && a.Log != nil {
		a.Log.Warn("Failed to record job result", "job_id", jobID, "error", err)
	}
}
