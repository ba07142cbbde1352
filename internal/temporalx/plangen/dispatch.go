package plangen

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/api/enums/v1"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/planforge-backend/internal/data/repos"
	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/domain/jobs"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
)

// Dispatcher starts one workflow per plan. A second dispatch while the
// workflow is running attaches to the existing execution.
type Dispatcher struct {
	tc        temporalsdkclient.Client
	taskQueue string
	jobs      repos.JobRunRepo
}

func NewDispatcher(tc temporalsdkclient.Client, taskQueue string, jobRuns repos.JobRunRepo) *Dispatcher {
	return &Dispatcher{tc: tc, taskQueue: taskQueue, jobs: jobRuns}
}

func WorkflowID(job *types.JobRun) string { return "plan-generation-" + job.EntityID.String() }

func (d *Dispatcher) Dispatch(ctx context.Context, job *types.JobRun) error {
	if d == nil || d.tc == nil {
		return fmt.Errorf("temporal client is not configured")
	}
	_, err := d.tc.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:                       WorkflowID(job),
		TaskQueue:                d.taskQueue,
		WorkflowIDConflictPolicy: enums.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, WorkflowName, Input{
		JobID:  job.ID.String(),
		UserID: job.OwnerUserID.String(),
		PlanID: job.EntityID.String(),
	})
	if err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	if d.jobs == nil {
		return nil
	}
	now := time.Now().UTC()
	return d.jobs.UpdateFields(dbctx.New(ctx), job.ID, map[string]interface{}{
		"status":       jobs.StatusRunning,
		"locked_at":    now,
		"heartbeat_at": now,
		"updated_at":   now,
	})
}
