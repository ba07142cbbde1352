package plangen

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	types "github.com/yungbote/planforge-backend/internal/domain"
)

const (
	DefaultMaxRounds = 5

	retryBase = 30 * time.Second
	retryMax  = 10 * time.Minute
)

// Workflow runs attempts while the plan stays pending or pending_retry and
// stops once one succeeds, a failure is terminal, or the rejection is one
// that waiting will not fix. Every round goes through reservation, so the
// attempt cap and rate window still apply.
func Workflow(ctx workflow.Context, in Input) (AttemptResult, error) {
	if strings.TrimSpace(in.PlanID) == "" || strings.TrimSpace(in.UserID) == "" {
		return AttemptResult{}, fmt.Errorf("plangen: missing plan_id or user_id")
	}
	rounds := in.MaxRounds
	if rounds <= 0 {
		rounds = DefaultMaxRounds
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		// Infrastructure errors only; attempt failures come back as results.
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})
	log := workflow.GetLogger(ctx)

	var last AttemptResult
	for round := 0; round < rounds; round++ {
		if err := workflow.ExecuteActivity(ctx, ActivityAttempt, in).Get(ctx, &last); err != nil {
			return last, err
		}
		if last.Status == StatusSucceeded || last.Terminal || !last.Retryable || !awaitingRetry(last.PlanStatus) || round == rounds-1 {
			return last, nil
		}
		wait := nextWait(last, round)
		log.Info("Plan generation round failed; waiting", "plan_id", in.PlanID, "classification", last.Classification, "wait", wait)
		if err := workflow.Sleep(ctx, wait); err != nil {
			return last, err
		}
	}
	return last, nil
}

// awaitingRetry reports whether another round could be admitted. An unknown
// status defers to the round's own retryability.
func awaitingRetry(status string) bool {
	switch types.GenerationStatus(status) {
	case "", types.GenerationPending, types.GenerationPendingRetry:
		return true
	}
	return false
}

// nextWait honors a rate-limit Retry-After and otherwise backs off
// exponentially from retryBase.
func nextWait(r AttemptResult, round int) time.Duration {
	if r.RetryAfterSeconds > 0 {
		return time.Duration(r.RetryAfterSeconds) * time.Second
	}
	d := retryBase << round
	if d <= 0 || d > retryMax {
		return retryMax
	}
	return d
}
