package reservation

import (
	"context"
	"errors"
	"time"

	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/generation/failure"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
)

const DefaultStaleAfter = 10 * time.Minute

// Reconcile fails in_progress attempts older than staleAfter, which only
// exist when a process died between reserve and finalize. They are recorded
// as retryable timeouts so the plan is not stuck in generating.
func (m *Manager) Reconcile(ctx context.Context, staleAfter time.Duration) (int, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	now := m.now().UTC()
	stale, err := m.repos.Attempts.ListStaleInProgress(dbctx.New(ctx), now.Add(-staleAfter), 100)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range stale {
		total, _, err := m.repos.Attempts.CountByPlan(dbctx.New(ctx), a.PlanID)
		if err != nil {
			return n, err
		}
		_, err = m.finalizeFailure(ctx, a.PlanID, a.ID, int(total), FailureInput{
			AttemptID:      a.ID,
			PlanID:         a.PlanID,
			Classification: failure.Timeout,
			Retryable:      true,
			DurationMs:     now.Sub(a.CreatedAt).Milliseconds(),
			Metadata:       Metadata{Reconciled: true, Timeout: TimeoutInfo{TimedOut: true}},
		})
		if errors.Is(err, ErrAttemptNotInProgress) {
			// Finalized by its owner between the scan and now.
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		m.log.Info("Reconciled stale attempts", "count", n, "stale_after", staleAfter.String())
	}

	ready, err := m.promoteFinished(ctx)
	if err != nil {
		return n, err
	}
	return n + ready, nil
}

// promoteFinished marks ready the plans left in generating after their last
// attempt succeeded, which happens when the caller died before marking them.
func (m *Manager) promoteFinished(ctx context.Context) (int, error) {
	dbc := dbctx.New(ctx)
	ids, err := m.repos.Plans.ListIDsByStatus(dbc, types.GenerationGenerating, 100)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		attempts, err := m.repos.Attempts.ListByPlan(dbc, id)
		if err != nil {
			return n, err
		}
		if len(attempts) == 0 || attempts[len(attempts)-1].Status != types.AttemptSuccess {
			continue
		}
		marked, err := m.repos.Plans.MarkReady(dbc, id)
		if err != nil {
			return n, err
		}
		if marked {
			n++
		}
	}
	if n > 0 {
		m.log.Info("Marked finished plans ready", "count", n)
	}
	return n, nil
}
