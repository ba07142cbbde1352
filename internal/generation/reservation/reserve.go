package reservation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/planforge-backend/internal/data/lock"
	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/generation"
	"github.com/yungbote/planforge-backend/internal/generation/failure"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
)

type ReserveRequest struct {
	PlanID uuid.UUID
	UserID uuid.UUID
	Input  generation.Input
	// Now anchors the rate window and stamps the attempt. Zero means the manager clock.
	Now time.Time
	// AllowedStatuses defaults to DefaultAllowedStatuses when nil.
	AllowedStatuses []types.GenerationStatus
}

// errRaced aborts the transaction when the unique in-progress index rejects
// an insert that the in-transaction checks let through.
var errRaced = errors.New("concurrent in-progress attempt")

// Reserve admits or rejects a generation attempt. Expected rejections are
// returned as *Rejected with a nil error; errors mean the decision could not
// be made at all.
func (m *Manager) Reserve(ctx context.Context, req ReserveRequest) (Result, error) {
	now := req.Now
	if now.IsZero() {
		now = m.now()
	}
	now = now.UTC()
	allowed := req.AllowedStatuses
	if allowed == nil {
		allowed = DefaultAllowedStatuses
	}

	var (
		result  Result
		release func()
	)
	// Released only after commit so the next holder sees this decision.
	defer func() {
		if release != nil {
			release()
		}
	}()

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}

		rel, err := m.locker.Acquire(dbc, lock.UserKey(req.UserID))
		if err != nil {
			return fmt.Errorf("acquire user lock: %w", err)
		}
		release = rel

		plan, err := m.repos.Plans.GetForUpdate(dbc, req.PlanID)
		if err != nil {
			return fmt.Errorf("load plan: %w", err)
		}
		if plan == nil || plan.UserID != req.UserID {
			return ErrPlanNotFound
		}

		if !slices.Contains(allowed, plan.GenerationStatus) {
			result = &Rejected{Reason: failure.InvalidStatus, CurrentStatus: plan.GenerationStatus}
			return nil
		}

		windowStart := now.Add(-m.cfg.Window)
		recent, err := m.repos.Attempts.CountByUserSince(dbc, req.UserID, windowStart)
		if err != nil {
			return fmt.Errorf("count user attempts: %w", err)
		}
		if recent >= int64(m.cfg.WindowLimit) {
			retryAfter := time.Duration(0)
			oldest, err := m.repos.Attempts.OldestByUserSince(dbc, req.UserID, windowStart)
			if err != nil {
				return fmt.Errorf("oldest user attempt: %w", err)
			}
			if oldest != nil {
				retryAfter = max(0, oldest.CreatedAt.Add(m.cfg.Window).Sub(now))
			}
			result = &Rejected{Reason: failure.RateLimited, RetryAfter: retryAfter, CurrentStatus: plan.GenerationStatus}
			return nil
		}

		total, inProgress, err := m.repos.Attempts.CountByPlan(dbc, plan.ID)
		if err != nil {
			return fmt.Errorf("count plan attempts: %w", err)
		}
		if total >= int64(m.cfg.AttemptCap) {
			result = &Rejected{Reason: failure.Capped, CurrentStatus: plan.GenerationStatus}
			return nil
		}
		if inProgress > 0 {
			result = &Rejected{Reason: failure.InProgress, CurrentStatus: plan.GenerationStatus}
			return nil
		}
		if plan.GenerationStatus == types.GenerationGenerating {
			// Nothing is running, so the last attempt succeeded and the plan
			// is waiting to be marked ready. A new attempt would replace its tree.
			result = &Rejected{Reason: failure.InvalidStatus, CurrentStatus: plan.GenerationStatus}
			return nil
		}

		sanitized := generation.Sanitize(req.Input)
		hash := generation.PromptHash(plan.ID, req.UserID, sanitized.Input)
		attempt := &types.GenerationAttempt{
			PlanID:           plan.ID,
			Status:           types.AttemptInProgress,
			TruncatedTopic:   sanitized.TruncatedTopic,
			TruncatedNotes:   sanitized.TruncatedNotes,
			NormalizedEffort: sanitized.NormalizedEffort,
			PromptHash:       hash,
			CreatedAt:        now,
		}
		if err := m.repos.Attempts.Create(dbc, attempt); err != nil {
			if isUniqueViolation(err) {
				return errRaced
			}
			return fmt.Errorf("insert attempt: %w", err)
		}
		if err := m.repos.Plans.SetGenerationStatus(dbc, plan.ID, types.GenerationGenerating, nil); err != nil {
			return fmt.Errorf("mark plan generating: %w", err)
		}

		result = &Reserved{
			AttemptID:     attempt.ID,
			PlanID:        plan.ID,
			UserID:        req.UserID,
			AttemptNumber: int(total) + 1,
			StartedAt:     now,
			Input:         sanitized,
			PromptHash:    hash,
		}
		return nil
	})
	if errors.Is(err, errRaced) {
		result, err = &Rejected{Reason: failure.InProgress, CurrentStatus: types.GenerationGenerating}, nil
	}
	if err != nil {
		return nil, err
	}

	switch r := result.(type) {
	case *Reserved:
		m.log.Info("Attempt reserved", "plan_id", r.PlanID, "attempt_id", r.AttemptID, "attempt_number", r.AttemptNumber, "user_id", r.UserID)
	case *Rejected:
		m.log.Info("Attempt rejected", "plan_id", req.PlanID, "reason", r.Reason, "retry_after_s", r.RetryAfterSeconds(), "user_id", req.UserID)
		m.emitRejection(r.Reason)
	}
	return result, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
