package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/planforge-backend/internal/domain"
)

func SeedPlan(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, status types.GenerationStatus) *types.LearningPlan {
	tb.Helper()
	p := &types.LearningPlan{
		ID:               uuid.New(),
		UserID:           userID,
		Topic:            "Distributed Systems",
		SkillLevel:       "intermediate",
		WeeklyHours:      5,
		LearningStyle:    "mixed",
		Timezone:         "UTC",
		GenerationStatus: status,
		IsQuotaEligible:  true,
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed plan: %v", err)
	}
	return p
}

// SeedAttempt inserts an attempt row at createdAt, bypassing reservation.
func SeedAttempt(tb testing.TB, ctx context.Context, tx *gorm.DB, planID uuid.UUID, status types.AttemptStatus, createdAt time.Time) *types.GenerationAttempt {
	tb.Helper()
	a := &types.GenerationAttempt{
		ID:         uuid.New(),
		PlanID:     planID,
		Status:     status,
		PromptHash: "seed",
		CreatedAt:  createdAt.UTC(),
	}
	if status == types.AttemptFailure {
		c := "provider_error"
		a.Classification = &c
	}
	if err := tx.WithContext(ctx).Create(a).Error; err != nil {
		tb.Fatalf("seed attempt: %v", err)
	}
	return a
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
