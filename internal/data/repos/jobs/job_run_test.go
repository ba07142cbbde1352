package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/planforge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/domain/jobs"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
)

func TestJobRunRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRunRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	ownerUserID := uuid.New()

	job := func(status string, entityID uuid.UUID, created time.Time, heartbeat *time.Time) *types.JobRun {
		return &types.JobRun{
			ID:          uuid.New(),
			OwnerUserID: ownerUserID,
			JobType:     jobs.JobTypePlanGeneration,
			EntityID:    entityID,
			Status:      status,
			HeartbeatAt: heartbeat,
			Payload:     datatypes.JSON([]byte("{}")),
			Result:      datatypes.JSON([]byte("{}")),
			CreatedAt:   created,
			UpdatedAt:   created,
		}
	}

	queued := job(jobs.StatusQueued, uuid.New(), now.Add(-3*time.Hour), nil)
	failed := job(jobs.StatusFailed, uuid.New(), now.Add(-2*time.Hour), nil)
	staleRunning := job(jobs.StatusRunning, uuid.New(), now.Add(-1*time.Hour), testutil.PtrTime(now.Add(-10*time.Hour)))
	freshRunning := job(jobs.StatusRunning, uuid.New(), now.Add(-90*time.Minute), testutil.PtrTime(now))

	created, err := repo.Create(dbc, []*types.JobRun{queued, failed, staleRunning, freshRunning})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created) != 4 {
		t.Fatalf("Create: expected 4, got %d", len(created))
	}

	if rows, err := repo.GetByIDs(dbc, []uuid.UUID{queued.ID, failed.ID, staleRunning.ID}); err != nil || len(rows) != 3 {
		t.Fatalf("GetByIDs: err=%v len=%d", err, len(rows))
	}

	// GetLatestByEntity
	entityID := uuid.New()
	older := job(jobs.StatusSucceeded, entityID, now.Add(-5*time.Hour), nil)
	newer := job(jobs.StatusSucceeded, entityID, now.Add(-4*time.Hour), nil)
	if _, err := repo.Create(dbc, []*types.JobRun{older, newer}); err != nil {
		t.Fatalf("seed latest: %v", err)
	}
	latest, err := repo.GetLatestByEntity(dbc, ownerUserID, entityID, jobs.JobTypePlanGeneration)
	if err != nil {
		t.Fatalf("GetLatestByEntity: %v", err)
	}
	if latest == nil || latest.ID != newer.ID {
		t.Fatalf("GetLatestByEntity: expected %v got %v", newer.ID, latest)
	}

	// ClaimNextRunnable walks queued and stale-running jobs in created_at ASC order.
	claim1, err := repo.ClaimNextRunnable(dbc, 1*time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #1: %v", err)
	}
	if claim1 == nil || claim1.ID != queued.ID || claim1.Status != jobs.StatusRunning || claim1.Attempts != 1 {
		t.Fatalf("ClaimNextRunnable #1: expected %v got %+v", queued.ID, claim1)
	}

	claim2, err := repo.ClaimNextRunnable(dbc, 1*time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #2: %v", err)
	}
	if claim2 == nil || claim2.ID != staleRunning.ID {
		t.Fatalf("ClaimNextRunnable #2: expected %v got %v", staleRunning.ID, claim2)
	}

	claim3, err := repo.ClaimNextRunnable(dbc, 1*time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #3: %v", err)
	}
	if claim3 != nil {
		t.Fatalf("ClaimNextRunnable #3: expected nil, got %v", claim3)
	}

	// UpdateFields
	if err := repo.UpdateFields(dbc, queued.ID, map[string]interface{}{"status": jobs.StatusSucceeded}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	// Heartbeat
	if err := repo.Heartbeat(dbc, staleRunning.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	has, err := repo.HasRunnableForEntity(dbc, ownerUserID, staleRunning.EntityID, jobs.JobTypePlanGeneration)
	if err != nil {
		t.Fatalf("HasRunnableForEntity: %v", err)
	}
	if !has {
		t.Fatalf("HasRunnableForEntity: expected true")
	}
	has, err = repo.HasRunnableForEntity(dbc, ownerUserID, queued.EntityID, jobs.JobTypePlanGeneration)
	if err != nil {
		t.Fatalf("HasRunnableForEntity (done): %v", err)
	}
	if has {
		t.Fatalf("HasRunnableForEntity: expected false for succeeded job")
	}
}
