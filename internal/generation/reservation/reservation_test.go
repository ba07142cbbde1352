package reservation_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/planforge-backend/internal/data/lock"
	"github.com/yungbote/planforge-backend/internal/data/repos"
	"github.com/yungbote/planforge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/generation"
	"github.com/yungbote/planforge-backend/internal/generation/failure"
	"github.com/yungbote/planforge-backend/internal/generation/reservation"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
)

type recordingSink struct {
	mu       sync.Mutex
	outcomes []reservation.Outcome
}

func (s *recordingSink) RecordAttempt(_ context.Context, o reservation.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
}

type fixture struct {
	db    *gorm.DB
	mgr   *reservation.Manager
	repos reservation.Repos
	sink  *recordingSink
	now   time.Time
}

func newFixture(t *testing.T, cfg reservation.Config) *fixture {
	t.Helper()
	return newFixtureWithLocker(t, cfg, lock.NewMemoryLocker())
}

func newFixtureWithLocker(t *testing.T, cfg reservation.Config, locker lock.Locker) *fixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	r := reservation.Repos{
		Plans:      repos.NewPlanRepo(db, log),
		Attempts:   repos.NewAttemptRepo(db, log),
		Curriculum: repos.NewCurriculumRepo(db, log),
	}
	f := &fixture{db: db, repos: r, sink: &recordingSink{}, now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	f.mgr = reservation.NewManager(db, log, r, locker, cfg,
		reservation.WithClock(func() time.Time { return f.now }),
		reservation.WithMetrics(f.sink),
	)
	return f
}

func (f *fixture) plan(t *testing.T, userID uuid.UUID, status types.GenerationStatus) *types.LearningPlan {
	t.Helper()
	return testutil.SeedPlan(t, context.Background(), f.db, userID, status)
}

func (f *fixture) reserve(t *testing.T, p *types.LearningPlan) reservation.Result {
	t.Helper()
	res, err := f.mgr.Reserve(context.Background(), reservation.ReserveRequest{
		PlanID: p.ID,
		UserID: p.UserID,
		Input:  generation.Input{Topic: p.Topic, SkillLevel: generation.SkillBeginner, WeeklyHours: 5, LearningStyle: generation.StyleMixed},
	})
	require.NoError(t, err)
	return res
}

func sampleModules() []generation.Module {
	return []generation.Module{{
		Title: "Foundations",
		Tasks: []generation.Task{
			{Title: "Read", EstimatedMinutes: 45},
			{Title: "Practice", EstimatedMinutes: 45},
		},
	}}
}

func TestReserveAdmitsFirstAttempt(t *testing.T) {
	f := newFixture(t, reservation.DefaultConfig())
	p := f.plan(t, uuid.New(), types.GenerationPending)

	res := f.reserve(t, p)
	got, ok := res.(*reservation.Reserved)
	require.True(t, ok, "expected Reserved, got %T", res)
	assert.Equal(t, 1, got.AttemptNumber)
	assert.Equal(t, p.ID, got.PlanID)
	assert.NotEmpty(t, got.PromptHash)

	plan, err := f.repos.Plans.GetByID(dbctx.New(context.Background()), p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.GenerationGenerating, plan.GenerationStatus)

	attempt, err := f.repos.Attempts.GetByID(dbctx.New(context.Background()), got.AttemptID)
	require.NoError(t, err)
	require.NotNil(t, attempt)
	assert.Equal(t, types.AttemptInProgress, attempt.Status)
	assert.True(t, attempt.CreatedAt.Equal(f.now))
}

func TestReserveConcurrentAdmitsAtMostOne(t *testing.T) {
	f := newFixture(t, reservation.DefaultConfig())
	p := f.plan(t, uuid.New(), types.GenerationPending)

	const n = 8
	results := make([]reservation.Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.mgr.Reserve(context.Background(), reservation.ReserveRequest{
				PlanID: p.ID,
				UserID: p.UserID,
				Input:  generation.Input{Topic: "Go", WeeklyHours: 5},
			})
		}(i)
	}
	wg.Wait()

	reserved := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		switch r := results[i].(type) {
		case *reservation.Reserved:
			reserved++
		case *reservation.Rejected:
			assert.Equal(t, failure.InProgress, r.Reason)
		}
	}
	assert.Equal(t, 1, reserved)

	total, inProgress, err := f.repos.Attempts.CountByPlan(dbctx.New(context.Background()), p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.EqualValues(t, 1, inProgress)
}

func TestReserveSerializesUserAcrossPlans(t *testing.T) {
	cases := []struct {
		name     string
		postgres bool
		locker   func() lock.Locker
	}{
		{"memory", false, func() lock.Locker { return lock.NewMemoryLocker() }},
		{"row", true, func() lock.Locker { return lock.NewRowLocker() }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.postgres && os.Getenv("TEST_POSTGRES_DSN") == "" {
				t.Skip("TEST_POSTGRES_DSN not set")
			}
			cfg := reservation.DefaultConfig()
			cfg.WindowLimit = 1
			f := newFixtureWithLocker(t, cfg, tc.locker())
			userID := uuid.New()

			const n = 6
			plans := make([]*types.LearningPlan, n)
			for i := range plans {
				plans[i] = f.plan(t, userID, types.GenerationPending)
			}

			results := make([]reservation.Result, n)
			errs := make([]error, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], errs[i] = f.mgr.Reserve(context.Background(), reservation.ReserveRequest{
						PlanID: plans[i].ID,
						UserID: userID,
						Input:  generation.Input{Topic: "Go", WeeklyHours: 5},
					})
				}(i)
			}
			wg.Wait()

			reserved := 0
			for i := 0; i < n; i++ {
				require.NoError(t, errs[i])
				switch r := results[i].(type) {
				case *reservation.Reserved:
					reserved++
				case *reservation.Rejected:
					assert.Equal(t, failure.RateLimited, r.Reason)
					assert.Positive(t, r.RetryAfter)
				}
			}
			assert.Equal(t, 1, reserved)

			var attempts int64
			require.NoError(t, f.db.Model(&types.GenerationAttempt{}).Count(&attempts).Error)
			assert.Equal(t, int64(1), attempts)
		})
	}
}

func TestReserveRejectsFinishedPlanAwaitingReady(t *testing.T) {
	f := newFixture(t, reservation.DefaultConfig())
	ctx := context.Background()
	p := f.plan(t, uuid.New(), types.GenerationPending)

	res := f.reserve(t, p).(*reservation.Reserved)
	_, err := f.mgr.FinalizeSuccess(ctx, res, reservation.SuccessInput{
		AttemptID: res.AttemptID,
		PlanID:    res.PlanID,
		Modules:   sampleModules(),
	})
	require.NoError(t, err)

	// The caller never marked the plan ready.
	again := f.reserve(t, p)
	rej, ok := again.(*reservation.Rejected)
	require.True(t, ok, "expected Rejected, got %#v", again)
	assert.Equal(t, failure.InvalidStatus, rej.Reason)
	assert.Equal(t, types.GenerationGenerating, rej.CurrentStatus)

	total, _, err := f.repos.Attempts.CountByPlan(dbctx.New(ctx), p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	modules, err := f.repos.Curriculum.ListByPlan(dbctx.New(ctx), p.ID)
	require.NoError(t, err)
	require.Len(t, modules, 1)

	n, err := f.mgr.Reconcile(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	plan, err := f.repos.Plans.GetByID(dbctx.New(ctx), p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.GenerationReady, plan.GenerationStatus)
}

func TestReserveRejectsAtAttemptCap(t *testing.T) {
	f := newFixture(t, reservation.DefaultConfig())
	p := f.plan(t, uuid.New(), types.GenerationPendingRetry)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		testutil.SeedAttempt(t, ctx, f.db, p.ID, types.AttemptFailure, f.now.Add(-time.Duration(i+1)*time.Hour))
	}

	res := f.reserve(t, p)
	rej, ok := res.(*reservation.Rejected)
	require.True(t, ok, "expected Rejected, got %T", res)
	assert.Equal(t, failure.Capped, rej.Reason)

	total, _, err := f.repos.Attempts.CountByPlan(dbctx.New(ctx), p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
}

func TestReserveRateWindow(t *testing.T) {
	cfg := reservation.DefaultConfig()
	cfg.WindowLimit = 2
	f := newFixture(t, cfg)
	ctx := context.Background()
	userID := uuid.New()

	// Two attempts on other plans of the same user fill the window.
	for i := 0; i < 2; i++ {
		other := f.plan(t, userID, types.GenerationFailed)
		testutil.SeedAttempt(t, ctx, f.db, other.ID, types.AttemptFailure, f.now.Add(-time.Duration(2-i)*time.Hour))
	}
	p := f.plan(t, userID, types.GenerationPending)

	res := f.reserve(t, p)
	rej, ok := res.(*reservation.Rejected)
	require.True(t, ok, "expected Rejected, got %T", res)
	assert.Equal(t, failure.RateLimited, rej.Reason)
	assert.Equal(t, 22*time.Hour, rej.RetryAfter)
	assert.Equal(t, 22*3600, rej.RetryAfterSeconds())

	later, err := f.mgr.Reserve(ctx, reservation.ReserveRequest{
		PlanID: p.ID,
		UserID: userID,
		Input:  generation.Input{Topic: "Go", WeeklyHours: 5},
		Now:    f.now.Add(25 * time.Hour),
	})
	require.NoError(t, err)
	_, ok = later.(*reservation.Reserved)
	assert.True(t, ok, "expected Reserved after the window, got %T", later)
}

func TestReserveRejectsInvalidStatus(t *testing.T) {
	f := newFixture(t, reservation.DefaultConfig())
	p := f.plan(t, uuid.New(), types.GenerationReady)

	res := f.reserve(t, p)
	rej, ok := res.(*reservation.Rejected)
	require.True(t, ok, "expected Rejected, got %T", res)
	assert.Equal(t, failure.InvalidStatus, rej.Reason)
	assert.Equal(t, types.GenerationReady, rej.CurrentStatus)
}

func TestReserveHidesForeignPlans(t *testing.T) {
	f := newFixture(t, reservation.DefaultConfig())
	p := f.plan(t, uuid.New(), types.GenerationPending)

	_, err := f.mgr.Reserve(context.Background(), reservation.ReserveRequest{PlanID: p.ID, UserID: uuid.New()})
	assert.ErrorIs(t, err, reservation.ErrPlanNotFound)

	_, err = f.mgr.Reserve(context.Background(), reservation.ReserveRequest{PlanID: uuid.New(), UserID: p.UserID})
	assert.ErrorIs(t, err, reservation.ErrPlanNotFound)
}

func TestFinalizeSuccessPersistsCurriculum(t *testing.T) {
	f := newFixture(t, reservation.DefaultConfig())
	p := f.plan(t, uuid.New(), types.GenerationPending)
	res := f.reserve(t, p).(*reservation.Reserved)
	ctx := context.Background()

	out, err := f.mgr.FinalizeSuccess(ctx, res, reservation.SuccessInput{
		AttemptID:  res.AttemptID,
		PlanID:     res.PlanID,
		Modules:    sampleModules(),
		DurationMs: 1200,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.ModulesCount)
	assert.Equal(t, 2, out.TasksCount)

	attempt, err := f.repos.Attempts.GetByID(dbctx.New(ctx), res.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, types.AttemptSuccess, attempt.Status)
	assert.Equal(t, 1, attempt.ModulesCount)
	assert.Equal(t, 2, attempt.TasksCount)
	assert.EqualValues(t, 1200, attempt.DurationMs)

	modules, err := f.repos.Curriculum.ListByPlan(dbctx.New(ctx), p.ID)
	require.NoError(t, err)
	require.Len(t, modules, 1)
	require.Len(t, modules[0].Tasks, 2)
	assert.Equal(t, 90, modules[0].EstimatedMinutes)

	// Readiness is the caller's transition.
	plan, err := f.repos.Plans.GetByID(dbctx.New(ctx), p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.GenerationGenerating, plan.GenerationStatus)

	require.Len(t, f.sink.outcomes, 1)
	assert.Equal(t, types.AttemptSuccess, f.sink.outcomes[0].Status)

	_, err = f.mgr.FinalizeSuccess(ctx, res, reservation.SuccessInput{AttemptID: res.AttemptID, PlanID: res.PlanID, Modules: sampleModules()})
	assert.ErrorIs(t, err, reservation.ErrAttemptNotInProgress)
}

func TestFinalizeSuccessClampsTree(t *testing.T) {
	cfg := reservation.DefaultConfig()
	cfg.MaxModules = 2
	cfg.MaxTasksPerModule = 1
	f := newFixture(t, cfg)
	p := f.plan(t, uuid.New(), types.GenerationPending)
	res := f.reserve(t, p).(*reservation.Reserved)

	modules := append(append(sampleModules(), sampleModules()...), sampleModules()...)
	out, err := f.mgr.FinalizeSuccess(context.Background(), res, reservation.SuccessInput{
		AttemptID: res.AttemptID,
		PlanID:    res.PlanID,
		Modules:   modules,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.ModulesCount)
	assert.Equal(t, 2, out.TasksCount)
	require.NotNil(t, out.Metadata.Normalization)
	assert.True(t, out.Metadata.Normalization.ModulesClamped)
	assert.True(t, out.Metadata.Normalization.TasksClamped)
	assert.Equal(t, 3, out.Metadata.Normalization.OriginalModules)
	assert.Equal(t, 45, out.Modules[0].EstimatedMinutes)
}

func TestFinalizeSuccessRejectsMismatchAndEmpty(t *testing.T) {
	f := newFixture(t, reservation.DefaultConfig())
	p := f.plan(t, uuid.New(), types.GenerationPending)
	res := f.reserve(t, p).(*reservation.Reserved)
	ctx := context.Background()

	_, err := f.mgr.FinalizeSuccess(ctx, res, reservation.SuccessInput{AttemptID: uuid.New(), PlanID: res.PlanID, Modules: sampleModules()})
	assert.ErrorIs(t, err, reservation.ErrAttemptMismatch)

	_, err = f.mgr.FinalizeFailure(ctx, res, reservation.FailureInput{AttemptID: res.AttemptID, PlanID: uuid.New()})
	assert.ErrorIs(t, err, reservation.ErrAttemptMismatch)

	_, err = f.mgr.FinalizeSuccess(ctx, res, reservation.SuccessInput{
		AttemptID: res.AttemptID,
		PlanID:    res.PlanID,
		Modules:   []generation.Module{{Title: "Empty"}},
	})
	assert.ErrorIs(t, err, reservation.ErrEmptyCurriculum)
}

func TestFinalizeSuccessIsAtomic(t *testing.T) {
	f := newFixture(t, reservation.DefaultConfig())
	p := f.plan(t, uuid.New(), types.GenerationPending)
	res := f.reserve(t, p).(*reservation.Reserved)

	boom := errors.New("attempt update failed")
	require.NoError(t, f.db.Callback().Update().Before("gorm:update").Register("test:fail_attempt_update", func(tx *gorm.DB) {
		if tx.Statement.Table == "generation_attempts" {
			_ = tx.AddError(boom)
		}
	}))

	_, err := f.mgr.FinalizeSuccess(context.Background(), res, reservation.SuccessInput{
		AttemptID: res.AttemptID,
		PlanID:    res.PlanID,
		Modules:   sampleModules(),
	})
	require.ErrorIs(t, err, boom)

	modules, tasks, err := f.repos.Curriculum.CountByPlan(dbctx.New(context.Background()), p.ID)
	require.NoError(t, err)
	assert.Zero(t, modules)
	assert.Zero(t, tasks)
	assert.Empty(t, f.sink.outcomes)
}

func TestFinalizeFailureTerminality(t *testing.T) {
	f := newFixture(t, reservation.DefaultConfig())
	ctx := context.Background()

	t.Run("retryable below cap", func(t *testing.T) {
		p := f.plan(t, uuid.New(), types.GenerationPending)
		res := f.reserve(t, p).(*reservation.Reserved)
		out, err := f.mgr.FinalizeFailure(ctx, res, reservation.FailureInput{
			AttemptID:      res.AttemptID,
			PlanID:         res.PlanID,
			Classification: failure.Timeout,
			Retryable:      true,
		})
		require.NoError(t, err)
		assert.False(t, out.Terminal)
		assert.Equal(t, types.GenerationPendingRetry, out.PlanStatus)

		plan, err := f.repos.Plans.GetByID(dbctx.New(ctx), p.ID)
		require.NoError(t, err)
		assert.Equal(t, types.GenerationPendingRetry, plan.GenerationStatus)
		assert.True(t, plan.IsQuotaEligible)
	})

	t.Run("non-retryable", func(t *testing.T) {
		p := f.plan(t, uuid.New(), types.GenerationPending)
		res := f.reserve(t, p).(*reservation.Reserved)
		out, err := f.mgr.FinalizeFailure(ctx, res, reservation.FailureInput{
			AttemptID:      res.AttemptID,
			PlanID:         res.PlanID,
			Classification: failure.Validation,
		})
		require.NoError(t, err)
		assert.True(t, out.Terminal)

		plan, err := f.repos.Plans.GetByID(dbctx.New(ctx), p.ID)
		require.NoError(t, err)
		assert.Equal(t, types.GenerationFailed, plan.GenerationStatus)
		assert.False(t, plan.IsQuotaEligible)

		attempt, err := f.repos.Attempts.GetByID(dbctx.New(ctx), res.AttemptID)
		require.NoError(t, err)
		require.NotNil(t, attempt.Classification)
		assert.Equal(t, "validation", *attempt.Classification)
	})

	t.Run("last slot", func(t *testing.T) {
		p := f.plan(t, uuid.New(), types.GenerationPendingRetry)
		testutil.SeedAttempt(t, ctx, f.db, p.ID, types.AttemptFailure, f.now.Add(-2*time.Hour))
		testutil.SeedAttempt(t, ctx, f.db, p.ID, types.AttemptFailure, f.now.Add(-time.Hour))
		res := f.reserve(t, p).(*reservation.Reserved)
		require.Equal(t, 3, res.AttemptNumber)

		out, err := f.mgr.FinalizeFailure(ctx, res, reservation.FailureInput{
			AttemptID:      res.AttemptID,
			PlanID:         res.PlanID,
			Classification: failure.RateLimit,
			Retryable:      true,
		})
		require.NoError(t, err)
		assert.True(t, out.Terminal)
		assert.Equal(t, types.GenerationFailed, out.PlanStatus)
	})
}

func TestReconcileFailsStaleAttempts(t *testing.T) {
	f := newFixture(t, reservation.DefaultConfig())
	ctx := context.Background()
	p := f.plan(t, uuid.New(), types.GenerationPending)
	res := f.reserve(t, p).(*reservation.Reserved)

	fresh := f.plan(t, uuid.New(), types.GenerationPending)
	freshRes := f.reserve(t, fresh).(*reservation.Reserved)
	require.NoError(t, f.db.Model(&types.GenerationAttempt{}).
		Where("id = ?", freshRes.AttemptID).
		Update("created_at", f.now.Add(20*time.Minute)).Error)

	f.now = f.now.Add(15 * time.Minute)
	n, err := f.mgr.Reconcile(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	attempt, err := f.repos.Attempts.GetByID(dbctx.New(ctx), res.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, types.AttemptFailure, attempt.Status)
	require.NotNil(t, attempt.Classification)
	assert.Equal(t, "timeout", *attempt.Classification)

	plan, err := f.repos.Plans.GetByID(dbctx.New(ctx), p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.GenerationPendingRetry, plan.GenerationStatus)

	require.NotEmpty(t, f.sink.outcomes)
	assert.True(t, f.sink.outcomes[len(f.sink.outcomes)-1].Reconciled)

	n, err = f.mgr.Reconcile(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
}
