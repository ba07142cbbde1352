package orchestrator_test

import (
	"context"
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
	"github.com/yungbote/planforge-backend/internal/generation/orchestrator"
	"github.com/yungbote/planforge-backend/internal/generation/provider"
	"github.com/yungbote/planforge-backend/internal/generation/provider/mock"
	"github.com/yungbote/planforge-backend/internal/generation/reservation"
	"github.com/yungbote/planforge-backend/internal/generation/timeout"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
)

type harness struct {
	db    *gorm.DB
	plans repos.PlanRepo
	orch  *orchestrator.Orchestrator
}

func newHarness(t *testing.T, gen orchestrator.Generator) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	r := reservation.Repos{
		Plans:      repos.NewPlanRepo(db, log),
		Attempts:   repos.NewAttemptRepo(db, log),
		Curriculum: repos.NewCurriculumRepo(db, log),
	}
	mgr := reservation.NewManager(db, log, r, lock.NewMemoryLocker(), reservation.DefaultConfig())
	return &harness{
		db:    db,
		plans: r.Plans,
		orch:  orchestrator.New(log, mgr, gen, timeout.Config{Base: 2 * time.Second, Extension: time.Second}),
	}
}

func (h *harness) run(t *testing.T, p *types.LearningPlan) orchestrator.Outcome {
	t.Helper()
	out, err := h.orch.Run(context.Background(), generation.AttemptContext{
		PlanID: p.ID,
		UserID: p.UserID,
		Input: generation.Input{
			Topic:         p.Topic,
			SkillLevel:    generation.SkillIntermediate,
			WeeklyHours:   p.WeeklyHours,
			LearningStyle: generation.StyleMixed,
		},
	}, orchestrator.Options{})
	require.NoError(t, err)
	return out
}

func (h *harness) status(t *testing.T, planID uuid.UUID) types.GenerationStatus {
	t.Helper()
	p, err := h.plans.GetByID(dbctx.New(context.Background()), planID)
	require.NoError(t, err)
	return p.GenerationStatus
}

func TestRunSucceedsWithDefaultResponse(t *testing.T) {
	gen := mock.New()
	h := newHarness(t, gen)
	p := testutil.SeedPlan(t, context.Background(), h.db, uuid.New(), types.GenerationPending)

	out := h.run(t, p)
	s, ok := out.(*orchestrator.Success)
	require.True(t, ok, "expected Success, got %#v", out)
	assert.Equal(t, 1, s.AttemptNumber)
	require.Len(t, s.Modules, 1)
	assert.Len(t, s.Modules[0].Tasks, 2)
	assert.False(t, s.TimedOut)
	assert.True(t, s.ExtendedTimeout)
	assert.Contains(t, s.RawText, "Foundations")
	require.NotNil(t, s.Metadata.Provider)
	assert.Equal(t, "mock", s.Metadata.Provider.Provider)
	assert.Equal(t, 1, gen.Calls())

	// Readiness belongs to the caller.
	assert.Equal(t, types.GenerationGenerating, h.status(t, p.ID))
}

func TestRunCappedMakesNoProviderCall(t *testing.T) {
	gen := mock.New()
	h := newHarness(t, gen)
	ctx := context.Background()
	p := testutil.SeedPlan(t, ctx, h.db, uuid.New(), types.GenerationPendingRetry)
	for i := 0; i < 3; i++ {
		testutil.SeedAttempt(t, ctx, h.db, p.ID, types.AttemptFailure, time.Now().Add(-time.Duration(i+1)*time.Hour))
	}

	out := h.run(t, p)
	f, ok := out.(*orchestrator.Failure)
	require.True(t, ok, "expected Failure, got %#v", out)
	assert.Equal(t, failure.Capped, f.Classification)
	assert.True(t, f.Rejected)
	assert.ErrorIs(t, f.Err, orchestrator.ErrRejected)
	assert.Equal(t, uuid.Nil, f.AttemptID)
	assert.Zero(t, gen.Calls())
}

func TestRunInvalidResponseIsTerminal(t *testing.T) {
	gen := &mock.Provider{Response: `{"modules":[]}`}
	h := newHarness(t, gen)
	p := testutil.SeedPlan(t, context.Background(), h.db, uuid.New(), types.GenerationPending)

	out := h.run(t, p)
	f, ok := out.(*orchestrator.Failure)
	require.True(t, ok, "expected Failure, got %#v", out)
	assert.Equal(t, failure.Validation, f.Classification)
	assert.False(t, f.Retryable)
	assert.True(t, f.Terminal)
	assert.Equal(t, types.GenerationFailed, h.status(t, p.ID))
}

func TestRunTimeoutIsRetryable(t *testing.T) {
	gen := &mock.Provider{Delay: time.Minute}
	h := newHarness(t, gen)
	p := testutil.SeedPlan(t, context.Background(), h.db, uuid.New(), types.GenerationPending)

	out, err := h.orch.Run(context.Background(), generation.AttemptContext{
		PlanID: p.ID,
		UserID: p.UserID,
		Input:  generation.Input{Topic: "Go", WeeklyHours: 5},
	}, orchestrator.Options{Timeout: &timeout.Config{Base: 50 * time.Millisecond, Extension: time.Second}})
	require.NoError(t, err)
	f, ok := out.(*orchestrator.Failure)
	require.True(t, ok, "expected Failure, got %#v", out)
	assert.Equal(t, failure.Timeout, f.Classification)
	assert.True(t, f.TimedOut)
	assert.False(t, f.ExtendedTimeout)
	assert.False(t, f.Terminal)
	assert.Equal(t, types.GenerationPendingRetry, h.status(t, p.ID))
}

func TestRunProviderClientErrorIsTerminal(t *testing.T) {
	gen := &mock.Provider{Errors: []error{provider.FromStatus("mock", 400, "bad request")}}
	h := newHarness(t, gen)
	p := testutil.SeedPlan(t, context.Background(), h.db, uuid.New(), types.GenerationPending)

	out := h.run(t, p)
	f, ok := out.(*orchestrator.Failure)
	require.True(t, ok, "expected Failure, got %#v", out)
	assert.Equal(t, failure.ProviderError, f.Classification)
	assert.False(t, f.Retryable)
	assert.True(t, f.Terminal)
}

func TestRunRejectsSecondAttemptWhileInProgress(t *testing.T) {
	h := newHarness(t, mock.New())
	ctx := context.Background()
	p := testutil.SeedPlan(t, ctx, h.db, uuid.New(), types.GenerationGenerating)
	testutil.SeedAttempt(t, ctx, h.db, p.ID, types.AttemptInProgress, time.Now())

	out := h.run(t, p)
	f, ok := out.(*orchestrator.Failure)
	require.True(t, ok, "expected Failure, got %#v", out)
	assert.Equal(t, failure.InProgress, f.Classification)
	assert.True(t, f.Rejected)
}

func TestRunRateWindowRejectionKeepsReason(t *testing.T) {
	gen := mock.New()
	h := newHarness(t, gen)
	ctx := context.Background()
	userID := uuid.New()
	for i := 0; i < reservation.DefaultConfig().WindowLimit; i++ {
		other := testutil.SeedPlan(t, ctx, h.db, userID, types.GenerationPendingRetry)
		testutil.SeedAttempt(t, ctx, h.db, other.ID, types.AttemptFailure, time.Now().Add(-time.Duration(i+1)*time.Minute))
	}
	p := testutil.SeedPlan(t, ctx, h.db, userID, types.GenerationPending)

	out := h.run(t, p)
	f, ok := out.(*orchestrator.Failure)
	require.True(t, ok, "expected Failure, got %#v", out)
	assert.True(t, f.Rejected)
	assert.Equal(t, failure.RateLimit, f.Classification)
	assert.Equal(t, failure.RateLimited, f.Reason)
	assert.Equal(t, failure.RateLimited, f.Public())
	assert.True(t, f.Retryable)
	assert.Positive(t, f.RetryAfter)
	assert.Zero(t, gen.Calls())

	assert.Equal(t, "RATE_LIMITED", failure.Sanitize(f.Public()).Code)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		timedOut  bool
		want      failure.Classification
		retryable bool
	}{
		{"controller timeout", context.Canceled, true, failure.Timeout, true},
		{"timeout cause", timeout.ErrTimedOut, false, failure.Timeout, true},
		{"rate limited", provider.FromStatus("p", 429, ""), false, failure.RateLimit, true},
		{"server error", provider.FromStatus("p", 502, ""), false, failure.ProviderError, true},
		{"client error", provider.FromStatus("p", 401, ""), false, failure.ProviderError, false},
		{"invalid response", provider.Errorf("p", provider.KindInvalidResponse, "bad"), false, failure.Validation, false},
		{"no providers", provider.ErrNoProviders, false, failure.ProviderError, false},
		{"external cancel", context.Canceled, false, failure.Unknown, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, retryable := orchestrator.Classify(tc.err, tc.timedOut)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.retryable, retryable)
		})
	}
}
