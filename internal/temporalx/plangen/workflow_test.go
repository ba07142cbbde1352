package plangen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/generation/failure"
	"github.com/yungbote/planforge-backend/internal/generation/orchestrator"
)

type WorkflowSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *WorkflowSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	acts := &Activities{}
	s.env.RegisterActivityWithOptions(acts.Attempt, activity.RegisterOptions{Name: ActivityAttempt})
}

func (s *WorkflowSuite) AfterTest(_, _ string) {
	s.env.AssertExpectations(s.T())
}

func input() Input {
	return Input{UserID: "9c6f3b1e-1f43-4a8e-9b7e-2b1d1f0c8a11", PlanID: "3f2a9d4c-5b6e-4c7d-8e9f-0a1b2c3d4e5f"}
}

func (s *WorkflowSuite) TestRetriesNonTerminalFailureThenSucceeds() {
	s.env.OnActivity(ActivityAttempt, mock.Anything, mock.Anything).
		Return(AttemptResult{Status: StatusFailed, Classification: "timeout", Retryable: true, AttemptNumber: 1}, nil).Once()
	s.env.OnActivity(ActivityAttempt, mock.Anything, mock.Anything).
		Return(AttemptResult{Status: StatusSucceeded, AttemptNumber: 2}, nil).Once()

	s.env.ExecuteWorkflow(WorkflowName, input())
	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())

	var res AttemptResult
	s.Require().NoError(s.env.GetWorkflowResult(&res))
	s.Equal(StatusSucceeded, res.Status)
	s.Equal(2, res.AttemptNumber)
}

func (s *WorkflowSuite) TestStopsOnTerminalFailure() {
	s.env.OnActivity(ActivityAttempt, mock.Anything, mock.Anything).
		Return(AttemptResult{Status: StatusFailed, Classification: "validation", Terminal: true}, nil).Once()

	s.env.ExecuteWorkflow(WorkflowName, input())
	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())

	var res AttemptResult
	s.Require().NoError(s.env.GetWorkflowResult(&res))
	s.True(res.Terminal)
}

func (s *WorkflowSuite) TestStopsWhenPlanLeftRetryState() {
	s.env.OnActivity(ActivityAttempt, mock.Anything, mock.Anything).
		Return(AttemptResult{Status: StatusFailed, Classification: "rate_limit", Retryable: true, RetryAfterSeconds: 30, PlanStatus: "generating"}, nil).Once()

	s.env.ExecuteWorkflow(WorkflowName, input())
	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())

	var res AttemptResult
	s.Require().NoError(s.env.GetWorkflowResult(&res))
	s.Equal("generating", res.PlanStatus)
}

func (s *WorkflowSuite) TestRetriesWhilePendingRetry() {
	s.env.OnActivity(ActivityAttempt, mock.Anything, mock.Anything).
		Return(AttemptResult{Status: StatusFailed, Classification: "timeout", Retryable: true, PlanStatus: "pending_retry"}, nil).Once()
	s.env.OnActivity(ActivityAttempt, mock.Anything, mock.Anything).
		Return(AttemptResult{Status: StatusSucceeded, AttemptNumber: 2}, nil).Once()

	s.env.ExecuteWorkflow(WorkflowName, input())
	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())
}

func (s *WorkflowSuite) TestBoundedRounds() {
	s.env.OnActivity(ActivityAttempt, mock.Anything, mock.Anything).
		Return(AttemptResult{Status: StatusFailed, Classification: "rate_limit", Retryable: true, RetryAfterSeconds: 60}, nil).Times(2)

	in := input()
	in.MaxRounds = 2
	s.env.ExecuteWorkflow(WorkflowName, in)
	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())
}

func (s *WorkflowSuite) TestRejectsMissingIDs() {
	s.env.ExecuteWorkflow(WorkflowName, Input{})
	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().Error(s.env.GetWorkflowError())
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func TestNextWait(t *testing.T) {
	require.Equal(t, 45*time.Second, nextWait(AttemptResult{RetryAfterSeconds: 45}, 3))
	require.Equal(t, 30*time.Second, nextWait(AttemptResult{}, 0))
	require.Equal(t, time.Minute, nextWait(AttemptResult{}, 1))
	require.Equal(t, retryMax, nextWait(AttemptResult{}, 10))
}

func TestResultMapsOutcomes(t *testing.T) {
	r := Result(&orchestrator.Failure{Classification: failure.InProgress, Rejected: true, Retryable: true})
	require.False(t, r.Retryable)
	require.Empty(t, r.AttemptID)

	r = Result(&orchestrator.Failure{Classification: failure.RateLimit, Rejected: true, Retryable: true, RetryAfter: 1500 * time.Millisecond})
	require.True(t, r.Retryable)
	require.Equal(t, 2, r.RetryAfterSeconds)

	r = Result(&orchestrator.Failure{Classification: failure.Timeout, Retryable: true, CurrentStatus: types.GenerationPendingRetry})
	require.Equal(t, "pending_retry", r.PlanStatus)
}

func TestAwaitingRetry(t *testing.T) {
	require.True(t, awaitingRetry(""))
	require.True(t, awaitingRetry("pending"))
	require.True(t, awaitingRetry("pending_retry"))
	require.False(t, awaitingRetry("failed"))
	require.False(t, awaitingRetry("ready"))
	require.False(t, awaitingRetry("generating"))
}

