package temporal

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/kestrelhq/solsync/service/txsync"
)

func newWorkflowEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *Activities) {
	t.Helper()
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	activities := NewActivities(new(MockCoordinator), new(MockSyncService), new(MockAccountStore), nil, nil)
	env.RegisterActivity(activities.RefreshAccounts)
	env.RegisterActivity(activities.NextRefreshDelay)
	env.RegisterActivity(activities.SynchronizeAccount)
	env.RegisterActivity(activities.HandleLifecycleEvent)
	return env, activities
}

func TestRefreshAccountsWorkflow(t *testing.T) {
	env, activities := newWorkflowEnv(t)

	env.OnActivity(activities.RefreshAccounts, mock.Anything).
		Return(&RefreshAccountsResult{RefreshedAt: time.Now().UTC()}, nil)
	env.OnActivity(activities.NextRefreshDelay, mock.Anything).
		Return(15*time.Minute, nil)

	env.ExecuteWorkflow(RefreshAccountsWorkflow)

	require.True(t, env.IsWorkflowCompleted())

	// The chain perpetuates itself under the same workflow id.
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.True(t, workflow.IsContinueAsNewError(err))
	env.AssertExpectations(t)
}

func TestRefreshAccountsWorkflow_FailedPassStillContinues(t *testing.T) {
	env, activities := newWorkflowEnv(t)

	env.OnActivity(activities.RefreshAccounts, mock.Anything).
		Return(nil, errors.New("db down"))
	env.OnActivity(activities.NextRefreshDelay, mock.Anything).
		Return(15*time.Minute, nil)

	env.ExecuteWorkflow(RefreshAccountsWorkflow)

	require.True(t, env.IsWorkflowCompleted())

	// The chain must survive a failed pass.
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.True(t, workflow.IsContinueAsNewError(err))
	env.AssertCalled(t, "NextRefreshDelay", mock.Anything)
}

func TestRefreshAccountsWorkflow_DelayFailureSurfaces(t *testing.T) {
	env, activities := newWorkflowEnv(t)

	env.OnActivity(activities.RefreshAccounts, mock.Anything).
		Return(&RefreshAccountsResult{RefreshedAt: time.Now().UTC()}, nil)
	env.OnActivity(activities.NextRefreshDelay, mock.Anything).
		Return(time.Duration(0), errors.New("state unavailable"))

	env.ExecuteWorkflow(RefreshAccountsWorkflow)

	require.True(t, env.IsWorkflowCompleted())

	// Without a delay there is nothing to sleep on: the failure surfaces
	// instead of continuing as new.
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.False(t, workflow.IsContinueAsNewError(err))
}

func TestSynchronizeAccountWorkflow(t *testing.T) {
	env, activities := newWorkflowEnv(t)

	input := SynchronizeAccountInput{AccountID: "acct-1"}
	env.OnActivity(activities.SynchronizeAccount, mock.Anything, input).
		Return(&SynchronizeAccountResult{AccountID: "acct-1", Fetched: 7}, nil)

	env.ExecuteWorkflow(SynchronizeAccountWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result *SynchronizeAccountResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 7, result.Fetched)
}

func TestLifecycleEventWorkflow(t *testing.T) {
	env, activities := newWorkflowEnv(t)

	input := LifecycleEventInput{
		Event:  txsync.EventTransactionSubmitted,
		Params: json.RawMessage(`{"accountId":"a1"}`),
	}
	env.OnActivity(activities.HandleLifecycleEvent, mock.Anything, input).Return(nil)

	env.ExecuteWorkflow(LifecycleEventWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}
