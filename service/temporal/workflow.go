package temporal

import (
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

func defaultActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
}

// RefreshAccountsWorkflow runs one unattended refresh pass, sleeps for the
// persisted interval, and continues as new. The whole chain lives under one
// workflow id, so there is never more than one of it; a failed pass is
// logged and the chain carries on to the next occurrence.
func RefreshAccountsWorkflow(ctx workflow.Context) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("RefreshAccountsWorkflow started")

	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions())

	var result *RefreshAccountsResult
	if err := workflow.ExecuteActivity(ctx, a.RefreshAccounts).Get(ctx, &result); err != nil {
		logger.Error("accounts refresh failed", "error", err)
	}

	var delay time.Duration
	if err := workflow.ExecuteActivity(ctx, a.NextRefreshDelay).Get(ctx, &delay); err != nil {
		logger.Error("failed to resolve next refresh delay", "error", err)
		return err
	}

	if err := workflow.Sleep(ctx, delay); err != nil {
		return err
	}
	return workflow.NewContinueAsNewError(ctx, RefreshAccountsWorkflow)
}

// SynchronizeAccountWorkflow runs one sync pass for a single account. It is
// started on demand by the HTTP API or the ops CLI.
func SynchronizeAccountWorkflow(ctx workflow.Context, input SynchronizeAccountInput) (*SynchronizeAccountResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SynchronizeAccountWorkflow started", "account", input.AccountID)

	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions())

	var result *SynchronizeAccountResult
	if err := workflow.ExecuteActivity(ctx, a.SynchronizeAccount, input).Get(ctx, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// LifecycleEventWorkflow processes one transaction lifecycle notification.
func LifecycleEventWorkflow(ctx workflow.Context, input LifecycleEventInput) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("LifecycleEventWorkflow started", "event", input.Event)

	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions())

	return workflow.ExecuteActivity(ctx, a.HandleLifecycleEvent, input).Get(ctx, nil)
}
