package temporal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelhq/solsync/service/metrics"
	"github.com/kestrelhq/solsync/service/txsync"
)

// RefreshAccountsResult contains the result of one unattended refresh pass.
type RefreshAccountsResult struct {
	RefreshedAt time.Time `json:"refreshed_at"`
}

// SynchronizeAccountInput contains parameters for the SynchronizeAccount
// activity.
type SynchronizeAccountInput struct {
	AccountID string `json:"account_id"`
}

// SynchronizeAccountResult contains the result of a manual account sync.
type SynchronizeAccountResult struct {
	AccountID string `json:"account_id"`
	Fetched   int    `json:"fetched"`
}

// LifecycleEventInput carries one transaction lifecycle notification into
// the worker.
type LifecycleEventInput struct {
	Event  txsync.LifecycleEvent `json:"event"`
	Params json.RawMessage       `json:"params"`
}

// CoordinatorInterface defines the refresh operations needed by activities.
// This allows for easy mocking in tests.
type CoordinatorInterface interface {
	OnAccountsRefresh(ctx context.Context) error
	RefreshDelay(ctx context.Context) (time.Duration, error)
	HandleLifecycleEvent(ctx context.Context, event txsync.LifecycleEvent, params json.RawMessage) error
}

// SyncServiceInterface defines the sync operations needed by activities.
type SyncServiceInterface interface {
	Synchronize(ctx context.Context, account *txsync.Account) ([]*txsync.Transaction, error)
}

// AccountStoreInterface resolves account ids for manual syncs.
type AccountStoreInterface interface {
	GetAccount(ctx context.Context, id string) (*txsync.Account, error)
}

// Activities holds the dependencies needed by Temporal activities.
// All dependencies are explicit.
type Activities struct {
	coordinator CoordinatorInterface
	sync        SyncServiceInterface
	accounts    AccountStoreInterface
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If m is nil, no metrics will be recorded.
func NewActivities(
	coordinator CoordinatorInterface,
	sync SyncServiceInterface,
	accounts AccountStoreInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		coordinator: coordinator,
		sync:        sync,
		accounts:    accounts,
		metrics:     m,
		logger:      logger,
	}
}

// RefreshAccounts runs one unattended refresh pass over all registered
// accounts. Per-account failures are handled inside the coordinator; only
// infrastructure failures (listing accounts) surface here.
func (a *Activities) RefreshAccounts(ctx context.Context) (*RefreshAccountsResult, error) {
	a.logger.InfoContext(ctx, "running accounts refresh")

	if err := a.coordinator.OnAccountsRefresh(ctx); err != nil {
		return nil, fmt.Errorf("accounts refresh failed: %w", err)
	}

	return &RefreshAccountsResult{RefreshedAt: time.Now().UTC()}, nil
}

// NextRefreshDelay resolves how long the refresh workflow sleeps before its
// next pass.
func (a *Activities) NextRefreshDelay(ctx context.Context) (time.Duration, error) {
	delay, err := a.coordinator.RefreshDelay(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve next refresh delay: %w", err)
	}
	return delay, nil
}

// SynchronizeAccount runs one full sync pass for a single account.
func (a *Activities) SynchronizeAccount(ctx context.Context, input SynchronizeAccountInput) (*SynchronizeAccountResult, error) {
	account, err := a.accounts.GetAccount(ctx, input.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", input.AccountID, err)
	}

	txns, err := a.sync.Synchronize(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to synchronize account %s: %w", input.AccountID, err)
	}

	a.logger.InfoContext(ctx, "synchronized account",
		"account", input.AccountID,
		"fetched", len(txns),
	)

	return &SynchronizeAccountResult{
		AccountID: input.AccountID,
		Fetched:   len(txns),
	}, nil
}

// HandleLifecycleEvent dispatches one transaction lifecycle notification to
// the coordinator.
func (a *Activities) HandleLifecycleEvent(ctx context.Context, input LifecycleEventInput) error {
	a.logger.InfoContext(ctx, "handling lifecycle event", "event", input.Event)
	return a.coordinator.HandleLifecycleEvent(ctx, input.Event, input.Params)
}
