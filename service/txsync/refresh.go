package txsync

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kestrelhq/solsync/service/metrics"
)

// stateKeyRefreshInterval holds the per-installation jittered refresh
// interval in minutes.
const stateKeyRefreshInterval = "refreshAccountsInterval"

// SyncService is the surface of the transactions service the refresh
// coordinator drives.
type SyncService interface {
	Synchronize(ctx context.Context, account *Account) ([]*Transaction, error)
	FetchLatestSignatures(ctx context.Context, network Network, address string, limit int) ([]SignatureInfo, error)
	LastSeenSignatures(ctx context.Context, address string) ([]string, error)
}

// AssetRefresher refreshes balance/metadata state for a set of accounts.
// It shares a rate-limited upstream with transaction refresh, which is why
// the two phases never run concurrently.
type AssetRefresher interface {
	RefreshAccountAssets(ctx context.Context, accounts []*Account) error
}

// RefreshCoordinator owns change detection, the jittered refresh chain, and
// lifecycle-triggered syncs.
type RefreshCoordinator struct {
	service        SyncService
	accounts       AccountStore
	state          StateStore
	assetRefresher AssetRefresher
	scheduler      Scheduler
	analytics      Analytics
	metrics        *metrics.Metrics
	logger         *slog.Logger

	// maxRefreshInterval is the upper bound for the randomized interval.
	maxRefreshInterval time.Duration
	// randFloat returns a value in [0, 1); swappable for tests.
	randFloat func() float64
}

// NewRefreshCoordinator creates a coordinator with explicit dependencies.
// If analytics is nil, tracking calls are discarded. If m is nil, no
// metrics are recorded.
func NewRefreshCoordinator(
	service SyncService,
	accounts AccountStore,
	state StateStore,
	assetRefresher AssetRefresher,
	scheduler Scheduler,
	analytics Analytics,
	maxRefreshInterval time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger,
) *RefreshCoordinator {
	if analytics == nil {
		analytics = NoopAnalytics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshCoordinator{
		service:            service,
		accounts:           accounts,
		state:              state,
		assetRefresher:     assetRefresher,
		scheduler:          scheduler,
		analytics:          analytics,
		maxRefreshInterval: maxRefreshInterval,
		metrics:            m,
		logger:             logger,
		randFloat:          rand.Float64,
	}
}

// OnAccountsRefresh is the unattended periodic refresh entry point. It
// probes every account for changes, then refreshes assets and transactions
// for the changed set only. This path favors availability: phase failures
// are logged, never re-thrown, and one phase failing does not prevent the
// other from running.
func (c *RefreshCoordinator) OnAccountsRefresh(ctx context.Context) error {
	accounts, err := c.accounts.ListAccounts(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to list accounts for refresh", "error", err)
		return nil
	}

	changed := c.detectChangedAccounts(ctx, accounts)
	c.logger.InfoContext(ctx, "change detection complete",
		"accounts", len(accounts),
		"changed", len(changed),
	)
	if len(changed) == 0 {
		return nil
	}

	// Asset refresh and transaction refresh hit the same rate-limited
	// metadata upstream: strictly sequential, each wrapped independently.
	if err := c.assetRefresher.RefreshAccountAssets(ctx, changed); err != nil {
		c.logger.ErrorContext(ctx, "asset refresh failed", "accounts", len(changed), "error", err)
		if c.metrics != nil {
			c.metrics.RecordRefreshPhaseFailure("assets")
		}
	}

	if err := c.refreshTransactions(ctx, changed); err != nil {
		c.logger.ErrorContext(ctx, "transaction refresh failed", "accounts", len(changed), "error", err)
		if c.metrics != nil {
			c.metrics.RecordRefreshPhaseFailure("transactions")
		}
	}

	return nil
}

// detectChangedAccounts probes every account in parallel and returns those
// whose latest on-chain signature is not in their recorded last-seen list.
// Unchanged accounts cost exactly one single-signature probe per scope.
func (c *RefreshCoordinator) detectChangedAccounts(ctx context.Context, accounts []*Account) []*Account {
	var (
		mu      sync.Mutex
		changed []*Account
		wg      sync.WaitGroup
	)

	for _, account := range accounts {
		wg.Add(1)
		go func(account *Account) {
			defer wg.Done()
			if c.accountChanged(ctx, account) {
				mu.Lock()
				changed = append(changed, account)
				mu.Unlock()
			}
		}(account)
	}

	wg.Wait()
	return changed
}

func (c *RefreshCoordinator) accountChanged(ctx context.Context, account *Account) bool {
	recorded, err := c.service.LastSeenSignatures(ctx, account.Address)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to load recorded signatures, assuming changed",
			"account", account.ID, "error", err)
		return true
	}
	known := make(map[string]struct{}, len(recorded))
	for _, sig := range recorded {
		known[sig] = struct{}{}
	}

	for _, scope := range account.Scopes {
		latest, err := c.service.FetchLatestSignatures(ctx, scope, account.Address, 1)
		if err != nil {
			c.logger.WarnContext(ctx, "change probe failed, assuming changed",
				"account", account.ID, "network", scope, "error", err)
			if c.metrics != nil {
				c.metrics.RecordChangeDetection("error")
			}
			return true
		}
		if len(latest) == 0 {
			if c.metrics != nil {
				c.metrics.RecordChangeDetection("changed")
			}
			return true
		}
		if _, ok := known[latest[0].Signature]; !ok {
			if c.metrics != nil {
				c.metrics.RecordChangeDetection("changed")
			}
			return true
		}
	}

	if c.metrics != nil {
		c.metrics.RecordChangeDetection("unchanged")
	}
	return false
}

// refreshTransactions fans out full syncs over the changed accounts.
// Individual failures are collected but do not stop sibling accounts.
func (c *RefreshCoordinator) refreshTransactions(ctx context.Context, accounts []*Account) error {
	var (
		mu     sync.Mutex
		failed int
		wg     sync.WaitGroup
	)

	for _, account := range accounts {
		wg.Add(1)
		go func(account *Account) {
			defer wg.Done()
			if _, err := c.service.Synchronize(ctx, account); err != nil {
				c.logger.ErrorContext(ctx, "account sync failed",
					"account", account.ID, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(account)
	}

	wg.Wait()
	if failed > 0 {
		return fmt.Errorf("%d of %d account syncs failed", failed, len(accounts))
	}
	return nil
}

// RefreshDelay resolves the delay until the next periodic refresh. The
// interval is randomized once per installation in (0, maxRefreshInterval]
// and persisted, so the installed base never synchronizes onto fixed
// wall-clock boundaries; re-invocations reuse the stored value.
func (c *RefreshCoordinator) RefreshDelay(ctx context.Context) (time.Duration, error) {
	var minutes float64
	found, err := c.state.Get(ctx, stateKeyRefreshInterval, &minutes)
	if err != nil {
		return 0, fmt.Errorf("failed to read refresh interval: %w", err)
	}

	if !found || minutes <= 0 {
		maxMinutes := c.maxRefreshInterval.Minutes()
		// (1 - [0,1)) * max yields (0, max].
		minutes = (1 - c.randFloat()) * maxMinutes
		if err := c.state.Set(ctx, stateKeyRefreshInterval, minutes); err != nil {
			return 0, fmt.Errorf("failed to persist refresh interval: %w", err)
		}
		c.logger.InfoContext(ctx, "computed jittered refresh interval",
			"minutes", minutes, "max_minutes", maxMinutes)
	}

	return time.Duration(minutes * float64(time.Minute)), nil
}

// ScheduleRefreshAccounts arms the refresh chain: one delayed one-shot
// refresh-accounts task at the resolved interval. The scheduler dedupes
// concurrent armings, so calling this on every worker startup leaves
// exactly one chain running; once fired, the chain perpetuates itself.
func (c *RefreshCoordinator) ScheduleRefreshAccounts(ctx context.Context) error {
	delay, err := c.RefreshDelay(ctx)
	if err != nil {
		return err
	}

	if err := c.scheduler.ScheduleOnce(ctx, Task{Method: TaskRefreshAccounts}, delay); err != nil {
		return fmt.Errorf("failed to schedule refresh: %w", err)
	}

	c.logger.DebugContext(ctx, "scheduled next accounts refresh", "delay", delay)
	return nil
}
