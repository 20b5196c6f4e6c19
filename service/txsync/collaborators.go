package txsync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

// ChainClient is the per-network RPC surface the engine needs.
// This allows mocking the RPC layer in tests without hitting real nodes.
type ChainClient interface {
	// ListSignatures returns up to limit signatures for address on network,
	// newest first. A non-empty until signature bounds the RPC-side
	// pagination so it stops once it reaches already-known history.
	ListSignatures(ctx context.Context, network Network, address string, limit int, until string) ([]SignatureInfo, error)

	// FetchTransaction fetches one full transaction body.
	FetchTransaction(ctx context.Context, network Network, signature string) (*rpc.GetTransactionResult, error)
}

// AssetsService resolves which token accounts an owner holds and display
// metadata for a set of asset ids.
type AssetsService interface {
	// TokenAccountsByOwner enumerates SPL and Token-2022 accounts owned by
	// the address across the given networks.
	TokenAccountsByOwner(ctx context.Context, owner string, networks []Network) ([]Asset, error)

	// AssetsMetadata resolves symbol/decimals for all ids in one batched
	// call. Unresolvable ids map to nil.
	AssetsMetadata(ctx context.Context, ids []AssetID) (map[AssetID]*AssetMetadata, error)
}

// TransactionStore persists and retrieves the canonical transaction list
// per account id.
type TransactionStore interface {
	FindByAccountID(ctx context.Context, accountID string) ([]*Transaction, error)

	// SaveTransaction persists one transaction. Returns false when the
	// (account, signature) pair already exists; that is never an error.
	SaveTransaction(ctx context.Context, txn *Transaction) (bool, error)
}

// AccountStore reads the registry of locally-held accounts.
type AccountStore interface {
	ListAccounts(ctx context.Context) ([]*Account, error)
	GetAccount(ctx context.Context, id string) (*Account, error)

	// GetAccountByAddress returns nil, nil when no local account holds the
	// address.
	GetAccountByAddress(ctx context.Context, address string) (*Account, error)
}

// StateStore is the narrow keyed store for persisted engine state
// ("signatures.<address>", "refreshAccountsInterval"). Values are JSON.
type StateStore interface {
	// Get decodes the value for key into v. Returns false when the key is
	// not set.
	Get(ctx context.Context, key string, v any) (bool, error)
	Set(ctx context.Context, key string, v any) error
}

// Publisher broadcasts account-transactions-updated events, grouped by
// account id, once per save batch.
type Publisher interface {
	PublishAccountTransactionsUpdated(ctx context.Context, updates map[string][]*Transaction) error
}

// Classifier flags low-value/unsolicited transactions for exclusion.
type Classifier interface {
	IsSpam(account *Account, txn *Transaction) bool
}

// Analytics receives fire-and-forget tracking calls from lifecycle event
// handlers.
type Analytics interface {
	Track(ctx context.Context, event string, props map[string]any) error
}

// TaskMethod discriminates scheduled background tasks.
type TaskMethod string

const (
	TaskRefreshAccounts    TaskMethod = "refreshAccounts"
	TaskSynchronizeAccount TaskMethod = "synchronizeAccount"
)

// Task is a typed method/params payload for one-shot background scheduling.
type Task struct {
	Method TaskMethod      `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Scheduler registers one-shot background tasks. The refresh chain is
// self-perpetuating: the fired task re-arms the next occurrence.
type Scheduler interface {
	ScheduleOnce(ctx context.Context, task Task, delay time.Duration) error
}

// NoopAnalytics discards all tracking calls.
type NoopAnalytics struct{}

func (NoopAnalytics) Track(ctx context.Context, event string, props map[string]any) error {
	return nil
}
