package txsync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kestrelhq/solsync/service/metrics"
)

// Fixed sync policy. The per-asset limit bounds each signature-list call;
// the per-account cap bounds total fetch volume per pass regardless of how
// many assets changed.
const (
	signaturesPerAsset     = 5
	maxTransactionsPerSync = 20
)

// signaturesStateKey is the persisted-state key holding the last-seen
// signature list for an account address.
func signaturesStateKey(address string) string {
	return "signatures." + address
}

// Service orchestrates per-account delta discovery, fetch, mapping, spam
// filtering, and persistence of canonical transactions.
type Service struct {
	chain        ChainClient
	assets       AssetsService
	transactions TransactionStore
	state        StateStore
	publisher    Publisher
	spam         Classifier
	metrics      *metrics.Metrics
	logger       *slog.Logger
	locks        *keyedMutex
}

// NewService creates a transactions service with explicit dependencies.
// If spam is nil the default heuristic classifier is used. If m is nil, no
// metrics are recorded.
func NewService(
	chain ChainClient,
	assets AssetsService,
	transactions TransactionStore,
	state StateStore,
	publisher Publisher,
	spam Classifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	if spam == nil {
		spam = NewHeuristicClassifier()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		chain:        chain,
		assets:       assets,
		transactions: transactions,
		state:        state,
		publisher:    publisher,
		spam:         spam,
		metrics:      m,
		logger:       logger,
		locks:        newKeyedMutex(),
	}
}

// FetchAccountTransactions returns the newly-discovered, mapped, non-spam
// transactions for the account that are not yet persisted. Persistence is
// the caller's responsibility, keeping fetch and persist independently
// testable.
func (s *Service) FetchAccountTransactions(ctx context.Context, account *Account) ([]*Transaction, error) {
	start := time.Now()

	// 1. Asset fan-out: every token account across the active networks,
	// plus one synthetic native entry per network (mint = address).
	assets, err := s.enumerateAssets(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate assets: %w", err)
	}

	// 2. Resolve metadata for all involved asset ids in one batched call.
	assetIDs := make([]AssetID, 0, len(assets))
	for _, a := range assets {
		assetIDs = append(assetIDs, a.ID())
	}
	metadata, err := s.assets.AssetsMetadata(ctx, assetIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve asset metadata: %w", err)
	}

	// 3. Load existing transactions once; they provide both the per-asset
	// pagination anchors and the known-id set.
	existing, err := s.transactions.FindByAccountID(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing transactions: %w", err)
	}
	knownIDs := make(map[string]struct{}, len(existing))
	for _, txn := range existing {
		knownIDs[txn.ID] = struct{}{}
	}
	sort.Slice(existing, func(i, j int) bool {
		return existing[i].Timestamp.After(existing[j].Timestamp)
	})

	// 4. Per-asset signature discovery, anchored at the most recent
	// already-known transaction for that asset. Fan-out is parallel; a
	// failing asset is logged and dropped, never aborts the pass.
	signatures := s.discoverSignatures(ctx, account, assets, existing)

	// 5. Flatten, de-duplicate against known history, keep the most recent
	// activity across all assets.
	fresh := make([]SignatureInfo, 0, len(signatures))
	seen := make(map[string]struct{}, len(signatures))
	for _, sig := range signatures {
		if _, ok := knownIDs[sig.Signature]; ok {
			continue
		}
		if _, ok := seen[sig.Signature]; ok {
			continue
		}
		seen[sig.Signature] = struct{}{}
		fresh = append(fresh, sig)
	}
	sort.Slice(fresh, func(i, j int) bool {
		return fresh[i].Slot > fresh[j].Slot
	})
	if len(fresh) > maxTransactionsPerSync {
		fresh = fresh[:maxTransactionsPerSync]
	}

	// 6+7. Fetch bodies and map. Each fetch is isolated: one failure drops
	// that signature only.
	mapped := make([]*Transaction, 0, len(fresh))
	for _, sig := range fresh {
		raw, err := s.chain.FetchTransaction(ctx, sig.Network, sig.Signature)
		if err != nil || raw == nil {
			s.logger.WarnContext(ctx, "failed to fetch transaction body, dropping",
				"account", account.ID,
				"signature", sig.Signature,
				"network", sig.Network,
				"error", err,
			)
			continue
		}

		txn, err := MapTransaction(MapParams{
			Raw:      raw,
			Info:     sig,
			Account:  account,
			Network:  sig.Network,
			Metadata: metadata,
		})
		if err != nil {
			s.logger.WarnContext(ctx, "failed to map transaction, dropping",
				"account", account.ID,
				"signature", sig.Signature,
				"error", err,
			)
			continue
		}
		mapped = append(mapped, txn)
	}

	// 8. Spam filtering.
	filtered := make([]*Transaction, 0, len(mapped))
	spamCount := 0
	for _, txn := range mapped {
		if s.spam.IsSpam(account, txn) {
			spamCount++
			continue
		}
		filtered = append(filtered, txn)
	}

	if s.metrics != nil {
		s.metrics.RecordTransactionsFetched(account.ID, len(filtered))
		s.metrics.RecordSpamFiltered(account.ID, spamCount)
		s.metrics.RecordSyncPassDuration(account.ID, time.Since(start).Seconds())
	}

	s.logger.InfoContext(ctx, "fetched account transactions",
		"account", account.ID,
		"assets", len(assets),
		"discovered_signatures", len(signatures),
		"new", len(filtered),
		"spam", spamCount,
	)

	return filtered, nil
}

// enumerateAssets builds the asset/network fan-out set for one account.
func (s *Service) enumerateAssets(ctx context.Context, account *Account) ([]Asset, error) {
	assets, err := s.assets.TokenAccountsByOwner(ctx, account.Address, account.Scopes)
	if err != nil {
		return nil, err
	}
	for _, scope := range account.Scopes {
		assets = append(assets, Asset{
			Network: scope,
			Address: account.Address,
			Mint:    account.Address,
		})
	}
	return assets, nil
}

// discoverSignatures runs the per-asset signature listing in parallel,
// bounding each list at the asset's anchor (invariant: pagination stops at
// already-known history, the full history is never refetched).
func (s *Service) discoverSignatures(ctx context.Context, account *Account, assets []Asset, existing []*Transaction) []SignatureInfo {
	var (
		mu  sync.Mutex
		out []SignatureInfo
		wg  sync.WaitGroup
	)

	for _, asset := range assets {
		wg.Add(1)
		go func(asset Asset) {
			defer wg.Done()

			until := ""
			if anchor := findLatestTransactionForAsset(existing, asset); anchor != nil {
				until = anchor.ID
			}

			sigs, err := s.chain.ListSignatures(ctx, asset.Network, asset.Address, signaturesPerAsset, until)
			if err != nil {
				s.logger.WarnContext(ctx, "failed to list signatures for asset, skipping",
					"account", account.ID,
					"asset_address", asset.Address,
					"network", asset.Network,
					"error", err,
				)
				return
			}

			mu.Lock()
			out = append(out, sigs...)
			mu.Unlock()
		}(asset)
	}

	wg.Wait()
	return out
}

// findLatestTransactionForAsset returns the most recent already-known
// transaction touching the asset. txns must be sorted by timestamp
// descending. This is the cursor anchor for pagination.
func findLatestTransactionForAsset(txns []*Transaction, asset Asset) *Transaction {
	id := asset.ID()
	for _, txn := range txns {
		if txn.TouchesAsset(id) {
			return txn
		}
	}
	return nil
}

// FetchLatestSignatures returns the limit most recent signatures for one
// address on one network, unfiltered. Used as a cheap change probe.
func (s *Service) FetchLatestSignatures(ctx context.Context, network Network, address string, limit int) ([]SignatureInfo, error) {
	return s.chain.ListSignatures(ctx, network, address, limit, "")
}

// FetchBySignature fetches and maps a single transaction for the account.
// Returns nil, nil when the transaction is not found.
func (s *Service) FetchBySignature(ctx context.Context, network Network, signature string, account *Account) (*Transaction, error) {
	raw, err := s.chain.FetchTransaction(ctx, network, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", signature, err)
	}
	if raw == nil {
		return nil, nil
	}

	info := SignatureInfo{
		Network:   network,
		Signature: signature,
		Slot:      raw.Slot,
	}
	if raw.BlockTime != nil {
		info.BlockTime = raw.BlockTime.Time()
	}

	// Resolve metadata only for the assets this transaction touches.
	ids := []AssetID{NativeAssetID(network)}
	if raw.Meta != nil {
		mints := make(map[string]struct{})
		for _, tb := range raw.Meta.PreTokenBalances {
			mints[tb.Mint.String()] = struct{}{}
		}
		for _, tb := range raw.Meta.PostTokenBalances {
			mints[tb.Mint.String()] = struct{}{}
		}
		for mint := range mints {
			ids = append(ids, TokenAssetID(network, mint))
		}
	}
	metadata, err := s.assets.AssetsMetadata(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve asset metadata: %w", err)
	}

	return MapTransaction(MapParams{
		Raw:      raw,
		Info:     info,
		Account:  account,
		Network:  network,
		Metadata: metadata,
	})
}

// Synchronize runs a full sync pass for one account: fetch the delta,
// persist it, and record the latest on-chain signatures for the change
// probe. Concurrent invocations for the same account are serialized.
func (s *Service) Synchronize(ctx context.Context, account *Account) ([]*Transaction, error) {
	unlock := s.locks.Lock(account.ID)
	defer unlock()

	txns, err := s.FetchAccountTransactions(ctx, account)
	if err != nil {
		return nil, err
	}

	if len(txns) > 0 {
		if err := s.SaveMany(ctx, txns); err != nil {
			return nil, err
		}
	}

	// Best-effort: a stale probe list only costs one redundant sync later.
	if err := s.recordLatestSignatures(ctx, account); err != nil {
		s.logger.WarnContext(ctx, "failed to record latest signatures",
			"account", account.ID,
			"error", err,
		)
	}

	return txns, nil
}

// Save persists one transaction. See SaveMany.
func (s *Service) Save(ctx context.Context, txn *Transaction) error {
	return s.SaveMany(ctx, []*Transaction{txn})
}

// SaveMany persists transactions and broadcasts one
// account-transactions-updated event grouped by account id. Already-known
// signatures are skipped, never duplicated.
func (s *Service) SaveMany(ctx context.Context, txns []*Transaction) error {
	persisted := make(map[string][]*Transaction)
	skipped := 0

	for _, txn := range txns {
		created, err := s.transactions.SaveTransaction(ctx, txn)
		if err != nil {
			return fmt.Errorf("failed to save transaction %s: %w", txn.ID, err)
		}
		if !created {
			skipped++
			if s.metrics != nil {
				s.metrics.RecordTransactionsSkipped(txn.Account, "already_exists", 1)
			}
			continue
		}
		persisted[txn.Account] = append(persisted[txn.Account], txn)
		if s.metrics != nil {
			s.metrics.RecordTransactionsPersisted(txn.Account, 1)
		}
	}

	s.logger.InfoContext(ctx, "saved transactions",
		"total", len(txns),
		"skipped", skipped,
		"accounts", len(persisted),
	)

	if len(persisted) == 0 || s.publisher == nil {
		return nil
	}

	// Persisted data is the source of truth; event delivery is best-effort.
	if err := s.publisher.PublishAccountTransactionsUpdated(ctx, persisted); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish transactions-updated event",
			"accounts", len(persisted),
			"error", err,
		)
	}

	return nil
}

// LastSeenSignatures returns the persisted probe list for an account
// address, or nil when none has been recorded yet.
func (s *Service) LastSeenSignatures(ctx context.Context, address string) ([]string, error) {
	var sigs []string
	found, err := s.state.Get(ctx, signaturesStateKey(address), &sigs)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return sigs, nil
}

// recordLatestSignatures probes each scope for its most recent signature
// and persists the combined list under signatures.<address>.
func (s *Service) recordLatestSignatures(ctx context.Context, account *Account) error {
	sigs := make([]string, 0, len(account.Scopes))
	for _, scope := range account.Scopes {
		latest, err := s.FetchLatestSignatures(ctx, scope, account.Address, 1)
		if err != nil {
			return fmt.Errorf("failed to probe %s: %w", scope, err)
		}
		if len(latest) > 0 {
			sigs = append(sigs, latest[0].Signature)
		}
	}
	return s.state.Set(ctx, signaturesStateKey(account.Address), sigs)
}
