package assets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kestrelhq/solsync/service/solana"
	"github.com/kestrelhq/solsync/service/txsync"
)

// ChainLister is the token-account enumeration surface this service needs
// from the RPC layer.
type ChainLister interface {
	ListTokenAccountsByOwner(ctx context.Context, network, owner string) ([]solana.TokenAccount, error)
}

// MetadataResolver resolves display metadata for token asset ids.
// Implementations talk to an external, rate-limited token registry.
type MetadataResolver interface {
	Resolve(ctx context.Context, ids []txsync.AssetID) (map[txsync.AssetID]*txsync.AssetMetadata, error)
}

// Service implements asset enumeration and batched metadata resolution for
// the sync engine. Resolved metadata is cached with a TTL so repeated sync
// passes do not hammer the registry.
type Service struct {
	chain    ChainLister
	resolver MetadataResolver
	cache    *metadataCache
	logger   *slog.Logger
}

// NewService creates an assets service. cacheSize <= 0 disables caching.
func NewService(chain ChainLister, resolver MetadataResolver, cacheSize int, cacheTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		chain:    chain,
		resolver: resolver,
		cache:    newMetadataCache(cacheSize, cacheTTL),
		logger:   logger,
	}
}

// TokenAccountsByOwner enumerates the owner's SPL and Token-2022 accounts
// across the given networks.
func (s *Service) TokenAccountsByOwner(ctx context.Context, owner string, networks []txsync.Network) ([]txsync.Asset, error) {
	var assets []txsync.Asset
	for _, network := range networks {
		accounts, err := s.chain.ListTokenAccountsByOwner(ctx, string(network), owner)
		if err != nil {
			return nil, fmt.Errorf("failed to list token accounts on %s: %w", network, err)
		}
		for _, ta := range accounts {
			assets = append(assets, txsync.Asset{
				Network: network,
				Address: ta.Address,
				Mint:    ta.Mint,
			})
		}
	}
	return assets, nil
}

// AssetsMetadata resolves symbol/decimals for all ids in one pass. Native
// SOL ids are answered statically; token ids are served from cache where
// possible and resolved in a single batched registry call otherwise.
// Unresolvable ids map to nil.
func (s *Service) AssetsMetadata(ctx context.Context, ids []txsync.AssetID) (map[txsync.AssetID]*txsync.AssetMetadata, error) {
	out := make(map[txsync.AssetID]*txsync.AssetMetadata, len(ids))
	var misses []txsync.AssetID

	now := time.Now()
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		if txsync.IsNativeAssetID(id) {
			out[id] = &txsync.AssetMetadata{Symbol: "SOL", Decimals: 9}
			continue
		}
		if md, ok := s.cache.Get(id, now); ok {
			out[id] = md
			continue
		}
		out[id] = nil
		misses = append(misses, id)
	}

	if len(misses) == 0 {
		return out, nil
	}

	resolved, err := s.resolver.Resolve(ctx, misses)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve metadata: %w", err)
	}
	for id, md := range resolved {
		out[id] = md
		if md != nil {
			s.cache.Add(id, md, now)
		}
	}

	return out, nil
}

// RefreshAccountAssets re-enumerates token accounts and warms the metadata
// cache for each account, sequentially. This is the asset-refresh phase the
// coordinator runs before transaction refresh.
func (s *Service) RefreshAccountAssets(ctx context.Context, accounts []*txsync.Account) error {
	var failed []string
	for _, account := range accounts {
		assets, err := s.TokenAccountsByOwner(ctx, account.Address, account.Scopes)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to refresh assets for account",
				"account", account.ID, "error", err)
			failed = append(failed, account.ID)
			continue
		}

		ids := make([]txsync.AssetID, 0, len(assets)+len(account.Scopes))
		for _, a := range assets {
			ids = append(ids, a.ID())
		}
		for _, scope := range account.Scopes {
			ids = append(ids, txsync.NativeAssetID(scope))
		}
		if _, err := s.AssetsMetadata(ctx, ids); err != nil {
			s.logger.WarnContext(ctx, "failed to warm metadata for account",
				"account", account.ID, "error", err)
			failed = append(failed, account.ID)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("asset refresh failed for accounts: %s", strings.Join(failed, ", "))
	}
	return nil
}
