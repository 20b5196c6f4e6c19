package assets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/solsync/service/solana"
	"github.com/kestrelhq/solsync/service/txsync"
)

type MockChainLister struct {
	mock.Mock
}

func (m *MockChainLister) ListTokenAccountsByOwner(ctx context.Context, network, owner string) ([]solana.TokenAccount, error) {
	args := m.Called(ctx, network, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]solana.TokenAccount), args.Error(1)
}

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, ids []txsync.AssetID) (map[txsync.AssetID]*txsync.AssetMetadata, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[txsync.AssetID]*txsync.AssetMetadata), args.Error(1)
}

func TestTokenAccountsByOwner_SpansNetworks(t *testing.T) {
	chain := new(MockChainLister)
	chain.On("ListTokenAccountsByOwner", mock.Anything, "mainnet", "owner1").
		Return([]solana.TokenAccount{{Address: "ta1", Mint: "mintA"}}, nil)
	chain.On("ListTokenAccountsByOwner", mock.Anything, "devnet", "owner1").
		Return([]solana.TokenAccount{{Address: "ta2", Mint: "mintB"}}, nil)

	svc := NewService(chain, new(MockResolver), 16, time.Hour, nil)
	assets, err := svc.TokenAccountsByOwner(context.Background(), "owner1",
		[]txsync.Network{txsync.NetworkMainnet, txsync.NetworkDevnet})
	require.NoError(t, err)

	require.Len(t, assets, 2)
	assert.Equal(t, txsync.Asset{Network: txsync.NetworkMainnet, Address: "ta1", Mint: "mintA"}, assets[0])
	assert.Equal(t, txsync.Asset{Network: txsync.NetworkDevnet, Address: "ta2", Mint: "mintB"}, assets[1])
}

func TestTokenAccountsByOwner_PropagatesChainError(t *testing.T) {
	chain := new(MockChainLister)
	chain.On("ListTokenAccountsByOwner", mock.Anything, "mainnet", "owner1").
		Return(nil, errors.New("rpc down"))

	svc := NewService(chain, new(MockResolver), 16, time.Hour, nil)
	_, err := svc.TokenAccountsByOwner(context.Background(), "owner1", []txsync.Network{txsync.NetworkMainnet})
	assert.Error(t, err)
}

func TestAssetsMetadata_NativeAnsweredStatically(t *testing.T) {
	resolver := new(MockResolver)

	svc := NewService(new(MockChainLister), resolver, 16, time.Hour, nil)
	nativeID := txsync.NativeAssetID(txsync.NetworkMainnet)
	out, err := svc.AssetsMetadata(context.Background(), []txsync.AssetID{nativeID})
	require.NoError(t, err)

	require.NotNil(t, out[nativeID])
	assert.Equal(t, "SOL", out[nativeID].Symbol)
	assert.Equal(t, uint8(9), out[nativeID].Decimals)
	resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
}

func TestAssetsMetadata_CachesResolvedEntries(t *testing.T) {
	resolver := new(MockResolver)
	tokenID := txsync.TokenAssetID(txsync.NetworkMainnet, "mintA")
	unknownID := txsync.TokenAssetID(txsync.NetworkMainnet, "mintB")

	resolver.On("Resolve", mock.Anything, []txsync.AssetID{tokenID, unknownID}).
		Return(map[txsync.AssetID]*txsync.AssetMetadata{
			tokenID:   {Symbol: "USDC", Decimals: 6},
			unknownID: nil,
		}, nil).Once()
	// Negative results are not cached; the unknown id is retried alone.
	resolver.On("Resolve", mock.Anything, []txsync.AssetID{unknownID}).
		Return(map[txsync.AssetID]*txsync.AssetMetadata{unknownID: nil}, nil).Once()

	svc := NewService(new(MockChainLister), resolver, 16, time.Hour, nil)

	out, err := svc.AssetsMetadata(context.Background(), []txsync.AssetID{tokenID, unknownID})
	require.NoError(t, err)
	require.NotNil(t, out[tokenID])
	assert.Equal(t, "USDC", out[tokenID].Symbol)
	assert.Nil(t, out[unknownID])

	out, err = svc.AssetsMetadata(context.Background(), []txsync.AssetID{tokenID, unknownID})
	require.NoError(t, err)
	require.NotNil(t, out[tokenID])
	assert.Nil(t, out[unknownID])

	resolver.AssertExpectations(t)
}

func TestAssetsMetadata_ResolverFailurePropagates(t *testing.T) {
	resolver := new(MockResolver)
	resolver.On("Resolve", mock.Anything, mock.Anything).Return(nil, errors.New("registry down"))

	svc := NewService(new(MockChainLister), resolver, 16, time.Hour, nil)
	_, err := svc.AssetsMetadata(context.Background(),
		[]txsync.AssetID{txsync.TokenAssetID(txsync.NetworkMainnet, "mintA")})
	assert.Error(t, err)
}

func TestRefreshAccountAssets_CollectsFailures(t *testing.T) {
	chain := new(MockChainLister)
	resolver := new(MockResolver)

	good := &txsync.Account{ID: "good", Address: "addrG", Scopes: []txsync.Network{txsync.NetworkMainnet}}
	bad := &txsync.Account{ID: "bad", Address: "addrB", Scopes: []txsync.Network{txsync.NetworkMainnet}}

	chain.On("ListTokenAccountsByOwner", mock.Anything, "mainnet", "addrG").
		Return([]solana.TokenAccount{{Address: "ta1", Mint: "mintA"}}, nil)
	chain.On("ListTokenAccountsByOwner", mock.Anything, "mainnet", "addrB").
		Return(nil, errors.New("rpc down"))

	resolver.On("Resolve", mock.Anything, []txsync.AssetID{txsync.TokenAssetID(txsync.NetworkMainnet, "mintA")}).
		Return(map[txsync.AssetID]*txsync.AssetMetadata{
			txsync.TokenAssetID(txsync.NetworkMainnet, "mintA"): {Symbol: "USDC", Decimals: 6},
		}, nil)

	svc := NewService(chain, resolver, 16, time.Hour, nil)
	err := svc.RefreshAccountAssets(context.Background(), []*txsync.Account{good, bad})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.NotContains(t, err.Error(), "good")
}

func TestMetadataCache_TTLExpiry(t *testing.T) {
	c := newMetadataCache(4, time.Minute)
	id := txsync.TokenAssetID(txsync.NetworkMainnet, "mintA")
	md := &txsync.AssetMetadata{Symbol: "USDC", Decimals: 6}

	now := time.Now()
	c.Add(id, md, now)

	got, ok := c.Get(id, now.Add(30*time.Second))
	require.True(t, ok)
	assert.Equal(t, md, got)

	_, ok = c.Get(id, now.Add(2*time.Minute))
	assert.False(t, ok)

	// Expired entries are evicted on read.
	_, ok = c.Get(id, now)
	assert.False(t, ok)
}

func TestMetadataCache_Disabled(t *testing.T) {
	c := newMetadataCache(0, time.Minute)
	id := txsync.TokenAssetID(txsync.NetworkMainnet, "mintA")

	c.Add(id, &txsync.AssetMetadata{Symbol: "USDC"}, time.Now())
	_, ok := c.Get(id, time.Now())
	assert.False(t, ok)
}
