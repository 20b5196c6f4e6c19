package txsync

import (
	"fmt"
	"strings"
	"time"
)

// Network identifies one Solana cluster with its own RPC endpoint.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkDevnet  Network = "devnet"
)

// Account is an owned identity under synchronization. Accounts are created
// by the key management layer; the engine only reads them.
type Account struct {
	ID      string    `json:"id"`
	Address string    `json:"address"`
	Scopes  []Network `json:"scopes"`
}

// Asset is one balance stream to watch for an account: a (network,
// token-account-or-native, mint) triple. Derived fresh on every sync pass,
// never persisted. The native entry uses the account address as its mint.
type Asset struct {
	Network Network `json:"network"`
	Address string  `json:"address"`
	Mint    string  `json:"mint"`
}

// IsNative reports whether the asset is the synthetic native-SOL entry.
func (a Asset) IsNative() bool {
	return a.Address == a.Mint
}

// ID returns the CAIP-style asset id for this asset.
func (a Asset) ID() AssetID {
	if a.IsNative() {
		return NativeAssetID(a.Network)
	}
	return TokenAssetID(a.Network, a.Mint)
}

// AssetID is a CAIP-19 style asset identifier,
// e.g. "solana:mainnet/slip44:501" or "solana:mainnet/token:<mint>".
type AssetID string

// NativeAssetID returns the asset id for native SOL on a network.
func NativeAssetID(network Network) AssetID {
	return AssetID(fmt.Sprintf("solana:%s/slip44:501", network))
}

// TokenAssetID returns the asset id for an SPL token mint on a network.
func TokenAssetID(network Network, mint string) AssetID {
	return AssetID(fmt.Sprintf("solana:%s/token:%s", network, mint))
}

// IsNativeAssetID reports whether id refers to native SOL on any network.
func IsNativeAssetID(id AssetID) bool {
	return strings.HasSuffix(string(id), "/slip44:501")
}

// AssetMetadata carries display metadata for one asset.
type AssetMetadata struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// SignatureInfo is one entry of a getSignaturesForAddress result,
// network-tagged because accounts are synchronized across multiple
// networks concurrently.
type SignatureInfo struct {
	Network            Network   `json:"network"`
	Signature          string    `json:"signature"`
	Slot               uint64    `json:"slot"`
	BlockTime          time.Time `json:"blockTime"`
	ConfirmationStatus string    `json:"confirmationStatus,omitempty"`
	Err                *string   `json:"err,omitempty"`
	Memo               *string   `json:"memo,omitempty"`
}

// TransactionStatus is the lifecycle status of a canonical transaction.
type TransactionStatus string

const (
	StatusSubmitted TransactionStatus = "submitted"
	StatusConfirmed TransactionStatus = "confirmed"
	StatusFinalized TransactionStatus = "finalized"
	StatusFailed    TransactionStatus = "failed"
)

// TransactionType classifies a transaction relative to the owning account.
type TransactionType string

const (
	TypeSend    TransactionType = "send"
	TypeReceive TransactionType = "receive"
	TypeUnknown TransactionType = "unknown"
)

// AssetRef identifies the asset a movement is denominated in.
type AssetRef struct {
	Fungible bool    `json:"fungible"`
	Type     AssetID `json:"type"`
}

// Movement is one from/to/fee entry of a canonical transaction.
type Movement struct {
	Address string   `json:"address"`
	Asset   AssetRef `json:"asset"`
	Amount  string   `json:"amount"`
	Unit    string   `json:"unit"`
}

// TransactionEvent records one status transition of a transaction.
type TransactionEvent struct {
	Status    TransactionStatus `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
}

// Transaction is the canonical entity persisted per account. Immutable once
// persisted; sync only ever appends new transactions.
type Transaction struct {
	ID        string             `json:"id"` // signature
	Account   string             `json:"account"`
	Chain     Network            `json:"chain"`
	From      []Movement         `json:"from"`
	To        []Movement         `json:"to"`
	Fees      []Movement         `json:"fees"`
	Status    TransactionStatus  `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
	Type      TransactionType    `json:"type"`
	Slot      uint64             `json:"slot"`
	Events    []TransactionEvent `json:"events"`
}

// TouchesAsset reports whether any from/to entry of the transaction moves
// the given asset.
func (t *Transaction) TouchesAsset(id AssetID) bool {
	for _, m := range t.From {
		if m.Asset.Type == id {
			return true
		}
	}
	for _, m := range t.To {
		if m.Asset.Type == id {
			return true
		}
	}
	return false
}
