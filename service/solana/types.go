package solana

import (
	"time"
)

// SignatureResult is one entry of a signature listing for an address.
// This is our domain model, independent of the RPC response format.
type SignatureResult struct {
	Signature          string
	Slot               uint64
	BlockTime          time.Time
	ConfirmationStatus string
	Err                *string // nil if the transaction succeeded
	Memo               *string
}

// TokenAccount is one SPL/Token-2022 account held by an owner.
type TokenAccount struct {
	Address string // token account address
	Mint    string
	Program string // owning token program id
}
