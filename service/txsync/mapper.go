package txsync

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

// nativeDecimals is the lamport precision of SOL.
const nativeDecimals = 9

// MapParams are the inputs for mapping one raw RPC transaction into the
// canonical shape.
type MapParams struct {
	Raw      *rpc.GetTransactionResult
	Info     SignatureInfo
	Account  *Account
	Network  Network
	Metadata map[AssetID]*AssetMetadata
}

// MapTransaction converts a raw RPC transaction into the canonical
// Transaction for the owning account. It is a pure function: asset units
// come from the pre-fetched metadata batch, never from additional lookups.
//
// Balance movements are derived from the meta pre/post balance deltas
// rather than from instruction decoding, so inner instructions and CPI
// transfers are captured uniformly.
func MapTransaction(params MapParams) (*Transaction, error) {
	if params.Raw == nil {
		return nil, fmt.Errorf("raw transaction is nil")
	}
	if params.Account == nil {
		return nil, fmt.Errorf("account is nil")
	}

	txn := &Transaction{
		ID:        params.Info.Signature,
		Account:   params.Account.ID,
		Chain:     params.Network,
		Slot:      params.Raw.Slot,
		Status:    mapStatus(params.Raw, params.Info),
		Timestamp: mapTimestamp(params.Raw, params.Info),
		Type:      TypeUnknown,
	}
	txn.Events = []TransactionEvent{{Status: txn.Status, Timestamp: txn.Timestamp}}

	meta := params.Raw.Meta
	if meta == nil || params.Raw.Transaction == nil {
		return txn, nil
	}

	decoded, err := params.Raw.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	accountKeys := decoded.Message.AccountKeys
	if len(accountKeys) == 0 {
		return txn, nil
	}

	nativeRef := AssetRef{Fungible: true, Type: NativeAssetID(params.Network)}
	nativeUnit := assetUnit(params.Metadata, nativeRef.Type, "SOL")

	// Fee is attributed to the payer (first account key) and excluded from
	// the payer's transfer delta below.
	if meta.Fee > 0 {
		txn.Fees = append(txn.Fees, Movement{
			Address: accountKeys[0].String(),
			Asset:   nativeRef,
			Amount:  formatAmount(new(big.Int).SetUint64(meta.Fee), nativeDecimals),
			Unit:    nativeUnit,
		})
	}

	// Native SOL movements from pre/post lamport deltas.
	for i := range meta.PostBalances {
		if i >= len(meta.PreBalances) || i >= len(accountKeys) {
			break
		}
		delta := new(big.Int).Sub(
			new(big.Int).SetUint64(meta.PostBalances[i]),
			new(big.Int).SetUint64(meta.PreBalances[i]),
		)
		if i == 0 {
			delta.Add(delta, new(big.Int).SetUint64(meta.Fee))
		}
		if delta.Sign() == 0 {
			continue
		}
		mv := Movement{
			Address: accountKeys[i].String(),
			Asset:   nativeRef,
			Amount:  formatAmount(new(big.Int).Abs(delta), nativeDecimals),
			Unit:    nativeUnit,
		}
		if delta.Sign() < 0 {
			txn.From = append(txn.From, mv)
		} else {
			txn.To = append(txn.To, mv)
		}
	}

	// Token movements from pre/post token balance deltas, keyed by the
	// token account index.
	type tokenState struct {
		mint     string
		owner    string
		decimals uint8
		pre      *big.Int
		post     *big.Int
	}
	states := make(map[uint16]*tokenState)
	record := func(tb rpc.TokenBalance, post bool) {
		if tb.UiTokenAmount == nil {
			return
		}
		amount, ok := new(big.Int).SetString(tb.UiTokenAmount.Amount, 10)
		if !ok {
			return
		}
		st := states[tb.AccountIndex]
		if st == nil {
			st = &tokenState{
				mint:     tb.Mint.String(),
				decimals: tb.UiTokenAmount.Decimals,
				pre:      new(big.Int),
				post:     new(big.Int),
			}
			states[tb.AccountIndex] = st
		}
		if tb.Owner != nil {
			st.owner = tb.Owner.String()
		}
		if post {
			st.post = amount
		} else {
			st.pre = amount
		}
	}
	for _, tb := range meta.PreTokenBalances {
		record(tb, false)
	}
	for _, tb := range meta.PostTokenBalances {
		record(tb, true)
	}

	// Emit in account-index order so the movement lists are deterministic.
	indices := make([]uint16, 0, len(states))
	for idx := range states {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	for _, idx := range indices {
		st := states[idx]
		delta := new(big.Int).Sub(st.post, st.pre)
		if delta.Sign() == 0 {
			continue
		}
		address := st.owner
		if address == "" && int(idx) < len(accountKeys) {
			address = accountKeys[idx].String()
		}
		ref := AssetRef{Fungible: true, Type: TokenAssetID(params.Network, st.mint)}
		mv := Movement{
			Address: address,
			Asset:   ref,
			Amount:  formatAmount(new(big.Int).Abs(delta), st.decimals),
			Unit:    assetUnit(params.Metadata, ref.Type, st.mint),
		}
		if delta.Sign() < 0 {
			txn.From = append(txn.From, mv)
		} else {
			txn.To = append(txn.To, mv)
		}
	}

	txn.Type = classifyType(txn, params.Account.Address)

	return txn, nil
}

func mapStatus(raw *rpc.GetTransactionResult, info SignatureInfo) TransactionStatus {
	if raw.Meta != nil && raw.Meta.Err != nil {
		return StatusFailed
	}
	if info.Err != nil {
		return StatusFailed
	}
	if info.ConfirmationStatus == "finalized" {
		return StatusFinalized
	}
	return StatusConfirmed
}

func mapTimestamp(raw *rpc.GetTransactionResult, info SignatureInfo) time.Time {
	if raw.BlockTime != nil {
		return raw.BlockTime.Time()
	}
	return info.BlockTime
}

// classifyType labels the transaction send/receive relative to the owning
// account address.
func classifyType(txn *Transaction, address string) TransactionType {
	for _, m := range txn.From {
		if m.Address == address {
			return TypeSend
		}
	}
	for _, m := range txn.To {
		if m.Address == address {
			return TypeReceive
		}
	}
	return TypeUnknown
}

// assetUnit returns the resolved symbol for an asset id, or fallback when
// the metadata batch has no entry for it.
func assetUnit(metadata map[AssetID]*AssetMetadata, id AssetID, fallback string) string {
	if md, ok := metadata[id]; ok && md != nil && md.Symbol != "" {
		return md.Symbol
	}
	return fallback
}

// formatAmount renders a raw integer amount as a decimal string with the
// given number of fractional digits, trailing zeros trimmed.
func formatAmount(v *big.Int, decimals uint8) string {
	if decimals == 0 {
		return v.String()
	}
	s := v.String()
	if len(s) <= int(decimals) {
		s = strings.Repeat("0", int(decimals)-len(s)+1) + s
	}
	cut := len(s) - int(decimals)
	intPart, fracPart := s[:cut], s[cut:]
	fracPart = strings.TrimRight(fracPart, "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}
