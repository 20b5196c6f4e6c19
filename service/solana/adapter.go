package solana

import (
	"context"

	"github.com/gagliardetto/solana-go/rpc"

	"github.com/kestrelhq/solsync/service/txsync"
)

// ChainAdapter adapts Client to the sync engine's ChainClient interface,
// tagging signature results with their network.
type ChainAdapter struct {
	client *Client
}

// NewChainAdapter wraps a Client for use by the sync engine.
func NewChainAdapter(client *Client) *ChainAdapter {
	return &ChainAdapter{client: client}
}

func (a *ChainAdapter) ListSignatures(ctx context.Context, network txsync.Network, address string, limit int, until string) ([]txsync.SignatureInfo, error) {
	results, err := a.client.ListSignatures(ctx, string(network), address, limit, until)
	if err != nil {
		return nil, err
	}

	infos := make([]txsync.SignatureInfo, 0, len(results))
	for _, r := range results {
		infos = append(infos, txsync.SignatureInfo{
			Network:            network,
			Signature:          r.Signature,
			Slot:               r.Slot,
			BlockTime:          r.BlockTime,
			ConfirmationStatus: r.ConfirmationStatus,
			Err:                r.Err,
			Memo:               r.Memo,
		})
	}
	return infos, nil
}

func (a *ChainAdapter) FetchTransaction(ctx context.Context, network txsync.Network, signature string) (*rpc.GetTransactionResult, error) {
	return a.client.FetchTransaction(ctx, string(network), signature)
}
