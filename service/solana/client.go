package solana

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/kestrelhq/solsync/service/metrics"
)

// Well-known token program IDs.
var (
	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real nodes.
type RPCClient interface {
	GetSignaturesForAddressWithOpts(
		ctx context.Context,
		account solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)

	GetTokenAccountsByOwner(
		ctx context.Context,
		owner solana.PublicKey,
		conf *rpc.GetTokenAccountsConfig,
		opts *rpc.GetTokenAccountsOpts,
	) (*rpc.GetTokenAccountsResult, error)
}

// Client provides domain-level access to one or more Solana networks.
// Each network name ("mainnet", "devnet") maps to its own RPC client.
type Client struct {
	rpcs    map[string]RPCClient
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewClient creates a new multi-network Solana client.
// If m is nil, no metrics will be recorded.
func NewClient(rpcs map[string]RPCClient, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpcs:    rpcs,
		metrics: m,
		logger:  logger,
	}
}

// NewClientFromEndpoints builds a Client from network name -> RPC URL.
func NewClientFromEndpoints(endpoints map[string]string, m *metrics.Metrics, logger *slog.Logger) *Client {
	rpcs := make(map[string]RPCClient, len(endpoints))
	for network, url := range endpoints {
		rpcs[network] = rpc.New(url)
	}
	return NewClient(rpcs, m, logger)
}

func (c *Client) rpcFor(network string) (RPCClient, error) {
	client, ok := c.rpcs[network]
	if !ok {
		return nil, fmt.Errorf("no RPC client configured for network %q", network)
	}
	return client, nil
}

// ListSignatures returns up to limit signatures for the address, newest
// first. A non-empty until signature bounds the listing so the node stops
// paginating once it reaches that signature.
func (c *Client) ListSignatures(ctx context.Context, network, address string, limit int, until string) ([]SignatureResult, error) {
	client, err := c.rpcFor(network)
	if err != nil {
		return nil, err
	}

	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}

	opts := &rpc.GetSignaturesForAddressOpts{
		Limit: &limit,
	}
	if until != "" {
		untilSig, err := solana.SignatureFromBase58(until)
		if err != nil {
			return nil, fmt.Errorf("invalid until signature %q: %w", until, err)
		}
		opts.Until = untilSig
	}

	start := time.Now()
	signatures, err := client.GetSignaturesForAddressWithOpts(ctx, pubkey, opts)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordRPCCall("getSignaturesForAddress", status, network, duration)
		if err == nil {
			c.metrics.RecordSignaturesPerCall(network, float64(len(signatures)))
		}
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"address", address,
			"network", network,
			"error", err,
		)
		return nil, err
	}

	results := make([]SignatureResult, 0, len(signatures))
	for _, sig := range signatures {
		results = append(results, signatureToDomain(sig))
	}

	c.logger.DebugContext(ctx, "listed signatures",
		"address", address,
		"network", network,
		"limit", limit,
		"until", until,
		"count", len(results),
	)

	return results, nil
}

// FetchTransaction fetches one full transaction with versioned-transaction
// support. Rate-limit responses are retried with exponential backoff.
// Returns nil, nil when the node no longer has the transaction.
func (c *Client) FetchTransaction(ctx context.Context, network, signature string) (*rpc.GetTransactionResult, error) {
	client, err := c.rpcFor(network)
	if err != nil {
		return nil, err
	}

	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	const maxAttempts = 3
	var result *rpc.GetTransactionResult
	for attempt := range maxAttempts {
		start := time.Now()
		result, err = client.GetTransaction(ctx, sig, opts)
		duration := time.Since(start).Seconds()

		status := "success"
		if err != nil {
			status = "error"
		}
		if c.metrics != nil {
			c.metrics.RecordRPCCall("getTransaction", status, network, duration)
		}

		if err == nil {
			return result, nil
		}

		if strings.Contains(err.Error(), "not found") {
			return nil, nil
		}

		// 429s get a longer backoff than transient errors.
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		if strings.Contains(err.Error(), "429") {
			backoff = time.Duration(2<<uint(attempt)) * time.Second
		}
		c.logger.WarnContext(ctx, "getTransaction failed, backing off",
			"signature", signature,
			"network", network,
			"attempt", attempt+1,
			"backoff_seconds", backoff.Seconds(),
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, err
}

// ListTokenAccountsByOwner enumerates the owner's token accounts under both
// the SPL Token and Token-2022 programs.
func (c *Client) ListTokenAccountsByOwner(ctx context.Context, network, owner string) ([]TokenAccount, error) {
	client, err := c.rpcFor(network)
	if err != nil {
		return nil, err
	}

	pubkey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return nil, fmt.Errorf("invalid owner %q: %w", owner, err)
	}

	var accounts []TokenAccount
	for _, program := range []solana.PublicKey{TokenProgramID, Token2022ProgramID} {
		start := time.Now()
		out, err := client.GetTokenAccountsByOwner(ctx, pubkey,
			&rpc.GetTokenAccountsConfig{ProgramId: &program},
			&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingBase64},
		)
		duration := time.Since(start).Seconds()

		status := "success"
		if err != nil {
			status = "error"
		}
		if c.metrics != nil {
			c.metrics.RecordRPCCall("getTokenAccountsByOwner", status, network, duration)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get token accounts for program %s: %w", program, err)
		}

		for _, ta := range out.Value {
			var decoded token.Account
			if err := bin.NewBinDecoder(ta.Account.Data.GetBinary()).Decode(&decoded); err != nil {
				c.logger.WarnContext(ctx, "failed to decode token account, skipping",
					"token_account", ta.Pubkey.String(),
					"network", network,
					"error", err,
				)
				continue
			}
			accounts = append(accounts, TokenAccount{
				Address: ta.Pubkey.String(),
				Mint:    decoded.Mint.String(),
				Program: program.String(),
			})
		}
	}

	c.logger.DebugContext(ctx, "listed token accounts",
		"owner", owner,
		"network", network,
		"count", len(accounts),
	)

	return accounts, nil
}

// signatureToDomain converts an RPC TransactionSignature to our domain model.
func signatureToDomain(sig *rpc.TransactionSignature) SignatureResult {
	result := SignatureResult{
		Signature:          sig.Signature.String(),
		Slot:               sig.Slot,
		ConfirmationStatus: string(sig.ConfirmationStatus),
		Memo:               sig.Memo,
	}

	if sig.BlockTime != nil {
		result.BlockTime = sig.BlockTime.Time()
	}

	if sig.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", sig.Err)
		result.Err = &errMsg
	}

	return result
}
