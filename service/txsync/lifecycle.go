package txsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInternal is the generic error surfaced to the host for lifecycle-event
// failures. Unlike the unattended refresh path, these are never swallowed:
// the host may retry or surface them.
var ErrInternal = errors.New("internal error")

// LifecycleEvent discriminates transaction lifecycle notifications.
type LifecycleEvent string

const (
	EventTransactionSubmitted LifecycleEvent = "transactionSubmitted"
	EventTransactionApproved  LifecycleEvent = "transactionApproved"
	EventTransactionFinalized LifecycleEvent = "transactionFinalized"
	EventTransactionRejected  LifecycleEvent = "transactionRejected"
)

// TransactionSubmittedParams is the payload for EventTransactionSubmitted.
type TransactionSubmittedParams struct {
	AccountID string `json:"accountId"`
	Signature string `json:"signature"`
}

func (p *TransactionSubmittedParams) Validate() error {
	if p.AccountID == "" {
		return fmt.Errorf("accountId is required")
	}
	if p.Signature == "" {
		return fmt.Errorf("signature is required")
	}
	return nil
}

// TransactionApprovedParams is the payload for EventTransactionApproved.
type TransactionApprovedParams struct {
	AccountID string `json:"accountId"`
}

func (p *TransactionApprovedParams) Validate() error {
	if p.AccountID == "" {
		return fmt.Errorf("accountId is required")
	}
	return nil
}

// TransactionRejectedParams is the payload for EventTransactionRejected.
type TransactionRejectedParams struct {
	AccountID string `json:"accountId"`
}

func (p *TransactionRejectedParams) Validate() error {
	if p.AccountID == "" {
		return fmt.Errorf("accountId is required")
	}
	return nil
}

// TransactionFinalizedParams is the payload for EventTransactionFinalized.
// The transaction is carried in full so the handler can resolve every
// locally-held account it touches.
type TransactionFinalizedParams struct {
	AccountID   string       `json:"accountId"`
	Transaction *Transaction `json:"transaction"`
}

func (p *TransactionFinalizedParams) Validate() error {
	if p.AccountID == "" {
		return fmt.Errorf("accountId is required")
	}
	if p.Transaction == nil {
		return fmt.Errorf("transaction is required")
	}
	if p.Transaction.ID == "" {
		return fmt.Errorf("transaction.id is required")
	}
	return nil
}

// HandleLifecycleEvent validates and dispatches one lifecycle event through
// the handler map. Validation failures and unknown accounts are fatal to
// the invocation and surface as ErrInternal.
func (c *RefreshCoordinator) HandleLifecycleEvent(ctx context.Context, event LifecycleEvent, params json.RawMessage) error {
	handlers := map[LifecycleEvent]func(context.Context, json.RawMessage) error{
		EventTransactionSubmitted: c.handleTransactionSubmitted,
		EventTransactionApproved:  c.handleTransactionApproved,
		EventTransactionFinalized: c.handleTransactionFinalized,
		EventTransactionRejected:  c.handleTransactionRejected,
	}

	handler, ok := handlers[event]
	if !ok {
		return fmt.Errorf("%w: unknown lifecycle event %q", ErrInternal, event)
	}
	return handler(ctx, params)
}

func (c *RefreshCoordinator) handleTransactionSubmitted(ctx context.Context, raw json.RawMessage) error {
	var params TransactionSubmittedParams
	if err := decodeParams(raw, &params); err != nil {
		return err
	}

	account, err := c.resolveAccount(ctx, params.AccountID)
	if err != nil {
		return err
	}

	return c.refreshInvolved(ctx, []*Account{account}, "transaction_submitted", map[string]any{
		"account_id": params.AccountID,
		"signature":  params.Signature,
	})
}

func (c *RefreshCoordinator) handleTransactionApproved(ctx context.Context, raw json.RawMessage) error {
	var params TransactionApprovedParams
	if err := decodeParams(raw, &params); err != nil {
		return err
	}

	account, err := c.resolveAccount(ctx, params.AccountID)
	if err != nil {
		return err
	}

	return c.refreshInvolved(ctx, []*Account{account}, "transaction_approved", map[string]any{
		"account_id": params.AccountID,
	})
}

func (c *RefreshCoordinator) handleTransactionRejected(ctx context.Context, raw json.RawMessage) error {
	var params TransactionRejectedParams
	if err := decodeParams(raw, &params); err != nil {
		return err
	}

	account, err := c.resolveAccount(ctx, params.AccountID)
	if err != nil {
		return err
	}

	return c.refreshInvolved(ctx, []*Account{account}, "transaction_rejected", map[string]any{
		"account_id": params.AccountID,
	})
}

// handleTransactionFinalized refreshes the union of the triggering account
// and every locally-held account the finalized transaction touches: one
// transaction can move funds between several owned accounts at once.
func (c *RefreshCoordinator) handleTransactionFinalized(ctx context.Context, raw json.RawMessage) error {
	var params TransactionFinalizedParams
	if err := decodeParams(raw, &params); err != nil {
		return err
	}

	account, err := c.resolveAccount(ctx, params.AccountID)
	if err != nil {
		return err
	}

	involved := []*Account{account}
	seen := map[string]struct{}{account.ID: {}}

	addresses := make([]string, 0, len(params.Transaction.From)+len(params.Transaction.To))
	for _, m := range params.Transaction.From {
		addresses = append(addresses, m.Address)
	}
	for _, m := range params.Transaction.To {
		addresses = append(addresses, m.Address)
	}

	for _, address := range addresses {
		owned, err := c.accounts.GetAccountByAddress(ctx, address)
		if err != nil {
			return fmt.Errorf("%w: failed to resolve account for address %s: %v", ErrInternal, address, err)
		}
		if owned == nil {
			continue
		}
		if _, ok := seen[owned.ID]; ok {
			continue
		}
		seen[owned.ID] = struct{}{}
		involved = append(involved, owned)
	}

	return c.refreshInvolved(ctx, involved, "transaction_finalized", map[string]any{
		"account_id": params.AccountID,
		"signature":  params.Transaction.ID,
		"accounts":   len(involved),
	})
}

// refreshInvolved runs the asset-then-transaction refresh pair for the
// involved accounts, in parallel with an independent analytics call.
// Refresh failures surface as ErrInternal; analytics failures only log.
func (c *RefreshCoordinator) refreshInvolved(ctx context.Context, accounts []*Account, event string, props map[string]any) error {
	analyticsDone := make(chan struct{})
	go func() {
		defer close(analyticsDone)
		if err := c.analytics.Track(ctx, event, props); err != nil {
			c.logger.WarnContext(ctx, "analytics tracking failed", "event", event, "error", err)
		}
	}()
	defer func() { <-analyticsDone }()

	// Asset refresh strictly precedes transaction refresh (shared
	// rate-limited upstream), but here failures are surfaced, not
	// swallowed: the host triggered this and may retry.
	if err := c.assetRefresher.RefreshAccountAssets(ctx, accounts); err != nil {
		c.logger.ErrorContext(ctx, "asset refresh failed", "event", event, "error", err)
		return fmt.Errorf("%w: asset refresh: %v", ErrInternal, err)
	}

	if err := c.refreshTransactions(ctx, accounts); err != nil {
		c.logger.ErrorContext(ctx, "transaction refresh failed", "event", event, "error", err)
		return fmt.Errorf("%w: transaction refresh: %v", ErrInternal, err)
	}

	return nil
}

func (c *RefreshCoordinator) resolveAccount(ctx context.Context, id string) (*Account, error) {
	account, err := c.accounts.GetAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: account %s not found: %v", ErrInternal, id, err)
	}
	if account == nil {
		return nil, fmt.Errorf("%w: account %s not found", ErrInternal, id)
	}
	return account, nil
}

func decodeParams(raw json.RawMessage, v interface{ Validate() error }) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: invalid event payload: %v", ErrInternal, err)
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%w: invalid event payload: %v", ErrInternal, err)
	}
	return nil
}
