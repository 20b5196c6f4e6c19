package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/kestrelhq/solsync/service/db"
	"github.com/kestrelhq/solsync/service/txsync"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for account registration
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
)

// Valid Solana address characters: base58 (no 0, O, I, l)
var validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

// Store defines the database operations needed by handlers.
// This allows for easy mocking in tests.
type Store interface {
	txsync.AccountStore
	txsync.TransactionStore
	CreateAccount(ctx context.Context, account *txsync.Account) error
	DeleteAccount(ctx context.Context, id string) error
}

// LifecycleSender forwards lifecycle notifications into the worker.
type LifecycleSender interface {
	SignalLifecycleEvent(ctx context.Context, event txsync.LifecycleEvent, params json.RawMessage) error
}

type createAccountRequest struct {
	ID      string   `json:"id,omitempty"`
	Address string   `json:"address"`
	Scopes  []string `json:"scopes"`
}

type accountResponse struct {
	ID      string   `json:"id"`
	Address string   `json:"address"`
	Scopes  []string `json:"scopes"`
}

func accountToResponse(account *txsync.Account) accountResponse {
	scopes := make([]string, len(account.Scopes))
	for i, scope := range account.Scopes {
		scopes[i] = string(scope)
	}
	return accountResponse{
		ID:      account.ID,
		Address: account.Address,
		Scopes:  scopes,
	}
}

// handleCreateAccount returns a handler that registers an account for
// synchronization and kicks off its first sync pass.
// POST /api/v1/accounts
func handleCreateAccount(store Store, scheduler txsync.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req createAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.Address); err != nil {
			logger.Debug("invalid address", "address", req.Address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		scopes, err := validateScopes(req.Scopes)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		account := &txsync.Account{
			ID:      req.ID,
			Address: req.Address,
			Scopes:  scopes,
		}
		if account.ID == "" {
			account.ID = req.Address
		}

		if err := store.CreateAccount(r.Context(), account); err != nil {
			if errors.Is(err, db.ErrAlreadyExists) {
				writeError(w, "account already exists", http.StatusConflict)
				return
			}
			logger.Error("failed to create account", "account", account.ID, "error", err)
			writeError(w, "failed to create account", http.StatusInternalServerError)
			return
		}

		// Kick off the first sync pass. Failure here is not fatal: the
		// account is picked up by the next unattended refresh regardless.
		if err := scheduleSync(r.Context(), scheduler, account.ID, 0); err != nil {
			logger.Warn("failed to schedule initial sync", "account", account.ID, "error", err)
		}

		logger.Info("account registered", "account", account.ID, "address", account.Address)
		writeJSON(w, accountToResponse(account), http.StatusCreated)
	})
}

// handleListAccounts returns a handler that lists all registered accounts.
// GET /api/v1/accounts
func handleListAccounts(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accounts, err := store.ListAccounts(r.Context())
		if err != nil {
			logger.Error("failed to list accounts", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]accountResponse, len(accounts))
		for i, account := range accounts {
			resp[i] = accountToResponse(account)
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleGetAccount returns a handler that retrieves one account.
// GET /api/v1/accounts/{id}
func handleGetAccount(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		account, err := store.GetAccount(r.Context(), id)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "account not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get account", "account", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, accountToResponse(account), http.StatusOK)
	})
}

// handleDeleteAccount returns a handler that unregisters an account.
// DELETE /api/v1/accounts/{id}
func handleDeleteAccount(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		if err := store.DeleteAccount(r.Context(), id); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "account not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to delete account", "account", id, "error", err)
			writeError(w, "failed to delete account", http.StatusInternalServerError)
			return
		}

		logger.Info("account unregistered", "account", id)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleListTransactions returns a handler that lists an account's
// transactions, newest first.
// GET /api/v1/accounts/{id}/transactions
func handleListTransactions(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		if _, err := store.GetAccount(r.Context(), id); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "account not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get account", "account", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		txns, err := store.FindByAccountID(r.Context(), id)
		if err != nil {
			logger.Error("failed to list transactions", "account", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if txns == nil {
			txns = []*txsync.Transaction{}
		}

		writeJSON(w, txns, http.StatusOK)
	})
}

// handleSyncAccount returns a handler that kicks off an immediate sync pass
// for one account.
// POST /api/v1/accounts/{id}/sync
func handleSyncAccount(store Store, scheduler txsync.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		if _, err := store.GetAccount(r.Context(), id); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "account not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get account", "account", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if err := scheduleSync(r.Context(), scheduler, id, 0); err != nil {
			logger.Error("failed to schedule sync", "account", id, "error", err)
			writeError(w, "failed to schedule sync", http.StatusInternalServerError)
			return
		}

		logger.Info("sync scheduled", "account", id)
		writeJSON(w, map[string]string{"status": "scheduled"}, http.StatusAccepted)
	})
}

type lifecycleEventRequest struct {
	Event  string          `json:"event"`
	Params json.RawMessage `json:"params"`
}

// handleLifecycleEvent returns a handler that ingests one transaction
// lifecycle notification and forwards it to the worker.
// POST /api/v1/events
func handleLifecycleEvent(sender LifecycleSender, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sender == nil {
			writeError(w, "lifecycle events not configured", http.StatusServiceUnavailable)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req lifecycleEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Event == "" {
			writeError(w, "event is required", http.StatusBadRequest)
			return
		}

		if err := sender.SignalLifecycleEvent(r.Context(), txsync.LifecycleEvent(req.Event), req.Params); err != nil {
			logger.Error("failed to forward lifecycle event", "event", req.Event, "error", err)
			writeError(w, "failed to process event", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]string{"status": "accepted"}, http.StatusAccepted)
	})
}

func scheduleSync(ctx context.Context, scheduler txsync.Scheduler, accountID string, delay time.Duration) error {
	params, err := json.Marshal(map[string]string{"account_id": accountID})
	if err != nil {
		return err
	}
	return scheduler.ScheduleOnce(ctx, txsync.Task{
		Method: txsync.TaskSynchronizeAccount,
		Params: params,
	}, delay)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates an account address for format and length.
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address is required")
	}
	if len(address) > maxAddressLength {
		return fmt.Errorf("address too long: maximum length is %d characters", maxAddressLength)
	}
	if !validAddressRegex.MatchString(address) {
		return fmt.Errorf("invalid address format: must contain only valid base58 characters")
	}
	return nil
}

// validateScopes validates the requested networks.
func validateScopes(scopes []string) ([]txsync.Network, error) {
	if len(scopes) == 0 {
		return nil, fmt.Errorf("at least one scope is required")
	}
	out := make([]txsync.Network, len(scopes))
	for i, scope := range scopes {
		if scope != string(txsync.NetworkMainnet) && scope != string(txsync.NetworkDevnet) {
			return nil, fmt.Errorf("invalid scope %q: must be 'mainnet' or 'devnet'", scope)
		}
		out[i] = txsync.Network(scope)
	}
	return out, nil
}
