package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrelhq/solsync/service/txsync"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when an insert collides with an existing row.
var ErrAlreadyExists = errors.New("already exists")

// uniqueViolation is the Postgres error code for unique constraint failures.
const uniqueViolation = "23505"

// Store provides database operations for the service. It implements the
// engine's AccountStore, TransactionStore and StateStore interfaces on top
// of a single pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the schema. All statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateAccount registers a new account for synchronization.
func (s *Store) CreateAccount(ctx context.Context, account *txsync.Account) error {
	scopes := make([]string, len(account.Scopes))
	for i, scope := range account.Scopes {
		scopes[i] = string(scope)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, address, scopes) VALUES ($1, $2, $3)`,
		account.ID, account.Address, scopes,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// DeleteAccount removes an account and, via cascade, its transactions.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAccounts returns all registered accounts.
func (s *Store) ListAccounts(ctx context.Context) ([]*txsync.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, address, scopes FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*txsync.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// GetAccount retrieves an account by id. Returns ErrNotFound when absent.
func (s *Store) GetAccount(ctx context.Context, id string) (*txsync.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, address, scopes FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return account, err
}

// GetAccountByAddress retrieves the account holding an on-chain address.
// Returns nil, nil when no local account holds it.
func (s *Store) GetAccountByAddress(ctx context.Context, address string) (*txsync.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, address, scopes FROM accounts WHERE address = $1`, address)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return account, err
}

func scanAccount(row pgx.Row) (*txsync.Account, error) {
	var account txsync.Account
	var scopes []string
	if err := row.Scan(&account.ID, &account.Address, &scopes); err != nil {
		return nil, err
	}
	account.Scopes = make([]txsync.Network, len(scopes))
	for i, scope := range scopes {
		account.Scopes[i] = txsync.Network(scope)
	}
	return &account, nil
}

// FindByAccountID returns the account's transactions, newest first.
func (s *Store) FindByAccountID(ctx context.Context, accountID string) ([]*txsync.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM transactions WHERE account_id = $1 ORDER BY block_time DESC, signature`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []*txsync.Transaction
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var txn txsync.Transaction
		if err := json.Unmarshal(payload, &txn); err != nil {
			return nil, fmt.Errorf("failed to decode transaction payload: %w", err)
		}
		txns = append(txns, &txn)
	}
	return txns, rows.Err()
}

// SaveTransaction persists one transaction. Returns false when the
// (account, signature) pair already exists; that is never an error.
func (s *Store) SaveTransaction(ctx context.Context, txn *txsync.Transaction) (bool, error) {
	payload, err := json.Marshal(txn)
	if err != nil {
		return false, fmt.Errorf("failed to encode transaction: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (account_id, signature, network, slot, block_time, payload)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (account_id, signature) DO NOTHING`,
		txn.Account, txn.ID, string(txn.Chain), int64(txn.Slot), txn.Timestamp, payload,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get decodes the state value for key into v. Returns false when unset.
func (s *Store) Get(ctx context.Context, key string, v any) (bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM sync_state WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read state %q: %w", key, err)
	}
	if err := json.Unmarshal(value, v); err != nil {
		return false, fmt.Errorf("failed to decode state %q: %w", key, err)
	}
	return true, nil
}

// Set writes the state value for key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode state %q: %w", key, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sync_state (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to write state %q: %w", key, err)
	}
	return nil
}
