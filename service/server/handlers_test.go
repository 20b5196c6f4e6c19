package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/solsync/service/db"
	"github.com/kestrelhq/solsync/service/txsync"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateAccount(ctx context.Context, account *txsync.Account) error {
	return m.Called(ctx, account).Error(0)
}

func (m *MockStore) DeleteAccount(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockStore) ListAccounts(ctx context.Context) ([]*txsync.Account, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*txsync.Account), args.Error(1)
}

func (m *MockStore) GetAccount(ctx context.Context, id string) (*txsync.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*txsync.Account), args.Error(1)
}

func (m *MockStore) GetAccountByAddress(ctx context.Context, address string) (*txsync.Account, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*txsync.Account), args.Error(1)
}

func (m *MockStore) FindByAccountID(ctx context.Context, accountID string) ([]*txsync.Transaction, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*txsync.Transaction), args.Error(1)
}

func (m *MockStore) SaveTransaction(ctx context.Context, txn *txsync.Transaction) (bool, error) {
	args := m.Called(ctx, txn)
	return args.Bool(0), args.Error(1)
}

type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) ScheduleOnce(ctx context.Context, task txsync.Task, delay time.Duration) error {
	return m.Called(ctx, task, delay).Error(0)
}

type MockLifecycleSender struct {
	mock.Mock
}

func (m *MockLifecycleSender) SignalLifecycleEvent(ctx context.Context, event txsync.LifecycleEvent, params json.RawMessage) error {
	return m.Called(ctx, event, params).Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newTestMux wires handlers under the same route patterns the server uses so
// path values resolve in tests.
func newTestMux(store Store, scheduler txsync.Scheduler, sender LifecycleSender) *http.ServeMux {
	logger := testLogger()
	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/accounts", handleCreateAccount(store, scheduler, logger))
	mux.Handle("GET /api/v1/accounts", handleListAccounts(store, logger))
	mux.Handle("GET /api/v1/accounts/{id}", handleGetAccount(store, logger))
	mux.Handle("DELETE /api/v1/accounts/{id}", handleDeleteAccount(store, logger))
	mux.Handle("GET /api/v1/accounts/{id}/transactions", handleListTransactions(store, logger))
	mux.Handle("POST /api/v1/accounts/{id}/sync", handleSyncAccount(store, scheduler, logger))
	mux.Handle("POST /api/v1/events", handleLifecycleEvent(sender, logger))
	return mux
}

const validAddr = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"

func TestHandleCreateAccount(t *testing.T) {
	store := new(MockStore)
	scheduler := new(MockScheduler)

	store.On("CreateAccount", mock.Anything, mock.MatchedBy(func(a *txsync.Account) bool {
		return a.ID == validAddr && a.Address == validAddr &&
			len(a.Scopes) == 1 && a.Scopes[0] == txsync.NetworkMainnet
	})).Return(nil)
	scheduler.On("ScheduleOnce", mock.Anything, mock.MatchedBy(func(task txsync.Task) bool {
		return task.Method == txsync.TaskSynchronizeAccount &&
			string(task.Params) == `{"account_id":"`+validAddr+`"}`
	}), mock.Anything).Return(nil)

	mux := newTestMux(store, scheduler, nil)
	body := bytes.NewBufferString(`{"address":"` + validAddr + `","scopes":["mainnet"]}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/accounts", body))

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp accountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, validAddr, resp.ID)
	assert.Equal(t, []string{"mainnet"}, resp.Scopes)
	store.AssertExpectations(t)
	scheduler.AssertExpectations(t)
}

func TestHandleCreateAccount_DuplicateIsConflict(t *testing.T) {
	store := new(MockStore)
	scheduler := new(MockScheduler)

	store.On("CreateAccount", mock.Anything, mock.Anything).Return(db.ErrAlreadyExists)

	mux := newTestMux(store, scheduler, nil)
	body := bytes.NewBufferString(`{"address":"` + validAddr + `","scopes":["mainnet"]}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/accounts", body))

	assert.Equal(t, http.StatusConflict, rec.Code)
	scheduler.AssertNotCalled(t, "ScheduleOnce", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleCreateAccount_ScheduleFailureIsNotFatal(t *testing.T) {
	store := new(MockStore)
	scheduler := new(MockScheduler)

	store.On("CreateAccount", mock.Anything, mock.Anything).Return(nil)
	scheduler.On("ScheduleOnce", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("temporal down"))

	mux := newTestMux(store, scheduler, nil)
	body := bytes.NewBufferString(`{"address":"` + validAddr + `","scopes":["mainnet"]}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/accounts", body))

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHandleCreateAccount_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{not json`},
		{"missing address", `{"scopes":["mainnet"]}`},
		{"non-base58 address", `{"address":"0OIl","scopes":["mainnet"]}`},
		{"missing scopes", `{"address":"` + validAddr + `"}`},
		{"unknown scope", `{"address":"` + validAddr + `","scopes":["testnet"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockStore)
			mux := newTestMux(store, new(MockScheduler), nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/accounts", bytes.NewBufferString(tt.body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			store.AssertNotCalled(t, "CreateAccount", mock.Anything, mock.Anything)
		})
	}
}

func TestHandleGetAccount_NotFound(t *testing.T) {
	store := new(MockStore)
	store.On("GetAccount", mock.Anything, "ghost").Return(nil, db.ErrNotFound)

	mux := newTestMux(store, new(MockScheduler), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/accounts/ghost", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDeleteAccount(t *testing.T) {
	store := new(MockStore)
	store.On("DeleteAccount", mock.Anything, "acct-1").Return(nil)

	mux := newTestMux(store, new(MockScheduler), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/accounts/acct-1", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	store.AssertExpectations(t)
}

func TestHandleListTransactions(t *testing.T) {
	store := new(MockStore)
	account := &txsync.Account{ID: "acct-1", Address: validAddr, Scopes: []txsync.Network{txsync.NetworkMainnet}}
	store.On("GetAccount", mock.Anything, "acct-1").Return(account, nil)
	store.On("FindByAccountID", mock.Anything, "acct-1").
		Return([]*txsync.Transaction{{ID: "sig-1", Account: "acct-1"}}, nil)

	mux := newTestMux(store, new(MockScheduler), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/accounts/acct-1/transactions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var txns []*txsync.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txns))
	require.Len(t, txns, 1)
	assert.Equal(t, "sig-1", txns[0].ID)
}

func TestHandleListTransactions_EmptyHistoryIsAnEmptyList(t *testing.T) {
	store := new(MockStore)
	account := &txsync.Account{ID: "acct-1", Address: validAddr, Scopes: []txsync.Network{txsync.NetworkMainnet}}
	store.On("GetAccount", mock.Anything, "acct-1").Return(account, nil)
	store.On("FindByAccountID", mock.Anything, "acct-1").Return(nil, nil)

	mux := newTestMux(store, new(MockScheduler), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/accounts/acct-1/transactions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandleSyncAccount(t *testing.T) {
	store := new(MockStore)
	scheduler := new(MockScheduler)

	account := &txsync.Account{ID: "acct-1", Address: validAddr, Scopes: []txsync.Network{txsync.NetworkMainnet}}
	store.On("GetAccount", mock.Anything, "acct-1").Return(account, nil)
	scheduler.On("ScheduleOnce", mock.Anything, mock.MatchedBy(func(task txsync.Task) bool {
		return task.Method == txsync.TaskSynchronizeAccount
	}), mock.Anything).Return(nil)

	mux := newTestMux(store, scheduler, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/accounts/acct-1/sync", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	scheduler.AssertExpectations(t)
}

func TestHandleSyncAccount_UnknownAccount(t *testing.T) {
	store := new(MockStore)
	scheduler := new(MockScheduler)
	store.On("GetAccount", mock.Anything, "ghost").Return(nil, db.ErrNotFound)

	mux := newTestMux(store, scheduler, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/accounts/ghost/sync", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	scheduler.AssertNotCalled(t, "ScheduleOnce", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleLifecycleEvent(t *testing.T) {
	sender := new(MockLifecycleSender)
	sender.On("SignalLifecycleEvent", mock.Anything, txsync.EventTransactionFinalized, mock.Anything).
		Return(nil)

	mux := newTestMux(new(MockStore), new(MockScheduler), sender)
	body := bytes.NewBufferString(`{"event":"transactionFinalized","params":{"accountId":"a1","transaction":{"id":"sig"}}}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events", body))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	sender.AssertExpectations(t)
}

func TestHandleLifecycleEvent_MissingEvent(t *testing.T) {
	mux := newTestMux(new(MockStore), new(MockScheduler), new(MockLifecycleSender))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString(`{"params":{}}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLifecycleEvent_NotConfigured(t *testing.T) {
	mux := newTestMux(new(MockStore), new(MockScheduler), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString(`{"event":"transactionSubmitted"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
