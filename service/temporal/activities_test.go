package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/solsync/service/txsync"
)

type MockCoordinator struct {
	mock.Mock
}

func (m *MockCoordinator) OnAccountsRefresh(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockCoordinator) RefreshDelay(ctx context.Context) (time.Duration, error) {
	args := m.Called(ctx)
	return args.Get(0).(time.Duration), args.Error(1)
}

func (m *MockCoordinator) HandleLifecycleEvent(ctx context.Context, event txsync.LifecycleEvent, params json.RawMessage) error {
	return m.Called(ctx, event, params).Error(0)
}

type MockSyncService struct {
	mock.Mock
}

func (m *MockSyncService) Synchronize(ctx context.Context, account *txsync.Account) ([]*txsync.Transaction, error) {
	args := m.Called(ctx, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*txsync.Transaction), args.Error(1)
}

type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) GetAccount(ctx context.Context, id string) (*txsync.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*txsync.Account), args.Error(1)
}

func TestRefreshAccounts(t *testing.T) {
	coordinator := new(MockCoordinator)
	coordinator.On("OnAccountsRefresh", mock.Anything).Return(nil)

	a := NewActivities(coordinator, new(MockSyncService), new(MockAccountStore), nil, nil)
	result, err := a.RefreshAccounts(context.Background())
	require.NoError(t, err)
	assert.False(t, result.RefreshedAt.IsZero())
	coordinator.AssertExpectations(t)
}

func TestRefreshAccounts_Error(t *testing.T) {
	coordinator := new(MockCoordinator)
	coordinator.On("OnAccountsRefresh", mock.Anything).Return(errors.New("db down"))

	a := NewActivities(coordinator, new(MockSyncService), new(MockAccountStore), nil, nil)
	_, err := a.RefreshAccounts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accounts refresh failed")
}

func TestNextRefreshDelay(t *testing.T) {
	coordinator := new(MockCoordinator)
	coordinator.On("RefreshDelay", mock.Anything).Return(42*time.Minute, nil)

	a := NewActivities(coordinator, new(MockSyncService), new(MockAccountStore), nil, nil)
	delay, err := a.NextRefreshDelay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42*time.Minute, delay)
	coordinator.AssertExpectations(t)
}

func TestNextRefreshDelay_Error(t *testing.T) {
	coordinator := new(MockCoordinator)
	coordinator.On("RefreshDelay", mock.Anything).Return(time.Duration(0), errors.New("state unavailable"))

	a := NewActivities(coordinator, new(MockSyncService), new(MockAccountStore), nil, nil)
	_, err := a.NextRefreshDelay(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "next refresh delay")
}

func TestSynchronizeAccount(t *testing.T) {
	sync := new(MockSyncService)
	accounts := new(MockAccountStore)

	account := &txsync.Account{ID: "acct-1", Address: "addr1", Scopes: []txsync.Network{txsync.NetworkMainnet}}
	accounts.On("GetAccount", mock.Anything, "acct-1").Return(account, nil)
	sync.On("Synchronize", mock.Anything, account).
		Return([]*txsync.Transaction{{ID: "sig-1"}, {ID: "sig-2"}}, nil)

	a := NewActivities(new(MockCoordinator), sync, accounts, nil, nil)
	result, err := a.SynchronizeAccount(context.Background(), SynchronizeAccountInput{AccountID: "acct-1"})
	require.NoError(t, err)

	assert.Equal(t, "acct-1", result.AccountID)
	assert.Equal(t, 2, result.Fetched)
}

func TestSynchronizeAccount_UnknownAccount(t *testing.T) {
	accounts := new(MockAccountStore)
	accounts.On("GetAccount", mock.Anything, "ghost").Return(nil, errors.New("not found"))

	a := NewActivities(new(MockCoordinator), new(MockSyncService), accounts, nil, nil)
	_, err := a.SynchronizeAccount(context.Background(), SynchronizeAccountInput{AccountID: "ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestHandleLifecycleEvent(t *testing.T) {
	coordinator := new(MockCoordinator)
	params := json.RawMessage(`{"accountId":"a1","signature":"sig"}`)
	coordinator.On("HandleLifecycleEvent", mock.Anything, txsync.EventTransactionSubmitted, params).
		Return(nil)

	a := NewActivities(coordinator, new(MockSyncService), new(MockAccountStore), nil, nil)
	err := a.HandleLifecycleEvent(context.Background(), LifecycleEventInput{
		Event:  txsync.EventTransactionSubmitted,
		Params: params,
	})
	require.NoError(t, err)
	coordinator.AssertExpectations(t)
}
