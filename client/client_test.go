package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/accounts", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "my-account", req["id"])
		assert.Equal(t, "addr1", req["address"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Account{ID: "my-account", Address: "addr1", Scopes: []string{"mainnet"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	account, err := c.Register(context.Background(), "my-account", "addr1", []string{"mainnet"})
	require.NoError(t, err)

	assert.Equal(t, "my-account", account.ID)
	assert.Equal(t, "addr1", account.Address)
	assert.Equal(t, []string{"mainnet"}, account.Scopes)
}

func TestRegister_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid address format"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	_, err := c.Register(context.Background(), "", "0OIl", []string{"mainnet"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "invalid address format")
}

func TestUnregister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/v1/accounts/my-account", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	assert.NoError(t, c.Unregister(context.Background(), "my-account"))
}

func TestList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/accounts", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]Account{
			{ID: "a1", Address: "addr1", Scopes: []string{"mainnet"}},
			{ID: "a2", Address: "addr2", Scopes: []string{"devnet"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	accounts, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "a1", accounts[0].ID)
	assert.Equal(t, "a2", accounts[1].ID)
}

func TestTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/accounts/a1/transactions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"sig-1","account":"a1","chain":"mainnet","status":"finalized","type":"receive","slot":100}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	txns, err := c.Transactions(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "sig-1", txns[0].ID)
	assert.Equal(t, uint64(100), txns[0].Slot)
}

func TestSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/accounts/a1/sync", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	assert.NoError(t, c.Sync(context.Background(), "a1"))
}

func TestSendLifecycleEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/events", r.URL.Path)

		var req struct {
			Event  string          `json:"event"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "transactionSubmitted", req.Event)
		assert.JSONEq(t, `{"accountId":"a1","signature":"sig"}`, string(req.Params))

		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	err := c.SendLifecycleEvent(context.Background(), "transactionSubmitted",
		map[string]string{"accountId": "a1", "signature": "sig"})
	assert.NoError(t, err)
}

func TestErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	_, err := c.Get(context.Background(), "a1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server returned 500")
}
