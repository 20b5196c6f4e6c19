package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/kestrelhq/solsync/service/txsync"
)

// Account represents a registered account the server is synchronizing.
type Account struct {
	ID      string   `json:"id"`
	Address string   `json:"address"`
	Scopes  []string `json:"scopes"`
}

// Client is the HTTP client for the solsync service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new sync service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Register tells the server to start synchronizing an account.
func (c *Client) Register(ctx context.Context, id, address string, scopes []string) (*Account, error) {
	reqBody := map[string]interface{}{
		"id":      id,
		"address": address,
		"scopes":  scopes,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/accounts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, c.parseErrorResponse(resp)
	}

	var account Account
	if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("account registered", "account", account.ID, "address", address)
	return &account, nil
}

// Unregister tells the server to stop synchronizing an account.
func (c *Client) Unregister(ctx context.Context, id string) error {
	u := fmt.Sprintf("%s/api/v1/accounts/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, "DELETE", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("account unregistered", "account", id)
	return nil
}

// Get retrieves one registered account.
func (c *Client) Get(ctx context.Context, id string) (*Account, error) {
	u := fmt.Sprintf("%s/api/v1/accounts/%s", c.baseURL, url.PathEscape(id))
	var account Account
	if err := c.getJSON(ctx, u, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// List retrieves all registered accounts.
func (c *Client) List(ctx context.Context) ([]*Account, error) {
	var accounts []*Account
	if err := c.getJSON(ctx, c.baseURL+"/api/v1/accounts", &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Transactions retrieves an account's canonical transactions, newest first.
func (c *Client) Transactions(ctx context.Context, id string) ([]*txsync.Transaction, error) {
	u := fmt.Sprintf("%s/api/v1/accounts/%s/transactions", c.baseURL, url.PathEscape(id))
	var txns []*txsync.Transaction
	if err := c.getJSON(ctx, u, &txns); err != nil {
		return nil, err
	}
	return txns, nil
}

// Sync asks the server to run an immediate sync pass for the account.
func (c *Client) Sync(ctx context.Context, id string) error {
	u := fmt.Sprintf("%s/api/v1/accounts/%s/sync", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, "POST", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("sync requested", "account", id)
	return nil
}

// SendLifecycleEvent forwards a transaction lifecycle notification.
func (c *Client) SendLifecycleEvent(ctx context.Context, event string, params any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	body, err := json.Marshal(map[string]json.RawMessage{
		"event":  json.RawMessage(fmt.Sprintf("%q", event)),
		"params": rawParams,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return c.parseErrorResponse(resp)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse extracts the error message from a failed response.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
