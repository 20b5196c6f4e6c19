package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kestrelhq/solsync/service/txsync"
)

// DefaultRegistryURL is the public token registry used when no override is
// configured.
const DefaultRegistryURL = "https://tokens.jup.ag"

// RegistryResolver resolves token metadata from an HTTP token registry.
// One batched request is made per Resolve call.
type RegistryResolver struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRegistryResolver creates a resolver against the given registry base URL.
func NewRegistryResolver(baseURL string, logger *slog.Logger) *RegistryResolver {
	if baseURL == "" {
		baseURL = DefaultRegistryURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistryResolver{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// registryToken is one entry of the registry's token listing response.
type registryToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Resolve fetches metadata for the given token asset ids in one request.
// Ids the registry does not know map to nil; native ids are ignored since
// the assets service answers those itself.
func (r *RegistryResolver) Resolve(ctx context.Context, ids []txsync.AssetID) (map[txsync.AssetID]*txsync.AssetMetadata, error) {
	out := make(map[txsync.AssetID]*txsync.AssetMetadata, len(ids))

	// The registry is keyed by mint, so collapse ids down to their mints
	// and remember which ids each mint answers.
	idsByMint := make(map[string][]txsync.AssetID)
	mints := make([]string, 0, len(ids))
	for _, id := range ids {
		mint, ok := mintFromAssetID(id)
		if !ok {
			continue
		}
		if _, seen := idsByMint[mint]; !seen {
			mints = append(mints, mint)
		}
		idsByMint[mint] = append(idsByMint[mint], id)
		out[id] = nil
	}
	if len(mints) == 0 {
		return out, nil
	}

	reqURL := fmt.Sprintf("%s/tokens?mints=%s", r.baseURL, url.QueryEscape(strings.Join(mints, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("registry returned %d: %s", resp.StatusCode, string(body))
	}

	var tokens []registryToken
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("failed to decode registry response: %w", err)
	}

	for _, t := range tokens {
		for _, id := range idsByMint[t.Address] {
			out[id] = &txsync.AssetMetadata{
				Symbol:   t.Symbol,
				Decimals: t.Decimals,
			}
		}
	}

	r.logger.DebugContext(ctx, "resolved token metadata",
		"requested", len(mints),
		"resolved", len(tokens),
	)

	return out, nil
}

// mintFromAssetID extracts the mint from a token asset id. Returns false for
// native or malformed ids.
func mintFromAssetID(id txsync.AssetID) (string, bool) {
	_, ref, ok := strings.Cut(string(id), "/token:")
	if !ok || ref == "" {
		return "", false
	}
	return ref, true
}
