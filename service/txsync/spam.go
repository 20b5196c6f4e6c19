package txsync

import "math/big"

// dustThresholdLamports is the largest incoming native amount still treated
// as dust by the default classifier (0.00001 SOL).
const dustThresholdLamports = 10_000

// HeuristicClassifier is the default spam classifier. It flags the common
// airdrop-spray pattern: an incoming transaction the account did not send,
// carrying either a zero-amount token movement or a dust-sized native
// amount, fanned out to many recipients.
type HeuristicClassifier struct {
	// KnownMints whitelists token asset ids that are never spam.
	KnownMints map[AssetID]struct{}
}

// NewHeuristicClassifier returns a classifier with an empty whitelist.
func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{KnownMints: make(map[AssetID]struct{})}
}

func (c *HeuristicClassifier) IsSpam(account *Account, txn *Transaction) bool {
	// Anything the account itself sent is not spam.
	if txn.Type == TypeSend {
		return false
	}

	var incoming *Movement
	for i := range txn.To {
		if txn.To[i].Address == account.Address {
			incoming = &txn.To[i]
			break
		}
	}
	if incoming == nil {
		return false
	}

	if _, ok := c.KnownMints[incoming.Asset.Type]; ok {
		return false
	}

	// Wide fan-out with a tiny incoming amount is the airdrop-spray shape.
	wideFanOut := len(txn.To) >= 8

	if IsNativeAssetID(incoming.Asset.Type) {
		lamports, ok := parseAmount(incoming.Amount, nativeDecimals)
		if !ok {
			return false
		}
		return wideFanOut && lamports.Cmp(big.NewInt(dustThresholdLamports)) <= 0
	}

	// Zero-amount transfers of unknown mints exist purely to surface a
	// token name in wallet UIs.
	if incoming.Amount == "0" {
		return true
	}
	return false
}

// parseAmount converts a decimal string back to raw units.
func parseAmount(s string, decimals uint8) (*big.Int, bool) {
	intPart := s
	fracPart := ""
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			intPart, fracPart = s[:i], s[i+1:]
			break
		}
	}
	if len(fracPart) > int(decimals) {
		return nil, false
	}
	for len(fracPart) < int(decimals) {
		fracPart += "0"
	}
	v, ok := new(big.Int).SetString(intPart+fracPart, 10)
	return v, ok
}
