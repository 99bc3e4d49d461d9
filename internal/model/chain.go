package model

import "strings"

// Chain is one enabled-chain configuration row from the transactional store.
// Immutable at runtime after load.
type Chain struct {
	ChainID             uint64   `json:"chain_id"`
	Name                string   `json:"name"`
	Enabled             bool     `json:"enabled"`
	HypersyncURL        string   `json:"hypersync_url"`
	RPCURL              string   `json:"rpc_url"`
	NativeTokenAddress  string   `json:"native_token_address"`
	NativeTokenDecimals uint8    `json:"native_token_decimals"`
	NativeTokenSymbol   string   `json:"native_token_symbol"`
	StableTokenAddress  string   `json:"stable_token_address"`
	StableTokenDecimals uint8    `json:"stable_token_decimals"`
	StablePoolAddress   string   `json:"stable_pool_address"`
	Stablecoins         []string `json:"stablecoins"`
	MajorTokens         []string `json:"major_tokens"`
	Factories           []string `json:"factories"`
}

// ChainTokens answers token-classification questions for one chain. All
// addresses are normalized to lowercase at construction so lookups are plain
// map hits on the hot path.
type ChainTokens struct {
	wrappedNative string
	stablePool    string
	stablecoins   map[string]struct{}
	majorTokens   map[string]struct{}
	factories     map[string]struct{}
}

// NewChainTokens builds the lookup helper from a chain config row.
func NewChainTokens(c *Chain) *ChainTokens {
	ct := &ChainTokens{
		wrappedNative: strings.ToLower(c.NativeTokenAddress),
		stablePool:    strings.ToLower(c.StablePoolAddress),
		stablecoins:   make(map[string]struct{}, len(c.Stablecoins)+1),
		majorTokens:   make(map[string]struct{}, len(c.MajorTokens)),
		factories:     make(map[string]struct{}, len(c.Factories)),
	}
	for _, s := range c.Stablecoins {
		ct.stablecoins[strings.ToLower(s)] = struct{}{}
	}
	if c.StableTokenAddress != "" {
		ct.stablecoins[strings.ToLower(c.StableTokenAddress)] = struct{}{}
	}
	for _, m := range c.MajorTokens {
		ct.majorTokens[strings.ToLower(m)] = struct{}{}
	}
	for _, f := range c.Factories {
		ct.factories[strings.ToLower(f)] = struct{}{}
	}
	return ct
}

// WrappedNative returns the wrapped native token address.
func (ct *ChainTokens) WrappedNative() string { return ct.wrappedNative }

// IsWrappedNative reports whether token is the chain's wrapped native token.
func (ct *ChainTokens) IsWrappedNative(token string) bool {
	return strings.ToLower(token) == ct.wrappedNative
}

// IsStable reports whether token is a configured stablecoin.
func (ct *ChainTokens) IsStable(token string) bool {
	_, ok := ct.stablecoins[strings.ToLower(token)]
	return ok
}

// IsMajor reports whether token is a configured major routing token.
func (ct *ChainTokens) IsMajor(token string) bool {
	_, ok := ct.majorTokens[strings.ToLower(token)]
	return ok
}

// IsStablePool reports whether address is the native/stable reference pool.
func (ct *ChainTokens) IsStablePool(address string) bool {
	return ct.stablePool != "" && strings.ToLower(address) == ct.stablePool
}

// AllowedFactory reports whether a pool-creation log may be indexed. An empty
// factory list allows everything.
func (ct *ChainTokens) AllowedFactory(address string) bool {
	if len(ct.factories) == 0 {
		return true
	}
	_, ok := ct.factories[strings.ToLower(address)]
	return ok
}

// Whitelisted reports whether a token can anchor USD volume tracking:
// stablecoins, the wrapped native token, and major tokens qualify.
func (ct *ChainTokens) Whitelisted(token string) bool {
	return ct.IsStable(token) || ct.IsWrappedNative(token) || ct.IsMajor(token)
}

// QuotePriority ranks a token for base/quote detection. Higher priority
// becomes the quote token: stable > native > major > generic.
func (ct *ChainTokens) QuotePriority(token string) int {
	switch {
	case ct.IsStable(token):
		return 3
	case ct.IsWrappedNative(token):
		return 2
	case ct.IsMajor(token):
		return 1
	default:
		return 0
	}
}
