package model

import "time"

// Token is the per-chain ERC20 record maintained in the transactional store.
type Token struct {
	ChainID  uint64 `json:"chain_id"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`

	// MetadataOK is false when the contract did not answer the ERC20
	// metadata calls; such tokens render with 18 decimals but are never
	// part of USD volume math.
	MetadataOK bool `json:"metadata_ok"`

	PriceUSD       float64   `json:"price_usd"`
	PriceUpdatedAt time.Time `json:"price_updated_at"`
	PriceChange24h float64   `json:"price_change_24h"`
	PriceChange7d  float64   `json:"price_change_7d"`

	Volume24h float64 `json:"volume_24h"`
	Swaps24h  uint64  `json:"swaps_24h"`
	PoolCount uint32  `json:"pool_count"`

	CirculatingSupply float64 `json:"circulating_supply"`
	MarketCapUSD      float64 `json:"market_cap_usd"`

	FirstSeenBlock uint64    `json:"first_seen_block"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// DisplayDecimals returns the decimals to use for adjusted amounts. Tokens
// without metadata fall back to 18 for display only.
func (t *Token) DisplayDecimals() uint8 {
	if !t.MetadataOK {
		return 18
	}
	return t.Decimals
}
