package model

import "time"

// PoolSnapshot is an hourly copy of pool state for historical charts.
type PoolSnapshot struct {
	ChainID          uint64    `json:"chain_id"`
	PoolAddress      string    `json:"pool_address"`
	Timestamp        time.Time `json:"timestamp"`
	Price            float64   `json:"price"`
	PriceUSD         float64   `json:"price_usd"`
	TVLUSD           float64   `json:"tvl_usd"`
	Reserve0Adjusted float64   `json:"reserve0_adjusted"`
	Reserve1Adjusted float64   `json:"reserve1_adjusted"`
	Liquidity        string    `json:"liquidity"`
	Volume24h        float64   `json:"volume_24h"`
	Swaps24h         uint64    `json:"swaps_24h"`
	Fee              uint32    `json:"fee"`
}

// TokenSnapshot is a daily copy of token state.
type TokenSnapshot struct {
	ChainID           uint64    `json:"chain_id"`
	TokenAddress      string    `json:"token_address"`
	Timestamp         time.Time `json:"timestamp"`
	PriceUSD          float64   `json:"price_usd"`
	Volume24h         float64   `json:"volume_24h"`
	Swaps24h          uint64    `json:"swaps_24h"`
	CirculatingSupply float64   `json:"circulating_supply"`
	MarketCapUSD      float64   `json:"market_cap_usd"`
	PoolCount         uint32    `json:"pool_count"`
}

// SnapshotPool copies the snapshot-relevant pool fields at time now.
func SnapshotPool(p *Pool, now time.Time) PoolSnapshot {
	return PoolSnapshot{
		ChainID:          p.ChainID,
		PoolAddress:      p.Address,
		Timestamp:        now,
		Price:            p.Price,
		PriceUSD:         p.PriceUSD,
		TVLUSD:           p.TVLUSD,
		Reserve0Adjusted: p.Reserve0Adjusted,
		Reserve1Adjusted: p.Reserve1Adjusted,
		Liquidity:        p.Liquidity,
		Volume24h:        p.Volume24h,
		Swaps24h:         p.Swaps24h,
		Fee:              p.Fee,
	}
}

// SnapshotToken copies the snapshot-relevant token fields at time now.
func SnapshotToken(t *Token, now time.Time) TokenSnapshot {
	return TokenSnapshot{
		ChainID:           t.ChainID,
		TokenAddress:      t.Address,
		Timestamp:         now,
		PriceUSD:          t.PriceUSD,
		Volume24h:         t.Volume24h,
		Swaps24h:          t.Swaps24h,
		CirculatingSupply: t.CirculatingSupply,
		MarketCapUSD:      t.MarketCapUSD,
		PoolCount:         t.PoolCount,
	}
}
