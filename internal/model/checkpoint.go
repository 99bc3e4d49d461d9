package model

import "time"

// SyncCheckpoint records the last durably indexed block for a chain.
// Monotonically non-decreasing; a regression is an invariant violation.
type SyncCheckpoint struct {
	ChainID          uint64    `json:"chain_id"`
	LastIndexedBlock uint64    `json:"last_indexed_block"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CronCheckpoint guards a periodic job against double runs across restarts
// and racing instances.
type CronCheckpoint struct {
	JobName   string    `json:"job_name"`
	LastRunAt time.Time `json:"last_run_at"`
}

// NativeTokenPrice caches the USD price of a chain's native token, derived
// from the configured stable reference pool.
type NativeTokenPrice struct {
	ChainID   uint64    `json:"chain_id"`
	PriceUSD  float64   `json:"price_usd"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpdateFromStablePool rereads the native price from the reference pool's
// current state. The native token may sit on either side.
func (n *NativeTokenPrice) UpdateFromStablePool(pool *Pool, wrappedNative string) {
	var price float64
	switch wrappedNative {
	case pool.Token0:
		price = pool.Token1Price
	case pool.Token1:
		price = pool.Token0Price
	default:
		return
	}
	if price > 0 {
		n.PriceUSD = price
		n.UpdatedAt = time.Now().UTC()
	}
}
