package model

import "time"

// NewPool is the append-only discovery record written when a factory
// creation event registers a pool.
type NewPool struct {
	ChainID         uint64    `json:"chain_id"`
	PoolAddress     string    `json:"pool_address"`
	BlockNumber     uint64    `json:"block_number"`
	TxHash          string    `json:"tx_hash"`
	Timestamp       time.Time `json:"timestamp"`
	Token0          string    `json:"token0"`
	Token1          string    `json:"token1"`
	Token0Symbol    string    `json:"token0_symbol"`
	Token1Symbol    string    `json:"token1_symbol"`
	Protocol        string    `json:"protocol"`
	ProtocolVersion string    `json:"protocol_version"`
	Fee             uint32    `json:"fee"`
	InitialTVLUSD   float64   `json:"initial_tvl_usd"`
}

// NewPoolRecord builds the discovery row for a freshly registered pool.
func NewPoolRecord(p *Pool) NewPool {
	return NewPool{
		ChainID:         p.ChainID,
		PoolAddress:     p.Address,
		BlockNumber:     p.CreatedBlock,
		TxHash:          p.CreatedTxHash,
		Timestamp:       p.UpdatedAt,
		Token0:          p.Token0,
		Token1:          p.Token1,
		Token0Symbol:    p.Token0Symbol,
		Token1Symbol:    p.Token1Symbol,
		Protocol:        p.Protocol,
		ProtocolVersion: p.ProtocolVersion,
		Fee:             p.Fee,
	}
}
