package model

import (
	"math/big"
	"time"

	"github.com/runic-indexer/runic/internal/pricing"
)

// Supply event types.
const (
	SupplyMint = "mint"
	SupplyBurn = "burn"
)

// SupplyEvent is a circulating-supply change derived from ERC20 transfers
// with a zero-address leg, or from wrapped-native deposits and withdrawals.
type SupplyEvent struct {
	ChainID        uint64    `json:"chain_id"`
	BlockNumber    uint64    `json:"block_number"`
	Timestamp      time.Time `json:"timestamp"`
	TxHash         string    `json:"tx_hash"`
	LogIndex       uint32    `json:"log_index"`
	TokenAddress   string    `json:"token_address"`
	EventType      string    `json:"event_type"`
	Amount         string    `json:"amount"`
	AmountAdjusted float64   `json:"amount_adjusted"`
}

// NewSupplyEvent builds a supply row from a raw amount and token decimals.
func NewSupplyEvent(meta LogMeta, eventType string, amount *big.Int, decimals uint8) SupplyEvent {
	return SupplyEvent{
		ChainID:        meta.ChainID,
		BlockNumber:    meta.BlockNumber,
		Timestamp:      time.Unix(int64(meta.Timestamp), 0).UTC(),
		TxHash:         meta.TxHash,
		LogIndex:       meta.LogIndex,
		TokenAddress:   meta.Address,
		EventType:      eventType,
		Amount:         bigStr(amount),
		AmountAdjusted: pricing.AmountToFloat(amount, decimals),
	}
}
