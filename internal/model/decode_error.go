package model

import "fmt"

// DecodeError records a decode failure with the locator of the offending log.
type DecodeError struct {
	ChainID     uint64 `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint32 `json:"log_index"`
	Address     string `json:"address"`
	Topic0      string `json:"topic0"`
	Reason      string `json:"reason"`
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s at %d %s[%d]: %s", e.Topic0, e.BlockNumber, e.TxHash, e.LogIndex, e.Reason)
}
