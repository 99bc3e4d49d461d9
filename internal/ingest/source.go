// Package ingest produces ordered block batches for a chain worker, either
// by range-scanning history or by following the tip.
package ingest

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/runic-indexer/runic/internal/chain"
	"github.com/runic-indexer/runic/internal/model"
)

// Batch is one contiguous block window of logs, ordered by
// (block_number, tx_index, log_index).
type Batch struct {
	FromBlock uint64
	ToBlock   uint64
	Logs      []model.LogRecord
}

// Source abstracts the upstream data transport. Implementations must return
// logs already filtered to the requested topic0 set.
type Source interface {
	LatestBlock(ctx context.Context) (uint64, error)
	FetchLogs(ctx context.Context, fromBlock, toBlock uint64) ([]model.LogRecord, error)
}

// EthSource reads logs through the standard eth_getLogs interface.
type EthSource struct {
	chainID uint64
	client  *chain.Client
	topics  []common.Hash
}

// NewEthSource builds a source filtered to the given topic0 catalogue.
func NewEthSource(chainID uint64, client *chain.Client, topics []common.Hash) *EthSource {
	return &EthSource{chainID: chainID, client: client, topics: topics}
}

// LatestBlock returns the current tip.
func (s *EthSource) LatestBlock(ctx context.Context) (uint64, error) {
	return s.client.LatestBlockNumber(ctx)
}

// FetchLogs pulls and normalizes the log window, resolving block timestamps.
func (s *EthSource) FetchLogs(ctx context.Context, fromBlock, toBlock uint64) ([]model.LogRecord, error) {
	logs, err := s.client.FilterLogs(ctx, fromBlock, toBlock, s.topics)
	if err != nil {
		return nil, err
	}

	blocks := make(map[uint64]struct{}, len(logs))
	for _, log := range logs {
		blocks[log.BlockNumber] = struct{}{}
	}
	timestamps, err := s.client.BlockTimestamps(ctx, blocks)
	if err != nil {
		return nil, err
	}

	records := make([]model.LogRecord, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		records = append(records, buildLogRecord(s.chainID, log, timestamps[log.BlockNumber]))
	}
	sortLogRecords(records)
	return records, nil
}

func buildLogRecord(chainID uint64, log types.Log, timestamp uint64) model.LogRecord {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}
	return model.LogRecord{
		ChainID:     chainID,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		TxIndex:     uint32(log.TxIndex),
		LogIndex:    uint32(log.Index),
		Address:     log.Address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(log.Data),
		Timestamp:   timestamp,
	}
}

func sortLogRecords(records []model.LogRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.TxIndex != b.TxIndex {
			return a.TxIndex < b.TxIndex
		}
		return a.LogIndex < b.LogIndex
	})
}
