// Package chain wraps the go-ethereum RPC client used for log filtering and
// ERC20 metadata calls.
package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client wraps go-ethereum RPC and caches block timestamps.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	mu      sync.RWMutex
	tsCache map[uint64]uint64
}

// NewClient dials the RPC endpoint. A bearer token, when set, is attached to
// every request (HyperSync-compatible endpoints require it).
func NewClient(ctx context.Context, rpcURL, bearerToken string) (*Client, error) {
	opts := []rpc.ClientOption{}
	if bearerToken != "" {
		opts = append(opts, rpc.WithHeader("Authorization", "Bearer "+bearerToken))
	}
	rpcClient, err := rpc.DialOptions(ctx, rpcURL, opts...)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		tsCache:   make(map[uint64]uint64),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain ID.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// HeaderByNumber returns the block header by number.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.ethClient.HeaderByNumber(ctx, number)
}

// BlockTimestamp returns the block timestamp, using an in-memory cache.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	c.mu.RLock()
	ts, ok := c.tsCache[number]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	header, err := c.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}

	ts = header.Time
	c.mu.Lock()
	c.tsCache[number] = ts
	// Keep the cache bounded; a range scan only revisits recent blocks.
	if len(c.tsCache) > 65536 {
		c.tsCache = map[uint64]uint64{number: ts}
	}
	c.mu.Unlock()

	return ts, nil
}

// BlockTimestamps resolves timestamps for every block number in the set.
func (c *Client) BlockTimestamps(ctx context.Context, numbers map[uint64]struct{}) (map[uint64]uint64, error) {
	out := make(map[uint64]uint64, len(numbers))
	for number := range numbers {
		ts, err := c.BlockTimestamp(ctx, number)
		if err != nil {
			return nil, err
		}
		out[number] = ts
	}
	return out, nil
}

// FilterLogs returns logs in the given inclusive range filtered by topic0.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	topic0 []common.Hash,
) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
	}
	if len(topic0) > 0 {
		query.Topics = [][]common.Hash{topic0}
	}
	return c.ethClient.FilterLogs(ctx, query)
}

// CallContract performs an eth_call against a contract.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}
