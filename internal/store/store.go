// Package store defines the two narrow persistence interfaces: the
// transactional store for latest-value state and checkpoints, and the
// analytical store for immutable event history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/runic-indexer/runic/internal/model"
)

// ErrCheckpointRegression signals an attempt to move a sync checkpoint
// backwards. This indicates corrupted state and must stop the process.
var ErrCheckpointRegression = errors.New("sync checkpoint regression")

// Stats24h is one rolling-24h aggregate row keyed by pool or token address.
type Stats24h struct {
	ChainID    uint64
	Address    string
	VolumeUSD  float64
	Swaps      uint64
	LastSwapAt time.Time
}

// PriceChange carries recomputed 24h/7d price change percentages.
type PriceChange struct {
	ChainID   uint64
	Address   string
	Change24h float64
	Change7d  float64
}

// SupplyTotal is the net circulating supply for one token.
type SupplyTotal struct {
	ChainID uint64
	Address string
	Supply  float64
}

// TransactionalStore holds latest values: chains, pools, tokens, checkpoints,
// and the native price cache. Upserts are last-write-wins on the primary key.
type TransactionalStore interface {
	ApplyDDL(ctx context.Context) error

	Chains(ctx context.Context) ([]*model.Chain, error)

	LoadPools(ctx context.Context, chainID uint64) ([]*model.Pool, error)
	GetPools(ctx context.Context, chainID uint64, addresses []string) ([]*model.Pool, error)
	UpsertPools(ctx context.Context, pools []*model.Pool) error

	LoadTokens(ctx context.Context, chainID uint64) ([]*model.Token, error)
	UpsertTokens(ctx context.Context, tokens []*model.Token) error

	ReadCheckpoint(ctx context.Context, chainID uint64) (*model.SyncCheckpoint, error)
	WriteCheckpoint(ctx context.Context, chainID uint64, block uint64) error

	// CommitBlock writes pools, tokens, and the checkpoint advance for one
	// block window atomically: either all land or none do.
	CommitBlock(ctx context.Context, pools []*model.Pool, tokens []*model.Token, chainID, block uint64) error

	NativePrice(ctx context.Context, chainID uint64) (*model.NativeTokenPrice, error)
	SetNativePrice(ctx context.Context, price *model.NativeTokenPrice) error

	// ClaimCronJob atomically claims a periodic job if its last run is older
	// than interval; returns false when another instance holds the slot.
	ClaimCronJob(ctx context.Context, jobName string, interval time.Duration) (bool, error)

	PoolsUpdatedSince(ctx context.Context, since time.Time) ([]*model.Pool, error)
	TokensUpdatedSince(ctx context.Context, since time.Time) ([]*model.Token, error)

	UpdatePoolStats24h(ctx context.Context, rows []Stats24h) error
	UpdateTokenStats24h(ctx context.Context, rows []Stats24h) error
	UpdatePoolPriceChanges(ctx context.Context, rows []PriceChange) error
	UpdateTokenPriceChanges(ctx context.Context, rows []PriceChange) error
	UpdateTokenSupplies(ctx context.Context, rows []SupplyTotal) error

	RefreshSummaries(ctx context.Context) error

	Close()
}

// AnalyticalStore appends immutable history. Appends tolerate replays: the
// engine deduplicates on (chain_id, tx_hash, log_index).
type AnalyticalStore interface {
	ApplyDDL(ctx context.Context) error

	AppendEvents(ctx context.Context, events []model.Event) error
	AppendSupplyEvents(ctx context.Context, events []model.SupplyEvent) error
	AppendNewPools(ctx context.Context, pools []model.NewPool) error

	InsertPoolSnapshots(ctx context.Context, snapshots []model.PoolSnapshot) error
	InsertTokenSnapshots(ctx context.Context, snapshots []model.TokenSnapshot) error

	PoolStats24h(ctx context.Context) ([]Stats24h, error)
	TokenStats24h(ctx context.Context) ([]Stats24h, error)
	PoolPriceChanges(ctx context.Context) ([]PriceChange, error)
	TokenPriceChanges(ctx context.Context) ([]PriceChange, error)
	SupplyTotals(ctx context.Context) ([]SupplyTotal, error)

	Close() error
}
