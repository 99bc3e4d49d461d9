// Package postgres implements the transactional store on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runic-indexer/runic/internal/model"
	"github.com/runic-indexer/runic/internal/store"
	"github.com/runic-indexer/runic/internal/store/ddl"
)

// Store provides Postgres persistence for chains, pools, tokens, and
// checkpoints.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects and verifies the pool.
func NewStore(ctx context.Context, dsn string, poolSize int) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pg dsn: %w", err)
	}
	if poolSize > 0 {
		cfg.MaxConns = int32(poolSize)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ApplyDDL provisions the schema idempotently.
func (s *Store) ApplyDDL(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, ddl.Postgres)
	return err
}

// Chains returns the enabled chain set.
func (s *Store) Chains(ctx context.Context) ([]*model.Chain, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chain_id, name, enabled, hypersync_url, rpc_url,
		       native_token_address, native_token_decimals, native_token_symbol,
		       stable_token_address, stable_token_decimals, stable_pool_address,
		       stablecoins, major_tokens, factories
		FROM chains
		WHERE enabled
		ORDER BY chain_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chains []*model.Chain
	for rows.Next() {
		var c model.Chain
		var nativeDecimals, stableDecimals int16
		if err := rows.Scan(
			&c.ChainID, &c.Name, &c.Enabled, &c.HypersyncURL, &c.RPCURL,
			&c.NativeTokenAddress, &nativeDecimals, &c.NativeTokenSymbol,
			&c.StableTokenAddress, &stableDecimals, &c.StablePoolAddress,
			&c.Stablecoins, &c.MajorTokens, &c.Factories,
		); err != nil {
			return nil, err
		}
		c.NativeTokenDecimals = uint8(nativeDecimals)
		c.StableTokenDecimals = uint8(stableDecimals)
		chains = append(chains, &c)
	}
	return chains, rows.Err()
}

const poolColumns = `
	chain_id, address, token0, token1, token0_symbol, token1_symbol,
	token0_decimals, token1_decimals, protocol, protocol_version, factory, fee,
	hook_address, created_block, created_tx_hash,
	reserve0, reserve1, reserve0_adjusted, reserve1_adjusted,
	sqrt_price_x96, tick, tick_spacing, liquidity, initialized,
	base_token, quote_token, price, token0_price, token1_price,
	price_usd, tvl_usd, volume_24h, swaps_24h, total_volume_usd, total_swaps,
	block_number, tx_hash, last_swap_at, updated_at`

func scanPool(rows pgx.Rows) (*model.Pool, error) {
	var p model.Pool
	var dec0, dec1 int16
	var lastSwapAt, updatedAt *time.Time
	if err := rows.Scan(
		&p.ChainID, &p.Address, &p.Token0, &p.Token1, &p.Token0Symbol, &p.Token1Symbol,
		&dec0, &dec1, &p.Protocol, &p.ProtocolVersion, &p.Factory, &p.Fee,
		&p.HookAddress, &p.CreatedBlock, &p.CreatedTxHash,
		&p.Reserve0, &p.Reserve1, &p.Reserve0Adjusted, &p.Reserve1Adjusted,
		&p.SqrtPriceX96, &p.Tick, &p.TickSpacing, &p.Liquidity, &p.Initialized,
		&p.BaseToken, &p.QuoteToken, &p.Price, &p.Token0Price, &p.Token1Price,
		&p.PriceUSD, &p.TVLUSD, &p.Volume24h, &p.Swaps24h, &p.TotalVolumeUSD, &p.TotalSwaps,
		&p.BlockNumber, &p.TxHash, &lastSwapAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	p.Token0Decimals = uint8(dec0)
	p.Token1Decimals = uint8(dec1)
	if lastSwapAt != nil {
		p.LastSwapAt = *lastSwapAt
	}
	if updatedAt != nil {
		p.UpdatedAt = *updatedAt
	}
	return &p, nil
}

// LoadPools fetches every pool for a chain.
func (s *Store) LoadPools(ctx context.Context, chainID uint64) ([]*model.Pool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE chain_id=$1`, int64(chainID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPools(rows)
}

// GetPools fetches a specific set of pools.
func (s *Store) GetPools(ctx context.Context, chainID uint64, addresses []string) ([]*model.Pool, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE chain_id=$1 AND address = ANY($2)`,
		int64(chainID), addresses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPools(rows)
}

func collectPools(rows pgx.Rows) ([]*model.Pool, error) {
	var pools []*model.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// UpsertPools writes pool state, last-write-wins on (chain_id, address).
func (s *Store) UpsertPools(ctx context.Context, pools []*model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range pools {
		queuePoolUpsert(batch, p)
	}
	return s.sendBatch(ctx, batch, len(pools))
}

func queuePoolUpsert(batch *pgx.Batch, p *model.Pool) {
	batch.Queue(`
		INSERT INTO pools (`+poolColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,
		        $20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35,$36,$37,$38,
		        COALESCE($39, now()))
		ON CONFLICT (chain_id, address)
		DO UPDATE SET
			token0_symbol = EXCLUDED.token0_symbol,
			token1_symbol = EXCLUDED.token1_symbol,
			token0_decimals = EXCLUDED.token0_decimals,
			token1_decimals = EXCLUDED.token1_decimals,
			fee = EXCLUDED.fee,
			reserve0 = EXCLUDED.reserve0,
			reserve1 = EXCLUDED.reserve1,
			reserve0_adjusted = EXCLUDED.reserve0_adjusted,
			reserve1_adjusted = EXCLUDED.reserve1_adjusted,
			sqrt_price_x96 = EXCLUDED.sqrt_price_x96,
			tick = EXCLUDED.tick,
			liquidity = EXCLUDED.liquidity,
			initialized = EXCLUDED.initialized,
			price = EXCLUDED.price,
			token0_price = EXCLUDED.token0_price,
			token1_price = EXCLUDED.token1_price,
			price_usd = EXCLUDED.price_usd,
			tvl_usd = EXCLUDED.tvl_usd,
			total_volume_usd = EXCLUDED.total_volume_usd,
			total_swaps = EXCLUDED.total_swaps,
			block_number = EXCLUDED.block_number,
			tx_hash = EXCLUDED.tx_hash,
			last_swap_at = EXCLUDED.last_swap_at,
			updated_at = now()
	`,
		int64(p.ChainID), p.Address, p.Token0, p.Token1, p.Token0Symbol, p.Token1Symbol,
		int16(p.Token0Decimals), int16(p.Token1Decimals), p.Protocol, p.ProtocolVersion, p.Factory, p.Fee,
		p.HookAddress, int64(p.CreatedBlock), p.CreatedTxHash,
		p.Reserve0, p.Reserve1, p.Reserve0Adjusted, p.Reserve1Adjusted,
		p.SqrtPriceX96, p.Tick, p.TickSpacing, p.Liquidity, p.Initialized,
		p.BaseToken, p.QuoteToken, p.Price, p.Token0Price, p.Token1Price,
		p.PriceUSD, p.TVLUSD, p.Volume24h, int64(p.Swaps24h), p.TotalVolumeUSD, int64(p.TotalSwaps),
		int64(p.BlockNumber), p.TxHash, nullableTime(p.LastSwapAt), nullableTime(p.UpdatedAt),
	)
}

// LoadTokens fetches every token for a chain.
func (s *Store) LoadTokens(ctx context.Context, chainID uint64) ([]*model.Token, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chain_id, address, symbol, name, decimals, metadata_ok,
		       price_usd, price_updated_at, price_change_24h, price_change_7d,
		       volume_24h, swaps_24h, pool_count, circulating_supply, market_cap_usd,
		       first_seen_block, last_activity_at
		FROM tokens WHERE chain_id=$1
	`, int64(chainID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*model.Token
	for rows.Next() {
		var t model.Token
		var decimals int16
		var priceUpdatedAt, lastActivityAt *time.Time
		if err := rows.Scan(
			&t.ChainID, &t.Address, &t.Symbol, &t.Name, &decimals, &t.MetadataOK,
			&t.PriceUSD, &priceUpdatedAt, &t.PriceChange24h, &t.PriceChange7d,
			&t.Volume24h, &t.Swaps24h, &t.PoolCount, &t.CirculatingSupply, &t.MarketCapUSD,
			&t.FirstSeenBlock, &lastActivityAt,
		); err != nil {
			return nil, err
		}
		t.Decimals = uint8(decimals)
		if priceUpdatedAt != nil {
			t.PriceUpdatedAt = *priceUpdatedAt
		}
		if lastActivityAt != nil {
			t.LastActivityAt = *lastActivityAt
		}
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

// UpsertTokens writes token state, last-write-wins on (chain_id, address).
func (s *Store) UpsertTokens(ctx context.Context, tokens []*model.Token) error {
	if len(tokens) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range tokens {
		queueTokenUpsert(batch, t)
	}
	return s.sendBatch(ctx, batch, len(tokens))
}

func queueTokenUpsert(batch *pgx.Batch, t *model.Token) {
	batch.Queue(`
		INSERT INTO tokens (
			chain_id, address, symbol, name, decimals, metadata_ok,
			price_usd, price_updated_at, price_change_24h, price_change_7d,
			volume_24h, swaps_24h, pool_count, circulating_supply, market_cap_usd,
			first_seen_block, last_activity_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,now())
		ON CONFLICT (chain_id, address)
		DO UPDATE SET
			symbol = EXCLUDED.symbol,
			name = EXCLUDED.name,
			decimals = EXCLUDED.decimals,
			metadata_ok = EXCLUDED.metadata_ok,
			price_usd = EXCLUDED.price_usd,
			price_updated_at = EXCLUDED.price_updated_at,
			market_cap_usd = EXCLUDED.market_cap_usd,
			last_activity_at = EXCLUDED.last_activity_at,
			updated_at = now()
	`,
		int64(t.ChainID), t.Address, t.Symbol, t.Name, int16(t.Decimals), t.MetadataOK,
		t.PriceUSD, nullableTime(t.PriceUpdatedAt), t.PriceChange24h, t.PriceChange7d,
		t.Volume24h, int64(t.Swaps24h), t.PoolCount, t.CirculatingSupply, t.MarketCapUSD,
		int64(t.FirstSeenBlock), nullableTime(t.LastActivityAt),
	)
}

// ReadCheckpoint returns the chain's sync checkpoint or nil when absent.
func (s *Store) ReadCheckpoint(ctx context.Context, chainID uint64) (*model.SyncCheckpoint, error) {
	var cp model.SyncCheckpoint
	cp.ChainID = chainID
	row := s.pool.QueryRow(ctx,
		`SELECT last_indexed_block, updated_at FROM sync_checkpoints WHERE chain_id=$1`,
		int64(chainID))
	if err := row.Scan(&cp.LastIndexedBlock, &cp.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cp, nil
}

// WriteCheckpoint advances the checkpoint. Moving backwards is refused with
// ErrCheckpointRegression.
func (s *Store) WriteCheckpoint(ctx context.Context, chainID uint64, block uint64) error {
	return writeCheckpoint(ctx, s.pool, chainID, block)
}

// execQuerier is satisfied by both pgxpool.Pool and pgx.Tx.
type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func writeCheckpoint(ctx context.Context, q execQuerier, chainID, block uint64) error {
	tag, err := q.Exec(ctx, `
		INSERT INTO sync_checkpoints (chain_id, last_indexed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (chain_id) DO UPDATE
		SET last_indexed_block = EXCLUDED.last_indexed_block, updated_at = now()
		WHERE sync_checkpoints.last_indexed_block <= EXCLUDED.last_indexed_block
	`, int64(chainID), int64(block))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: chain %d block %d", store.ErrCheckpointRegression, chainID, block)
	}
	return nil
}
