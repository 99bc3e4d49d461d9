package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/runic-indexer/runic/internal/model"
	"github.com/runic-indexer/runic/internal/store"
)

// CommitBlock writes pool and token state together with the checkpoint
// advance in one transaction. A checkpoint regression rolls everything back.
func (s *Store) CommitBlock(ctx context.Context, pools []*model.Pool, tokens []*model.Token, chainID, block uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, p := range pools {
		queuePoolUpsert(batch, p)
	}
	for _, t := range tokens {
		queueTokenUpsert(batch, t)
	}
	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return err
			}
		}
		if err := br.Close(); err != nil {
			return err
		}
	}

	if err := writeCheckpoint(ctx, tx, chainID, block); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// NativePrice reads the cached native token price, nil when absent.
func (s *Store) NativePrice(ctx context.Context, chainID uint64) (*model.NativeTokenPrice, error) {
	var p model.NativeTokenPrice
	p.ChainID = chainID
	row := s.pool.QueryRow(ctx,
		`SELECT price_usd, updated_at FROM native_token_prices WHERE chain_id=$1`, int64(chainID))
	if err := row.Scan(&p.PriceUSD, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// SetNativePrice upserts the native price cache.
func (s *Store) SetNativePrice(ctx context.Context, price *model.NativeTokenPrice) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO native_token_prices (chain_id, price_usd, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (chain_id) DO UPDATE
		SET price_usd = EXCLUDED.price_usd, updated_at = now()
	`, int64(price.ChainID), price.PriceUSD)
	return err
}

// ClaimCronJob claims a job slot with a conditional update so racing
// instances cannot double-run within one interval.
func (s *Store) ClaimCronJob(ctx context.Context, jobName string, interval time.Duration) (bool, error) {
	if jobName == "" {
		return false, fmt.Errorf("job name required")
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO cron_checkpoints (job_name, last_run_at)
		VALUES ($1, now())
		ON CONFLICT (job_name) DO UPDATE
		SET last_run_at = now()
		WHERE cron_checkpoints.last_run_at < now() - $2::interval
	`, jobName, fmt.Sprintf("%d seconds", int64(interval.Seconds())))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// PoolsUpdatedSince returns pools touched after the given time, for
// snapshotting. Idle dust pools are skipped.
func (s *Store) PoolsUpdatedSince(ctx context.Context, since time.Time) ([]*model.Pool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+poolColumns+` FROM pools
		 WHERE updated_at > $1 AND (tvl_usd > 0 OR volume_24h > 0)`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPools(rows)
}

// TokensUpdatedSince returns tokens with activity after the given time.
func (s *Store) TokensUpdatedSince(ctx context.Context, since time.Time) ([]*model.Token, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chain_id, address, symbol, name, decimals, metadata_ok,
		       price_usd, price_change_24h, price_change_7d,
		       volume_24h, swaps_24h, pool_count, circulating_supply, market_cap_usd,
		       first_seen_block
		FROM tokens
		WHERE updated_at > $1 AND price_usd > 0
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*model.Token
	for rows.Next() {
		var t model.Token
		var decimals int16
		if err := rows.Scan(
			&t.ChainID, &t.Address, &t.Symbol, &t.Name, &decimals, &t.MetadataOK,
			&t.PriceUSD, &t.PriceChange24h, &t.PriceChange7d,
			&t.Volume24h, &t.Swaps24h, &t.PoolCount, &t.CirculatingSupply, &t.MarketCapUSD,
			&t.FirstSeenBlock,
		); err != nil {
			return nil, err
		}
		t.Decimals = uint8(decimals)
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

// UpdatePoolStats24h writes the rolling 24h counters computed by the
// analytical store back onto pool rows.
func (s *Store) UpdatePoolStats24h(ctx context.Context, rows []store.Stats24h) error {
	return s.updateStats24h(ctx, "pools", rows)
}

// UpdateTokenStats24h writes the rolling 24h counters onto token rows.
func (s *Store) UpdateTokenStats24h(ctx context.Context, rows []store.Stats24h) error {
	return s.updateStats24h(ctx, "tokens", rows)
}

func (s *Store) updateStats24h(ctx context.Context, table string, rows []store.Stats24h) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		if table == "pools" {
			batch.Queue(`
				UPDATE pools SET volume_24h=$3, swaps_24h=$4, last_swap_at=$5, updated_at=now()
				WHERE chain_id=$1 AND address=$2
			`, int64(r.ChainID), r.Address, r.VolumeUSD, int64(r.Swaps), nullableTime(r.LastSwapAt))
		} else {
			batch.Queue(`
				UPDATE tokens SET volume_24h=$3, swaps_24h=$4, last_activity_at=$5, updated_at=now()
				WHERE chain_id=$1 AND address=$2
			`, int64(r.ChainID), r.Address, r.VolumeUSD, int64(r.Swaps), nullableTime(r.LastSwapAt))
		}
	}
	return s.sendBatch(ctx, batch, len(rows))
}

// UpdatePoolPriceChanges writes recomputed 24h/7d changes to pool rows.
func (s *Store) UpdatePoolPriceChanges(ctx context.Context, rows []store.PriceChange) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			UPDATE pools SET price_change_24h=$3, price_change_7d=$4, updated_at=now()
			WHERE chain_id=$1 AND address=$2
		`, int64(r.ChainID), r.Address, r.Change24h, r.Change7d)
	}
	return s.sendBatch(ctx, batch, len(rows))
}

// UpdateTokenPriceChanges writes recomputed 24h/7d changes to token rows.
func (s *Store) UpdateTokenPriceChanges(ctx context.Context, rows []store.PriceChange) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			UPDATE tokens SET price_change_24h=$3, price_change_7d=$4, updated_at=now()
			WHERE chain_id=$1 AND address=$2
		`, int64(r.ChainID), r.Address, r.Change24h, r.Change7d)
	}
	return s.sendBatch(ctx, batch, len(rows))
}

// UpdateTokenSupplies writes net circulating supplies and refreshes the
// derived market cap.
func (s *Store) UpdateTokenSupplies(ctx context.Context, rows []store.SupplyTotal) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			UPDATE tokens
			SET circulating_supply=$3, market_cap_usd=price_usd*$3, updated_at=now()
			WHERE chain_id=$1 AND address=$2
		`, int64(r.ChainID), r.Address, r.Supply)
	}
	return s.sendBatch(ctx, batch, len(rows))
}

// RefreshSummaries refreshes the precomputed aggregate views.
func (s *Store) RefreshSummaries(ctx context.Context) error {
	for _, view := range []string{"pool_summaries", "token_summaries"} {
		if _, err := s.pool.Exec(ctx,
			fmt.Sprintf("REFRESH MATERIALIZED VIEW CONCURRENTLY %s", view)); err != nil {
			return fmt.Errorf("refresh %s: %w", view, err)
		}
	}
	return nil
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
