package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/runic-indexer/runic/internal/model"
)

// refreshNativePrices recomputes each chain's native token price from its
// configured stable reference pool and rewrites the cache row.
func (s *Scheduler) refreshNativePrices(ctx context.Context) error {
	chains, err := s.tx.Chains(ctx)
	if err != nil {
		return fmt.Errorf("load chains: %w", err)
	}

	for _, c := range chains {
		pools, err := s.tx.GetPools(ctx, c.ChainID, []string{strings.ToLower(c.StablePoolAddress)})
		if err != nil {
			return fmt.Errorf("chain %d stable pool: %w", c.ChainID, err)
		}
		if len(pools) == 0 {
			continue
		}

		price := model.NativeTokenPrice{ChainID: c.ChainID}
		price.UpdateFromStablePool(pools[0], strings.ToLower(c.NativeTokenAddress))
		if price.PriceUSD <= 0 {
			continue
		}
		if err := s.tx.SetNativePrice(ctx, &price); err != nil {
			return fmt.Errorf("chain %d native price: %w", c.ChainID, err)
		}
	}
	return nil
}

// update24hStats recomputes rolling 24h counters from the analytical store
// and writes them back to pool and token rows, together with circulating
// supplies folded from supply events.
func (s *Scheduler) update24hStats(ctx context.Context) error {
	poolStats, err := s.analytics.PoolStats24h(ctx)
	if err != nil {
		return fmt.Errorf("pool stats: %w", err)
	}
	if err := s.tx.UpdatePoolStats24h(ctx, poolStats); err != nil {
		return fmt.Errorf("write pool stats: %w", err)
	}

	tokenStats, err := s.analytics.TokenStats24h(ctx)
	if err != nil {
		return fmt.Errorf("token stats: %w", err)
	}
	if err := s.tx.UpdateTokenStats24h(ctx, tokenStats); err != nil {
		return fmt.Errorf("write token stats: %w", err)
	}

	supplies, err := s.analytics.SupplyTotals(ctx)
	if err != nil {
		return fmt.Errorf("supply totals: %w", err)
	}
	if err := s.tx.UpdateTokenSupplies(ctx, supplies); err != nil {
		return fmt.Errorf("write supplies: %w", err)
	}

	s.logger.Debug("24h stats updated",
		zap.Int("pools", len(poolStats)), zap.Int("tokens", len(tokenStats)))
	return nil
}

// updatePriceChanges recomputes 24h/7d price changes from snapshots.
func (s *Scheduler) updatePriceChanges(ctx context.Context) error {
	poolChanges, err := s.analytics.PoolPriceChanges(ctx)
	if err != nil {
		return fmt.Errorf("pool price changes: %w", err)
	}
	if err := s.tx.UpdatePoolPriceChanges(ctx, poolChanges); err != nil {
		return fmt.Errorf("write pool price changes: %w", err)
	}

	tokenChanges, err := s.analytics.TokenPriceChanges(ctx)
	if err != nil {
		return fmt.Errorf("token price changes: %w", err)
	}
	if err := s.tx.UpdateTokenPriceChanges(ctx, tokenChanges); err != nil {
		return fmt.Errorf("write token price changes: %w", err)
	}
	return nil
}

// refreshSummaries refreshes the materialized aggregate views.
func (s *Scheduler) refreshSummaries(ctx context.Context) error {
	return s.tx.RefreshSummaries(ctx)
}

// poolSnapshots copies pools touched since the last hourly run into the
// analytical store.
func (s *Scheduler) poolSnapshots(ctx context.Context) error {
	since := time.Now().UTC().Add(-poolSnapshotInterval)
	pools, err := s.tx.PoolsUpdatedSince(ctx, since)
	if err != nil {
		return fmt.Errorf("pools updated since: %w", err)
	}
	if len(pools) == 0 {
		return nil
	}

	now := time.Now().UTC()
	snapshots := make([]model.PoolSnapshot, 0, len(pools))
	for _, p := range pools {
		snapshots = append(snapshots, model.SnapshotPool(p, now))
	}
	return s.analytics.InsertPoolSnapshots(ctx, snapshots)
}

// tokenSnapshots copies active tokens into the analytical store once a day.
func (s *Scheduler) tokenSnapshots(ctx context.Context) error {
	since := time.Now().UTC().Add(-tokenSnapshotInterval)
	tokens, err := s.tx.TokensUpdatedSince(ctx, since)
	if err != nil {
		return fmt.Errorf("tokens updated since: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	now := time.Now().UTC()
	snapshots := make([]model.TokenSnapshot, 0, len(tokens))
	for _, t := range tokens {
		snapshots = append(snapshots, model.SnapshotToken(t, now))
	}
	return s.analytics.InsertTokenSnapshots(ctx, snapshots)
}
