// Package worker runs the per-chain pipeline: ingest, parse, enrich, persist.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/runic-indexer/runic/internal/chain"
	"github.com/runic-indexer/runic/internal/config"
	"github.com/runic-indexer/runic/internal/dex"
	"github.com/runic-indexer/runic/internal/ingest"
	"github.com/runic-indexer/runic/internal/model"
	"github.com/runic-indexer/runic/internal/pubsub"
	"github.com/runic-indexer/runic/internal/store"
	"github.com/runic-indexer/runic/internal/tokens"
)

// degradedRetryInterval spaces reconnect attempts once the normal backoff
// budget is exhausted; the worker stays alive and keeps trying.
const degradedRetryInterval = time.Minute

// ChainWorker owns one chain: its ingestors, pool index, and checkpointing.
type ChainWorker struct {
	cfg         config.IndexerConfig
	chainCfg    *model.Chain
	chainTokens *model.ChainTokens

	source  ingest.Source
	parser  *Parser
	fetcher *tokens.Fetcher

	tx        store.TransactionalStore
	analytics store.AnalyticalStore
	publisher *pubsub.Publisher

	// index is the in-memory pool state, owned exclusively by this worker.
	index map[string]*model.Pool

	logger *zap.Logger
}

// NewChainWorker wires a worker for one chain config row.
func NewChainWorker(
	ctx context.Context,
	cfg config.IndexerConfig,
	chainCfg *model.Chain,
	tx store.TransactionalStore,
	analytics store.AnalyticalStore,
	publisher *pubsub.Publisher,
	logger *zap.Logger,
) (*ChainWorker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("worker").With(zap.Uint64("chain_id", chainCfg.ChainID))

	decoder, err := dex.NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}

	sourceClient, err := chain.NewClient(ctx, chainCfg.HypersyncURL, cfg.HypersyncBearerToken)
	if err != nil {
		return nil, fmt.Errorf("connect data source: %w", err)
	}
	rpcClient, err := chain.NewClient(ctx, chainCfg.RPCURL, "")
	if err != nil {
		sourceClient.Close()
		return nil, fmt.Errorf("connect rpc: %w", err)
	}

	chainTokens := model.NewChainTokens(chainCfg)
	fetcher := tokens.NewFetcher(chainCfg.ChainID, rpcClient, tx, cfg.Concurrency, logger)

	w := &ChainWorker{
		cfg:         cfg,
		chainCfg:    chainCfg,
		chainTokens: chainTokens,
		source:      ingest.NewEthSource(chainCfg.ChainID, sourceClient, decoder.Topics()),
		parser:      NewParser(chainCfg.ChainID, decoder, fetcher, chainTokens, logger),
		fetcher:     fetcher,
		tx:          tx,
		analytics:   analytics,
		publisher:   publisher,
		index:       make(map[string]*model.Pool),
		logger:      logger,
	}
	return w, nil
}

// Run executes the worker until ctx is cancelled. Transport failures past
// the retry budget degrade the chain instead of crashing the process;
// invariant violations (checkpoint regression) propagate as fatal.
func (w *ChainWorker) Run(ctx context.Context) error {
	if err := w.load(ctx); err != nil {
		return fmt.Errorf("chain %d startup: %w", w.chainCfg.ChainID, err)
	}

	for {
		err := w.runOnce(ctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, store.ErrCheckpointRegression):
			return err
		}

		w.logger.Warn("chain degraded, retrying",
			zap.Duration("retry_in", degradedRetryInterval), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(degradedRetryInterval):
		}
	}
}

// load seeds the in-memory index and token cache from the stores.
func (w *ChainWorker) load(ctx context.Context) error {
	loadCtx, cancel := context.WithTimeout(ctx, w.cfg.StartupTimeout)
	defer cancel()

	pools, err := w.tx.LoadPools(loadCtx, w.chainCfg.ChainID)
	if err != nil {
		return fmt.Errorf("load pools: %w", err)
	}
	for _, p := range pools {
		w.index[strings.ToLower(p.Address)] = p
	}

	persisted, err := w.tx.LoadTokens(loadCtx, w.chainCfg.ChainID)
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	w.fetcher.Seed(persisted)

	if err := w.fetcher.EnsureNative(loadCtx, w.chainCfg); err != nil {
		return fmt.Errorf("ensure native token: %w", err)
	}

	w.logger.Info("state loaded", zap.Int("pools", len(pools)), zap.Int("tokens", len(persisted)))
	return nil
}

// runOnce performs one historical catch-up followed by live following.
func (w *ChainWorker) runOnce(ctx context.Context) error {
	st, err := w.loadBatchState(ctx)
	if err != nil {
		return err
	}

	from := uint64(0)
	if cp, err := w.tx.ReadCheckpoint(ctx, w.chainCfg.ChainID); err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	} else if cp != nil {
		from = cp.LastIndexedBlock + 1
	}

	tip, err := w.source.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("read tip: %w", err)
	}
	window, scanHistory := ingest.HistoricalWindow(from, tip, w.cfg.SafetyMarginBlocks)

	ingestCfg := ingest.Config{
		ChainID:      w.chainCfg.ChainID,
		BatchSize:    w.cfg.BatchSize,
		BatchTimeout: w.cfg.BatchTimeout,
	}

	batches := make(chan ingest.Batch, ingest.DefaultChannelCap)
	ingestErr := make(chan error, 1)
	ingestCtx, stopIngest := context.WithCancel(ctx)
	defer stopIngest()

	go func() {
		defer close(batches)
		liveFrom := from
		if scanHistory {
			historical := ingest.NewHistorical(ingestCfg, w.source, w.logger)
			if err := historical.Run(ingestCtx, window.From, window.To, batches); err != nil {
				ingestErr <- err
				return
			}
			w.logger.Info("historical caught up", zap.Uint64("to", window.To))
			liveFrom = window.To + 1
		}

		live := ingest.NewLive(ingestCfg, w.source, w.cfg.TipPollInterval, w.logger)
		if err := live.Run(ingestCtx, liveFrom, batches); err != nil {
			ingestErr <- err
		}
	}()

	for batch := range batches {
		if err := w.processBatch(ctx, batch, st); err != nil {
			stopIngest()
			return err
		}
	}

	select {
	case err := <-ingestErr:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	default:
		return nil
	}
}

func (w *ChainWorker) loadBatchState(ctx context.Context) (*BatchState, error) {
	st := &BatchState{}
	st.NativePrice.ChainID = w.chainCfg.ChainID
	if cached, err := w.tx.NativePrice(ctx, w.chainCfg.ChainID); err != nil {
		return nil, fmt.Errorf("load native price: %w", err)
	} else if cached != nil {
		st.NativePrice = *cached
	}
	return st, nil
}

// processBatch applies one batch end to end: parse, durable transactional
// commit with checkpoint advance, analytical append, optional publish.
func (w *ChainWorker) processBatch(ctx context.Context, batch ingest.Batch, st *BatchState) error {
	result, err := w.parser.ProcessBatch(ctx, batch, w.index, st)
	if err != nil {
		return fmt.Errorf("process batch [%d, %d]: %w", batch.FromBlock, batch.ToBlock, err)
	}

	// Analytical appends happen before the checkpoint advance so a crash
	// replays rather than loses events; appends are idempotent.
	if err := w.analytics.AppendEvents(ctx, result.Events); err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	if err := w.analytics.AppendSupplyEvents(ctx, result.SupplyEvents); err != nil {
		return fmt.Errorf("append supply events: %w", err)
	}
	if err := w.analytics.AppendNewPools(ctx, result.NewPools); err != nil {
		return fmt.Errorf("append new pools: %w", err)
	}

	if err := w.tx.CommitBlock(ctx, result.TouchedPools, result.PricedTokens,
		w.chainCfg.ChainID, batch.ToBlock); err != nil {
		return fmt.Errorf("commit block %d: %w", batch.ToBlock, err)
	}

	if st.NativePrice.PriceUSD > 0 {
		// Best-effort cache refresh; the cron job also rewrites it.
		if err := w.tx.SetNativePrice(ctx, &st.NativePrice); err != nil {
			w.logger.Warn("native price write failed", zap.Error(err))
		}
	}

	if w.publisher != nil {
		w.publisher.PublishBatch(w.chainCfg.ChainID, result.Events, result.NewPools)
	}

	w.logger.Debug("batch committed",
		zap.Uint64("from", batch.FromBlock), zap.Uint64("to", batch.ToBlock),
		zap.Int("events", len(result.Events)),
		zap.Int("pools", len(result.TouchedPools)))
	return nil
}
