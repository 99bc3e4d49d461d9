package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/runic-indexer/runic/internal/model"
)

// Live follows the chain tip, emitting one batch per new block window. It
// never starts before the historical ingestor has reported caught-up; the
// worker enforces that ordering.
type Live struct {
	cfg          Config
	source       Source
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewLive builds a tip follower.
func NewLive(cfg Config, source Source, pollInterval time.Duration, logger *zap.Logger) *Live {
	cfg.applyDefaults()
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Live{cfg: cfg, source: source, pollInterval: pollInterval, logger: logger}
}

// Run polls from the given block until the context is cancelled. Each time
// the tip advances it emits the new window, capped at BatchSize blocks per
// batch so a stalled consumer never receives an unbounded range.
func (l *Live) Run(ctx context.Context, from uint64, out chan<- Batch) error {
	next := from
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var tip uint64
		err := withRetry(ctx, l.cfg.MaxRetries, l.cfg.RetryBackoff, l.cfg.MaxBackoff, func(ctx context.Context) error {
			var err error
			tip, err = l.source.LatestBlock(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("poll tip: %w", err)
		}

		for next <= tip {
			to := next + l.cfg.BatchSize - 1
			if to > tip {
				to = tip
			}

			logs, err := l.fetchWithRetry(ctx, next, to)
			if err != nil {
				return fmt.Errorf("fetch logs [%d, %d]: %w", next, to, err)
			}

			batch := Batch{FromBlock: next, ToBlock: to, Logs: logs}
			select {
			case out <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}

			l.logger.Debug("live batch",
				zap.Uint64("chain_id", l.cfg.ChainID),
				zap.Uint64("from", next), zap.Uint64("to", to), zap.Int("logs", len(logs)))
			next = to + 1
		}
	}
}

func (l *Live) fetchWithRetry(ctx context.Context, from, to uint64) ([]model.LogRecord, error) {
	var logs []model.LogRecord
	err := withRetry(ctx, l.cfg.MaxRetries, l.cfg.RetryBackoff, l.cfg.MaxBackoff, func(ctx context.Context) error {
		fetchCtx, cancel := context.WithTimeout(ctx, l.cfg.BatchTimeout)
		defer cancel()

		var err error
		logs, err = l.source.FetchLogs(fetchCtx, from, to)
		if err != nil {
			l.logger.Warn("fetch logs failed",
				zap.Uint64("chain_id", l.cfg.ChainID),
				zap.Uint64("from", from), zap.Uint64("to", to), zap.Error(err))
		}
		return err
	})
	return logs, err
}
