package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/runic-indexer/runic/internal/model"
)

// Defaults shared by both ingestors.
const (
	DefaultBatchSize    = 2000
	DefaultMaxRetries   = 7 // retries after the first attempt: 8 attempts in all
	DefaultRetryBackoff = 500 * time.Millisecond
	DefaultMaxBackoff   = 30 * time.Second
	DefaultChannelCap   = 64
	DefaultBatchTimeout = 60 * time.Second
)

// Config holds runtime settings shared by the historical and live ingestors.
type Config struct {
	ChainID      uint64
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	BatchTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
}

// Historical range-scans [from, to] in contiguous batches and blocks on the
// bounded output channel for backpressure.
type Historical struct {
	cfg    Config
	source Source
	logger *zap.Logger
}

// NewHistorical builds a historical ingestor.
func NewHistorical(cfg Config, source Source, logger *zap.Logger) *Historical {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Historical{cfg: cfg, source: source, logger: logger}
}

// Run scans [from, to] inclusive, sending one Batch per block range. It
// returns nil once the whole range is emitted (caught up). A fetch that still
// fails after the retry budget returns its error, and cancellation returns
// ctx.Err(). An empty range returns immediately.
func (h *Historical) Run(ctx context.Context, from, to uint64, out chan<- Batch) error {
	if from > to {
		h.logger.Info("nothing to backfill",
			zap.Uint64("chain_id", h.cfg.ChainID), zap.Uint64("from", from), zap.Uint64("to", to))
		return nil
	}

	ranges, err := SplitRange(from, to, h.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, blockRange := range ranges {
		logs, err := h.fetchWithRetry(ctx, blockRange.From, blockRange.To)
		if err != nil {
			return fmt.Errorf("fetch logs [%d, %d]: %w", blockRange.From, blockRange.To, err)
		}

		batch := Batch{FromBlock: blockRange.From, ToBlock: blockRange.To, Logs: logs}
		select {
		case out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}

		h.logger.Debug("historical batch",
			zap.Uint64("chain_id", h.cfg.ChainID),
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
			zap.Int("logs", len(logs)))
	}

	return nil
}

func (h *Historical) fetchWithRetry(ctx context.Context, from, to uint64) ([]model.LogRecord, error) {
	var logs []model.LogRecord
	err := withRetry(ctx, h.cfg.MaxRetries, h.cfg.RetryBackoff, h.cfg.MaxBackoff, func(ctx context.Context) error {
		fetchCtx, cancel := context.WithTimeout(ctx, h.cfg.BatchTimeout)
		defer cancel()

		var err error
		logs, err = h.source.FetchLogs(fetchCtx, from, to)
		if err != nil {
			h.logger.Warn("fetch logs failed",
				zap.Uint64("chain_id", h.cfg.ChainID),
				zap.Uint64("from", from), zap.Uint64("to", to), zap.Error(err))
		}
		return err
	})
	return logs, err
}
