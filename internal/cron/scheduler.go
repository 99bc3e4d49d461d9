// Package cron runs the periodic aggregation jobs. Every job claims a
// cron_checkpoints row before running so racing instances cannot double-run.
package cron

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/runic-indexer/runic/internal/store"
)

// Intervals follow the job definitions; the snapshot jobs align to the hour
// and to midnight UTC respectively.
const (
	nativePriceInterval   = time.Minute
	statsInterval         = 15 * time.Minute
	priceChangeInterval   = 15 * time.Minute
	refreshInterval       = 5 * time.Minute
	poolSnapshotInterval  = time.Hour
	tokenSnapshotInterval = 24 * time.Hour
)

// Scheduler owns the periodic jobs. Jobs read from the stores only, never
// from worker memory.
type Scheduler struct {
	tx        store.TransactionalStore
	analytics store.AnalyticalStore
	logger    *zap.Logger
}

// NewScheduler builds the scheduler.
func NewScheduler(tx store.TransactionalStore, analytics store.AnalyticalStore, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{tx: tx, analytics: analytics, logger: logger.Named("cron")}
}

type job struct {
	name     string
	interval time.Duration
	// alignUTC anchors the first firing to the next interval boundary in
	// UTC (hourly snapshots at :00, daily at midnight).
	alignUTC bool
	run      func(ctx context.Context) error
}

// Run starts every job loop and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	jobs := []job{
		{name: "native_price", interval: nativePriceInterval, run: s.refreshNativePrices},
		{name: "stats_24h", interval: statsInterval, run: s.update24hStats},
		{name: "price_changes", interval: priceChangeInterval, run: s.updatePriceChanges},
		{name: "refresh_summaries", interval: refreshInterval, run: s.refreshSummaries},
		{name: "pool_snapshots", interval: poolSnapshotInterval, alignUTC: true, run: s.poolSnapshots},
		{name: "token_snapshots", interval: tokenSnapshotInterval, alignUTC: true, run: s.tokenSnapshots},
	}

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	s.logger.Info("scheduler started", zap.Int("jobs", len(jobs)))
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	if j.alignUTC {
		select {
		case <-ctx.Done():
			return
		case <-time.After(untilNextBoundary(time.Now().UTC(), j.interval)):
		}
		s.fire(ctx, j)
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, j)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, j job) {
	// Claim with a slightly shorter window than the interval so a slow
	// previous run does not skip the next slot.
	claimed, err := s.tx.ClaimCronJob(ctx, j.name, j.interval-j.interval/10)
	if err != nil {
		s.logger.Warn("cron claim failed", zap.String("job", j.name), zap.Error(err))
		return
	}
	if !claimed {
		return
	}

	start := time.Now()
	if err := j.run(ctx); err != nil {
		s.logger.Error("cron job failed", zap.String("job", j.name), zap.Error(err))
		return
	}
	s.logger.Info("cron job complete",
		zap.String("job", j.name), zap.Duration("took", time.Since(start)))
}

// untilNextBoundary returns the wait to the next interval boundary in UTC;
// for 24h intervals that is the next midnight.
func untilNextBoundary(now time.Time, interval time.Duration) time.Duration {
	next := now.Truncate(interval).Add(interval)
	return next.Sub(now)
}
