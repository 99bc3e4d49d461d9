package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/runic-indexer/runic/internal/config"
	"github.com/runic-indexer/runic/internal/pubsub"
	"github.com/runic-indexer/runic/internal/store"
)

// ErrDrainTimeout reports workers still running at the shutdown deadline.
var ErrDrainTimeout = errors.New("shutdown drain deadline exceeded")

// Manager spawns one ChainWorker per enabled chain and coordinates
// shutdown.
type Manager struct {
	cfg       config.IndexerConfig
	tx        store.TransactionalStore
	analytics store.AnalyticalStore
	publisher *pubsub.Publisher
	logger    *zap.Logger
}

// NewManager builds the supervisor.
func NewManager(cfg config.IndexerConfig, tx store.TransactionalStore, analytics store.AnalyticalStore, publisher *pubsub.Publisher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		tx:        tx,
		analytics: analytics,
		publisher: publisher,
		logger:    logger.Named("manager"),
	}
}

// Run loads the enabled chain set, runs one worker per chain, and waits for
// cancellation. On shutdown it allows ShutdownTimeout for in-flight batches
// to drain; chains that miss the deadline are logged by name and Run returns
// ErrDrainTimeout.
func (m *Manager) Run(ctx context.Context) error {
	chains, err := m.tx.Chains(ctx)
	if err != nil {
		return fmt.Errorf("load chains: %w", err)
	}
	if len(chains) == 0 {
		return fmt.Errorf("no enabled chains configured")
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	var wg sync.WaitGroup
	var mu sync.Mutex
	running := make(map[uint64]string, len(chains))
	errCh := make(chan error, len(chains))

	for _, chainCfg := range chains {
		w, err := NewChainWorker(ctx, m.cfg, chainCfg, m.tx, m.analytics, m.publisher, m.logger)
		if err != nil {
			// One unreachable chain must not hold back the rest.
			m.logger.Error("worker init failed",
				zap.Uint64("chain_id", chainCfg.ChainID),
				zap.String("chain", chainCfg.Name), zap.Error(err))
			continue
		}

		mu.Lock()
		running[chainCfg.ChainID] = chainCfg.Name
		mu.Unlock()

		wg.Add(1)
		go func(chainID uint64, name string) {
			defer wg.Done()
			defer func() {
				mu.Lock()
				delete(running, chainID)
				mu.Unlock()
			}()

			m.logger.Info("chain worker started",
				zap.Uint64("chain_id", chainID), zap.String("chain", name))
			if err := w.Run(workerCtx); err != nil {
				m.logger.Error("chain worker failed",
					zap.Uint64("chain_id", chainID), zap.Error(err))
				errCh <- err
			}
		}(chainCfg.ChainID, chainCfg.Name)
	}

	mu.Lock()
	started := len(running)
	mu.Unlock()
	if started == 0 {
		return fmt.Errorf("no chain workers could start")
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		// Invariant violations are fatal for the whole process.
		cancelWorkers()
		wg.Wait()
		return err
	}

	m.logger.Info("shutdown requested, draining workers",
		zap.Duration("deadline", m.cfg.ShutdownTimeout))
	cancelWorkers()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("all chain workers drained")
		return nil
	case <-time.After(m.cfg.ShutdownTimeout):
		mu.Lock()
		for chainID, name := range running {
			m.logger.Error("worker did not drain before deadline",
				zap.Uint64("chain_id", chainID), zap.String("chain", name))
		}
		mu.Unlock()
		return ErrDrainTimeout
	}
}
