package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/runic-indexer/runic/internal/config"
	"github.com/runic-indexer/runic/internal/cron"
	"github.com/runic-indexer/runic/internal/pubsub"
	"github.com/runic-indexer/runic/internal/store/clickhouse"
	"github.com/runic-indexer/runic/internal/store/postgres"
	"github.com/runic-indexer/runic/internal/worker"
)

// Exit codes.
const (
	exitOK           = 0
	exitStartupError = 1
	exitRuntimeError = 2
	exitDrainTimeout = 130
)

func main() {
	root := &cobra.Command{
		Use:          "runic",
		Short:        "Multi-chain DEX indexer",
		SilenceUsage: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the indexer",
		Run: func(cmd *cobra.Command, _ []string) {
			os.Exit(run(cmd))
		},
	}
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(runCmd)

	// Bare invocation runs the indexer; the binary needs no arguments.
	root.RunE = func(cmd *cobra.Command, args []string) error {
		os.Exit(run(runCmd))
		return nil
	}

	if err := root.Execute(); err != nil {
		os.Exit(exitStartupError)
	}
}

func run(cmd *cobra.Command) int {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitStartupError
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return exitStartupError
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startupCtx, cancelStartup := context.WithTimeout(ctx, cfg.Indexer.StartupTimeout)
	defer cancelStartup()

	tx, err := postgres.NewStore(startupCtx, cfg.Postgres.DSN(), cfg.Postgres.PoolSize)
	if err != nil {
		logger.Error("postgres connect failed", zap.Error(err))
		return exitStartupError
	}
	defer tx.Close()

	analytics, err := clickhouse.NewStore(startupCtx, clickhouse.Config{
		URL:            cfg.ClickHouse.URL,
		User:           cfg.ClickHouse.User,
		Password:       cfg.ClickHouse.Password,
		Database:       cfg.ClickHouse.Database,
		EventRetention: cfg.Indexer.EventRetention,
	})
	if err != nil {
		logger.Error("clickhouse connect failed", zap.Error(err))
		return exitStartupError
	}
	defer analytics.Close()

	if err := tx.ApplyDDL(startupCtx); err != nil {
		logger.Error("postgres ddl failed", zap.Error(err))
		return exitStartupError
	}
	if err := analytics.ApplyDDL(startupCtx); err != nil {
		logger.Error("clickhouse ddl failed", zap.Error(err))
		return exitStartupError
	}

	publisher, err := pubsub.NewPublisher(cfg.Redpanda, logger)
	if err != nil {
		logger.Error("pubsub connect failed", zap.Error(err))
		return exitStartupError
	}
	defer publisher.Close()

	scheduler := cron.NewScheduler(tx, analytics, logger)
	go scheduler.Run(ctx)

	manager := worker.NewManager(cfg.Indexer, tx, analytics, publisher, logger)
	err = manager.Run(ctx)

	switch {
	case err == nil:
		logger.Info("clean shutdown")
		return exitOK
	case errors.Is(err, worker.ErrDrainTimeout):
		logger.Error("shutdown drain deadline exceeded")
		return exitDrainTimeout
	default:
		logger.Error("unrecoverable runtime error", zap.Error(err))
		return exitRuntimeError
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
