// Package config loads the runic configuration from config.yaml, environment
// variables, and flags.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ClickHouseConfig is the analytical store connection.
type ClickHouseConfig struct {
	URL      string
	User     string
	Password string
	Database string
}

// PostgresConfig is the transactional store connection.
type PostgresConfig struct {
	Host     string
	Port     uint16
	User     string
	Password string
	Database string
	PoolSize int
}

// IndexerConfig tunes the per-chain ingestion pipeline.
type IndexerConfig struct {
	HypersyncBearerToken string
	SafetyMarginBlocks   uint64
	BatchSize            uint64
	Concurrency          int
	TipPollInterval      time.Duration
	RPCTimeout           time.Duration
	BatchTimeout         time.Duration
	StartupTimeout       time.Duration
	ShutdownTimeout      time.Duration
	// EventRetention is the analytical events table TTL; zero means no TTL.
	EventRetention time.Duration
}

// RedpandaConfig is the optional pub/sub leg.
type RedpandaConfig struct {
	Enabled     bool
	Brokers     string
	TopicPrefix string
}

// Config is the root configuration.
type Config struct {
	ClickHouse ClickHouseConfig
	Postgres   PostgresConfig
	Indexer    IndexerConfig
	Redpanda   RedpandaConfig
	LogLevel   string
}

// Load reads config.yaml from the working directory (path overridable via
// RUNIC_CONFIG), applies RUNIC_<SECTION>_<KEY> environment overrides, and
// binds any provided flags.
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RUNIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.pool_size", 16)
	v.SetDefault("indexer.safety_margin_blocks", uint64(12))
	v.SetDefault("indexer.batch_size", uint64(2000))
	v.SetDefault("indexer.concurrency", 8)
	v.SetDefault("indexer.tip_poll_interval", 200*time.Millisecond)
	v.SetDefault("indexer.rpc_timeout", 10*time.Second)
	v.SetDefault("indexer.batch_timeout", 60*time.Second)
	v.SetDefault("indexer.startup_timeout", 120*time.Second)
	v.SetDefault("indexer.shutdown_timeout", 30*time.Second)
	v.SetDefault("indexer.event_retention", time.Duration(0))
	v.SetDefault("redpanda.enabled", false)
	v.SetDefault("redpanda.brokers", "localhost:9092")
	v.SetDefault("redpanda.topic_prefix", "runic")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile := os.Getenv("RUNIC_CONFIG"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		ClickHouse: ClickHouseConfig{
			URL:      v.GetString("clickhouse.url"),
			User:     v.GetString("clickhouse.user"),
			Password: v.GetString("clickhouse.password"),
			Database: v.GetString("clickhouse.database"),
		},
		Postgres: PostgresConfig{
			Host:     v.GetString("postgres.host"),
			Port:     uint16(v.GetUint32("postgres.port")),
			User:     v.GetString("postgres.user"),
			Password: v.GetString("postgres.password"),
			Database: v.GetString("postgres.database"),
			PoolSize: v.GetInt("postgres.pool_size"),
		},
		Indexer: IndexerConfig{
			HypersyncBearerToken: v.GetString("indexer.hypersync_bearer_token"),
			SafetyMarginBlocks:   v.GetUint64("indexer.safety_margin_blocks"),
			BatchSize:            v.GetUint64("indexer.batch_size"),
			Concurrency:          v.GetInt("indexer.concurrency"),
			TipPollInterval:      v.GetDuration("indexer.tip_poll_interval"),
			RPCTimeout:           v.GetDuration("indexer.rpc_timeout"),
			BatchTimeout:         v.GetDuration("indexer.batch_timeout"),
			StartupTimeout:       v.GetDuration("indexer.startup_timeout"),
			ShutdownTimeout:      v.GetDuration("indexer.shutdown_timeout"),
			EventRetention:       v.GetDuration("indexer.event_retention"),
		},
		Redpanda: RedpandaConfig{
			Enabled:     v.GetBool("redpanda.enabled"),
			Brokers:     v.GetString("redpanda.brokers"),
			TopicPrefix: v.GetString("redpanda.topic_prefix"),
		},
		LogLevel: v.GetString("log-level"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	if c.Postgres.Host == "" {
		return fmt.Errorf("postgres.host is required")
	}
	if c.Postgres.Database == "" {
		return fmt.Errorf("postgres.database is required")
	}
	if c.ClickHouse.URL == "" {
		return fmt.Errorf("clickhouse.url is required")
	}
	if c.Indexer.BatchSize == 0 {
		return fmt.Errorf("indexer.batch_size must be greater than zero")
	}
	if c.Redpanda.Enabled && c.Redpanda.Brokers == "" {
		return fmt.Errorf("redpanda.brokers is required when redpanda is enabled")
	}
	return nil
}

// DSN renders the pgx connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.User, c.Password, c.Host, c.Port, c.Database)
}
