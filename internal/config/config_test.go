package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		ClickHouse: ClickHouseConfig{URL: "clickhouse://localhost:9000", Database: "indexer"},
		Postgres:   PostgresConfig{Host: "localhost", Port: 5432, User: "runic", Password: "pw", Database: "runic"},
		Indexer: IndexerConfig{
			BatchSize:       2000,
			Concurrency:     8,
			TipPollInterval: 200 * time.Millisecond,
		},
	}
}

func TestValidateAcceptsComplete(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Host = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("missing postgres host should fail")
	}

	cfg = validConfig()
	cfg.ClickHouse.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("missing clickhouse url should fail")
	}

	cfg = validConfig()
	cfg.Indexer.BatchSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("zero batch size should fail")
	}

	cfg = validConfig()
	cfg.Redpanda.Enabled = true
	cfg.Redpanda.Brokers = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("enabled redpanda without brokers should fail")
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := validConfig()
	want := "postgres://runic:pw@localhost:5432/runic"
	if got := cfg.Postgres.DSN(); got != want {
		t.Fatalf("dsn = %s, want %s", got, want)
	}
}
