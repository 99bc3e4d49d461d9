// Package clickhouse implements the analytical store on the native protocol.
package clickhouse

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/runic-indexer/runic/internal/model"
	"github.com/runic-indexer/runic/internal/store"
	"github.com/runic-indexer/runic/internal/store/ddl"
)

// Store appends immutable event history and serves the aggregate reads used
// by the cron jobs.
type Store struct {
	conn driver.Conn
	// eventRetention > 0 applies a TTL to the events table at DDL time.
	eventRetention time.Duration
}

// Config carries the connection settings.
type Config struct {
	URL            string
	User           string
	Password       string
	Database       string
	EventRetention time.Duration
}

// NewStore opens and verifies the connection.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	opts, err := buildOptions(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &Store{conn: conn, eventRetention: cfg.EventRetention}, nil
}

func buildOptions(cfg Config) (*clickhouse.Options, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse url: %w", err)
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "9000"
	}
	opts := &clickhouse.Options{
		Protocol: clickhouse.Native,
		Addr:     []string{fmt.Sprintf("%s:%s", host, port)},
		Auth: clickhouse.Auth{
			Username: cfg.User,
			Password: cfg.Password,
			Database: cfg.Database,
		},
	}
	if opts.Auth.Database == "" && len(u.Path) > 1 {
		opts.Auth.Database = strings.TrimPrefix(u.Path, "/")
	}
	return opts, nil
}

// Close closes the connection.
func (s *Store) Close() error { return s.conn.Close() }

// ApplyDDL provisions the analytical schema idempotently and applies the
// configured event retention policy.
func (s *Store) ApplyDDL(ctx context.Context) error {
	for _, stmt := range strings.Split(ddl.ClickHouse, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}
	if s.eventRetention > 0 {
		days := int64(s.eventRetention.Hours() / 24)
		if days < 1 {
			days = 1
		}
		stmt := fmt.Sprintf("ALTER TABLE events MODIFY TTL timestamp + INTERVAL %d DAY", days)
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply events ttl: %w", err)
		}
	}
	return nil
}

// AppendEvents inserts an event batch; replays collapse on merge.
func (s *Store) AppendEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO events")
	if err != nil {
		return err
	}
	for i := range events {
		e := &events[i]
		if err := batch.Append(
			e.ChainID, e.BlockNumber, e.TxHash, e.TxIndex, e.LogIndex, e.Timestamp,
			e.PoolAddress, e.Token0, e.Token1, e.Maker, e.Owner, e.EventType,
			e.Amount0, e.Amount1, e.Amount0Adjusted, e.Amount1Adjusted,
			e.Amount0Direction, e.Amount1Direction,
			e.Price, e.PriceUSD, e.VolumeUSD, e.FeesUSD, e.Fee, e.Suspicious,
			e.SqrtPriceX96, e.Tick, e.TickLower, e.TickUpper, e.Liquidity,
		); err != nil {
			return err
		}
	}
	return batch.Send()
}

// AppendSupplyEvents inserts supply change rows.
func (s *Store) AppendSupplyEvents(ctx context.Context, events []model.SupplyEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO supply_events")
	if err != nil {
		return err
	}
	for i := range events {
		e := &events[i]
		if err := batch.Append(
			e.ChainID, e.BlockNumber, e.Timestamp, e.TxHash, e.LogIndex,
			e.TokenAddress, e.EventType, e.Amount, e.AmountAdjusted,
		); err != nil {
			return err
		}
	}
	return batch.Send()
}

// AppendNewPools inserts pool discovery rows.
func (s *Store) AppendNewPools(ctx context.Context, pools []model.NewPool) error {
	if len(pools) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO new_pools")
	if err != nil {
		return err
	}
	for i := range pools {
		p := &pools[i]
		if err := batch.Append(
			p.ChainID, p.PoolAddress, p.BlockNumber, p.TxHash, p.Timestamp,
			p.Token0, p.Token1, p.Token0Symbol, p.Token1Symbol,
			p.Protocol, p.ProtocolVersion, p.Fee, p.InitialTVLUSD,
		); err != nil {
			return err
		}
	}
	return batch.Send()
}

// InsertPoolSnapshots inserts hourly pool snapshots.
func (s *Store) InsertPoolSnapshots(ctx context.Context, snapshots []model.PoolSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO pool_snapshots")
	if err != nil {
		return err
	}
	for i := range snapshots {
		sn := &snapshots[i]
		if err := batch.Append(
			sn.ChainID, sn.PoolAddress, sn.Timestamp, sn.Price, sn.PriceUSD, sn.TVLUSD,
			sn.Reserve0Adjusted, sn.Reserve1Adjusted, sn.Liquidity,
			sn.Volume24h, sn.Swaps24h, sn.Fee,
		); err != nil {
			return err
		}
	}
	return batch.Send()
}

// InsertTokenSnapshots inserts daily token snapshots.
func (s *Store) InsertTokenSnapshots(ctx context.Context, snapshots []model.TokenSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO token_snapshots")
	if err != nil {
		return err
	}
	for i := range snapshots {
		sn := &snapshots[i]
		if err := batch.Append(
			sn.ChainID, sn.TokenAddress, sn.Timestamp, sn.PriceUSD,
			sn.Volume24h, sn.Swaps24h, sn.CirculatingSupply, sn.MarketCapUSD, sn.PoolCount,
		); err != nil {
			return err
		}
	}
	return batch.Send()
}

// PoolStats24h aggregates swap volume per pool over the trailing 24 hours.
func (s *Store) PoolStats24h(ctx context.Context) ([]store.Stats24h, error) {
	return s.stats24h(ctx, `
		SELECT chain_id, pool_address,
		       sum(volume_usd)  AS volume_24h,
		       count()          AS swaps_24h,
		       max(timestamp)   AS last_swap_at
		FROM events
		WHERE timestamp >= now() - INTERVAL 24 HOUR AND event_type = 'swap'
		GROUP BY chain_id, pool_address
	`)
}

// TokenStats24h aggregates swap volume per token over the trailing 24 hours.
// Each swap counts toward both sides of the pool.
func (s *Store) TokenStats24h(ctx context.Context) ([]store.Stats24h, error) {
	return s.stats24h(ctx, `
		SELECT chain_id, token,
		       sum(volume_usd) AS volume_24h,
		       count()         AS swaps_24h,
		       max(timestamp)  AS last_swap_at
		FROM events
		ARRAY JOIN [token0, token1] AS token
		WHERE timestamp >= now() - INTERVAL 24 HOUR AND event_type = 'swap'
		GROUP BY chain_id, token
	`)
}

func (s *Store) stats24h(ctx context.Context, query string) ([]store.Stats24h, error) {
	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Stats24h
	for rows.Next() {
		var r store.Stats24h
		var swaps uint64
		if err := rows.Scan(&r.ChainID, &r.Address, &r.VolumeUSD, &swaps, &r.LastSwapAt); err != nil {
			return nil, err
		}
		r.Swaps = swaps
		out = append(out, r)
	}
	return out, rows.Err()
}

// PoolPriceChanges computes 24h and 7d price changes from pool snapshots.
func (s *Store) PoolPriceChanges(ctx context.Context) ([]store.PriceChange, error) {
	return s.priceChanges(ctx, "pool_snapshots", "pool_address")
}

// TokenPriceChanges computes 24h and 7d price changes from token snapshots.
func (s *Store) TokenPriceChanges(ctx context.Context) ([]store.PriceChange, error) {
	return s.priceChanges(ctx, "token_snapshots", "token_address")
}

func (s *Store) priceChanges(ctx context.Context, table, keyColumn string) ([]store.PriceChange, error) {
	query := fmt.Sprintf(`
		SELECT chain_id, %[2]s,
		       argMax(price_usd, timestamp)                                              AS price_now,
		       argMaxIf(price_usd, timestamp, timestamp <= now() - INTERVAL 24 HOUR)     AS price_24h,
		       argMaxIf(price_usd, timestamp, timestamp <= now() - INTERVAL 7 DAY)       AS price_7d
		FROM %[1]s
		WHERE timestamp >= now() - INTERVAL 8 DAY
		GROUP BY chain_id, %[2]s
	`, table, keyColumn)

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.PriceChange
	for rows.Next() {
		var chainID uint64
		var address string
		var now, h24, d7 float64
		if err := rows.Scan(&chainID, &address, &now, &h24, &d7); err != nil {
			return nil, err
		}
		change := store.PriceChange{ChainID: chainID, Address: address}
		if h24 > 0 {
			change.Change24h = (now - h24) / h24 * 100
		}
		if d7 > 0 {
			change.Change7d = (now - d7) / d7 * 100
		}
		out = append(out, change)
	}
	return out, rows.Err()
}

// SupplyTotals folds supply events into net circulating supply per token.
func (s *Store) SupplyTotals(ctx context.Context) ([]store.SupplyTotal, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT chain_id, token_address,
		       sumIf(amount_adjusted, event_type = 'mint')
		         - sumIf(amount_adjusted, event_type = 'burn') AS supply
		FROM supply_events
		GROUP BY chain_id, token_address
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.SupplyTotal
	for rows.Next() {
		var r store.SupplyTotal
		if err := rows.Scan(&r.ChainID, &r.Address, &r.Supply); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
