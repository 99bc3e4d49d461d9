// Package tokens resolves and memoizes ERC20 metadata per chain.
package tokens

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/runic-indexer/runic/internal/dex"
	"github.com/runic-indexer/runic/internal/model"
)

// TokenStore persists discovered tokens so the cache survives restarts.
type TokenStore interface {
	UpsertTokens(ctx context.Context, tokens []*model.Token) error
}

// ContractCaller performs the read-only calls behind metadata lookups;
// chain.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

const (
	defaultConcurrency = 8
	defaultCooldown    = 10 * time.Minute
	rpcTimeout         = 10 * time.Second
)

// Fetcher memoizes (chain_id, address) -> token metadata. Concurrent lookups
// of the same address share one outstanding RPC; total in-flight RPCs are
// capped, excess lookups queue.
type Fetcher struct {
	chainID uint64
	client  ContractCaller
	store   TokenStore
	logger  *zap.Logger

	sem chan struct{}

	mu      sync.Mutex
	cache   map[string]*model.Token
	pending map[string]chan struct{}
	retryAt map[string]time.Time

	cooldown time.Duration
}

// NewFetcher builds a fetcher with the given RPC concurrency cap.
func NewFetcher(chainID uint64, client ContractCaller, store TokenStore, concurrency int, logger *zap.Logger) *Fetcher {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		chainID:  chainID,
		client:   client,
		store:    store,
		logger:   logger,
		sem:      make(chan struct{}, concurrency),
		cache:    make(map[string]*model.Token),
		pending:  make(map[string]chan struct{}),
		retryAt:  make(map[string]time.Time),
		cooldown: defaultCooldown,
	}
}

// Seed preloads the cache from persisted token rows.
func (f *Fetcher) Seed(tokens []*model.Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tokens {
		f.cache[strings.ToLower(t.Address)] = t
	}
}

// Cached returns the cache entry without triggering a fetch.
func (f *Fetcher) Cached(address string) (*model.Token, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.cache[strings.ToLower(address)]
	return t, ok
}

// EnsureNative pre-seeds the wrapped native token from the chain config so
// pools against the native token never fail registration.
func (f *Fetcher) EnsureNative(ctx context.Context, c *model.Chain) error {
	addr := strings.ToLower(c.NativeTokenAddress)
	if _, ok := f.Cached(addr); ok {
		return nil
	}

	got, err := f.Get(ctx, []string{addr})
	if err != nil {
		return err
	}
	if t, ok := got[addr]; ok && t.MetadataOK {
		return nil
	}

	// RPC could not describe the wrapped native contract; fall back to the
	// configured symbol and decimals rather than refusing to start.
	t := &model.Token{
		ChainID:    f.chainID,
		Address:    addr,
		Symbol:     c.NativeTokenSymbol,
		Name:       c.NativeTokenSymbol,
		Decimals:   c.NativeTokenDecimals,
		MetadataOK: true,
	}
	f.mu.Lock()
	f.cache[addr] = t
	f.mu.Unlock()
	if f.store != nil {
		return f.store.UpsertTokens(ctx, []*model.Token{t})
	}
	return nil
}

// Get resolves metadata for every address, fetching misses from RPC. The
// returned map is keyed by lowercase address and always contains one entry
// per requested address; entries with MetadataOK=false are on cooldown.
func (f *Fetcher) Get(ctx context.Context, addresses []string) (map[string]*model.Token, error) {
	out := make(map[string]*model.Token, len(addresses))
	var misses []string
	var waits []chan struct{}

	f.mu.Lock()
	now := time.Now()
	for _, raw := range addresses {
		addr := strings.ToLower(raw)
		if _, done := out[addr]; done {
			continue
		}
		if t, ok := f.cache[addr]; ok {
			if t.MetadataOK || now.Before(f.retryAt[addr]) {
				out[addr] = t
				continue
			}
			// Cooldown expired; retry the contract.
			delete(f.cache, addr)
		}
		if ch, inflight := f.pending[addr]; inflight {
			waits = append(waits, ch)
			misses = append(misses, addr)
			continue
		}
		ch := make(chan struct{})
		f.pending[addr] = ch
		misses = append(misses, addr)
		go f.fetch(ctx, addr, ch)
	}
	f.mu.Unlock()

	for _, ch := range waits {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.collect(ctx, misses, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Fetcher) collect(ctx context.Context, addrs []string, out map[string]*model.Token) error {
	for _, addr := range addrs {
		if _, done := out[addr]; done {
			continue
		}
		for {
			f.mu.Lock()
			t, ok := f.cache[addr]
			ch := f.pending[addr]
			f.mu.Unlock()
			if ok {
				out[addr] = t
				break
			}
			if ch == nil {
				// Fetch finished without a cache entry; treat as unavailable.
				out[addr] = f.unavailable(addr)
				break
			}
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (f *Fetcher) fetch(ctx context.Context, addr string, done chan struct{}) {
	defer close(done)

	select {
	case f.sem <- struct{}{}:
		defer func() { <-f.sem }()
	case <-ctx.Done():
		f.finish(addr, f.unavailable(addr))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	token, err := f.readMetadata(callCtx, addr)
	if err != nil {
		f.logger.Debug("token metadata fetch failed",
			zap.String("token", addr), zap.Error(err))
		f.finish(addr, f.unavailable(addr))
		return
	}

	f.finish(addr, token)
	if f.store != nil {
		if err := f.store.UpsertTokens(ctx, []*model.Token{token}); err != nil {
			f.logger.Warn("token persist failed", zap.String("token", addr), zap.Error(err))
		}
	}
}

func (f *Fetcher) finish(addr string, token *model.Token) {
	f.mu.Lock()
	f.cache[addr] = token
	if !token.MetadataOK {
		f.retryAt[addr] = time.Now().Add(f.cooldown)
	} else {
		delete(f.retryAt, addr)
	}
	delete(f.pending, addr)
	f.mu.Unlock()
}

func (f *Fetcher) unavailable(addr string) *model.Token {
	return &model.Token{
		ChainID:    f.chainID,
		Address:    addr,
		Decimals:   18,
		MetadataOK: false,
	}
}

// readMetadata performs the ERC20 calls; symbol and name fall back to the
// bytes32 ABI for pre-standard tokens.
func (f *Fetcher) readMetadata(ctx context.Context, addr string) (*model.Token, error) {
	stringABI, err := dex.ERC20ABI()
	if err != nil {
		return nil, err
	}
	bytes32ABI, err := dex.ERC20Bytes32ABI()
	if err != nil {
		return nil, err
	}

	token := common.HexToAddress(addr)

	values, err := f.call(ctx, token, stringABI, "decimals")
	if err != nil {
		return nil, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return nil, err
	}

	meta := &model.Token{
		ChainID:    f.chainID,
		Address:    addr,
		Decimals:   decimals,
		MetadataOK: true,
	}

	if values, err := f.call(ctx, token, stringABI, "symbol"); err == nil {
		if symbol, ok := values[0].(string); ok {
			meta.Symbol = symbol
		}
	} else if values, err := f.call(ctx, token, bytes32ABI, "symbol"); err == nil {
		if symbol, ok := bytes32ToString(values[0]); ok {
			meta.Symbol = symbol
		}
	}

	if values, err := f.call(ctx, token, stringABI, "name"); err == nil {
		if name, ok := values[0].(string); ok {
			meta.Name = name
		}
	} else if values, err := f.call(ctx, token, bytes32ABI, "name"); err == nil {
		if name, ok := bytes32ToString(values[0]); ok {
			meta.Name = name
		}
	}

	return meta, nil
}

func (f *Fetcher) call(ctx context.Context, token common.Address, parsed abi.ABI, method string) ([]interface{}, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &token, Data: data}
	resp, err := f.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned nothing", method)
	}
	return values, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case uint16:
		return uint8(v), nil
	case uint32:
		return uint8(v), nil
	case uint64:
		return uint8(v), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
