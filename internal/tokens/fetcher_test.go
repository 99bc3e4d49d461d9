package tokens

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"go.uber.org/zap"

	"github.com/runic-indexer/runic/internal/dex"
	"github.com/runic-indexer/runic/internal/model"
)

// fakeCaller answers ERC20 metadata calls from a canned table and counts
// the calls it receives.
type fakeCaller struct {
	mu        sync.Mutex
	calls     int
	failing   bool
	inFlight  atomic.Int32
	maxSeen   atomic.Int32
	callDelay time.Duration
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	failing := f.failing
	f.mu.Unlock()

	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if cur <= seen || f.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}
	if f.callDelay > 0 {
		time.Sleep(f.callDelay)
	}

	if failing {
		return nil, errors.New("execution reverted")
	}

	erc20, err := dex.ERC20ABI()
	if err != nil {
		return nil, err
	}
	switch {
	case bytes.Equal(msg.Data, mustPack(erc20NoArgs("decimals"))):
		return erc20.Methods["decimals"].Outputs.Pack(uint8(6))
	case bytes.Equal(msg.Data, mustPack(erc20NoArgs("symbol"))):
		return erc20.Methods["symbol"].Outputs.Pack("USDC")
	case bytes.Equal(msg.Data, mustPack(erc20NoArgs("name"))):
		return erc20.Methods["name"].Outputs.Pack("USD Coin")
	default:
		return nil, errors.New("unexpected call")
	}
}

func erc20NoArgs(method string) ([]byte, error) {
	erc20, err := dex.ERC20ABI()
	if err != nil {
		return nil, err
	}
	return erc20.Pack(method)
}

func mustPack(data []byte, err error) []byte {
	if err != nil {
		panic(err)
	}
	return data
}

// memStore records upserted tokens.
type memStore struct {
	mu     sync.Mutex
	tokens []*model.Token
}

func (m *memStore) UpsertTokens(_ context.Context, tokens []*model.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, tokens...)
	return nil
}

const tokenAddr = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func TestFetcherResolvesAndPersists(t *testing.T) {
	caller := &fakeCaller{}
	persisted := &memStore{}
	f := NewFetcher(1, caller, persisted, 4, zap.NewNop())

	got, err := f.Get(context.Background(), []string{tokenAddr})
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	token := got[tokenAddr]
	if token == nil {
		t.Fatalf("missing entry")
	}
	if !token.MetadataOK || token.Symbol != "USDC" || token.Decimals != 6 {
		t.Fatalf("metadata mismatch: %+v", token)
	}

	// Wait for the async persist to land.
	deadline := time.Now().Add(time.Second)
	for {
		persisted.mu.Lock()
		n := len(persisted.tokens)
		persisted.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("token was not persisted")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestFetcherMemoizes(t *testing.T) {
	caller := &fakeCaller{}
	f := NewFetcher(1, caller, nil, 4, zap.NewNop())

	if _, err := f.Get(context.Background(), []string{tokenAddr}); err != nil {
		t.Fatalf("first get: %v", err)
	}
	caller.mu.Lock()
	firstCalls := caller.calls
	caller.mu.Unlock()

	if _, err := f.Get(context.Background(), []string{tokenAddr}); err != nil {
		t.Fatalf("second get: %v", err)
	}
	caller.mu.Lock()
	secondCalls := caller.calls
	caller.mu.Unlock()

	if secondCalls != firstCalls {
		t.Fatalf("cache miss on second lookup: %d -> %d calls", firstCalls, secondCalls)
	}
}

func TestFetcherFailureCachedWithCooldown(t *testing.T) {
	caller := &fakeCaller{failing: true}
	f := NewFetcher(1, caller, nil, 4, zap.NewNop())

	got, err := f.Get(context.Background(), []string{tokenAddr})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	token := got[tokenAddr]
	if token.MetadataOK {
		t.Fatalf("revert should yield unavailable metadata")
	}
	if token.DisplayDecimals() != 18 {
		t.Fatalf("display fallback decimals: %d", token.DisplayDecimals())
	}

	// Within the cooldown the failure is served from cache.
	caller.mu.Lock()
	callsAfterFirst := caller.calls
	caller.mu.Unlock()

	if _, err := f.Get(context.Background(), []string{tokenAddr}); err != nil {
		t.Fatalf("second get: %v", err)
	}
	caller.mu.Lock()
	callsAfterSecond := caller.calls
	caller.mu.Unlock()
	if callsAfterSecond != callsAfterFirst {
		t.Fatalf("cooldown not honored: %d -> %d", callsAfterFirst, callsAfterSecond)
	}

	// After the cooldown the contract is retried, and it now answers.
	f.cooldown = 0
	f.mu.Lock()
	f.retryAt[tokenAddr] = time.Now().Add(-time.Second)
	f.mu.Unlock()
	caller.mu.Lock()
	caller.failing = false
	caller.mu.Unlock()

	got, err = f.Get(context.Background(), []string{tokenAddr})
	if err != nil {
		t.Fatalf("third get: %v", err)
	}
	if !got[tokenAddr].MetadataOK {
		t.Fatalf("retry after cooldown should succeed")
	}
}

func TestFetcherCoalescesConcurrentLookups(t *testing.T) {
	caller := &fakeCaller{callDelay: 10 * time.Millisecond}
	f := NewFetcher(1, caller, nil, 8, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.Get(context.Background(), []string{tokenAddr}); err != nil {
				t.Errorf("get: %v", err)
			}
		}()
	}
	wg.Wait()

	// One fetch means exactly three contract calls (decimals, symbol, name).
	caller.mu.Lock()
	calls := caller.calls
	caller.mu.Unlock()
	if calls != 3 {
		t.Fatalf("coalescing failed: %d calls, want 3", calls)
	}
}

func TestFetcherBoundsConcurrency(t *testing.T) {
	caller := &fakeCaller{callDelay: 5 * time.Millisecond}
	f := NewFetcher(1, caller, nil, 2, zap.NewNop())

	addrs := []string{
		"0x1000000000000000000000000000000000000001",
		"0x1000000000000000000000000000000000000002",
		"0x1000000000000000000000000000000000000003",
		"0x1000000000000000000000000000000000000004",
		"0x1000000000000000000000000000000000000005",
		"0x1000000000000000000000000000000000000006",
	}
	if _, err := f.Get(context.Background(), addrs); err != nil {
		t.Fatalf("get: %v", err)
	}

	if max := f.cap(); max != 2 {
		t.Fatalf("semaphore capacity = %d, want 2", max)
	}
	// The three metadata calls inside one fetch run sequentially, so the
	// in-flight ceiling equals the fetch concurrency cap.
	if seen := caller.maxSeen.Load(); seen > 2 {
		t.Fatalf("in-flight calls peaked at %d, cap is 2", seen)
	}
}

// cap exposes the semaphore size for tests.
func (f *Fetcher) cap() int { return cap(f.sem) }
