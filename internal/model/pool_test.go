package model

import (
	"math"
	"math/big"
	"testing"
)

func TestApplyV2SyncReservesAndPrice(t *testing.T) {
	t0, t1 := testTokens() // USDC dec 6, WETH dec 18
	pool := testPool(t0, t1)
	pool.ProtocolVersion = VersionV2

	// 1000 USDC against 0.5 WETH: 2000 USDC per WETH.
	reserve0 := big.NewInt(1_000_000_000)
	reserve1, _ := new(big.Int).SetString("500000000000000000", 10)
	pool.ApplyV2Sync(&V2SyncEvent{Reserve0: reserve0, Reserve1: reserve1}, 100, 1700000000)

	if pool.Reserve0 != "1000000000" || pool.Reserve1 != "500000000000000000" {
		t.Fatalf("raw reserves: %s %s", pool.Reserve0, pool.Reserve1)
	}
	if pool.Reserve0Adjusted != 1000.0 {
		t.Fatalf("reserve0 adjusted: %v", pool.Reserve0Adjusted)
	}
	if pool.Reserve1Adjusted != 0.5 {
		t.Fatalf("reserve1 adjusted: %v", pool.Reserve1Adjusted)
	}

	// Adjusted reserves round-trip to raw within one unit.
	back0 := pool.Reserve0Adjusted * 1e6
	if math.Abs(back0-1_000_000_000) >= 1 {
		t.Fatalf("reserve0 adjusted drift: %v", back0)
	}

	// price = token1/token0; WETH per USDC.
	if math.Abs(pool.Price-0.0005) > 1e-12 {
		t.Fatalf("price: %v", pool.Price)
	}
	// token0_price = USDC per WETH = 2000.
	if math.Abs(pool.Token0Price-2000.0) > 1e-9 {
		t.Fatalf("token0 price: %v", pool.Token0Price)
	}
}

func TestApplyV2SyncIgnoresStaleBlock(t *testing.T) {
	t0, t1 := testTokens()
	pool := testPool(t0, t1)
	pool.ProtocolVersion = VersionV2
	pool.BlockNumber = 200

	pool.ApplyV2Sync(&V2SyncEvent{Reserve0: big.NewInt(1), Reserve1: big.NewInt(1)}, 100, 1700000000)
	if pool.Reserve0 != "" && pool.Reserve0 != "0" {
		t.Fatalf("stale sync applied: %q", pool.Reserve0)
	}
}

func TestApplyInitializeSetsPrice(t *testing.T) {
	t0, t1 := testTokens()
	t0.Decimals = 18
	pool := testPool(t0, t1)
	pool.Token0Decimals = 18

	sqrt := new(big.Int).Lsh(big.NewInt(1), 96)
	pool.ApplyInitialize(sqrt, 0, 50, 1700000000)

	if !pool.Initialized {
		t.Fatalf("pool should be initialized")
	}
	if pool.Price != 1.0 || pool.Token1Price != 1.0 || pool.Token0Price != 1.0 {
		t.Fatalf("unit prices expected: %v %v %v", pool.Price, pool.Token0Price, pool.Token1Price)
	}
}

func TestApplyEventSwapUpdatesState(t *testing.T) {
	t0, t1 := testTokens()
	t0.Decimals = 18
	pool := testPool(t0, t1)
	pool.Token0Decimals = 18
	pool.Initialized = true
	pool.Reserve0Adjusted = 100
	pool.Reserve1Adjusted = 100

	sqrt := new(big.Int).Lsh(big.NewInt(1), 96)
	sw := &V3SwapEvent{
		Sender:       "0x2222222222222222222222222222222222222222",
		Amount0:      bigFromFloat(10e18),
		Amount1:      bigFromFloat(-5e18),
		SqrtPriceX96: sqrt,
		Liquidity:    big.NewInt(123456),
		Tick:         7,
	}
	ev := EventFromV3Swap(testMeta(), sw, pool, t0, t1)
	pool.ApplyEvent(&ev)

	if pool.TotalSwaps != 1 {
		t.Fatalf("total swaps: %d", pool.TotalSwaps)
	}
	if pool.LastSwapAt.IsZero() {
		t.Fatalf("last swap at unset")
	}
	// Token0 flowed in, token1 flowed out.
	if pool.Reserve0Adjusted != 110 || pool.Reserve1Adjusted != 95 {
		t.Fatalf("virtual reserves: %v %v", pool.Reserve0Adjusted, pool.Reserve1Adjusted)
	}
	if pool.Tick != 7 {
		t.Fatalf("tick: %d", pool.Tick)
	}
	if pool.Liquidity != "123456" {
		t.Fatalf("liquidity: %s", pool.Liquidity)
	}
}

func TestApplyEventLiquidityDeltas(t *testing.T) {
	t0, t1 := testTokens()
	pool := testPool(t0, t1)
	pool.ProtocolVersion = VersionV4
	pool.Liquidity = "1000"

	meta := testMeta()

	add := EventFromV4ModifyLiquidity(meta, &V4ModifyLiquidityEvent{
		ID: pool.Address, LiquidityDelta: big.NewInt(500),
	}, pool, t0, t1)
	pool.ApplyEvent(&add)
	if pool.Liquidity != "1500" {
		t.Fatalf("after add: %s", pool.Liquidity)
	}

	remove := EventFromV4ModifyLiquidity(meta, &V4ModifyLiquidityEvent{
		ID: pool.Address, LiquidityDelta: big.NewInt(-700),
	}, pool, t0, t1)
	pool.ApplyEvent(&remove)
	if pool.Liquidity != "800" {
		t.Fatalf("after remove: %s", pool.Liquidity)
	}

	// Removing more than exists clamps at zero rather than going negative.
	drain := EventFromV4ModifyLiquidity(meta, &V4ModifyLiquidityEvent{
		ID: pool.Address, LiquidityDelta: big.NewInt(-10_000),
	}, pool, t0, t1)
	pool.ApplyEvent(&drain)
	if pool.Liquidity != "0" {
		t.Fatalf("after drain: %s", pool.Liquidity)
	}
}

func TestApplyEventReplayIsIdempotentOnV2(t *testing.T) {
	t0, t1 := testTokens()
	pool := testPool(t0, t1)
	pool.ProtocolVersion = VersionV2

	reserve0 := big.NewInt(1_000_000_000)
	reserve1, _ := new(big.Int).SetString("500000000000000000", 10)
	sync := &V2SyncEvent{Reserve0: reserve0, Reserve1: reserve1}

	pool.ApplyV2Sync(sync, 100, 1700000000)
	first := *pool
	pool.ApplyV2Sync(sync, 100, 1700000000)

	if pool.Reserve0 != first.Reserve0 || pool.Price != first.Price {
		t.Fatalf("replay changed state")
	}
}

func bigFromFloat(v float64) *big.Int {
	out, _ := new(big.Float).SetFloat64(v).Int(nil)
	return out
}
