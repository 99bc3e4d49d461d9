package model

import (
	"math/big"
	"testing"
)

func testTokens() (*Token, *Token) {
	t0 := &Token{Address: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Symbol: "USDC", Decimals: 6, MetadataOK: true}
	t1 := &Token{Address: "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Symbol: "WETH", Decimals: 18, MetadataOK: true}
	return t0, t1
}

func testPool(t0, t1 *Token) *Pool {
	return &Pool{
		ChainID:         1,
		Address:         "0x1111111111111111111111111111111111111111",
		Token0:          t0.Address,
		Token1:          t1.Address,
		Token0Decimals:  t0.Decimals,
		Token1Decimals:  t1.Decimals,
		ProtocolVersion: VersionV3,
		BaseToken:       t1.Address,
		QuoteToken:      t0.Address,
	}
}

func testMeta() LogMeta {
	return LogMeta{
		ChainID:     1,
		BlockNumber: 1000,
		TxHash:      "0xabc",
		TxIndex:     1,
		LogIndex:    7,
		Timestamp:   1700000000,
	}
}

func TestEventFromV2SwapDirections(t *testing.T) {
	t0, t1 := testTokens()
	pool := testPool(t0, t1)
	pool.ProtocolVersion = VersionV2

	// 100 token0 in, 50 token1 out.
	sw := &V2SwapEvent{
		Sender:     "0x2222222222222222222222222222222222222222",
		To:         "0x3333333333333333333333333333333333333333",
		Amount0In:  big.NewInt(100_000_000),
		Amount1In:  big.NewInt(0),
		Amount0Out: big.NewInt(0),
		Amount1Out: big.NewInt(50_000_000_000_000_000),
	}
	ev := EventFromV2Swap(testMeta(), sw, pool, t0, t1)

	if ev.Amount0Direction != DirIn || ev.Amount1Direction != DirOut {
		t.Fatalf("directions: %d %d", ev.Amount0Direction, ev.Amount1Direction)
	}
	if ev.Amount0Direction+ev.Amount1Direction != 0 {
		t.Fatalf("swap directions must sum to zero")
	}
	if ev.Amount0 != "100000000" || ev.Amount1 != "50000000000000000" {
		t.Fatalf("raw amounts: %s %s", ev.Amount0, ev.Amount1)
	}
	if ev.Amount0Adjusted != 100.0 {
		t.Fatalf("amount0 adjusted: %v", ev.Amount0Adjusted)
	}
	if ev.Amount1Adjusted != 0.05 {
		t.Fatalf("amount1 adjusted: %v", ev.Amount1Adjusted)
	}
	if ev.EventType != EventSwap {
		t.Fatalf("event type: %s", ev.EventType)
	}
}

func TestEventFromV3SwapSignedAmounts(t *testing.T) {
	t0, t1 := testTokens()
	t0.Decimals = 18
	pool := testPool(t0, t1)

	sqrt := new(big.Int).Lsh(big.NewInt(1), 96)
	sw := &V3SwapEvent{
		Sender:       "0x2222222222222222222222222222222222222222",
		Amount0:      big.NewInt(100),
		Amount1:      big.NewInt(-50),
		SqrtPriceX96: sqrt,
		Liquidity:    big.NewInt(1_000_000),
		Tick:         42,
	}
	ev := EventFromV3Swap(testMeta(), sw, pool, t0, t1)

	if ev.Amount0Direction != DirIn {
		t.Fatalf("positive amount should be direction +1, got %d", ev.Amount0Direction)
	}
	if ev.Amount1Direction != DirOut {
		t.Fatalf("negative amount should be direction -1, got %d", ev.Amount1Direction)
	}
	if ev.Amount0 != "100" || ev.Amount1 != "50" {
		t.Fatalf("raw amounts should be absolute: %s %s", ev.Amount0, ev.Amount1)
	}
	if ev.Price != 1.0 {
		t.Fatalf("price from 2^96 on equal decimals should be 1.0, got %v", ev.Price)
	}
	if ev.Tick != 42 {
		t.Fatalf("tick: %d", ev.Tick)
	}
}

func TestEventFromV4ModifyLiquidityKeepsSign(t *testing.T) {
	t0, t1 := testTokens()
	pool := testPool(t0, t1)
	pool.ProtocolVersion = VersionV4

	m := &V4ModifyLiquidityEvent{
		ID:             pool.Address,
		Sender:         "0x2222222222222222222222222222222222222222",
		TickLower:      -120,
		TickUpper:      120,
		LiquidityDelta: big.NewInt(-777),
	}
	ev := EventFromV4ModifyLiquidity(testMeta(), m, pool, t0, t1)

	if ev.Liquidity != "-777" {
		t.Fatalf("signed delta must survive: %s", ev.Liquidity)
	}
	if ev.Amount0Direction != 0 || ev.Amount1Direction != 0 {
		t.Fatalf("liquidity events carry no swap directions")
	}
	if ev.EventType != EventModifyLiquidity {
		t.Fatalf("event type: %s", ev.EventType)
	}
}

func TestLiquidityEventsHaveZeroDirections(t *testing.T) {
	t0, t1 := testTokens()
	pool := testPool(t0, t1)

	mint := EventFromV3Mint(testMeta(), &V3MintEvent{
		Owner: "0x4444444444444444444444444444444444444444", TickLower: -60, TickUpper: 60,
		Amount: big.NewInt(10), Amount0: big.NewInt(1), Amount1: big.NewInt(2),
	}, pool, t0, t1)
	burn := EventFromV3Burn(testMeta(), &V3BurnEvent{
		Owner: "0x4444444444444444444444444444444444444444", TickLower: -60, TickUpper: 60,
		Amount: big.NewInt(10), Amount0: big.NewInt(1), Amount1: big.NewInt(2),
	}, pool, t0, t1)

	for _, ev := range []Event{mint, burn} {
		if ev.Amount0Direction != 0 || ev.Amount1Direction != 0 {
			t.Fatalf("%s should have zero directions", ev.EventType)
		}
	}
	if mint.Liquidity != "10" || burn.Liquidity != "10" {
		t.Fatalf("liquidity amounts: %s %s", mint.Liquidity, burn.Liquidity)
	}
}
