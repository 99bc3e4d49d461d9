package worker

import (
	"math"
	"testing"

	"github.com/runic-indexer/runic/internal/model"
)

const (
	usdcAddr  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	wethAddr  = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	majorAddr = "0xcccccccccccccccccccccccccccccccccccccccc"
	memeAddr  = "0xdddddddddddddddddddddddddddddddddddddddd"
	otherAddr = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
)

func testChainTokens() *model.ChainTokens {
	return model.NewChainTokens(&model.Chain{
		ChainID:            1,
		NativeTokenAddress: wethAddr,
		StableTokenAddress: usdcAddr,
		StablePoolAddress:  "0x1234000000000000000000000000000000000000",
		Stablecoins:        []string{usdcAddr},
		MajorTokens:        []string{majorAddr},
	})
}

func poolWith(address, token0, token1 string, price, tvlUSD float64) *model.Pool {
	inverse := 0.0
	if price > 0 {
		inverse = 1 / price
	}
	return &model.Pool{
		ChainID:         1,
		Address:         address,
		Token0:          token0,
		Token1:          token1,
		Token0Decimals:  18,
		Token1Decimals:  18,
		ProtocolVersion: model.VersionV2,
		BaseToken:       token0,
		QuoteToken:      token1,
		Price:           price,
		Token1Price:     price,
		Token0Price:     inverse,
		TVLUSD:          tvlUSD,
	}
}

func TestResolverStablecoinIsExactlyOne(t *testing.T) {
	r := NewResolver(testChainTokens(), 2000, map[string]*model.Pool{})
	if price := r.TokenPriceUSD(usdcAddr); price != 1.0 {
		t.Fatalf("stablecoin price = %v, want exactly 1.0", price)
	}
}

func TestResolverNativeUsesReferencePrice(t *testing.T) {
	r := NewResolver(testChainTokens(), 2000, map[string]*model.Pool{})
	if price := r.TokenPriceUSD(wethAddr); price != 2000 {
		t.Fatalf("native price = %v, want 2000", price)
	}
}

func TestResolverPrefersStablePairOverNativePair(t *testing.T) {
	pools := map[string]*model.Pool{
		// meme/USDC at $3 with modest TVL.
		"0x01": poolWith("0x01", memeAddr, usdcAddr, 3.0, 10_000),
		// meme/WETH implying $4 with much higher TVL; still loses to the
		// stable tier.
		"0x02": poolWith("0x02", memeAddr, wethAddr, 0.002, 1_000_000),
	}
	r := NewResolver(testChainTokens(), 2000, pools)
	if price := r.TokenPriceUSD(memeAddr); price != 3.0 {
		t.Fatalf("price = %v, want 3.0 via stable pair", price)
	}
}

func TestResolverPicksHighestTVLWithinTier(t *testing.T) {
	pools := map[string]*model.Pool{
		"0x01": poolWith("0x01", memeAddr, usdcAddr, 3.0, 10_000),
		"0x02": poolWith("0x02", memeAddr, usdcAddr, 5.0, 50_000),
	}
	r := NewResolver(testChainTokens(), 2000, pools)
	if price := r.TokenPriceUSD(memeAddr); price != 5.0 {
		t.Fatalf("price = %v, want 5.0 from deeper pool", price)
	}
}

func TestResolverTVLTieBreaksOnLowerAddress(t *testing.T) {
	pools := map[string]*model.Pool{
		"0x09": poolWith("0x09", memeAddr, usdcAddr, 9.0, 10_000),
		"0x02": poolWith("0x02", memeAddr, usdcAddr, 2.0, 10_000),
	}
	r := NewResolver(testChainTokens(), 2000, pools)
	if price := r.TokenPriceUSD(memeAddr); price != 2.0 {
		t.Fatalf("price = %v, want 2.0 from lower address", price)
	}
}

func TestResolverRoutesThroughMajorToken(t *testing.T) {
	pools := map[string]*model.Pool{
		// meme priced in major: 2 major per meme.
		"0x01": poolWith("0x01", memeAddr, majorAddr, 2.0, 10_000),
		// major priced in USDC: $10.
		"0x02": poolWith("0x02", majorAddr, usdcAddr, 10.0, 100_000),
	}
	r := NewResolver(testChainTokens(), 2000, pools)
	if price := r.TokenPriceUSD(memeAddr); math.Abs(price-20.0) > 1e-9 {
		t.Fatalf("price = %v, want 20.0 via major hop", price)
	}
}

func TestResolverDepthLimitStopsLongRoutes(t *testing.T) {
	// other -> meme -> major -> USDC needs three hops; the walk is capped
	// at two, and meme is not a whitelisted anchor anyway.
	pools := map[string]*model.Pool{
		"0x01": poolWith("0x01", otherAddr, memeAddr, 2.0, 10_000),
		"0x02": poolWith("0x02", memeAddr, majorAddr, 2.0, 10_000),
		"0x03": poolWith("0x03", majorAddr, usdcAddr, 10.0, 100_000),
	}
	r := NewResolver(testChainTokens(), 2000, pools)
	if price := r.TokenPriceUSD(otherAddr); price != 0 {
		t.Fatalf("price = %v, want 0 for unroutable token", price)
	}
}

func TestResolverNoRouteYieldsZero(t *testing.T) {
	pools := map[string]*model.Pool{
		"0x01": poolWith("0x01", memeAddr, otherAddr, 2.0, 10_000),
	}
	r := NewResolver(testChainTokens(), 2000, pools)
	if price := r.TokenPriceUSD(memeAddr); price != 0 {
		t.Fatalf("price = %v, want 0", price)
	}
}

func TestPriceSwapVolumeFromBaseSide(t *testing.T) {
	ct := testChainTokens()
	// Pool: token0 = meme (base), token1 = USDC (quote), $3 per meme.
	pool := poolWith("0x01", memeAddr, usdcAddr, 3.0, 50_000)
	pools := map[string]*model.Pool{"0x01": pool}
	r := NewResolver(ct, 2000, pools)

	ev := model.Event{
		EventType:        model.EventSwap,
		PoolAddress:      pool.Address,
		Token0:           pool.Token0,
		Token1:           pool.Token1,
		Amount0Adjusted:  100e-18,
		Amount1Adjusted:  300e-18,
		Amount0Direction: model.DirIn,
		Amount1Direction: model.DirOut,
		Fee:              3000,
	}
	r.PriceEvent(&ev, pool)

	if math.Abs(ev.PriceUSD-3.0) > 1e-9 {
		t.Fatalf("price usd = %v, want 3.0", ev.PriceUSD)
	}
	want := 3.0 * 100e-18
	if math.Abs(ev.VolumeUSD-want) > want*1e-9 {
		t.Fatalf("volume usd = %v, want %v", ev.VolumeUSD, want)
	}
	wantFees := want * 0.003
	if math.Abs(ev.FeesUSD-wantFees) > wantFees*1e-9 {
		t.Fatalf("fees usd = %v, want %v", ev.FeesUSD, wantFees)
	}
}

func TestPriceSwapUnroutablePoolKeepsZeroUSD(t *testing.T) {
	ct := testChainTokens()
	pool := poolWith("0x01", memeAddr, otherAddr, 2.0, 50_000)
	r := NewResolver(ct, 2000, map[string]*model.Pool{"0x01": pool})

	ev := model.Event{
		EventType:       model.EventSwap,
		PoolAddress:     pool.Address,
		Amount0Adjusted: 100,
		Amount1Adjusted: 200,
	}
	r.PriceEvent(&ev, pool)

	if ev.PriceUSD != 0 || ev.VolumeUSD != 0 || ev.FeesUSD != 0 {
		t.Fatalf("unroutable pool must keep zero USD fields: %+v", ev)
	}
}

func TestPriceSwapIlliquidPoolFlaggedSuspicious(t *testing.T) {
	ct := testChainTokens()
	pool := poolWith("0x01", memeAddr, usdcAddr, 3.0, 100)
	r := NewResolver(ct, 2000, map[string]*model.Pool{"0x01": pool})

	ev := model.Event{EventType: model.EventSwap, Amount0Adjusted: 1, Amount1Adjusted: 3}
	r.PriceEvent(&ev, pool)

	if !ev.Suspicious {
		t.Fatalf("sub-threshold TVL should flag the event")
	}
	if ev.VolumeUSD != 0 {
		t.Fatalf("suspicious events carry no volume: %v", ev.VolumeUSD)
	}
}

func TestPoolPricingV2TVL(t *testing.T) {
	ct := testChainTokens()
	// 1000 USDC and 0.5 WETH at $2000: TVL $2000.
	pool := poolWith("0x01", usdcAddr, wethAddr, 0.0005, 0)
	pool.BaseToken = wethAddr
	pool.QuoteToken = usdcAddr
	pool.Reserve0Adjusted = 1000
	pool.Reserve1Adjusted = 0.5

	r := NewResolver(ct, 2000, map[string]*model.Pool{"0x01": pool})
	priceUSD, tvlUSD := r.PoolPricing(pool)

	if priceUSD != 2000 {
		t.Fatalf("base price = %v, want 2000", priceUSD)
	}
	if math.Abs(tvlUSD-2000) > 1e-9 {
		t.Fatalf("tvl = %v, want 2000", tvlUSD)
	}
}
