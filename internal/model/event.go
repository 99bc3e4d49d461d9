package model

import (
	"math/big"
	"time"

	"github.com/runic-indexer/runic/internal/pricing"
)

// Event types written to the analytical store.
const (
	EventSwap            = "swap"
	EventMint            = "mint"
	EventBurn            = "burn"
	EventCollect         = "collect"
	EventModifyLiquidity = "modify_liquidity"
)

// Direction values follow the sign of the signed on-chain amount: +1 tokens
// entered the pool, -1 tokens left it, 0 not a swap leg. Directions are
// non-zero only for swaps.
const (
	DirIn  int8 = 1
	DirOut int8 = -1
)

// Event is one immutable analytical row. Raw amounts are absolute values as
// decimal strings; Liquidity keeps its sign for modify_liquidity, where the
// sign of the delta is authoritative.
type Event struct {
	ChainID     uint64    `json:"chain_id"`
	BlockNumber uint64    `json:"block_number"`
	TxHash      string    `json:"tx_hash"`
	TxIndex     uint32    `json:"tx_index"`
	LogIndex    uint32    `json:"log_index"`
	Timestamp   time.Time `json:"timestamp"`

	PoolAddress string `json:"pool_address"`
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`

	Maker string `json:"maker"`
	Owner string `json:"owner"`

	EventType string `json:"event_type"`

	Amount0 string `json:"amount0"`
	Amount1 string `json:"amount1"`

	Amount0Adjusted float64 `json:"amount0_adjusted"`
	Amount1Adjusted float64 `json:"amount1_adjusted"`

	Amount0Direction int8 `json:"amount0_direction"`
	Amount1Direction int8 `json:"amount1_direction"`

	Price      float64 `json:"price"`
	PriceUSD   float64 `json:"price_usd"`
	VolumeUSD  float64 `json:"volume_usd"`
	FeesUSD    float64 `json:"fees_usd"`
	Fee        uint32  `json:"fee"`
	Suspicious bool    `json:"suspicious"`

	SqrtPriceX96 string `json:"sqrt_price_x96"`
	Tick         int32  `json:"tick"`
	TickLower    int32  `json:"tick_lower"`
	TickUpper    int32  `json:"tick_upper"`
	Liquidity    string `json:"liquidity"`
}

func newEvent(meta LogMeta, pool *Pool, eventType string) Event {
	return Event{
		ChainID:     meta.ChainID,
		BlockNumber: meta.BlockNumber,
		TxHash:      meta.TxHash,
		TxIndex:     meta.TxIndex,
		LogIndex:    meta.LogIndex,
		Timestamp:   time.Unix(int64(meta.Timestamp), 0).UTC(),
		PoolAddress: pool.Address,
		Token0:      pool.Token0,
		Token1:      pool.Token1,
		EventType:   eventType,
		Amount0:     "0",
		Amount1:     "0",
		SqrtPriceX96: "0",
		Liquidity:    "0",
	}
}

func bigStr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func absBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Abs(v)
}

// EventFromV2Swap derives amounts and directions from the four in/out legs:
// the leg where In exceeds Out is the pool's gain.
func EventFromV2Swap(meta LogMeta, sw *V2SwapEvent, pool *Pool, token0, token1 *Token) Event {
	ev := newEvent(meta, pool, EventSwap)
	ev.Maker = sw.Sender

	net0 := new(big.Int).Sub(sw.Amount0In, sw.Amount0Out)
	if net0.Sign() > 0 {
		ev.Amount0Direction = DirIn
	} else {
		ev.Amount0Direction = DirOut
	}
	net0.Abs(net0)

	net1 := new(big.Int).Sub(sw.Amount1In, sw.Amount1Out)
	if net1.Sign() > 0 {
		ev.Amount1Direction = DirIn
	} else {
		ev.Amount1Direction = DirOut
	}
	net1.Abs(net1)

	ev.Amount0 = net0.String()
	ev.Amount1 = net1.String()
	ev.Amount0Adjusted = pricing.AmountToFloat(net0, token0.DisplayDecimals())
	ev.Amount1Adjusted = pricing.AmountToFloat(net1, token1.DisplayDecimals())

	if ev.Amount0Adjusted > 1e-15 {
		ev.Price = ev.Amount1Adjusted / ev.Amount0Adjusted
	}
	return ev
}

// EventFromV3Swap handles signed int256 amounts: negative means the pool
// paid the token out.
func EventFromV3Swap(meta LogMeta, sw *V3SwapEvent, pool *Pool, token0, token1 *Token) Event {
	ev := newEvent(meta, pool, EventSwap)
	ev.Maker = sw.Sender
	fillSignedSwap(&ev, sw.Amount0, sw.Amount1, sw.SqrtPriceX96, sw.Liquidity, sw.Tick, token0, token1)
	return ev
}

// EventFromV4Swap is the V4 variant; amounts are int128 and the fee can be
// dynamic per swap.
func EventFromV4Swap(meta LogMeta, sw *V4SwapEvent, pool *Pool, token0, token1 *Token) Event {
	ev := newEvent(meta, pool, EventSwap)
	ev.Maker = sw.Sender
	ev.Fee = sw.Fee
	fillSignedSwap(&ev, sw.Amount0, sw.Amount1, sw.SqrtPriceX96, sw.Liquidity, sw.Tick, token0, token1)
	return ev
}

func fillSignedSwap(ev *Event, amount0, amount1, sqrtPriceX96, liquidity *big.Int, tick int32, token0, token1 *Token) {
	if amount0 != nil && amount0.Sign() < 0 {
		ev.Amount0Direction = DirOut
	} else {
		ev.Amount0Direction = DirIn
	}
	if amount1 != nil && amount1.Sign() < 0 {
		ev.Amount1Direction = DirOut
	} else {
		ev.Amount1Direction = DirIn
	}

	abs0 := absBig(amount0)
	abs1 := absBig(amount1)
	ev.Amount0 = abs0.String()
	ev.Amount1 = abs1.String()
	ev.Amount0Adjusted = pricing.AmountToFloat(abs0, token0.DisplayDecimals())
	ev.Amount1Adjusted = pricing.AmountToFloat(abs1, token1.DisplayDecimals())

	ev.SqrtPriceX96 = bigStr(sqrtPriceX96)
	ev.Liquidity = bigStr(liquidity)
	ev.Tick = tick

	if price, ok := pricing.SqrtPriceX96ToPrice(ev.SqrtPriceX96, token0.DisplayDecimals(), token1.DisplayDecimals()); ok {
		ev.Price = price
	}
}

// EventFromV2Mint records a liquidity add on a constant-product pool.
func EventFromV2Mint(meta LogMeta, m *V2MintEvent, pool *Pool, token0, token1 *Token) Event {
	ev := newEvent(meta, pool, EventMint)
	ev.Owner = m.Sender
	fillAmounts(&ev, m.Amount0, m.Amount1, token0, token1)
	return ev
}

// EventFromV2Burn records a liquidity removal on a constant-product pool.
func EventFromV2Burn(meta LogMeta, b *V2BurnEvent, pool *Pool, token0, token1 *Token) Event {
	ev := newEvent(meta, pool, EventBurn)
	ev.Owner = b.Sender
	fillAmounts(&ev, b.Amount0, b.Amount1, token0, token1)
	return ev
}

// EventFromV3Mint records a position mint with its tick range and liquidity.
func EventFromV3Mint(meta LogMeta, m *V3MintEvent, pool *Pool, token0, token1 *Token) Event {
	ev := newEvent(meta, pool, EventMint)
	ev.Owner = m.Owner
	ev.TickLower = m.TickLower
	ev.TickUpper = m.TickUpper
	ev.Liquidity = bigStr(m.Amount)
	fillAmounts(&ev, m.Amount0, m.Amount1, token0, token1)
	return ev
}

// EventFromV3Burn records a position burn. Token movement happens on the
// matching Collect, so reserve tracking ignores burns.
func EventFromV3Burn(meta LogMeta, b *V3BurnEvent, pool *Pool, token0, token1 *Token) Event {
	ev := newEvent(meta, pool, EventBurn)
	ev.Owner = b.Owner
	ev.TickLower = b.TickLower
	ev.TickUpper = b.TickUpper
	ev.Liquidity = bigStr(b.Amount)
	fillAmounts(&ev, b.Amount0, b.Amount1, token0, token1)
	return ev
}

// EventFromV3Collect records a fee/principal withdrawal from a position.
func EventFromV3Collect(meta LogMeta, c *V3CollectEvent, pool *Pool, token0, token1 *Token) Event {
	ev := newEvent(meta, pool, EventCollect)
	ev.Owner = c.Owner
	ev.TickLower = c.TickLower
	ev.TickUpper = c.TickUpper
	fillAmounts(&ev, c.Amount0, c.Amount1, token0, token1)
	return ev
}

// EventFromV4ModifyLiquidity keeps the signed delta in Liquidity; the sign
// decides add versus remove, never the event name.
func EventFromV4ModifyLiquidity(meta LogMeta, m *V4ModifyLiquidityEvent, pool *Pool, token0, token1 *Token) Event {
	ev := newEvent(meta, pool, EventModifyLiquidity)
	ev.Owner = m.Sender
	ev.TickLower = m.TickLower
	ev.TickUpper = m.TickUpper
	ev.Liquidity = bigStr(m.LiquidityDelta)
	return ev
}

func fillAmounts(ev *Event, amount0, amount1 *big.Int, token0, token1 *Token) {
	abs0 := absBig(amount0)
	abs1 := absBig(amount1)
	ev.Amount0 = abs0.String()
	ev.Amount1 = abs1.String()
	ev.Amount0Adjusted = pricing.AmountToFloat(abs0, token0.DisplayDecimals())
	ev.Amount1Adjusted = pricing.AmountToFloat(abs1, token1.DisplayDecimals())
}

// IsLiquidity reports whether the event mutates pool liquidity.
func (e *Event) IsLiquidity() bool {
	switch e.EventType {
	case EventMint, EventBurn, EventCollect, EventModifyLiquidity:
		return true
	}
	return false
}
