package model

import (
	"math/big"
	"time"

	"github.com/runic-indexer/runic/internal/pricing"
)

// Protocol versions.
const (
	VersionV2 = "v2"
	VersionV3 = "v3"
	VersionV4 = "v4"
)

// Pool is the live state of one DEX pool, identified by (chain_id, address).
// For V4 pools the address is the pool ID from the singleton manager.
type Pool struct {
	ChainID uint64 `json:"chain_id"`
	Address string `json:"address"`

	Token0         string `json:"token0"`
	Token1         string `json:"token1"`
	Token0Symbol   string `json:"token0_symbol"`
	Token1Symbol   string `json:"token1_symbol"`
	Token0Decimals uint8  `json:"token0_decimals"`
	Token1Decimals uint8  `json:"token1_decimals"`

	Protocol        string `json:"protocol"`
	ProtocolVersion string `json:"protocol_version"`
	Factory         string `json:"factory"`
	Fee             uint32 `json:"fee"`
	HookAddress     string `json:"hook_address,omitempty"`

	CreatedBlock  uint64 `json:"created_block"`
	CreatedTxHash string `json:"created_tx_hash"`

	Reserve0         string  `json:"reserve0"`
	Reserve1         string  `json:"reserve1"`
	Reserve0Adjusted float64 `json:"reserve0_adjusted"`
	Reserve1Adjusted float64 `json:"reserve1_adjusted"`

	SqrtPriceX96 string `json:"sqrt_price_x96"`
	Tick         int32  `json:"tick"`
	TickSpacing  int32  `json:"tick_spacing"`
	Liquidity    string `json:"liquidity"`
	Initialized  bool   `json:"initialized"`

	// Base/quote split per priority tier; price fields follow the Uniswap
	// convention: Price and Token1Price are token1 per token0.
	BaseToken   string  `json:"base_token"`
	QuoteToken  string  `json:"quote_token"`
	Price       float64 `json:"price"`
	Token0Price float64 `json:"token0_price"`
	Token1Price float64 `json:"token1_price"`

	PriceUSD float64 `json:"price_usd"`
	TVLUSD   float64 `json:"tvl_usd"`

	Volume24h      float64 `json:"volume_24h"`
	Swaps24h       uint64  `json:"swaps_24h"`
	TotalVolumeUSD float64 `json:"total_volume_usd"`
	TotalSwaps     uint64  `json:"total_swaps"`

	BlockNumber uint64    `json:"block_number"`
	TxHash      string    `json:"tx_hash"`
	LastSwapAt  time.Time `json:"last_swap_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewPoolFromV2Created registers a pool from a factory PairCreated log.
func NewPoolFromV2Created(meta LogMeta, ev *V2PairCreatedEvent, token0, token1 *Token, ct *ChainTokens) *Pool {
	p := newPool(meta, ev.Pair, token0, token1, ct)
	p.ProtocolVersion = VersionV2
	p.Fee = 3000
	p.Reserve0 = "0"
	p.Reserve1 = "0"
	return p
}

// NewPoolFromV3Created registers a pool from a factory PoolCreated log.
func NewPoolFromV3Created(meta LogMeta, ev *V3PoolCreatedEvent, token0, token1 *Token, ct *ChainTokens) *Pool {
	p := newPool(meta, ev.Pool, token0, token1, ct)
	p.ProtocolVersion = VersionV3
	p.Fee = ev.Fee
	p.TickSpacing = ev.TickSpacing
	return p
}

// NewPoolFromV4Initialize registers a pool from a singleton-manager
// Initialize log; the pool key fields are kept for ID recomputation.
func NewPoolFromV4Initialize(meta LogMeta, ev *V4InitializeEvent, token0, token1 *Token, ct *ChainTokens) *Pool {
	p := newPool(meta, ev.ID, token0, token1, ct)
	p.ProtocolVersion = VersionV4
	p.Fee = ev.Fee
	p.TickSpacing = ev.TickSpacing
	p.HookAddress = ev.Hooks
	p.ApplyInitialize(ev.SqrtPriceX96, ev.Tick, meta.BlockNumber, meta.Timestamp)
	return p
}

func newPool(meta LogMeta, address string, token0, token1 *Token, ct *ChainTokens) *Pool {
	base, quote := token0.Address, token1.Address
	if ct.QuotePriority(token0.Address) > ct.QuotePriority(token1.Address) {
		base, quote = token1.Address, token0.Address
	}
	return &Pool{
		ChainID:        meta.ChainID,
		Address:        address,
		Token0:         token0.Address,
		Token1:         token1.Address,
		Token0Symbol:   token0.Symbol,
		Token1Symbol:   token1.Symbol,
		Token0Decimals: token0.DisplayDecimals(),
		Token1Decimals: token1.DisplayDecimals(),
		Protocol:       "uniswap",
		Factory:        meta.Address,
		CreatedBlock:   meta.BlockNumber,
		CreatedTxHash:  meta.TxHash,
		BaseToken:      base,
		QuoteToken:     quote,
		SqrtPriceX96:   "0",
		Liquidity:      "0",
		UpdatedAt:      time.Unix(int64(meta.Timestamp), 0).UTC(),
	}
}

// IsV2 reports whether the pool uses fixed constant-product reserves.
func (p *Pool) IsV2() bool { return p.ProtocolVersion == VersionV2 }

// ApplyV2Sync overwrites reserves from a Sync event and rederives the price
// from the reserve ratio. Stale blocks are ignored.
func (p *Pool) ApplyV2Sync(ev *V2SyncEvent, block, timestamp uint64) {
	if block < p.BlockNumber {
		return
	}
	p.BlockNumber = block
	p.UpdatedAt = time.Unix(int64(timestamp), 0).UTC()

	p.Reserve0 = bigStr(ev.Reserve0)
	p.Reserve1 = bigStr(ev.Reserve1)
	p.Reserve0Adjusted = pricing.AmountToFloat(ev.Reserve0, p.Token0Decimals)
	p.Reserve1Adjusted = pricing.AmountToFloat(ev.Reserve1, p.Token1Decimals)

	if p.Reserve0Adjusted > 0 && p.Reserve1Adjusted > 0 {
		if price, ok := pricing.ValidatePriceRatio(p.Reserve1Adjusted / p.Reserve0Adjusted); ok {
			p.Price = price
			p.Token1Price = price
			if inverse, ok := pricing.ValidatePriceRatio(p.Reserve0Adjusted / p.Reserve1Adjusted); ok {
				p.Token0Price = inverse
			}
		}
	}
}

// ApplyInitialize sets the initial concentrated-liquidity price state.
func (p *Pool) ApplyInitialize(sqrtPriceX96 *big.Int, tick int32, block, timestamp uint64) {
	if block < p.BlockNumber {
		return
	}
	p.BlockNumber = block
	p.UpdatedAt = time.Unix(int64(timestamp), 0).UTC()

	p.SqrtPriceX96 = bigStr(sqrtPriceX96)
	p.Tick = tick
	p.Initialized = true

	if price, ok := pricing.SqrtPriceX96ToPrice(p.SqrtPriceX96, p.Token0Decimals, p.Token1Decimals); ok {
		p.setPrice(price)
	}
}

// ApplyV4Fee picks up the dynamic fee emitted with every V4 swap.
func (p *Pool) ApplyV4Fee(fee uint32) { p.Fee = fee }

// ApplyEvent folds one analytical event into the pool state. Events must
// arrive in (block, tx_index, log_index) order per pool; stale blocks are
// ignored.
func (p *Pool) ApplyEvent(ev *Event) {
	if ev.BlockNumber < p.BlockNumber {
		return
	}
	p.BlockNumber = ev.BlockNumber
	p.UpdatedAt = ev.Timestamp
	p.TxHash = ev.TxHash

	if ev.EventType == EventSwap {
		p.TotalSwaps++
		p.LastSwapAt = ev.Timestamp
	}

	// V2 price and reserves move only on Sync; replaying swap deltas on top
	// would accumulate rounding drift.
	if !p.IsV2() {
		if price, ok := pricing.ValidatePriceRatio(ev.Price); ok {
			p.setPrice(price)
		}
		p.accumulateVirtualReserves(ev)
		if ev.Tick != 0 {
			p.Tick = ev.Tick
		}
		if ev.SqrtPriceX96 != "" && ev.SqrtPriceX96 != "0" {
			p.SqrtPriceX96 = ev.SqrtPriceX96
		}
		p.applyLiquidity(ev)
	}
}

func (p *Pool) setPrice(price float64) {
	p.Price = price
	p.Token1Price = price
	if inverse, ok := pricing.ValidatePriceRatio(1 / price); ok {
		p.Token0Price = inverse
	}
}

// accumulateVirtualReserves tracks V3/V4 balances from event deltas: swaps
// follow their directions, mints add, collects remove. Burns are skipped
// because the matching Collect moves the tokens.
func (p *Pool) accumulateVirtualReserves(ev *Event) {
	var delta0, delta1 float64
	switch ev.EventType {
	case EventSwap:
		delta0 = ev.Amount0Adjusted * float64(ev.Amount0Direction)
		delta1 = ev.Amount1Adjusted * float64(ev.Amount1Direction)
	case EventMint:
		delta0 = ev.Amount0Adjusted
		delta1 = ev.Amount1Adjusted
	case EventCollect:
		delta0 = -ev.Amount0Adjusted
		delta1 = -ev.Amount1Adjusted
	default:
		return
	}

	p.Reserve0Adjusted = max(p.Reserve0Adjusted+delta0, 0)
	p.Reserve1Adjusted = max(p.Reserve1Adjusted+delta1, 0)
}

func (p *Pool) applyLiquidity(ev *Event) {
	if ev.Liquidity == "" || ev.Liquidity == "0" {
		return
	}

	switch ev.EventType {
	case EventSwap:
		// Swap events carry the absolute in-range liquidity after the swap.
		p.Liquidity = ev.Liquidity
	case EventMint, EventBurn, EventModifyLiquidity:
		delta, ok := new(big.Int).SetString(ev.Liquidity, 10)
		if !ok {
			return
		}
		if ev.EventType == EventBurn {
			delta.Neg(delta)
		}
		current, ok := new(big.Int).SetString(p.Liquidity, 10)
		if !ok {
			current = new(big.Int)
		}
		current.Add(current, delta)
		if current.Sign() < 0 {
			current.SetInt64(0)
		}
		p.Liquidity = current.String()
	}
}
