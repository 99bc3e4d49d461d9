package worker

import (
	"math"
	"strings"

	"github.com/runic-indexer/runic/internal/model"
	"github.com/runic-indexer/runic/internal/pricing"
)

// Resolver tier bounds.
const (
	maxResolveDepth = 2
	// minPoolTVLUSD drops illiquid pools whose tiny swaps would otherwise
	// produce outsized USD volumes.
	minPoolTVLUSD = 5000.0
	// maxPriceDivergence switches to the implied execution price when pool
	// state and swap amounts disagree (custom curve hooks).
	maxPriceDivergence = 0.10
)

// Resolver derives USD prices from the in-memory pool snapshot of the
// current batch. It is pure given that snapshot: no I/O, per-batch memoized.
type Resolver struct {
	chainTokens    *model.ChainTokens
	nativePriceUSD float64
	pools          map[string]*model.Pool
	prices         map[string]float64
}

// NewResolver builds a resolver over the batch's pool snapshot.
func NewResolver(ct *model.ChainTokens, nativePriceUSD float64, pools map[string]*model.Pool) *Resolver {
	return &Resolver{
		chainTokens:    ct,
		nativePriceUSD: nativePriceUSD,
		pools:          pools,
		prices:         make(map[string]float64),
	}
}

// TokenPriceUSD resolves a token's current USD price. Stablecoins are
// exactly 1.0, the wrapped native token uses the reference-pool price, and
// everything else walks the pool graph with bounded depth. No route yields 0.
func (r *Resolver) TokenPriceUSD(token string) float64 {
	token = strings.ToLower(token)
	if price, ok := r.prices[token]; ok {
		return price
	}
	if r.chainTokens.IsStable(token) {
		r.prices[token] = 1.0
		return 1.0
	}
	if r.chainTokens.IsWrappedNative(token) {
		r.prices[token] = r.nativePriceUSD
		return r.nativePriceUSD
	}
	price := r.derive(token, 0, map[string]struct{}{token: {}})
	r.prices[token] = price
	return price
}

// derive ranks candidate pools by anchor tier (stable pair, then native,
// then major), and within a tier by highest TVL with the lower pool address
// winning ties for determinism.
func (r *Resolver) derive(token string, depth int, seen map[string]struct{}) float64 {
	if depth >= maxResolveDepth {
		return 0
	}

	bestTier := 0
	bestTVL := -1.0
	bestAddr := ""
	bestPrice := 0.0

	for _, pool := range r.pools {
		var paired string
		var rate float64
		switch token {
		case pool.Token0:
			paired, rate = pool.Token1, pool.Token1Price
		case pool.Token1:
			paired, rate = pool.Token0, pool.Token0Price
		default:
			continue
		}

		rate, ok := pricing.ValidatePriceRatio(rate)
		if !ok {
			continue
		}
		if _, walked := seen[paired]; walked {
			continue
		}

		var tier int
		var pairedUSD float64
		switch {
		case r.chainTokens.IsStable(paired):
			tier, pairedUSD = 3, 1.0
		case r.chainTokens.IsWrappedNative(paired):
			tier, pairedUSD = 2, r.nativePriceUSD
		case r.chainTokens.IsMajor(paired):
			tier = 1
			seen[paired] = struct{}{}
			pairedUSD = r.derive(paired, depth+1, seen)
			delete(seen, paired)
		default:
			continue
		}
		if pairedUSD <= 0 {
			continue
		}

		candidate := pricing.ValidateUSDPriceRelative(
			pricing.ValidateUSDPrice(rate*pairedUSD), r.nativePriceUSD)
		if candidate <= 0 {
			continue
		}

		tvl := pricing.ValidateUSDTVL(pool.TVLUSD)
		better := tier > bestTier ||
			(tier == bestTier && (tvl > bestTVL || (tvl == bestTVL && pool.Address < bestAddr)))
		if better {
			bestTier, bestTVL, bestAddr, bestPrice = tier, tvl, pool.Address, candidate
		}
	}

	return bestPrice
}

// PriceEvent fills the USD fields of an event from its pool.
func (r *Resolver) PriceEvent(ev *model.Event, pool *model.Pool) {
	if ev.EventType == model.EventSwap {
		r.priceSwap(ev, pool)
		return
	}
	r.priceLiquidity(ev, pool)
}

func (r *Resolver) priceSwap(ev *model.Event, pool *model.Pool) {
	// Illiquid pools produce garbage USD readings; keep the raw event.
	if tvl := pricing.ValidateUSDTVL(pool.TVLUSD); tvl > 0 && tvl < minPoolTVLUSD {
		ev.Suspicious = true
		return
	}

	if !r.chainTokens.Whitelisted(pool.Token0) && !r.chainTokens.Whitelisted(pool.Token1) {
		return
	}

	quoteUSD := r.quotePriceUSD(pool.QuoteToken)
	if quoteUSD <= 0 || math.IsInf(quoteUSD, 0) {
		return
	}

	baseIsToken0 := pool.BaseToken == pool.Token0

	rate := r.baseRate(ev, pool, baseIsToken0)
	if rate <= 0 {
		return
	}

	baseUSD := pricing.ValidateUSDPriceRelative(pricing.ValidateUSDPrice(rate*quoteUSD), r.nativePriceUSD)
	if baseUSD <= 0 {
		return
	}

	baseAmount := ev.Amount0Adjusted
	quoteAmount := ev.Amount1Adjusted
	if !baseIsToken0 {
		baseAmount, quoteAmount = quoteAmount, baseAmount
	}

	// Cross-check against the execution amounts; when the derived price is
	// orders of magnitude off, trust the amounts.
	if baseAmount > 1e-10 && quoteAmount > 1e-10 {
		impliedBaseUSD := quoteAmount * quoteUSD / baseAmount
		ratio := baseUSD / impliedBaseUSD
		if ratio > 100 || ratio < 0.01 {
			baseUSD = pricing.ValidateUSDPriceRelative(impliedBaseUSD, r.nativePriceUSD)
			if baseUSD <= 0 {
				return
			}
		}
	}

	volume := math.Abs(baseAmount) * baseUSD
	if tvl := pricing.ValidateUSDTVL(pool.TVLUSD); tvl > 0 && pricing.SuspiciousVolume(volume, tvl) {
		ev.Suspicious = true
		return
	}

	ev.PriceUSD = baseUSD
	ev.VolumeUSD = volume
	fee := ev.Fee
	if fee == 0 {
		fee = pool.Fee
	}
	ev.FeesUSD = volume * float64(fee) / 1e6
}

// baseRate returns the base token's price in quote units, preferring pool
// state but falling back to the implied execution price on divergence.
func (r *Resolver) baseRate(ev *model.Event, pool *model.Pool, baseIsToken0 bool) float64 {
	poolRate := pool.Token1Price
	if !baseIsToken0 {
		poolRate = pool.Token0Price
	}
	poolRate, poolOK := pricing.ValidatePriceRatio(poolRate)

	var implied float64
	var impliedOK bool
	if ev.Amount0Adjusted > 1e-18 && ev.Amount1Adjusted > 0 {
		implied, impliedOK = pricing.ValidatePriceRatio(ev.Amount1Adjusted / ev.Amount0Adjusted)
	}

	orient := func(token1PerToken0 float64) float64 {
		if baseIsToken0 {
			return token1PerToken0
		}
		if token1PerToken0 > 0 {
			inverse, ok := pricing.ValidatePriceRatio(1 / token1PerToken0)
			if ok {
				return inverse
			}
		}
		return 0
	}

	switch {
	case poolOK && impliedOK && pool.Price > 0:
		if math.Abs(implied/pool.Price-1) > maxPriceDivergence {
			if oriented := orient(implied); oriented > 0 {
				return oriented
			}
		}
		return poolRate
	case poolOK:
		return poolRate
	case impliedOK:
		return orient(implied)
	default:
		return 0
	}
}

func (r *Resolver) priceLiquidity(ev *model.Event, pool *model.Pool) {
	p0 := r.TokenPriceUSD(pool.Token0)
	p1 := r.TokenPriceUSD(pool.Token1)
	if p0 <= 0 && p1 <= 0 {
		return
	}

	value := ev.Amount0Adjusted*p0 + ev.Amount1Adjusted*p1
	// With only one priced side, assume a balanced position.
	if p0 <= 0 || p1 <= 0 {
		value *= 2
	}
	ev.VolumeUSD = pricing.ValidateUSDPrice(value)
}

// quotePriceUSD prices a quote token only through whitelisted anchors.
func (r *Resolver) quotePriceUSD(quote string) float64 {
	switch {
	case r.chainTokens.IsStable(quote):
		return 1.0
	case r.chainTokens.IsWrappedNative(quote):
		return r.nativePriceUSD
	case r.chainTokens.IsMajor(quote):
		return r.TokenPriceUSD(quote)
	default:
		return 0
	}
}

// PoolPricing returns the pool's base-token USD price and its TVL.
func (r *Resolver) PoolPricing(pool *model.Pool) (priceUSD, tvlUSD float64) {
	priceUSD = r.TokenPriceUSD(pool.BaseToken)

	r0, r1 := pool.Reserve0Adjusted, pool.Reserve1Adjusted
	if !pool.IsV2() {
		if liq, ok := pricing.StringToFloat(pool.Liquidity, 0); ok && liq > 0 {
			if sqrt, ok := pricing.StringToFloat(pool.SqrtPriceX96, 0); ok && sqrt > 0 {
				raw0, raw1 := pricing.ReservesFromLiquidity(liq, sqrt)
				if raw0 > 0 || raw1 > 0 {
					r0 = raw0 / math.Pow10(int(pool.Token0Decimals))
					r1 = raw1 / math.Pow10(int(pool.Token1Decimals))
				}
			}
		}
	}

	p0 := r.TokenPriceUSD(pool.Token0)
	p1 := r.TokenPriceUSD(pool.Token1)

	switch {
	case p0 > 0 && p1 > 0:
		tvlUSD = r0*p0 + r1*p1
	case p0 > 0:
		tvlUSD = r0 * p0 * 2
	case p1 > 0:
		tvlUSD = r1 * p1 * 2
	}

	return priceUSD, pricing.ValidateUSDTVL(tvlUSD)
}
