// Package pricing holds the pure price math shared by the decoder output,
// the pool state model, and the per-batch USD resolver.
package pricing

import (
	"math"
	"math/big"
)

// Q96 is the 2^96 fixed point scaling factor used by concentrated-liquidity
// pools for sqrtPriceX96 values.
const Q96 = 79228162514264337593543950336.0

// Price ratio bounds. Ratios outside this window are treated as corrupt pool
// state (spoofed events, uninitialized pools) and discarded.
const (
	minPriceRatio = 1e-18
	maxPriceRatio = 1e18
)

// USD price bounds. No real asset trades at $10^12 per unit; values outside
// the window come from inverted ratios or garbage pools.
const (
	minUSDPrice = 1e-12
	maxUSDPrice = 1e12
)

// MaxUSDTVL caps TVL readings; a single pool holding more than a quadrillion
// dollars is a decode or decimals error, not a market.
const MaxUSDTVL = 1e15

var bigQ96, _ = new(big.Float).SetPrec(256).SetString("79228162514264337593543950336")

// SqrtPriceX96ToPrice converts a sqrtPriceX96 decimal string into the
// decimal-adjusted price token1/token0. The conversion runs on big.Float to
// preserve the full uint160 range before collapsing to float64.
func SqrtPriceX96ToPrice(sqrtPriceX96 string, token0Decimals, token1Decimals uint8) (float64, bool) {
	if token0Decimals > 24 || token1Decimals > 24 {
		return 0, false
	}

	sqrt, ok := new(big.Float).SetPrec(256).SetString(sqrtPriceX96)
	if !ok || sqrt.Sign() <= 0 {
		return 0, false
	}

	normalized := new(big.Float).SetPrec(256).Quo(sqrt, bigQ96)
	raw := new(big.Float).SetPrec(256).Mul(normalized, normalized)

	diff := int(token0Decimals) - int(token1Decimals)
	if diff != 0 {
		scale := pow10Big(diff)
		raw.Mul(raw, scale)
	}

	price, _ := raw.Float64()
	return ValidatePriceRatio(price)
}

func pow10Big(exp int) *big.Float {
	abs := exp
	if abs < 0 {
		abs = -abs
	}
	scale := new(big.Float).SetPrec(256).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(abs)), nil))
	if exp < 0 {
		scale.Quo(big.NewFloat(1), scale)
	}
	return scale
}

// ReservesFromLiquidity derives the virtual reserves of a concentrated
// liquidity pool from its in-range liquidity and current sqrtPriceX96:
// amount0 = L / sqrt(P), amount1 = L * sqrt(P). Amounts are raw token units.
func ReservesFromLiquidity(liquidity, sqrtPriceX96 float64) (amount0, amount1 float64) {
	const (
		maxLiquidity    = 1e35
		minSqrtPriceX96 = 4.0e9
		maxSqrtPriceX96 = 1.5e48
		maxRaw          = 1e35
	)

	if !isFinite(liquidity) || liquidity <= 0 || liquidity > maxLiquidity {
		return 0, 0
	}
	if !isFinite(sqrtPriceX96) || sqrtPriceX96 < minSqrtPriceX96 || sqrtPriceX96 > maxSqrtPriceX96 {
		return 0, 0
	}

	sqrtPrice := sqrtPriceX96 / Q96
	if sqrtPrice <= 0 || !isFinite(sqrtPrice) {
		return 0, 0
	}

	amount0 = liquidity / sqrtPrice
	amount1 = liquidity * sqrtPrice
	if !isFinite(amount0) || !isFinite(amount1) {
		return 0, 0
	}

	return math.Min(amount0, maxRaw), math.Min(amount1, maxRaw)
}

// AmountToFloat converts a raw big-integer token amount into its
// decimal-adjusted float representation. The sign is preserved.
func AmountToFloat(v *big.Int, decimals uint8) float64 {
	if v == nil || v.Sign() == 0 {
		return 0
	}
	f := new(big.Float).SetPrec(256).SetInt(v)
	if decimals > 0 {
		f.Quo(f, pow10Big(int(decimals)))
	}
	out, _ := f.Float64()
	return out
}

// StringToFloat parses a raw decimal-string amount and adjusts it by decimals.
func StringToFloat(v string, decimals uint8) (float64, bool) {
	if v == "" {
		return 0, false
	}
	i, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return 0, false
	}
	return AmountToFloat(i, decimals), true
}

// ValidatePriceRatio bounds-checks a token/token exchange rate.
func ValidatePriceRatio(price float64) (float64, bool) {
	if !isFinite(price) || price < minPriceRatio || price > maxPriceRatio {
		return 0, false
	}
	return price, true
}

// ValidateUSDPrice bounds-checks an absolute USD price; returns 0 when the
// value cannot be a real price.
func ValidateUSDPrice(price float64) float64 {
	if !isFinite(price) || price < minUSDPrice || price > maxUSDPrice {
		return 0
	}
	return price
}

// ValidateUSDPriceRelative rejects prices implausibly far above the chain's
// native token price; catches inverted ratios that survive absolute bounds.
func ValidateUSDPriceRelative(price, nativePriceUSD float64) float64 {
	if price <= 0 {
		return 0
	}
	if nativePriceUSD > 0 && price > nativePriceUSD*1e6 {
		return 0
	}
	return price
}

// ValidateUSDTVL caps a TVL reading.
func ValidateUSDTVL(tvl float64) float64 {
	if !isFinite(tvl) || tvl < 0 {
		return 0
	}
	if tvl > MaxUSDTVL {
		return 0
	}
	return tvl
}

// SuspiciousVolume reports whether a single swap's USD volume is out of
// proportion to the pool's TVL (price-manipulation heuristic).
func SuspiciousVolume(volumeUSD, tvlUSD float64) bool {
	if tvlUSD <= 0 {
		return false
	}
	return volumeUSD > tvlUSD*10
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
