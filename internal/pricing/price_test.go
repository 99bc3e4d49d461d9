package pricing

import (
	"math"
	"math/big"
	"testing"
)

func TestSqrtPriceX96ToPriceUnit(t *testing.T) {
	// sqrtPriceX96 = 2^96 on an equal-decimals pair is exactly price 1.0.
	sqrt := new(big.Int).Lsh(big.NewInt(1), 96).String()
	price, ok := SqrtPriceX96ToPrice(sqrt, 18, 18)
	if !ok {
		t.Fatalf("expected valid price")
	}
	if price != 1.0 {
		t.Fatalf("price = %v, want 1.0", price)
	}
}

func TestSqrtPriceX96ToPriceDecimalAdjustment(t *testing.T) {
	// Same sqrt price, token0 with 6 decimals and token1 with 18: the raw
	// ratio 1.0 scales by 10^(6-18).
	sqrt := new(big.Int).Lsh(big.NewInt(1), 96).String()
	price, ok := SqrtPriceX96ToPrice(sqrt, 6, 18)
	if !ok {
		t.Fatalf("expected valid price")
	}
	want := 1e-12
	if math.Abs(price-want)/want > 1e-9 {
		t.Fatalf("price = %v, want %v", price, want)
	}
}

func TestSqrtPriceX96ToPriceRejectsGarbage(t *testing.T) {
	cases := []struct {
		sqrt string
		dec0 uint8
		dec1 uint8
	}{
		{"", 18, 18},
		{"0", 18, 18},
		{"-5", 18, 18},
		{"not-a-number", 18, 18},
		{"79228162514264337593543950336", 30, 18},
	}
	for _, tc := range cases {
		if _, ok := SqrtPriceX96ToPrice(tc.sqrt, tc.dec0, tc.dec1); ok {
			t.Fatalf("expected rejection for %q dec %d/%d", tc.sqrt, tc.dec0, tc.dec1)
		}
	}
}

func TestAmountToFloat(t *testing.T) {
	v, ok := new(big.Int).SetString("1000000000000000000", 10)
	if !ok {
		t.Fatalf("setup")
	}
	if got := AmountToFloat(v, 18); got != 1.0 {
		t.Fatalf("got %v, want 1.0", got)
	}

	usdc := big.NewInt(1_000_000_000)
	if got := AmountToFloat(usdc, 6); got != 1000.0 {
		t.Fatalf("got %v, want 1000", got)
	}

	neg := big.NewInt(-5_000_000)
	if got := AmountToFloat(neg, 6); got != -5.0 {
		t.Fatalf("got %v, want -5", got)
	}

	if got := AmountToFloat(nil, 18); got != 0 {
		t.Fatalf("nil should adjust to 0, got %v", got)
	}
}

func TestReservesFromLiquidity(t *testing.T) {
	// At sqrtPriceX96 = 2^96 (price 1), amount0 == amount1 == L.
	liquidity := 5_000_000.0
	amount0, amount1 := ReservesFromLiquidity(liquidity, Q96)
	if math.Abs(amount0-liquidity) > 1e-6 || math.Abs(amount1-liquidity) > 1e-6 {
		t.Fatalf("amounts = %v %v, want %v", amount0, amount1, liquidity)
	}

	// Out-of-range inputs produce zeros, never NaN.
	if a0, a1 := ReservesFromLiquidity(-1, Q96); a0 != 0 || a1 != 0 {
		t.Fatalf("negative liquidity: %v %v", a0, a1)
	}
	if a0, a1 := ReservesFromLiquidity(liquidity, 1); a0 != 0 || a1 != 0 {
		t.Fatalf("tiny sqrt price: %v %v", a0, a1)
	}
}

func TestValidatePriceRatio(t *testing.T) {
	if _, ok := ValidatePriceRatio(0); ok {
		t.Fatalf("zero should be rejected")
	}
	if _, ok := ValidatePriceRatio(math.Inf(1)); ok {
		t.Fatalf("inf should be rejected")
	}
	if _, ok := ValidatePriceRatio(1e19); ok {
		t.Fatalf("overflow ratio should be rejected")
	}
	if price, ok := ValidatePriceRatio(2000.0); !ok || price != 2000.0 {
		t.Fatalf("plain ratio rejected: %v %v", price, ok)
	}
}

func TestValidateUSDPriceRelative(t *testing.T) {
	// Prices absurdly above the native price are inversion artifacts.
	if got := ValidateUSDPriceRelative(3e9, 2000); got != 0 {
		t.Fatalf("expected rejection, got %v", got)
	}
	if got := ValidateUSDPriceRelative(65000, 2000); got != 65000 {
		t.Fatalf("sane price rejected: %v", got)
	}
	// Without a native reference, the price passes through unchanged.
	if got := ValidateUSDPriceRelative(3e9, 0); got != 3e9 {
		t.Fatalf("expected passthrough, got %v", got)
	}
}

func TestSuspiciousVolume(t *testing.T) {
	if !SuspiciousVolume(200_000, 10_000) {
		t.Fatalf("20x TVL volume should be suspicious")
	}
	if SuspiciousVolume(5_000, 10_000) {
		t.Fatalf("half-TVL volume should pass")
	}
	if SuspiciousVolume(1e12, 0) {
		t.Fatalf("unknown TVL should not flag")
	}
}
