package liquiditymath

import (
	"errors"
	"math/big"

	"github.com/defistate/amm-engine-go/core/sqrtpricemath"
)

var (
	// MaxUint128 bounds every liquidity value in the engine.
	MaxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

	ErrLiquidityOverflow  = errors.New("liquidity overflow")
	ErrLiquidityUnderflow = errors.New("liquidity underflow")
)

// maxTickMagnitude mirrors tickmath.MAX_TICK; duplicated here to keep this
// package a leaf.
const maxTickMagnitude = 887272

// AddDelta writes x + y into dest, where x is unsigned liquidity and y a signed
// delta, erroring on escape from the uint128 range.
func AddDelta(dest, x, y *big.Int) error {
	dest.Add(x, y)
	if dest.Sign() < 0 {
		return ErrLiquidityUnderflow
	}
	if dest.Cmp(MaxUint128) > 0 {
		return ErrLiquidityOverflow
	}
	return nil
}

// MaxLiquidityPerTick returns the gross liquidity cap for a single tick of a
// pool with the given spacing. Tighter spacing means more representable ticks
// and a lower cap, so that the sum over all ticks stays within uint128. The
// cap depends on spacing only through the count of spacing-aligned ticks,
// 2*(887272/spacing)+1, so spacings that truncate to the same count share a
// cap; across spacings the cap is non-decreasing. Spacing 0 designates
// full-range-only pools, which use a single tick pair and get the whole range.
func MaxLiquidityPerTick(tickSpacing uint32) *big.Int {
	if tickSpacing == 0 {
		return new(big.Int).Set(MaxUint128)
	}
	numTicks := big.NewInt(1 + 2*(maxTickMagnitude/int64(tickSpacing)))
	return new(big.Int).Div(MaxUint128, numTicks)
}

// AmountsForLiquidity writes the token amounts moved by applying liquidityDelta
// to a position spanning [sqrtRatioLower, sqrtRatioUpper] while the pool sits at
// sqrtRatio. Positive deltas are deposits and round up (owed to the pool);
// negative deltas are withdrawals and round down (owed to the caller). The
// results carry the sign of the delta.
func AmountsForLiquidity(amount0, amount1, sqrtRatio, sqrtRatioLower, sqrtRatioUpper, liquidityDelta *big.Int) error {
	amount0.SetInt64(0)
	amount1.SetInt64(0)
	if liquidityDelta.Sign() == 0 {
		return nil
	}

	liquidity := new(big.Int).Abs(liquidityDelta)
	roundUp := liquidityDelta.Sign() > 0

	switch {
	case sqrtRatio.Cmp(sqrtRatioLower) < 0:
		// Range entirely above the current price: all token0.
		if err := sqrtpricemath.Amount0Delta(amount0, sqrtRatioLower, sqrtRatioUpper, liquidity, roundUp); err != nil {
			return err
		}
	case sqrtRatio.Cmp(sqrtRatioUpper) >= 0:
		// Range entirely below the current price: all token1.
		sqrtpricemath.Amount1Delta(amount1, sqrtRatioLower, sqrtRatioUpper, liquidity, roundUp)
	default:
		// Straddling: token0 from here to the top, token1 from the bottom to here.
		if err := sqrtpricemath.Amount0Delta(amount0, sqrtRatio, sqrtRatioUpper, liquidity, roundUp); err != nil {
			return err
		}
		sqrtpricemath.Amount1Delta(amount1, sqrtRatioLower, sqrtRatio, liquidity, roundUp)
	}

	if liquidityDelta.Sign() < 0 {
		amount0.Neg(amount0)
		amount1.Neg(amount1)
	}
	return nil
}

// LiquidityForAmounts returns the largest liquidity fundable by amount0/amount1
// for a position spanning [sqrtRatioLower, sqrtRatioUpper] at the current
// sqrtRatio.
func LiquidityForAmounts(amount0, amount1, sqrtRatio, sqrtRatioLower, sqrtRatioUpper *big.Int) *big.Int {
	if sqrtRatioLower.Cmp(sqrtRatioUpper) > 0 {
		sqrtRatioLower, sqrtRatioUpper = sqrtRatioUpper, sqrtRatioLower
	}

	switch {
	case sqrtRatio.Cmp(sqrtRatioLower) <= 0:
		return liquidityForAmount0(amount0, sqrtRatioLower, sqrtRatioUpper)
	case sqrtRatio.Cmp(sqrtRatioUpper) < 0:
		l0 := liquidityForAmount0(amount0, sqrtRatio, sqrtRatioUpper)
		l1 := liquidityForAmount1(amount1, sqrtRatioLower, sqrtRatio)
		if l0.Cmp(l1) < 0 {
			return l0
		}
		return l1
	default:
		return liquidityForAmount1(amount1, sqrtRatioLower, sqrtRatioUpper)
	}
}

func liquidityForAmount0(amount0, sqrtRatioA, sqrtRatioB *big.Int) *big.Int {
	// L = amount0 * (sqrtA * sqrtB / Q96) / (sqrtB - sqrtA)
	intermediate := new(big.Int).Mul(sqrtRatioA, sqrtRatioB)
	intermediate.Div(intermediate, sqrtpricemath.Q96)
	l := new(big.Int).Mul(amount0, intermediate)
	return l.Div(l, new(big.Int).Sub(sqrtRatioB, sqrtRatioA))
}

func liquidityForAmount1(amount1, sqrtRatioA, sqrtRatioB *big.Int) *big.Int {
	// L = amount1 * Q96 / (sqrtB - sqrtA)
	l := new(big.Int).Mul(amount1, sqrtpricemath.Q96)
	return l.Div(l, new(big.Int).Sub(sqrtRatioB, sqrtRatioA))
}
