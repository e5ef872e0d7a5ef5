package swapmath

import (
	"math/big"
	"sync"

	"github.com/defistate/amm-engine-go/core/sqrtpricemath"
)

var (
	// FeeDenominator is 2^64; pool fees are fractions of it.
	FeeDenominator = new(big.Int).Lsh(big.NewInt(1), 64)

	one = big.NewInt(1)
)

// StepResult is the outcome of swapping within a single tick range.
type StepResult struct {
	SqrtRatioNext *big.Int
	AmountIn      *big.Int
	AmountOut     *big.Int
	FeeAmount     *big.Int
}

// scratch holds reusable integers for one ComputeSwapStep call.
type scratch struct {
	amountRemainingLessFee *big.Int
	amountRemainingAbs     *big.Int
	feeComplement          *big.Int
	product                *big.Int
	rem                    *big.Int
}

var scratchPool = sync.Pool{
	New: func() any {
		return &scratch{
			amountRemainingLessFee: new(big.Int),
			amountRemainingAbs:     new(big.Int),
			feeComplement:          new(big.Int),
			product:                new(big.Int),
			rem:                    new(big.Int),
		}
	},
}

func (s *scratch) mulDiv(dest, a, b, c *big.Int) {
	s.product.Mul(a, b)
	dest.Div(s.product, c)
}

func (s *scratch) mulDivRoundingUp(dest, a, b, c *big.Int) {
	s.product.Mul(a, b)
	dest.Div(s.product, c)
	if s.rem.Rem(s.product, c).Sign() > 0 {
		dest.Add(dest, one)
	}
}

// ComputeSwapStep advances the price from sqrtRatioCurrent toward
// sqrtRatioTarget, consuming at most amountRemaining. A positive
// amountRemaining is an exact input (fee taken from it before the price
// calculation); a negative one is an exact output. fee is a fraction of 2^64.
//
// Zero liquidity jumps straight to the target with no amounts exchanged: there
// is nothing to trade against.
func ComputeSwapStep(
	res *StepResult,
	sqrtRatioCurrent, sqrtRatioTarget, liquidity, amountRemaining, fee *big.Int,
) error {
	res.AmountIn.SetInt64(0)
	res.AmountOut.SetInt64(0)
	res.FeeAmount.SetInt64(0)

	if liquidity.Sign() == 0 {
		res.SqrtRatioNext.Set(sqrtRatioTarget)
		return nil
	}

	priceDecreasing := sqrtRatioCurrent.Cmp(sqrtRatioTarget) >= 0
	exactIn := amountRemaining.Sign() >= 0

	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)
	s.feeComplement.Sub(FeeDenominator, fee)

	if exactIn {
		s.mulDiv(s.amountRemainingLessFee, amountRemaining, s.feeComplement, FeeDenominator)

		// Full input required to reach the target.
		if priceDecreasing {
			if err := sqrtpricemath.Amount0Delta(res.AmountIn, sqrtRatioTarget, sqrtRatioCurrent, liquidity, true); err != nil {
				return err
			}
		} else {
			sqrtpricemath.Amount1Delta(res.AmountIn, sqrtRatioCurrent, sqrtRatioTarget, liquidity, true)
		}

		if s.amountRemainingLessFee.Cmp(res.AmountIn) >= 0 {
			res.SqrtRatioNext.Set(sqrtRatioTarget)
		} else {
			err := sqrtpricemath.NextSqrtRatioFromInput(res.SqrtRatioNext, sqrtRatioCurrent, liquidity, s.amountRemainingLessFee, !priceDecreasing)
			if err != nil {
				return err
			}
		}
	} else {
		s.amountRemainingAbs.Neg(amountRemaining)

		if priceDecreasing {
			sqrtpricemath.Amount1Delta(res.AmountOut, sqrtRatioTarget, sqrtRatioCurrent, liquidity, false)
		} else {
			if err := sqrtpricemath.Amount0Delta(res.AmountOut, sqrtRatioCurrent, sqrtRatioTarget, liquidity, false); err != nil {
				return err
			}
		}

		if s.amountRemainingAbs.Cmp(res.AmountOut) >= 0 {
			res.SqrtRatioNext.Set(sqrtRatioTarget)
		} else {
			err := sqrtpricemath.NextSqrtRatioFromOutput(res.SqrtRatioNext, sqrtRatioCurrent, liquidity, s.amountRemainingAbs, priceDecreasing)
			if err != nil {
				return err
			}
		}
	}

	reachedTarget := sqrtRatioTarget.Cmp(res.SqrtRatioNext) == 0

	// Recompute both legs against the price actually reached.
	if priceDecreasing {
		if !(reachedTarget && exactIn) {
			if err := sqrtpricemath.Amount0Delta(res.AmountIn, res.SqrtRatioNext, sqrtRatioCurrent, liquidity, true); err != nil {
				return err
			}
		}
		if !(reachedTarget && !exactIn) {
			sqrtpricemath.Amount1Delta(res.AmountOut, res.SqrtRatioNext, sqrtRatioCurrent, liquidity, false)
		}
	} else {
		if !(reachedTarget && exactIn) {
			sqrtpricemath.Amount1Delta(res.AmountIn, sqrtRatioCurrent, res.SqrtRatioNext, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			if err := sqrtpricemath.Amount0Delta(res.AmountOut, sqrtRatioCurrent, res.SqrtRatioNext, liquidity, false); err != nil {
				return err
			}
		}
	}

	// Never hand out more than an exact-output swap asked for.
	if !exactIn && res.AmountOut.Cmp(s.amountRemainingAbs) > 0 {
		res.AmountOut.Set(s.amountRemainingAbs)
	}

	if exactIn && !reachedTarget {
		// Stopped short of the target: whatever input is left over is the fee.
		res.FeeAmount.Sub(amountRemaining, res.AmountIn)
	} else {
		s.mulDivRoundingUp(res.FeeAmount, res.AmountIn, fee, s.feeComplement)
	}

	return nil
}

// NewStepResult allocates a StepResult with all fields ready for reuse across
// loop iterations.
func NewStepResult() *StepResult {
	return &StepResult{
		SqrtRatioNext: new(big.Int),
		AmountIn:      new(big.Int),
		AmountOut:     new(big.Int),
		FeeAmount:     new(big.Int),
	}
}
