package sqrtpricemath

import (
	"errors"
	"math/big"
	"sync"
)

var (
	// Q96 is the Q64.96 fixed-point representation of 1.
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)
	// Resolution is the fractional bit count of the Q64.96 format.
	Resolution = uint(96)

	ErrLiquidityZero  = errors.New("liquidity must be greater than zero")
	ErrSqrtRatioZero  = errors.New("sqrt ratio must be greater than zero")
	ErrPriceOverflow  = errors.New("next sqrt ratio overflows")
	ErrPriceUnderflow = errors.New("next sqrt ratio underflows")

	one = big.NewInt(1)
)

// scratch holds reusable integers for the internal computations.
type scratch struct {
	product     *big.Int
	numerator1  *big.Int
	numerator2  *big.Int
	denominator *big.Int
	quotient    *big.Int
	term        *big.Int
	rem         *big.Int
}

var scratchPool = sync.Pool{
	New: func() any {
		return &scratch{
			product:     new(big.Int),
			numerator1:  new(big.Int),
			numerator2:  new(big.Int),
			denominator: new(big.Int),
			quotient:    new(big.Int),
			term:        new(big.Int),
			rem:         new(big.Int),
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

func (s *scratch) divRoundingUp(dest, a, b *big.Int) {
	dest.Div(a, b)
	if s.rem.Rem(a, b).Sign() > 0 {
		dest.Add(dest, one)
	}
}

// NextSqrtRatioFromAmount0 writes the sqrt ratio after `amount` of token0 is
// added to (add=true) or removed from (add=false) the pool. Adding token0
// pushes the price down; the result is rounded up so the pool never undercharges.
func NextSqrtRatioFromAmount0(dest, sqrtRatio, liquidity, amount *big.Int, add bool) error {
	if amount.Sign() == 0 {
		dest.Set(sqrtRatio)
		return nil
	}

	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)

	s.numerator1.Lsh(liquidity, Resolution)

	if add {
		s.product.Mul(amount, sqrtRatio)
		s.denominator.Add(s.numerator1, s.product)
		if s.denominator.Cmp(s.numerator1) >= 0 {
			s.mulDivRoundingUp(dest, s.numerator1, sqrtRatio, s.denominator)
			return nil
		}
		s.denominator.Div(s.numerator1, sqrtRatio)
		s.denominator.Add(s.denominator, amount)
		s.divRoundingUp(dest, s.numerator1, s.denominator)
		return nil
	}

	s.product.Mul(amount, sqrtRatio)
	if s.numerator1.Cmp(s.product) <= 0 {
		return ErrPriceOverflow
	}
	s.denominator.Sub(s.numerator1, s.product)
	s.mulDivRoundingUp(dest, s.numerator1, sqrtRatio, s.denominator)
	return nil
}

// NextSqrtRatioFromAmount1 writes the sqrt ratio after `amount` of token1 is
// added (price up) or removed (price down). Rounding is toward the pool.
func NextSqrtRatioFromAmount1(dest, sqrtRatio, liquidity, amount *big.Int, add bool) error {
	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)

	if add {
		s.mulDiv(s.quotient, amount, Q96, liquidity)
		dest.Add(sqrtRatio, s.quotient)
		return nil
	}

	s.mulDivRoundingUp(s.quotient, amount, Q96, liquidity)
	if sqrtRatio.Cmp(s.quotient) <= 0 {
		return ErrPriceUnderflow
	}
	dest.Sub(sqrtRatio, s.quotient)
	return nil
}

// NextSqrtRatioFromInput computes the price after swapping in exactly amountIn.
func NextSqrtRatioFromInput(dest, sqrtRatio, liquidity, amountIn *big.Int, isToken1 bool) error {
	if sqrtRatio.Sign() <= 0 {
		return ErrSqrtRatioZero
	}
	if liquidity.Sign() <= 0 {
		return ErrLiquidityZero
	}
	if isToken1 {
		return NextSqrtRatioFromAmount1(dest, sqrtRatio, liquidity, amountIn, true)
	}
	return NextSqrtRatioFromAmount0(dest, sqrtRatio, liquidity, amountIn, true)
}

// NextSqrtRatioFromOutput computes the price after swapping out exactly amountOut.
func NextSqrtRatioFromOutput(dest, sqrtRatio, liquidity, amountOut *big.Int, outIsToken1 bool) error {
	if sqrtRatio.Sign() <= 0 {
		return ErrSqrtRatioZero
	}
	if liquidity.Sign() <= 0 {
		return ErrLiquidityZero
	}
	if outIsToken1 {
		return NextSqrtRatioFromAmount1(dest, sqrtRatio, liquidity, amountOut, false)
	}
	return NextSqrtRatioFromAmount0(dest, sqrtRatio, liquidity, amountOut, false)
}

// Amount0Delta writes the token0 amount between two sqrt ratios for the given
// liquidity. roundUp is used for amounts owed to the pool.
func Amount0Delta(dest, sqrtRatioA, sqrtRatioB, liquidity *big.Int, roundUp bool) error {
	if sqrtRatioA.Cmp(sqrtRatioB) > 0 {
		sqrtRatioA, sqrtRatioB = sqrtRatioB, sqrtRatioA
	}
	if sqrtRatioA.Sign() <= 0 {
		return ErrSqrtRatioZero
	}

	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)

	s.numerator1.Lsh(liquidity, Resolution)
	s.numerator2.Sub(sqrtRatioB, sqrtRatioA)

	if roundUp {
		s.mulDivRoundingUp(s.term, s.numerator1, s.numerator2, sqrtRatioB)
		s.divRoundingUp(dest, s.term, sqrtRatioA)
	} else {
		s.mulDiv(s.term, s.numerator1, s.numerator2, sqrtRatioB)
		dest.Div(s.term, sqrtRatioA)
	}
	return nil
}

// Amount1Delta writes the token1 amount between two sqrt ratios for the given
// liquidity.
func Amount1Delta(dest, sqrtRatioA, sqrtRatioB, liquidity *big.Int, roundUp bool) {
	if sqrtRatioA.Cmp(sqrtRatioB) > 0 {
		sqrtRatioA, sqrtRatioB = sqrtRatioB, sqrtRatioA
	}

	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)

	s.numerator1.Sub(sqrtRatioB, sqrtRatioA)
	if roundUp {
		s.mulDivRoundingUp(dest, liquidity, s.numerator1, Q96)
	} else {
		s.mulDiv(dest, liquidity, s.numerator1, Q96)
	}
}
