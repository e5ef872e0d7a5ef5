package sqrtpricemath

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper to create a big.Int from a string for tests.
func fromString(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 10)
	return n
}

var (
	// sqrt ratios at ticks 0 and 100
	sqrtTick0   = fromString("79228162514264337593543950336")
	sqrtTick100 = fromString("79625275426524748796330556128")
)

func TestAmount0Delta(t *testing.T) {
	liquidity := big.NewInt(1_000_000)

	t.Run("rounds up for the pool", func(t *testing.T) {
		dest := new(big.Int)
		require.NoError(t, Amount0Delta(dest, sqrtTick0, sqrtTick100, liquidity, true))
		assert.Zero(t, big.NewInt(4988).Cmp(dest))
	})

	t.Run("rounds down for the caller", func(t *testing.T) {
		dest := new(big.Int)
		require.NoError(t, Amount0Delta(dest, sqrtTick0, sqrtTick100, liquidity, false))
		assert.Zero(t, big.NewInt(4987).Cmp(dest))
	})

	t.Run("argument order does not matter", func(t *testing.T) {
		a, b := new(big.Int), new(big.Int)
		require.NoError(t, Amount0Delta(a, sqrtTick0, sqrtTick100, liquidity, true))
		require.NoError(t, Amount0Delta(b, sqrtTick100, sqrtTick0, liquidity, true))
		assert.Zero(t, a.Cmp(b))
	})

	t.Run("zero for equal ratios", func(t *testing.T) {
		dest := new(big.Int)
		require.NoError(t, Amount0Delta(dest, sqrtTick0, sqrtTick0, liquidity, true))
		assert.Zero(t, dest.Sign())
	})

	t.Run("rejects zero ratio", func(t *testing.T) {
		err := Amount0Delta(new(big.Int), new(big.Int), sqrtTick100, liquidity, true)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSqrtRatioZero)
	})
}

func TestAmount1Delta(t *testing.T) {
	liquidity := big.NewInt(1_000_000)

	t.Run("rounds up for the pool", func(t *testing.T) {
		dest := new(big.Int)
		Amount1Delta(dest, sqrtTick0, sqrtTick100, liquidity, true)
		assert.Zero(t, big.NewInt(5013).Cmp(dest))
	})

	t.Run("rounds down for the caller", func(t *testing.T) {
		dest := new(big.Int)
		Amount1Delta(dest, sqrtTick0, sqrtTick100, liquidity, false)
		assert.Zero(t, big.NewInt(5012).Cmp(dest))
	})
}

func TestNextSqrtRatioFromInput(t *testing.T) {
	liquidity := big.NewInt(1_000_000)

	t.Run("rejects zero liquidity", func(t *testing.T) {
		err := NextSqrtRatioFromInput(new(big.Int), sqrtTick0, new(big.Int), big.NewInt(100), false)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrLiquidityZero)
	})

	t.Run("rejects zero ratio", func(t *testing.T) {
		err := NextSqrtRatioFromInput(new(big.Int), new(big.Int), liquidity, big.NewInt(100), false)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSqrtRatioZero)
	})

	t.Run("zero amount is a no-op", func(t *testing.T) {
		dest := new(big.Int)
		require.NoError(t, NextSqrtRatioFromInput(dest, sqrtTick0, liquidity, new(big.Int), false))
		assert.Zero(t, sqrtTick0.Cmp(dest))
	})

	t.Run("token0 input moves price down", func(t *testing.T) {
		dest := new(big.Int)
		require.NoError(t, NextSqrtRatioFromInput(dest, sqrtTick0, liquidity, big.NewInt(1000), false))
		assert.Negative(t, dest.Cmp(sqrtTick0))
	})

	t.Run("token1 input moves price up", func(t *testing.T) {
		dest := new(big.Int)
		require.NoError(t, NextSqrtRatioFromInput(dest, sqrtTick0, liquidity, big.NewInt(1000), true))
		assert.Positive(t, dest.Cmp(sqrtTick0))
	})
}

func TestNextSqrtRatioFromOutput(t *testing.T) {
	liquidity := big.NewInt(1_000_000)

	t.Run("token1 output moves price down", func(t *testing.T) {
		dest := new(big.Int)
		require.NoError(t, NextSqrtRatioFromOutput(dest, sqrtTick0, liquidity, big.NewInt(1000), true))
		assert.Negative(t, dest.Cmp(sqrtTick0))
	})

	t.Run("token0 output moves price up", func(t *testing.T) {
		dest := new(big.Int)
		require.NoError(t, NextSqrtRatioFromOutput(dest, sqrtTick0, liquidity, big.NewInt(1000), false))
		assert.Positive(t, dest.Cmp(sqrtTick0))
	})

	t.Run("underflows when output exceeds reserves", func(t *testing.T) {
		huge := new(big.Int).Lsh(big.NewInt(1), 120)
		err := NextSqrtRatioFromOutput(new(big.Int), sqrtTick0, liquidity, huge, true)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPriceUnderflow)
	})
}

// Moving the price by an input and charging the implied amount must agree:
// amount in computed from the price move never exceeds the amount that caused it.
func TestInputAmountConsistency(t *testing.T) {
	liquidity := fromString("123456789012345")
	amounts := []*big.Int{big.NewInt(1), big.NewInt(1000), fromString("999999999999")}

	for _, amountIn := range amounts {
		for _, isToken1 := range []bool{false, true} {
			next := new(big.Int)
			require.NoError(t, NextSqrtRatioFromInput(next, sqrtTick0, liquidity, amountIn, isToken1))

			implied := new(big.Int)
			if isToken1 {
				Amount1Delta(implied, sqrtTick0, next, liquidity, true)
			} else {
				require.NoError(t, Amount0Delta(implied, sqrtTick0, next, liquidity, true))
			}
			assert.True(t, implied.Cmp(amountIn) <= 0,
				"amount %s token1=%v: implied %s", amountIn, isToken1, implied)
		}
	}
}
