package core

import (
	"fmt"
	"math/big"
	"time"

	"github.com/defistate/amm-engine-go/core/liquiditymath"
	"github.com/defistate/amm-engine-go/core/swapmath"
	"github.com/defistate/amm-engine-go/core/tickmath"
)

// Swap executes a swap against one pool, walking initialized ticks until the
// specified amount is consumed or the sqrt ratio limit is reached. It returns
// the signed balance deltas for token0 and token1 (positive amounts are owed
// to the engine) and the pool state after the swap.
//
// params.Amount > 0 specifies an exact input of the params.IsToken1 token;
// Amount < 0 an exact output. A nil SqrtRatioLimit means no limit beyond the
// representable price range.
func (l *Locker) Swap(key PoolKey, params SwapParams) (delta0, delta1 *big.Int, state StateView, err error) {
	if err := l.requireActive(); err != nil {
		return nil, nil, StateView{}, err
	}
	p, err := l.core.poolByKey(key)
	if err != nil {
		return nil, nil, StateView{}, err
	}
	if err := checkDeltaRange(params.Amount); err != nil {
		return nil, nil, StateView{}, err
	}

	increasing := (params.Amount.Sign() > 0) == params.IsToken1
	limit, err := resolveSqrtRatioLimit(params.SqrtRatioLimit, p.sqrtRatio, increasing)
	if err != nil {
		return nil, nil, StateView{}, err
	}

	// Nothing to do: either no amount was specified or the price already sits
	// at the limit. Hooks are not invoked for no-op swaps.
	if params.Amount.Sign() == 0 || limit.Cmp(p.sqrtRatio) == 0 {
		zero := new(big.Int)
		return zero, new(big.Int), p.view(), nil
	}

	ext, points, err := l.core.extensionFor(key)
	if err != nil {
		return nil, nil, StateView{}, err
	}
	if ext != nil && points&BeforeSwap != 0 {
		if err := ext.OnBeforeSwap(l, key, params); err != nil {
			return nil, nil, StateView{}, err
		}
	}

	started := time.Now()
	delta0, delta1, err = l.executeSwap(p, params, increasing, limit)
	if err != nil {
		return nil, nil, StateView{}, err
	}
	l.core.metrics.swapsTotal.Inc()
	l.core.metrics.swapDuration.WithLabelValues().Observe(time.Since(started).Seconds())

	l.accountDelta(key.Token0, delta0)
	l.accountDelta(key.Token1, delta1)

	if ext != nil && points&AfterSwap != 0 {
		if err := ext.OnAfterSwap(l, key, params, new(big.Int).Set(delta0), new(big.Int).Set(delta1)); err != nil {
			return nil, nil, StateView{}, err
		}
	}

	l.core.logger.Debug("swap executed",
		"pool", key.ID(), "locker", l.ctx.id,
		"delta0", delta0, "delta1", delta1, "tick", p.tick)
	return delta0, delta1, p.view(), nil
}

// resolveSqrtRatioLimit validates an explicit limit against the direction of
// travel, or substitutes the edge of the representable range.
func resolveSqrtRatioLimit(limit, current *big.Int, increasing bool) (*big.Int, error) {
	if limit == nil {
		if increasing {
			return new(big.Int).Set(tickmath.MAX_SQRT_RATIO), nil
		}
		return new(big.Int).Set(tickmath.MIN_SQRT_RATIO), nil
	}
	if limit.Cmp(tickmath.MIN_SQRT_RATIO) < 0 || limit.Cmp(tickmath.MAX_SQRT_RATIO) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSqrtRatioLimit, limit)
	}
	if increasing && limit.Cmp(current) < 0 {
		return nil, fmt.Errorf("%w: limit %s below current price", ErrLimitWrongSide, limit)
	}
	if !increasing && limit.Cmp(current) > 0 {
		return nil, fmt.Errorf("%w: limit %s above current price", ErrLimitWrongSide, limit)
	}
	return new(big.Int).Set(limit), nil
}

// executeSwap runs the tick-walking loop and commits the resulting price,
// tick, liquidity and fee growth to the pool.
func (l *Locker) executeSwap(p *pool, params SwapParams, increasing bool, limit *big.Int) (*big.Int, *big.Int, error) {
	exactInput := params.Amount.Sign() > 0
	feeGrowthIdx := 0
	if increasing {
		// Price moves up when token1 is the input.
		feeGrowthIdx = 1
	}
	fee := new(big.Int).SetUint64(p.key.Fee)

	sqrtRatio := new(big.Int).Set(p.sqrtRatio)
	tick := p.tick
	liquidity := new(big.Int).Set(p.liquidity)

	remaining := new(big.Int).Set(params.Amount)
	calculated := new(big.Int)

	step := swapmath.NewStepResult()
	stepStart := new(big.Int)
	target := new(big.Int)
	tickTarget := new(big.Int)
	liquidityNet := new(big.Int)
	feeTerm := new(big.Int)

	for remaining.Sign() != 0 && sqrtRatio.Cmp(limit) != 0 {
		stepStart.Set(sqrtRatio)
		nextTick, initialized := p.bitmap.NextInitialized(tick, !increasing, params.SkipAhead)
		if err := tickmath.SqrtRatioAtTick(tickTarget, nextTick); err != nil {
			return nil, nil, err
		}

		target.Set(tickTarget)
		if increasing && target.Cmp(limit) > 0 {
			target.Set(limit)
		} else if !increasing && target.Cmp(limit) < 0 {
			target.Set(limit)
		}

		if err := swapmath.ComputeSwapStep(step, sqrtRatio, target, liquidity, remaining, fee); err != nil {
			return nil, nil, err
		}

		if exactInput {
			remaining.Sub(remaining, step.AmountIn)
			remaining.Sub(remaining, step.FeeAmount)
			calculated.Add(calculated, step.AmountOut)
		} else {
			remaining.Add(remaining, step.AmountOut)
			calculated.Add(calculated, step.AmountIn)
			calculated.Add(calculated, step.FeeAmount)
		}

		if step.FeeAmount.Sign() > 0 && liquidity.Sign() > 0 {
			feeTerm.Lsh(step.FeeAmount, 128)
			feeTerm.Quo(feeTerm, liquidity)
			p.feeGrowthGlobal[feeGrowthIdx].Add(p.feeGrowthGlobal[feeGrowthIdx], feeTerm)
			wrapUint256(p.feeGrowthGlobal[feeGrowthIdx])
		}

		sqrtRatio.Set(step.SqrtRatioNext)

		if sqrtRatio.Cmp(tickTarget) == 0 {
			// Reached a tick boundary. Cross it if it carries liquidity.
			if initialized {
				p.crossTick(nextTick, increasing, liquidityNet)
				if err := liquiditymath.AddDelta(liquidity, liquidity, liquidityNet); err != nil {
					return nil, nil, err
				}
				l.core.metrics.ticksCrossed.Inc()
			}
			if increasing {
				tick = nextTick
			} else if tick = nextTick - 1; tick < tickmath.MIN_TICK {
				tick = tickmath.MIN_TICK
			}
		} else if sqrtRatio.Cmp(stepStart) != 0 {
			var err error
			tick, err = tickmath.TickAtSqrtRatio(sqrtRatio)
			if err != nil {
				return nil, nil, err
			}
		}
	}

	// Signed deltas: positive amounts flow into the engine.
	specified := new(big.Int).Sub(params.Amount, remaining)
	if exactInput {
		calculated.Neg(calculated)
	}
	var delta0, delta1 *big.Int
	if params.IsToken1 {
		delta0, delta1 = calculated, specified
	} else {
		delta0, delta1 = specified, calculated
	}
	if err := checkDeltaRange(delta0, delta1); err != nil {
		return nil, nil, err
	}

	p.sqrtRatio.Set(sqrtRatio)
	p.tick = tick
	p.liquidity.Set(liquidity)
	return delta0, delta1, nil
}
