package core

import (
	"fmt"
	"math/big"

	"github.com/defistate/amm-engine-go/core/liquiditymath"
	"github.com/defistate/amm-engine-go/core/swapmath"
	"github.com/defistate/amm-engine-go/core/tickmath"
)

// UpdatePosition applies a signed liquidity delta to the caller's position at
// the given bounds, creating it on first deposit and deleting it when its
// liquidity returns to zero. It returns the principal deltas (positive owed to
// the engine) and the swap fees collected for the position as part of the
// update. Removing the last unit of liquidity while earned fees are still
// pending is rejected; collect first.
//
// Withdrawals pay the pool's fee rate on principal. The retained part accrues
// to in-range liquidity, or to the pool's protocol balance when none is
// active.
func (l *Locker) UpdatePosition(key PoolKey, params UpdatePositionParams) (delta0, delta1, fees0, fees1 *big.Int, err error) {
	if err := l.requireActive(); err != nil {
		return nil, nil, nil, nil, err
	}
	p, err := l.core.poolByKey(key)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := validateTickBounds(key, params.TickLower, params.TickUpper); err != nil {
		return nil, nil, nil, nil, err
	}
	if err := checkDeltaRange(params.LiquidityDelta); err != nil {
		return nil, nil, nil, nil, err
	}

	ext, points, err := l.core.extensionFor(key)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if ext != nil && points&BeforeUpdatePosition != 0 {
		if err := ext.OnBeforeUpdatePosition(l, key, params); err != nil {
			return nil, nil, nil, nil, err
		}
	}

	posKey := positionKey{
		owner:     l.ctx.caller,
		salt:      params.Salt,
		tickLower: params.TickLower,
		tickUpper: params.TickUpper,
	}
	pos, exists := p.positions[posKey]
	if !exists && params.LiquidityDelta.Sign() <= 0 {
		return nil, nil, nil, nil, fmt.Errorf("%w: %s at [%d, %d)", ErrPositionUnknown, l.ctx.caller, params.TickLower, params.TickUpper)
	}

	inside := [2]*big.Int{new(big.Int), new(big.Int)}
	p.feeGrowthInside(params.TickLower, params.TickUpper, &inside)

	fees0, fees1 = new(big.Int), new(big.Int)
	liquidityBefore := new(big.Int)
	if exists {
		liquidityBefore.Set(pos.liquidity)
		accruedFees(fees0, pos.liquidity, pos.feeGrowthInsideLast[0], inside[0])
		accruedFees(fees1, pos.liquidity, pos.feeGrowthInsideLast[1], inside[1])
	}

	liquidityAfter := new(big.Int)
	if err := liquiditymath.AddDelta(liquidityAfter, liquidityBefore, params.LiquidityDelta); err != nil {
		return nil, nil, nil, nil, err
	}
	if liquidityAfter.Sign() == 0 && params.LiquidityDelta.Sign() < 0 &&
		(fees0.Sign() != 0 || fees1.Sign() != 0) {
		return nil, nil, nil, nil, fmt.Errorf("%w: position %s at [%d, %d)", ErrUncollectedFees, l.ctx.caller, params.TickLower, params.TickUpper)
	}

	if params.LiquidityDelta.Sign() != 0 {
		if err := p.updateTick(params.TickLower, params.LiquidityDelta, false); err != nil {
			return nil, nil, nil, nil, err
		}
		if err := p.updateTick(params.TickUpper, params.LiquidityDelta, true); err != nil {
			return nil, nil, nil, nil, err
		}
		if params.TickLower <= p.tick && p.tick < params.TickUpper {
			if err := liquiditymath.AddDelta(p.liquidity, p.liquidity, params.LiquidityDelta); err != nil {
				return nil, nil, nil, nil, err
			}
		}
	}

	delta0, delta1 = new(big.Int), new(big.Int)
	if params.LiquidityDelta.Sign() != 0 {
		sqrtLower, sqrtUpper := new(big.Int), new(big.Int)
		if err := tickmath.SqrtRatioAtTick(sqrtLower, params.TickLower); err != nil {
			return nil, nil, nil, nil, err
		}
		if err := tickmath.SqrtRatioAtTick(sqrtUpper, params.TickUpper); err != nil {
			return nil, nil, nil, nil, err
		}
		if err := liquiditymath.AmountsForLiquidity(delta0, delta1, p.sqrtRatio, sqrtLower, sqrtUpper, params.LiquidityDelta); err != nil {
			return nil, nil, nil, nil, err
		}
		if params.LiquidityDelta.Sign() < 0 && p.key.Fee != 0 {
			p.takeWithdrawalFee(delta0, 0)
			p.takeWithdrawalFee(delta1, 1)
		}
	}
	if err := checkDeltaRange(delta0, delta1, fees0, fees1); err != nil {
		return nil, nil, nil, nil, err
	}

	if liquidityAfter.Sign() == 0 {
		delete(p.positions, posKey)
	} else {
		if !exists {
			pos = newPosition()
			p.positions[posKey] = pos
		}
		pos.liquidity.Set(liquidityAfter)
		pos.feeGrowthInsideLast[0].Set(inside[0])
		pos.feeGrowthInsideLast[1].Set(inside[1])
	}

	l.accountDelta(key.Token0, delta0)
	l.accountDelta(key.Token1, delta1)
	l.accountDelta(key.Token0, new(big.Int).Neg(fees0))
	l.accountDelta(key.Token1, new(big.Int).Neg(fees1))
	l.core.metrics.positionUpdates.Inc()

	if ext != nil && points&AfterUpdatePosition != 0 {
		if err := ext.OnAfterUpdatePosition(l, key, params, new(big.Int).Set(delta0), new(big.Int).Set(delta1)); err != nil {
			return nil, nil, nil, nil, err
		}
	}

	l.core.logger.Debug("position updated",
		"pool", key.ID(), "locker", l.ctx.id, "owner", l.ctx.caller,
		"tickLower", params.TickLower, "tickUpper", params.TickUpper,
		"liquidityDelta", params.LiquidityDelta, "delta0", delta0, "delta1", delta1)
	return delta0, delta1, fees0, fees1, nil
}

// CollectFees settles the swap fees earned by the caller's position since its
// last checkpoint and credits them to the frame. params.LiquidityDelta is
// ignored.
func (l *Locker) CollectFees(key PoolKey, params UpdatePositionParams) (fees0, fees1 *big.Int, err error) {
	if err := l.requireActive(); err != nil {
		return nil, nil, err
	}
	p, err := l.core.poolByKey(key)
	if err != nil {
		return nil, nil, err
	}

	posKey := positionKey{
		owner:     l.ctx.caller,
		salt:      params.Salt,
		tickLower: params.TickLower,
		tickUpper: params.TickUpper,
	}
	pos, ok := p.positions[posKey]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s at [%d, %d)", ErrPositionUnknown, l.ctx.caller, params.TickLower, params.TickUpper)
	}

	ext, points, err := l.core.extensionFor(key)
	if err != nil {
		return nil, nil, err
	}
	if ext != nil && points&BeforeCollectFees != 0 {
		if err := ext.OnBeforeCollectFees(l, key, params); err != nil {
			return nil, nil, err
		}
	}

	inside := [2]*big.Int{new(big.Int), new(big.Int)}
	p.feeGrowthInside(params.TickLower, params.TickUpper, &inside)

	fees0, fees1 = new(big.Int), new(big.Int)
	accruedFees(fees0, pos.liquidity, pos.feeGrowthInsideLast[0], inside[0])
	accruedFees(fees1, pos.liquidity, pos.feeGrowthInsideLast[1], inside[1])
	if err := checkDeltaRange(fees0, fees1); err != nil {
		return nil, nil, err
	}
	pos.feeGrowthInsideLast[0].Set(inside[0])
	pos.feeGrowthInsideLast[1].Set(inside[1])

	l.accountDelta(key.Token0, new(big.Int).Neg(fees0))
	l.accountDelta(key.Token1, new(big.Int).Neg(fees1))

	if ext != nil && points&AfterCollectFees != 0 {
		if err := ext.OnAfterCollectFees(l, key, params, new(big.Int).Set(fees0), new(big.Int).Set(fees1)); err != nil {
			return nil, nil, err
		}
	}

	l.core.logger.Debug("fees collected",
		"pool", key.ID(), "locker", l.ctx.id, "owner", l.ctx.caller,
		"fees0", fees0, "fees1", fees1)
	return fees0, fees1, nil
}

// accruedFees writes liquidity * (inside - last) / 2^128 to dest, with the
// growth difference taken modulo 2^256.
func accruedFees(dest, liquidity, last, inside *big.Int) {
	diff := new(big.Int).Sub(inside, last)
	wrapUint256(diff)
	dest.Mul(liquidity, diff)
	dest.Rsh(dest, 128)
}

// takeWithdrawalFee reduces a negative principal delta by the pool's fee rate
// and books the retained part, either as fee growth for in-range liquidity or
// as protocol fees when the pool is empty.
func (p *pool) takeWithdrawalFee(delta *big.Int, tokenIdx int) {
	if delta.Sign() >= 0 {
		return
	}
	abs := new(big.Int).Neg(delta)
	returned := new(big.Int).Sub(swapmath.FeeDenominator, new(big.Int).SetUint64(p.key.Fee))
	returned.Mul(returned, abs)
	returned.Rsh(returned, 64)
	kept := new(big.Int).Sub(abs, returned)
	delta.Neg(returned)

	if kept.Sign() == 0 {
		return
	}
	if p.liquidity.Sign() > 0 {
		growth := new(big.Int).Lsh(kept, 128)
		growth.Quo(growth, p.liquidity)
		p.feeGrowthGlobal[tokenIdx].Add(p.feeGrowthGlobal[tokenIdx], growth)
		wrapUint256(p.feeGrowthGlobal[tokenIdx])
	} else {
		p.protocolFees[tokenIdx].Add(p.protocolFees[tokenIdx], kept)
	}
}

// validateTickBounds checks ordering, range and spacing alignment for a
// position's boundaries. Zero tick spacing admits only full-range positions.
func validateTickBounds(key PoolKey, lower, upper int32) error {
	if lower >= upper {
		return fmt.Errorf("%w: lower %d >= upper %d", ErrInvalidTickBounds, lower, upper)
	}
	if lower < tickmath.MIN_TICK || upper > tickmath.MAX_TICK {
		return fmt.Errorf("%w: [%d, %d)", ErrInvalidTickBounds, lower, upper)
	}
	if key.TickSpacing == 0 {
		if lower != tickmath.MIN_TICK || upper != tickmath.MAX_TICK {
			return fmt.Errorf("%w: full-range pool requires [%d, %d)", ErrTickNotAligned, tickmath.MIN_TICK, tickmath.MAX_TICK)
		}
		return nil
	}
	spacing := int32(key.TickSpacing)
	if lower%spacing != 0 || upper%spacing != 0 {
		return fmt.Errorf("%w: [%d, %d) not multiples of %d", ErrTickNotAligned, lower, upper, spacing)
	}
	return nil
}
