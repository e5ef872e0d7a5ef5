package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/amm-engine-go/core/liquiditymath"
	"github.com/defistate/amm-engine-go/core/tickbitmap"
)

// tickEntry is the per-(pool, tick) liquidity bookkeeping.
type tickEntry struct {
	// liquidityGross is the total liquidity of all positions referencing this
	// tick as a boundary; the tick is initialized iff it is non-zero.
	liquidityGross *big.Int
	// liquidityNet is added to the pool's active liquidity when the price
	// crosses this tick upward, subtracted when crossing downward.
	liquidityNet *big.Int
	// feeGrowthOutside tracks fee growth on the far side of this tick,
	// relative to the current price, per token.
	feeGrowthOutside [2]*big.Int
}

func newTickEntry() *tickEntry {
	return &tickEntry{
		liquidityGross:   new(big.Int),
		liquidityNet:     new(big.Int),
		feeGrowthOutside: [2]*big.Int{new(big.Int), new(big.Int)},
	}
}

func (t *tickEntry) clone() *tickEntry {
	return &tickEntry{
		liquidityGross: new(big.Int).Set(t.liquidityGross),
		liquidityNet:   new(big.Int).Set(t.liquidityNet),
		feeGrowthOutside: [2]*big.Int{
			new(big.Int).Set(t.feeGrowthOutside[0]),
			new(big.Int).Set(t.feeGrowthOutside[1]),
		},
	}
}

// positionKey identifies one position within a pool.
type positionKey struct {
	owner     common.Address
	salt      Salt
	tickLower int32
	tickUpper int32
}

type position struct {
	liquidity           *big.Int
	feeGrowthInsideLast [2]*big.Int
}

func newPosition() *position {
	return &position{
		liquidity:           new(big.Int),
		feeGrowthInsideLast: [2]*big.Int{new(big.Int), new(big.Int)},
	}
}

func (p *position) clone() *position {
	return &position{
		liquidity: new(big.Int).Set(p.liquidity),
		feeGrowthInsideLast: [2]*big.Int{
			new(big.Int).Set(p.feeGrowthInsideLast[0]),
			new(big.Int).Set(p.feeGrowthInsideLast[1]),
		},
	}
}

// pool is the mutable state of one initialized pool.
type pool struct {
	key PoolKey

	sqrtRatio *big.Int
	tick      int32
	liquidity *big.Int

	// feeGrowthGlobal accumulates fees per unit of liquidity, Q128 per token.
	feeGrowthGlobal [2]*big.Int
	// protocolFees collects withdrawal-fee proceeds that had no active
	// liquidity to accrue to.
	protocolFees [2]*big.Int

	ticks     map[int32]*tickEntry
	bitmap    *tickbitmap.Bitmap
	positions map[positionKey]*position

	maxLiquidityPerTick *big.Int
}

func newPool(key PoolKey, sqrtRatio *big.Int, tick int32) *pool {
	return &pool{
		key:                 key,
		sqrtRatio:           new(big.Int).Set(sqrtRatio),
		tick:                tick,
		liquidity:           new(big.Int),
		feeGrowthGlobal:     [2]*big.Int{new(big.Int), new(big.Int)},
		protocolFees:        [2]*big.Int{new(big.Int), new(big.Int)},
		ticks:               make(map[int32]*tickEntry),
		bitmap:              tickbitmap.New(key.TickSpacing),
		positions:           make(map[positionKey]*position),
		maxLiquidityPerTick: liquiditymath.MaxLiquidityPerTick(key.TickSpacing),
	}
}

// clone deep-copies the pool so a snapshot shares no memory with live state.
func (p *pool) clone() *pool {
	cp := &pool{
		key:       p.key,
		sqrtRatio: new(big.Int).Set(p.sqrtRatio),
		tick:      p.tick,
		liquidity: new(big.Int).Set(p.liquidity),
		feeGrowthGlobal: [2]*big.Int{
			new(big.Int).Set(p.feeGrowthGlobal[0]),
			new(big.Int).Set(p.feeGrowthGlobal[1]),
		},
		protocolFees: [2]*big.Int{
			new(big.Int).Set(p.protocolFees[0]),
			new(big.Int).Set(p.protocolFees[1]),
		},
		ticks:               make(map[int32]*tickEntry, len(p.ticks)),
		bitmap:              p.bitmap.Clone(),
		positions:           make(map[positionKey]*position, len(p.positions)),
		maxLiquidityPerTick: p.maxLiquidityPerTick,
	}
	for idx, t := range p.ticks {
		cp.ticks[idx] = t.clone()
	}
	for k, pos := range p.positions {
		cp.positions[k] = pos.clone()
	}
	return cp
}

// updateTick applies a liquidity delta to one tick boundary, flipping its
// bitmap flag when it transitions between initialized and empty. upper marks
// the tick as the position's upper boundary, which negates the net delta.
func (p *pool) updateTick(tick int32, liquidityDelta *big.Int, upper bool) error {
	entry, ok := p.ticks[tick]
	if !ok {
		if liquidityDelta.Sign() < 0 {
			return liquiditymath.ErrLiquidityUnderflow
		}
		entry = newTickEntry()
		// A tick initialized at or below the current price has, by
		// convention, seen all growth so far on its outside.
		if tick <= p.tick {
			entry.feeGrowthOutside[0].Set(p.feeGrowthGlobal[0])
			entry.feeGrowthOutside[1].Set(p.feeGrowthGlobal[1])
		}
		p.ticks[tick] = entry
	}

	grossBefore := entry.liquidityGross.Sign() != 0
	if err := liquiditymath.AddDelta(entry.liquidityGross, entry.liquidityGross, liquidityDelta); err != nil {
		return err
	}
	if entry.liquidityGross.Cmp(p.maxLiquidityPerTick) > 0 {
		return ErrTickLiquidityCap
	}

	if upper {
		entry.liquidityNet.Sub(entry.liquidityNet, liquidityDelta)
	} else {
		entry.liquidityNet.Add(entry.liquidityNet, liquidityDelta)
	}

	grossAfter := entry.liquidityGross.Sign() != 0
	if grossBefore != grossAfter {
		p.bitmap.Flip(tick)
	}
	if !grossAfter {
		delete(p.ticks, tick)
	}
	return nil
}

// crossTick rolls the tick's outside fee snapshots forward and returns the
// signed liquidity change for the given direction of travel.
func (p *pool) crossTick(tick int32, priceIncreasing bool, dest *big.Int) {
	entry, ok := p.ticks[tick]
	if !ok {
		dest.SetInt64(0)
		return
	}
	entry.feeGrowthOutside[0].Sub(p.feeGrowthGlobal[0], entry.feeGrowthOutside[0])
	entry.feeGrowthOutside[1].Sub(p.feeGrowthGlobal[1], entry.feeGrowthOutside[1])
	wrapUint256(entry.feeGrowthOutside[0])
	wrapUint256(entry.feeGrowthOutside[1])

	if priceIncreasing {
		dest.Set(entry.liquidityNet)
	} else {
		dest.Neg(entry.liquidityNet)
	}
}

// feeGrowthInside computes the accumulated fee growth within [lower, upper]
// for both tokens, modulo 2^256 like the outside snapshots it derives from.
func (p *pool) feeGrowthInside(lower, upper int32, dest *[2]*big.Int) {
	for i := 0; i < 2; i++ {
		below := new(big.Int)
		if entry, ok := p.ticks[lower]; ok {
			if p.tick >= lower {
				below.Set(entry.feeGrowthOutside[i])
			} else {
				below.Sub(p.feeGrowthGlobal[i], entry.feeGrowthOutside[i])
			}
		} else if p.tick < lower {
			below.Set(p.feeGrowthGlobal[i])
		}

		above := new(big.Int)
		if entry, ok := p.ticks[upper]; ok {
			if p.tick < upper {
				above.Set(entry.feeGrowthOutside[i])
			} else {
				above.Sub(p.feeGrowthGlobal[i], entry.feeGrowthOutside[i])
			}
		} else if p.tick >= upper {
			above.Set(p.feeGrowthGlobal[i])
		}

		dest[i].Sub(p.feeGrowthGlobal[i], below)
		dest[i].Sub(dest[i], above)
		wrapUint256(dest[i])
	}
}

var uint256Mask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// wrapUint256 reduces x modulo 2^256 so fee-growth arithmetic matches the
// wrapping snapshots convention.
func wrapUint256(x *big.Int) {
	if x.Sign() < 0 || x.BitLen() > 256 {
		x.And(x, uint256Mask)
	}
}
