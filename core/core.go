package core

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/amm-engine-go/core/tickmath"
)

// Config holds the engine's dependencies.
type Config struct {
	Logger   Logger
	Registry prometheus.Registerer
	Vault    TokenVault
}

func (c *Config) validate() error {
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.Registry == nil {
		return errors.New("config: Registry is required")
	}
	if c.Vault == nil {
		return errors.New("config: Vault is required")
	}
	return nil
}

// savedKey identifies one deferred-settlement balance.
type savedKey struct {
	owner  common.Address
	token0 common.Address
	token1 common.Address
	salt   Salt
}

// Core is the authoritative owner of all pool, position and settlement state.
// Operations that move tokens run inside a locker context opened with Lock and
// either commit with zero debt or roll back entirely.
//
// Core is not internally synchronized: the host submits operations one at a
// time, and state views are consistent between operations.
type Core struct {
	logger  Logger
	metrics *Metrics
	vault   TokenVault

	pools      map[PoolID]*pool
	extensions map[common.Address]registeredExtension
	saved      map[savedKey]*[2]*big.Int

	active     *lockContext
	nextLockID uint64
	journal    []pendingTransfer
}

// New constructs an engine from a validated config.
func New(cfg *Config) (*Core, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Core{
		logger:     cfg.Logger,
		metrics:    NewMetrics(cfg.Registry),
		vault:      cfg.Vault,
		pools:      make(map[PoolID]*pool),
		extensions: make(map[common.Address]registeredExtension),
		saved:      make(map[savedKey]*[2]*big.Int),
	}, nil
}

// InitializePool creates state for a not-yet-seen pool key at the given tick.
// It may be called directly or from inside a locked operation (a position
// wrapper auto-initializing on first deposit).
func (c *Core) InitializePool(caller common.Address, key PoolKey, tick int32) (PoolID, error) {
	if err := key.validate(); err != nil {
		return PoolID{}, err
	}
	if tick < tickmath.MIN_TICK || tick > tickmath.MAX_TICK {
		return PoolID{}, ErrInvalidTickBounds
	}
	if int64(key.TickSpacing) > int64(tickmath.MAX_TICK) {
		return PoolID{}, fmt.Errorf("%w: tick spacing %d", ErrInvalidTickBounds, key.TickSpacing)
	}

	id := key.ID()
	if _, ok := c.pools[id]; ok {
		return PoolID{}, fmt.Errorf("%w: %s", ErrPoolInitialized, id)
	}

	ext, points, err := c.extensionFor(key)
	if err != nil {
		return PoolID{}, err
	}
	if ext != nil && points&BeforeInitialize != 0 {
		if err := ext.OnBeforeInitialize(caller, key, tick); err != nil {
			return PoolID{}, err
		}
	}

	sqrtRatio := new(big.Int)
	if err := tickmath.SqrtRatioAtTick(sqrtRatio, tick); err != nil {
		return PoolID{}, err
	}
	c.pools[id] = newPool(key, sqrtRatio, tick)

	if ext != nil && points&AfterInitialize != 0 {
		if err := ext.OnAfterInitialize(caller, key, tick, new(big.Int).Set(sqrtRatio)); err != nil {
			// The pool never existed if its after-initialize hook failed.
			delete(c.pools, id)
			return PoolID{}, err
		}
	}

	c.metrics.poolsInitialized.Inc()
	c.logger.Info("pool initialized", "pool", id, "tick", tick, "fee", key.Fee, "tickSpacing", key.TickSpacing)
	return id, nil
}

// LockFn is the caller-supplied body of a locked operation.
type LockFn func(l *Locker, data []byte) ([]byte, error)

// Lock opens a locker context, runs fn under it and finalizes. Every token
// debt accumulated by the frame must net to zero or the frame is rolled back.
// Each frame aborts independently: a failed nested frame discards its own
// state changes and journaled transfers, leaving the parent exactly as it was
// when the frame opened, whether or not the parent propagates the error.
func (c *Core) Lock(caller common.Address, data []byte, fn LockFn) ([]byte, error) {
	root := c.active == nil
	snap := c.snapshot()
	journalMark := len(c.journal)

	ctx := &lockContext{
		id:     c.nextLockID,
		parent: c.active,
		caller: caller,
		debts:  make(map[common.Address]*big.Int),
	}
	c.nextLockID++
	c.active = ctx
	c.metrics.locksTotal.Inc()

	out, err := fn(&Locker{core: c, ctx: ctx}, data)

	c.active = ctx.parent
	if err == nil {
		err = ctx.checkZeroed()
	}
	if err == nil && root {
		err = c.commitJournal()
	}
	if err != nil {
		c.restore(snap)
		c.journal = c.journal[:journalMark]
		c.metrics.lockRollbacks.Inc()
		c.logger.Warn("frame rolled back", "locker", ctx.id, "caller", caller, "root", root, "error", err)
		return nil, err
	}
	return out, nil
}

// commitJournal settles the deferred token movements of a finalized root
// operation: inward pulls first, then outward pushes. A pull failure aborts
// before anything has moved; a push can only fail if the engine's custody is
// inconsistent with its ledger.
func (c *Core) commitJournal() error {
	for _, t := range c.journal {
		if t.push {
			continue
		}
		if err := c.vault.Pull(t.token, t.addr, t.by, t.amount); err != nil {
			return err
		}
	}
	for _, t := range c.journal {
		if !t.push {
			continue
		}
		if err := c.vault.Push(t.token, t.addr, t.amount); err != nil {
			return err
		}
	}
	c.journal = c.journal[:0]
	return nil
}

// --- snapshot / rollback ---

type coreSnapshot struct {
	pools map[PoolID]*pool
	saved map[savedKey]*[2]*big.Int
}

func (c *Core) snapshot() *coreSnapshot {
	s := &coreSnapshot{
		pools: make(map[PoolID]*pool, len(c.pools)),
		saved: make(map[savedKey]*[2]*big.Int, len(c.saved)),
	}
	for id, p := range c.pools {
		s.pools[id] = p.clone()
	}
	for k, b := range c.saved {
		s.saved[k] = &[2]*big.Int{new(big.Int).Set(b[0]), new(big.Int).Set(b[1])}
	}
	return s
}

func (c *Core) restore(s *coreSnapshot) {
	c.pools = s.pools
	c.saved = s.saved
}

// --- read-only views ---

// PoolState returns the current price, tick and active liquidity of a pool.
func (c *Core) PoolState(id PoolID) (StateView, bool) {
	p, ok := c.pools[id]
	if !ok {
		return StateView{}, false
	}
	return p.view(), true
}

func (p *pool) view() StateView {
	return StateView{
		SqrtRatio: new(big.Int).Set(p.sqrtRatio),
		Tick:      p.tick,
		Liquidity: new(big.Int).Set(p.liquidity),
	}
}

// TickInfo returns the liquidity bookkeeping for one initialized tick.
func (c *Core) TickInfo(id PoolID, tick int32) (TickView, bool) {
	p, ok := c.pools[id]
	if !ok {
		return TickView{}, false
	}
	entry, ok := p.ticks[tick]
	if !ok {
		return TickView{}, false
	}
	return TickView{
		LiquidityGross: new(big.Int).Set(entry.liquidityGross),
		LiquidityNet:   new(big.Int).Set(entry.liquidityNet),
		FeeGrowthOutside: [2]*big.Int{
			new(big.Int).Set(entry.feeGrowthOutside[0]),
			new(big.Int).Set(entry.feeGrowthOutside[1]),
		},
	}, true
}

// InitializedTicks lists the indexes of a pool's initialized ticks, unordered.
func (c *Core) InitializedTicks(id PoolID) []int32 {
	p, ok := c.pools[id]
	if !ok {
		return nil
	}
	ticks := make([]int32, 0, len(p.ticks))
	for idx := range p.ticks {
		ticks = append(ticks, idx)
	}
	return ticks
}

// Position returns a view of one position, if it exists.
func (c *Core) Position(id PoolID, owner common.Address, salt Salt, tickLower, tickUpper int32) (PositionView, bool) {
	p, ok := c.pools[id]
	if !ok {
		return PositionView{}, false
	}
	pos, ok := p.positions[positionKey{owner: owner, salt: salt, tickLower: tickLower, tickUpper: tickUpper}]
	if !ok {
		return PositionView{}, false
	}
	return PositionView{
		Liquidity: new(big.Int).Set(pos.liquidity),
		FeeGrowthInsideLast: [2]*big.Int{
			new(big.Int).Set(pos.feeGrowthInsideLast[0]),
			new(big.Int).Set(pos.feeGrowthInsideLast[1]),
		},
	}, true
}

// SavedBalance returns the deferred-settlement balance for a key.
func (c *Core) SavedBalance(owner, token0, token1 common.Address, salt Salt) (*big.Int, *big.Int) {
	b, ok := c.saved[savedKey{owner: owner, token0: token0, token1: token1, salt: salt}]
	if !ok {
		return new(big.Int), new(big.Int)
	}
	return new(big.Int).Set(b[0]), new(big.Int).Set(b[1])
}

// ProtocolFees returns withdrawal-fee proceeds retained when no liquidity was
// active to absorb them.
func (c *Core) ProtocolFees(id PoolID) (*big.Int, *big.Int, bool) {
	p, ok := c.pools[id]
	if !ok {
		return nil, nil, false
	}
	return new(big.Int).Set(p.protocolFees[0]), new(big.Int).Set(p.protocolFees[1]), true
}

func (c *Core) poolByKey(key PoolKey) (*pool, error) {
	p, ok := c.pools[key.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s fee=%d", ErrPoolNotInitialized, key.Token0, key.Token1, key.Fee)
	}
	return p, nil
}
