package core

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CallPoints is a capability mask selecting which hook points an extension
// receives. A hook is invoked only when its bit is set; a hook error aborts
// the whole enclosing operation.
type CallPoints uint8

const (
	BeforeInitialize CallPoints = 1 << iota
	AfterInitialize
	BeforeSwap
	AfterSwap
	BeforeUpdatePosition
	AfterUpdatePosition
	BeforeCollectFees
	AfterCollectFees
)

// Extension customizes pool behavior at defined lifecycle points. Embed
// NoopExtension and override only the hooks the extension's call points name.
type Extension interface {
	OnBeforeInitialize(caller common.Address, key PoolKey, tick int32) error
	OnAfterInitialize(caller common.Address, key PoolKey, tick int32, sqrtRatio *big.Int) error
	OnBeforeSwap(l *Locker, key PoolKey, params SwapParams) error
	OnAfterSwap(l *Locker, key PoolKey, params SwapParams, delta0, delta1 *big.Int) error
	OnBeforeUpdatePosition(l *Locker, key PoolKey, params UpdatePositionParams) error
	OnAfterUpdatePosition(l *Locker, key PoolKey, params UpdatePositionParams, delta0, delta1 *big.Int) error
	OnBeforeCollectFees(l *Locker, key PoolKey, params UpdatePositionParams) error
	OnAfterCollectFees(l *Locker, key PoolKey, params UpdatePositionParams, amount0, amount1 *big.Int) error
}

// Forwardee receives control under a nested locker context via Forward.
type Forwardee interface {
	Forwarded(l *Locker, caller common.Address, data []byte) ([]byte, error)
}

// NoopExtension implements every hook as a no-op.
type NoopExtension struct{}

func (NoopExtension) OnBeforeInitialize(common.Address, PoolKey, int32) error { return nil }
func (NoopExtension) OnAfterInitialize(common.Address, PoolKey, int32, *big.Int) error {
	return nil
}
func (NoopExtension) OnBeforeSwap(*Locker, PoolKey, SwapParams) error { return nil }
func (NoopExtension) OnAfterSwap(*Locker, PoolKey, SwapParams, *big.Int, *big.Int) error {
	return nil
}
func (NoopExtension) OnBeforeUpdatePosition(*Locker, PoolKey, UpdatePositionParams) error {
	return nil
}
func (NoopExtension) OnAfterUpdatePosition(*Locker, PoolKey, UpdatePositionParams, *big.Int, *big.Int) error {
	return nil
}
func (NoopExtension) OnBeforeCollectFees(*Locker, PoolKey, UpdatePositionParams) error { return nil }
func (NoopExtension) OnAfterCollectFees(*Locker, PoolKey, UpdatePositionParams, *big.Int, *big.Int) error {
	return nil
}

// registeredExtension pairs an extension with its capability mask.
type registeredExtension struct {
	ext    Extension
	points CallPoints
}

// RegisterExtension makes an extension addressable from pool keys. Pools
// naming an unregistered extension cannot be initialized.
func (c *Core) RegisterExtension(addr common.Address, ext Extension, points CallPoints) {
	c.extensions[addr] = registeredExtension{ext: ext, points: points}
	c.logger.Info("extension registered", "address", addr, "callPoints", fmt.Sprintf("%08b", points))
}

// extensionFor resolves the hook target for a pool key, or nil when the pool
// has none.
func (c *Core) extensionFor(key PoolKey) (Extension, CallPoints, error) {
	if key.Extension == (common.Address{}) {
		return nil, 0, nil
	}
	reg, ok := c.extensions[key.Extension]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrExtensionUnknown, key.Extension)
	}
	return reg.ext, reg.points, nil
}
