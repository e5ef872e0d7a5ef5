package core

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/amm-engine-go/core/liquiditymath"
)

// lockContext tracks the token debts of one locker frame. A positive debt
// means tokens are owed to the engine, negative means the engine owes them
// out. Every frame must net to zero before it may finalize.
type lockContext struct {
	id     uint64
	parent *lockContext
	caller common.Address
	debts  map[common.Address]*big.Int
}

func (ctx *lockContext) checkZeroed() error {
	for token, d := range ctx.debts {
		if d.Sign() != 0 {
			return fmt.Errorf("%w: locker %d owes %s of %s", ErrDebtsNotZeroed, ctx.id, d, token)
		}
	}
	return nil
}

// pendingTransfer is a vault movement journaled during a locked operation and
// executed only when the root context finalizes.
type pendingTransfer struct {
	push   bool
	token  common.Address
	addr   common.Address // source for pulls, destination for pushes
	by     common.Address // requester, pulls only
	amount *big.Int
}

// Locker is the handle for state-changing operations inside one lock frame.
// It is only valid while its frame is the innermost active one.
type Locker struct {
	core *Core
	ctx  *lockContext
}

// ID returns the frame's unique, monotonically assigned identifier.
func (l *Locker) ID() uint64 { return l.ctx.id }

// Caller returns the address this frame was opened for.
func (l *Locker) Caller() common.Address { return l.ctx.caller }

// Debt returns the frame's current net debt in the given token.
func (l *Locker) Debt(token common.Address) *big.Int {
	if d, ok := l.ctx.debts[token]; ok {
		return new(big.Int).Set(d)
	}
	return new(big.Int)
}

func (l *Locker) requireActive() error {
	if l.core.active != l.ctx {
		return fmt.Errorf("%w: locker %d is not the innermost frame", ErrNoActiveLocker, l.ctx.id)
	}
	return nil
}

// accountDelta adds a signed amount to the frame's debt in one token.
func (l *Locker) accountDelta(token common.Address, delta *big.Int) {
	if delta.Sign() == 0 {
		return
	}
	d, ok := l.ctx.debts[token]
	if !ok {
		d = new(big.Int)
		l.ctx.debts[token] = d
	}
	d.Add(d, delta)
	if d.Sign() == 0 {
		delete(l.ctx.debts, token)
	}
}

// Withdraw takes tokens out of the engine, increasing the frame's debt. The
// transfer itself is journaled and only executes if the root operation
// finalizes.
func (l *Locker) Withdraw(token, to common.Address, amount *big.Int) error {
	if err := l.requireActive(); err != nil {
		return err
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: negative withdrawal", ErrAmountOverflow)
	}
	if err := checkDeltaRange(amount); err != nil {
		return err
	}
	l.accountDelta(token, amount)
	l.core.journal = append(l.core.journal, pendingTransfer{
		push:   true,
		token:  token,
		addr:   to,
		amount: new(big.Int).Set(amount),
	})
	l.core.logger.Debug("withdraw journaled", "locker", l.ctx.id, "token", token, "to", to, "amount", amount)
	return nil
}

// Pay settles debt with tokens pulled from the frame's caller.
func (l *Locker) Pay(token common.Address, amount *big.Int) error {
	return l.PayFrom(l.ctx.caller, token, amount)
}

// PayFrom settles debt with tokens pulled from an arbitrary holder. The vault
// enforces that the frame's caller is allowed to spend that holder's balance.
func (l *Locker) PayFrom(from, token common.Address, amount *big.Int) error {
	if err := l.requireActive(); err != nil {
		return err
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: negative payment", ErrAmountOverflow)
	}
	if err := checkDeltaRange(amount); err != nil {
		return err
	}
	l.accountDelta(token, new(big.Int).Neg(amount))
	l.core.journal = append(l.core.journal, pendingTransfer{
		token:  token,
		addr:   from,
		by:     l.ctx.caller,
		amount: new(big.Int).Set(amount),
	})
	l.core.logger.Debug("payment journaled", "locker", l.ctx.id, "token", token, "from", from, "amount", amount)
	return nil
}

// Save credits a deferred-settlement balance instead of moving tokens out,
// increasing the frame's debt by the saved amounts. Saved balances survive
// across operations until loaded.
func (l *Locker) Save(owner, token0, token1 common.Address, salt Salt, amount0, amount1 *big.Int) error {
	if err := l.requireActive(); err != nil {
		return err
	}
	if amount0.Sign() < 0 || amount1.Sign() < 0 {
		return fmt.Errorf("%w: negative saved amount", ErrAmountOverflow)
	}
	if err := checkDeltaRange(amount0, amount1); err != nil {
		return err
	}

	key := savedKey{owner: owner, token0: token0, token1: token1, salt: salt}
	bal, ok := l.core.saved[key]
	if !ok {
		bal = &[2]*big.Int{new(big.Int), new(big.Int)}
	}
	// Bounds are checked before the ledger is touched so a rejected save
	// leaves the balance unchanged.
	if new(big.Int).Add(bal[0], amount0).Cmp(liquiditymath.MaxUint128) > 0 ||
		new(big.Int).Add(bal[1], amount1).Cmp(liquiditymath.MaxUint128) > 0 {
		return fmt.Errorf("%w: saved balance for %s", ErrBalanceOverflow, owner)
	}
	if !ok {
		l.core.saved[key] = bal
	}
	bal[0].Add(bal[0], amount0)
	bal[1].Add(bal[1], amount1)

	l.accountDelta(token0, amount0)
	l.accountDelta(token1, amount1)
	return nil
}

// Load debits the frame caller's deferred-settlement balance, crediting the
// frame as if the tokens had just been paid in.
func (l *Locker) Load(token0, token1 common.Address, salt Salt, amount0, amount1 *big.Int) error {
	if err := l.requireActive(); err != nil {
		return err
	}
	if amount0.Sign() < 0 || amount1.Sign() < 0 {
		return fmt.Errorf("%w: negative loaded amount", ErrAmountOverflow)
	}
	if err := checkDeltaRange(amount0, amount1); err != nil {
		return err
	}

	key := savedKey{owner: l.ctx.caller, token0: token0, token1: token1, salt: salt}
	bal, ok := l.core.saved[key]
	if !ok || bal[0].Cmp(amount0) < 0 || bal[1].Cmp(amount1) < 0 {
		return fmt.Errorf("%w: saved balance for %s", ErrBalanceInsufficient, l.ctx.caller)
	}
	bal[0].Sub(bal[0], amount0)
	bal[1].Sub(bal[1], amount1)
	if bal[0].Sign() == 0 && bal[1].Sign() == 0 {
		delete(l.core.saved, key)
	}

	l.accountDelta(token0, new(big.Int).Neg(amount0))
	l.accountDelta(token1, new(big.Int).Neg(amount1))
	return nil
}

// Forward hands control to a registered extension under a fresh child frame.
// The extension's frame must zero its own debts before returning; the parent
// frame's debts are untouched.
func (l *Locker) Forward(target common.Address, data []byte) ([]byte, error) {
	if err := l.requireActive(); err != nil {
		return nil, err
	}
	reg, ok := l.core.extensions[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExtensionUnknown, target)
	}
	fwd, ok := reg.ext.(Forwardee)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not accept forwarded calls", ErrExtensionUnknown, target)
	}

	origin := l.ctx.caller
	return l.core.Lock(target, data, func(child *Locker, data []byte) ([]byte, error) {
		return fwd.Forwarded(child, origin, data)
	})
}

// Lock opens a nested frame for a different caller from inside this one.
func (l *Locker) Lock(caller common.Address, data []byte, fn LockFn) ([]byte, error) {
	if err := l.requireActive(); err != nil {
		return nil, err
	}
	return l.core.Lock(caller, data, fn)
}
