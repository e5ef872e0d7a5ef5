package core

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrVaultNotAuthorized = errors.New("vault: operator not authorized")
	ErrVaultInsufficient  = errors.New("vault: insufficient balance")
)

// TokenVault moves tokens between the engine's custody and external holders.
// The engine only calls it when a locked operation finalizes with zero debt,
// so a vault never observes a rolled-back movement.
type TokenVault interface {
	// Pull moves tokens from `from` into the engine's custody. `by` is the
	// caller that requested the movement; vaults reject it when it is neither
	// `from` nor an approved operator.
	Pull(token, from, by common.Address, amount *big.Int) error
	// Push moves tokens from the engine's custody to `to`.
	Push(token, to common.Address, amount *big.Int) error
}

// MemVault is an in-memory TokenVault for tests and demos.
type MemVault struct {
	mu        sync.Mutex
	balances  map[common.Address]map[common.Address]*big.Int // token -> holder
	reserve   map[common.Address]*big.Int                    // token -> engine custody
	approvals map[common.Address]map[common.Address]bool     // owner -> operator
}

func NewMemVault() *MemVault {
	return &MemVault{
		balances:  make(map[common.Address]map[common.Address]*big.Int),
		reserve:   make(map[common.Address]*big.Int),
		approvals: make(map[common.Address]map[common.Address]bool),
	}
}

// Mint credits a holder out of thin air.
func (v *MemVault) Mint(token, to common.Address, amount *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balance(token, to).Add(v.balance(token, to), amount)
}

// Approve lets operator spend owner's balance via Pull.
func (v *MemVault) Approve(owner, operator common.Address, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.approvals[owner] == nil {
		v.approvals[owner] = make(map[common.Address]bool)
	}
	v.approvals[owner][operator] = ok
}

// BalanceOf returns a copy of a holder's balance.
func (v *MemVault) BalanceOf(token, holder common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.balance(token, holder))
}

// Reserve returns a copy of the engine-custody balance for a token.
func (v *MemVault) Reserve(token common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if r, ok := v.reserve[token]; ok {
		return new(big.Int).Set(r)
	}
	return new(big.Int)
}

func (v *MemVault) Pull(token, from, by common.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if by != from && !v.approvals[from][by] {
		return fmt.Errorf("%w: %s on behalf of %s", ErrVaultNotAuthorized, by, from)
	}
	bal := v.balance(token, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s of %s, need %s", ErrVaultInsufficient, from, bal, token, amount)
	}
	bal.Sub(bal, amount)
	if v.reserve[token] == nil {
		v.reserve[token] = new(big.Int)
	}
	v.reserve[token].Add(v.reserve[token], amount)
	return nil
}

func (v *MemVault) Push(token, to common.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	r := v.reserve[token]
	if r == nil || r.Cmp(amount) < 0 {
		return fmt.Errorf("%w: engine custody of %s", ErrVaultInsufficient, token)
	}
	r.Sub(r, amount)
	v.balance(token, to).Add(v.balance(token, to), amount)
	return nil
}

func (v *MemVault) balance(token, holder common.Address) *big.Int {
	if v.balances[token] == nil {
		v.balances[token] = make(map[common.Address]*big.Int)
	}
	if v.balances[token][holder] == nil {
		v.balances[token][holder] = new(big.Int)
	}
	return v.balances[token][holder]
}
