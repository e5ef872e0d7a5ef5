package core

import (
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenA = common.HexToAddress("0x0000000000000000000000000000000000000a00")
	tokenB = common.HexToAddress("0x0000000000000000000000000000000000000b00")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

var errBoom = errors.New("boom")

// Helper to create a big.Int from a string for tests.
func fromString(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 10)
	return n
}

func saltOf(b byte) Salt {
	var s Salt
	s[31] = b
	return s
}

func newTestEngine(t *testing.T) (*Core, *MemVault) {
	t.Helper()
	vault := NewMemVault()
	c, err := New(&Config{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registry: prometheus.NewRegistry(),
		Vault:    vault,
	})
	require.NoError(t, err)

	funding := new(big.Int).Lsh(big.NewInt(1), 100)
	for _, token := range []common.Address{tokenA, tokenB} {
		vault.Mint(token, alice, funding)
		vault.Mint(token, bob, funding)
	}
	return c, vault
}

func testPoolKey(fee uint64, tickSpacing uint32) PoolKey {
	return PoolKey{Token0: tokenA, Token1: tokenB, Fee: fee, TickSpacing: tickSpacing}
}

// settleDebts zeroes the frame by paying positive debts from the caller and
// withdrawing negative ones back to it.
func settleDebts(l *Locker, tokens ...common.Address) error {
	for _, token := range tokens {
		d := l.Debt(token)
		switch {
		case d.Sign() > 0:
			if err := l.Pay(token, d); err != nil {
				return err
			}
		case d.Sign() < 0:
			if err := l.Withdraw(token, l.Caller(), d.Neg(d)); err != nil {
				return err
			}
		}
	}
	return nil
}

// lockAs runs fn under a root locker for caller and settles both test tokens.
func lockAs(t *testing.T, c *Core, caller common.Address, fn func(l *Locker) error) error {
	t.Helper()
	_, err := c.Lock(caller, nil, func(l *Locker, _ []byte) ([]byte, error) {
		if err := fn(l); err != nil {
			return nil, err
		}
		return nil, settleDebts(l, tokenA, tokenB)
	})
	return err
}

func addLiquidity(t *testing.T, c *Core, key PoolKey, owner common.Address, lower, upper int32, liquidity *big.Int, salt byte) (delta0, delta1 *big.Int) {
	t.Helper()
	require.NoError(t, lockAs(t, c, owner, func(l *Locker) error {
		var err error
		delta0, delta1, _, _, err = l.UpdatePosition(key, UpdatePositionParams{
			TickLower:      lower,
			TickUpper:      upper,
			LiquidityDelta: liquidity,
			Salt:           saltOf(salt),
		})
		return err
	}))
	return delta0, delta1
}

func collectFeesAs(t *testing.T, c *Core, key PoolKey, owner common.Address, lower, upper int32, salt byte) (fees0, fees1 *big.Int) {
	t.Helper()
	require.NoError(t, lockAs(t, c, owner, func(l *Locker) error {
		var err error
		fees0, fees1, err = l.CollectFees(key, UpdatePositionParams{
			TickLower: lower,
			TickUpper: upper,
			Salt:      saltOf(salt),
		})
		return err
	}))
	return fees0, fees1
}

func swapAs(t *testing.T, c *Core, key PoolKey, trader common.Address, params SwapParams) (delta0, delta1 *big.Int, state StateView) {
	t.Helper()
	require.NoError(t, lockAs(t, c, trader, func(l *Locker) error {
		var err error
		delta0, delta1, state, err = l.Swap(key, params)
		return err
	}))
	return delta0, delta1, state
}

func TestConfigValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := prometheus.NewRegistry()
	vault := NewMemVault()

	_, err := New(&Config{Registry: registry, Vault: vault})
	assert.Error(t, err)
	_, err = New(&Config{Logger: logger, Vault: vault})
	assert.Error(t, err)
	_, err = New(&Config{Logger: logger, Registry: registry})
	assert.Error(t, err)
	_, err = New(&Config{Logger: logger, Registry: registry, Vault: vault})
	assert.NoError(t, err)
}

func TestInitializePool(t *testing.T) {
	t.Run("creates pool at the given tick", func(t *testing.T) {
		c, _ := newTestEngine(t)
		key := testPoolKey(0, 100)
		id, err := c.InitializePool(alice, key, 0)
		require.NoError(t, err)
		assert.Equal(t, key.ID(), id)

		state, ok := c.PoolState(id)
		require.True(t, ok)
		assert.Equal(t, int32(0), state.Tick)
		assert.Zero(t, fromString("79228162514264337593543950336").Cmp(state.SqrtRatio))
		assert.Zero(t, state.Liquidity.Sign())
	})

	t.Run("rejects identical tokens", func(t *testing.T) {
		c, _ := newTestEngine(t)
		_, err := c.InitializePool(alice, PoolKey{Token0: tokenA, Token1: tokenA, TickSpacing: 100}, 0)
		assert.ErrorIs(t, err, ErrTokensEqual)
	})

	t.Run("rejects unordered tokens", func(t *testing.T) {
		c, _ := newTestEngine(t)
		_, err := c.InitializePool(alice, PoolKey{Token0: tokenB, Token1: tokenA, TickSpacing: 100}, 0)
		assert.ErrorIs(t, err, ErrTokensUnordered)
	})

	t.Run("rejects double initialization", func(t *testing.T) {
		c, _ := newTestEngine(t)
		key := testPoolKey(0, 100)
		_, err := c.InitializePool(alice, key, 0)
		require.NoError(t, err)
		_, err = c.InitializePool(alice, key, 50)
		assert.ErrorIs(t, err, ErrPoolInitialized)
	})

	t.Run("rejects out-of-bounds tick", func(t *testing.T) {
		c, _ := newTestEngine(t)
		_, err := c.InitializePool(alice, testPoolKey(0, 100), 887273)
		assert.ErrorIs(t, err, ErrInvalidTickBounds)
		_, err = c.InitializePool(alice, testPoolKey(0, 100), -887273)
		assert.ErrorIs(t, err, ErrInvalidTickBounds)
	})

	t.Run("rejects oversized tick spacing", func(t *testing.T) {
		c, _ := newTestEngine(t)
		_, err := c.InitializePool(alice, testPoolKey(0, 887273), 0)
		assert.ErrorIs(t, err, ErrInvalidTickBounds)
	})

	t.Run("rejects unregistered extension", func(t *testing.T) {
		c, _ := newTestEngine(t)
		key := testPoolKey(0, 100)
		key.Extension = common.HexToAddress("0x00000000000000000000000000000000000e0e0e")
		_, err := c.InitializePool(alice, key, 0)
		assert.ErrorIs(t, err, ErrExtensionUnknown)
	})
}

func TestLockSettlement(t *testing.T) {
	t.Run("flash withdrawal repaid in full", func(t *testing.T) {
		c, vault := newTestEngine(t)
		before := vault.BalanceOf(tokenA, alice)

		_, err := c.Lock(alice, nil, func(l *Locker, _ []byte) ([]byte, error) {
			// Engine custody is empty, but transfers only execute at commit,
			// pulls first, so the ledger stays consistent.
			if err := l.Withdraw(tokenA, alice, big.NewInt(500)); err != nil {
				return nil, err
			}
			assert.Zero(t, big.NewInt(500).Cmp(l.Debt(tokenA)))
			return nil, l.Pay(tokenA, big.NewInt(500))
		})
		require.NoError(t, err)

		assert.Zero(t, before.Cmp(vault.BalanceOf(tokenA, alice)))
		assert.Zero(t, vault.Reserve(tokenA).Sign())
	})

	t.Run("unpaid debt aborts the whole operation", func(t *testing.T) {
		c, vault := newTestEngine(t)
		before := vault.BalanceOf(tokenA, alice)

		_, err := c.Lock(alice, nil, func(l *Locker, _ []byte) ([]byte, error) {
			if err := l.Withdraw(tokenA, alice, big.NewInt(500)); err != nil {
				return nil, err
			}
			return nil, l.Pay(tokenA, big.NewInt(499))
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDebtsNotZeroed)

		// Nothing moved.
		assert.Zero(t, before.Cmp(vault.BalanceOf(tokenA, alice)))
		assert.Zero(t, vault.Reserve(tokenA).Sign())
	})

	t.Run("body error rolls back pool state", func(t *testing.T) {
		c, vault := newTestEngine(t)
		key := testPoolKey(0, 100)
		_, err := c.InitializePool(alice, key, 0)
		require.NoError(t, err)
		addLiquidity(t, c, key, alice, -10000, 10000, big.NewInt(1_000_000), 1)

		stateBefore, _ := c.PoolState(key.ID())
		balBefore := vault.BalanceOf(tokenA, alice)

		_, err = c.Lock(alice, nil, func(l *Locker, _ []byte) ([]byte, error) {
			_, _, _, serr := l.Swap(key, SwapParams{Amount: big.NewInt(1000)})
			require.NoError(t, serr)
			return nil, errBoom
		})
		assert.ErrorIs(t, err, errBoom)

		stateAfter, _ := c.PoolState(key.ID())
		assert.Equal(t, stateBefore.Tick, stateAfter.Tick)
		assert.Zero(t, stateBefore.SqrtRatio.Cmp(stateAfter.SqrtRatio))
		assert.Zero(t, stateBefore.Liquidity.Cmp(stateAfter.Liquidity))
		assert.Zero(t, balBefore.Cmp(vault.BalanceOf(tokenA, alice)))
	})

	t.Run("negative amounts rejected", func(t *testing.T) {
		c, _ := newTestEngine(t)
		err := lockAs(t, c, alice, func(l *Locker) error {
			if err := l.Withdraw(tokenA, alice, big.NewInt(-1)); !errors.Is(err, ErrAmountOverflow) {
				return errBoom
			}
			if err := l.Pay(tokenA, big.NewInt(-1)); !errors.Is(err, ErrAmountOverflow) {
				return errBoom
			}
			return nil
		})
		assert.NoError(t, err)
	})
}

func TestSavedBalances(t *testing.T) {
	t.Run("save then load", func(t *testing.T) {
		c, _ := newTestEngine(t)
		salt := saltOf(9)

		require.NoError(t, lockAs(t, c, alice, func(l *Locker) error {
			return l.Save(alice, tokenA, tokenB, salt, big.NewInt(30), big.NewInt(40))
		}))
		b0, b1 := c.SavedBalance(alice, tokenA, tokenB, salt)
		assert.Zero(t, big.NewInt(30).Cmp(b0))
		assert.Zero(t, big.NewInt(40).Cmp(b1))

		require.NoError(t, lockAs(t, c, alice, func(l *Locker) error {
			return l.Load(tokenA, tokenB, salt, big.NewInt(20), big.NewInt(10))
		}))
		b0, b1 = c.SavedBalance(alice, tokenA, tokenB, salt)
		assert.Zero(t, big.NewInt(10).Cmp(b0))
		assert.Zero(t, big.NewInt(30).Cmp(b1))
	})

	t.Run("load beyond balance fails and rolls back", func(t *testing.T) {
		c, _ := newTestEngine(t)
		salt := saltOf(9)
		require.NoError(t, lockAs(t, c, alice, func(l *Locker) error {
			return l.Save(alice, tokenA, tokenB, salt, big.NewInt(5), big.NewInt(5))
		}))

		err := lockAs(t, c, alice, func(l *Locker) error {
			return l.Load(tokenA, tokenB, salt, big.NewInt(6), big.NewInt(0))
		})
		assert.ErrorIs(t, err, ErrBalanceInsufficient)

		b0, b1 := c.SavedBalance(alice, tokenA, tokenB, salt)
		assert.Zero(t, big.NewInt(5).Cmp(b0))
		assert.Zero(t, big.NewInt(5).Cmp(b1))
	})

	t.Run("load is scoped to the frame caller", func(t *testing.T) {
		c, _ := newTestEngine(t)
		salt := saltOf(9)
		require.NoError(t, lockAs(t, c, alice, func(l *Locker) error {
			return l.Save(alice, tokenA, tokenB, salt, big.NewInt(5), big.NewInt(5))
		}))

		err := lockAs(t, c, bob, func(l *Locker) error {
			return l.Load(tokenA, tokenB, salt, big.NewInt(5), big.NewInt(5))
		})
		assert.ErrorIs(t, err, ErrBalanceInsufficient)
	})

	t.Run("balance capped at uint128", func(t *testing.T) {
		c, vault := newTestEngine(t)
		salt := saltOf(9)
		huge := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
		vault.Mint(tokenA, alice, new(big.Int).Lsh(big.NewInt(1), 130))

		for i := 0; i < 2; i++ {
			require.NoError(t, lockAs(t, c, alice, func(l *Locker) error {
				return l.Save(alice, tokenA, tokenB, salt, huge, new(big.Int))
			}))
		}
		err := lockAs(t, c, alice, func(l *Locker) error {
			return l.Save(alice, tokenA, tokenB, salt, big.NewInt(2), new(big.Int))
		})
		assert.ErrorIs(t, err, ErrBalanceOverflow)
	})

	t.Run("rejected save leaves the ledger untouched", func(t *testing.T) {
		c, vault := newTestEngine(t)
		salt := saltOf(9)
		huge := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
		vault.Mint(tokenA, alice, new(big.Int).Lsh(big.NewInt(1), 130))

		for i := 0; i < 2; i++ {
			require.NoError(t, lockAs(t, c, alice, func(l *Locker) error {
				return l.Save(alice, tokenA, tokenB, salt, huge, new(big.Int))
			}))
		}

		// The frame swallows the overflow and finalizes: the failed save must
		// not have moved the balance or left a debt behind.
		require.NoError(t, lockAs(t, c, alice, func(l *Locker) error {
			err := l.Save(alice, tokenA, tokenB, salt, big.NewInt(3), new(big.Int))
			assert.ErrorIs(t, err, ErrBalanceOverflow)
			assert.Zero(t, l.Debt(tokenA).Sign())
			return nil
		}))

		want := new(big.Int).Mul(huge, big.NewInt(2))
		b0, b1 := c.SavedBalance(alice, tokenA, tokenB, salt)
		assert.Zero(t, want.Cmp(b0))
		assert.Zero(t, b1.Sign())
	})
}

// echoForwardee records the forwarding origin and echoes its payload.
type echoForwardee struct {
	NoopExtension
	lastOrigin common.Address
}

func (e *echoForwardee) Forwarded(l *Locker, caller common.Address, data []byte) ([]byte, error) {
	e.lastOrigin = caller
	return append([]byte("echo:"), data...), nil
}

// leakyForwardee takes tokens without paying.
type leakyForwardee struct {
	NoopExtension
}

func (leakyForwardee) Forwarded(l *Locker, caller common.Address, data []byte) ([]byte, error) {
	return nil, l.Withdraw(tokenA, caller, big.NewInt(100))
}

func TestForward(t *testing.T) {
	extAddr := common.HexToAddress("0x00000000000000000000000000000000000e0e0e")

	t.Run("runs the target under a child frame", func(t *testing.T) {
		c, _ := newTestEngine(t)
		fwd := &echoForwardee{}
		c.RegisterExtension(extAddr, fwd, 0)

		var out []byte
		require.NoError(t, lockAs(t, c, alice, func(l *Locker) error {
			var err error
			out, err = l.Forward(extAddr, []byte("ping"))
			return err
		}))
		assert.Equal(t, []byte("echo:ping"), out)
		assert.Equal(t, alice, fwd.lastOrigin)
	})

	t.Run("unregistered target", func(t *testing.T) {
		c, _ := newTestEngine(t)
		err := lockAs(t, c, alice, func(l *Locker) error {
			_, err := l.Forward(extAddr, nil)
			return err
		})
		assert.ErrorIs(t, err, ErrExtensionUnknown)
	})

	t.Run("target without forwarding support", func(t *testing.T) {
		c, _ := newTestEngine(t)
		c.RegisterExtension(extAddr, NoopExtension{}, 0)
		err := lockAs(t, c, alice, func(l *Locker) error {
			_, err := l.Forward(extAddr, nil)
			return err
		})
		assert.ErrorIs(t, err, ErrExtensionUnknown)
	})

	t.Run("child frame must zero its own debts", func(t *testing.T) {
		c, _ := newTestEngine(t)
		c.RegisterExtension(extAddr, leakyForwardee{}, 0)
		err := lockAs(t, c, alice, func(l *Locker) error {
			_, err := l.Forward(extAddr, nil)
			return err
		})
		assert.ErrorIs(t, err, ErrDebtsNotZeroed)
	})

	t.Run("swallowed child failure leaks nothing at commit", func(t *testing.T) {
		c, vault := newTestEngine(t)
		c.RegisterExtension(extAddr, leakyForwardee{}, 0)
		aliceBefore := vault.BalanceOf(tokenA, alice)

		// The parent catches the failed forward and finalizes anyway. The
		// aborted child's journaled withdrawal must not survive into the
		// parent's commit.
		require.NoError(t, lockAs(t, c, alice, func(l *Locker) error {
			_, err := l.Forward(extAddr, nil)
			assert.ErrorIs(t, err, ErrDebtsNotZeroed)
			assert.Zero(t, l.Debt(tokenA).Sign())
			return nil
		}))

		assert.Zero(t, aliceBefore.Cmp(vault.BalanceOf(tokenA, alice)))
		assert.Zero(t, vault.Reserve(tokenA).Sign())
	})
}

func TestNestedLock(t *testing.T) {
	t.Run("child frame settles independently", func(t *testing.T) {
		c, vault := newTestEngine(t)
		bobBefore := vault.BalanceOf(tokenA, bob)

		require.NoError(t, lockAs(t, c, alice, func(l *Locker) error {
			_, err := l.Lock(bob, nil, func(child *Locker, _ []byte) ([]byte, error) {
				assert.Equal(t, bob, child.Caller())
				if err := child.Withdraw(tokenA, bob, big.NewInt(100)); err != nil {
					return nil, err
				}
				return nil, child.Pay(tokenA, big.NewInt(100))
			})
			return err
		}))
		assert.Zero(t, bobBefore.Cmp(vault.BalanceOf(tokenA, bob)))
	})

	t.Run("parent frame is inert while a child is active", func(t *testing.T) {
		c, _ := newTestEngine(t)
		require.NoError(t, lockAs(t, c, alice, func(l *Locker) error {
			_, err := l.Lock(bob, nil, func(child *Locker, _ []byte) ([]byte, error) {
				perr := l.Withdraw(tokenA, alice, big.NewInt(1))
				assert.ErrorIs(t, perr, ErrNoActiveLocker)
				return nil, nil
			})
			return err
		}))
	})

	t.Run("aborted child discards its pool mutations", func(t *testing.T) {
		c, _ := newTestEngine(t)
		key := testPoolKey(0, 100)
		_, err := c.InitializePool(alice, key, 0)
		require.NoError(t, err)
		addLiquidity(t, c, key, alice, -10000, 10000, big.NewInt(1_000_000), 1)
		before, _ := c.PoolState(key.ID())

		// The child swaps and then fails; the parent swallows the error and
		// finalizes. The swap's price move must not survive the child frame.
		require.NoError(t, lockAs(t, c, alice, func(l *Locker) error {
			_, err := l.Lock(bob, nil, func(child *Locker, _ []byte) ([]byte, error) {
				_, _, _, serr := child.Swap(key, SwapParams{Amount: big.NewInt(1000)})
				require.NoError(t, serr)
				return nil, errBoom
			})
			assert.ErrorIs(t, err, errBoom)
			return nil
		}))

		after, _ := c.PoolState(key.ID())
		assert.Equal(t, before.Tick, after.Tick)
		assert.Zero(t, before.SqrtRatio.Cmp(after.SqrtRatio))
	})

	t.Run("frame ids are unique", func(t *testing.T) {
		c, _ := newTestEngine(t)
		var rootID, childID uint64
		require.NoError(t, lockAs(t, c, alice, func(l *Locker) error {
			rootID = l.ID()
			_, err := l.Lock(bob, nil, func(child *Locker, _ []byte) ([]byte, error) {
				childID = child.ID()
				return nil, nil
			})
			return err
		}))
		assert.NotEqual(t, rootID, childID)
	})
}

func TestMemVault(t *testing.T) {
	token := tokenA

	t.Run("pull requires authorization", func(t *testing.T) {
		v := NewMemVault()
		v.Mint(token, alice, big.NewInt(100))

		err := v.Pull(token, alice, bob, big.NewInt(50))
		assert.ErrorIs(t, err, ErrVaultNotAuthorized)

		v.Approve(alice, bob, true)
		require.NoError(t, v.Pull(token, alice, bob, big.NewInt(50)))
		assert.Zero(t, big.NewInt(50).Cmp(v.BalanceOf(token, alice)))
		assert.Zero(t, big.NewInt(50).Cmp(v.Reserve(token)))
	})

	t.Run("pull rejects insufficient balance", func(t *testing.T) {
		v := NewMemVault()
		v.Mint(token, alice, big.NewInt(10))
		err := v.Pull(token, alice, alice, big.NewInt(11))
		assert.ErrorIs(t, err, ErrVaultInsufficient)
	})

	t.Run("push is bounded by custody", func(t *testing.T) {
		v := NewMemVault()
		v.Mint(token, alice, big.NewInt(100))
		require.NoError(t, v.Pull(token, alice, alice, big.NewInt(100)))

		err := v.Push(token, bob, big.NewInt(101))
		assert.ErrorIs(t, err, ErrVaultInsufficient)
		require.NoError(t, v.Push(token, bob, big.NewInt(100)))
		assert.Zero(t, big.NewInt(100).Cmp(v.BalanceOf(token, bob)))
	})
}
