package core

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PoolID uniquely identifies an initialized pool.
type PoolID = common.Hash

// Salt distinguishes multiple positions or saved balances with otherwise
// identical keys.
type Salt = common.Hash

// PoolKey is the immutable configuration of a pool. Token0 must sort strictly
// below Token1 so every pair maps to exactly one key.
type PoolKey struct {
	Token0      common.Address `json:"token0"`
	Token1      common.Address `json:"token1"`
	Fee         uint64         `json:"fee"`         // fraction of 2^64
	TickSpacing uint32         `json:"tickSpacing"` // 0 = full-range only
	Extension   common.Address `json:"extension"`
}

// ID returns the deterministic hash identifying this key.
func (k PoolKey) ID() PoolID {
	var buf [20 + 20 + 8 + 4 + 20]byte
	copy(buf[0:20], k.Token0[:])
	copy(buf[20:40], k.Token1[:])
	binary.BigEndian.PutUint64(buf[40:48], k.Fee)
	binary.BigEndian.PutUint32(buf[48:52], k.TickSpacing)
	copy(buf[52:72], k.Extension[:])
	return crypto.Keccak256Hash(buf[:])
}

func (k PoolKey) validate() error {
	if k.Token0 == k.Token1 {
		return ErrTokensEqual
	}
	if bytesCompare(k.Token0, k.Token1) > 0 {
		return ErrTokensUnordered
	}
	return nil
}

func bytesCompare(a, b common.Address) int {
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// StateView is a read-only snapshot of a pool's mutable state.
type StateView struct {
	SqrtRatio *big.Int `json:"sqrtRatio"`
	Tick      int32    `json:"tick"`
	Liquidity *big.Int `json:"liquidity"`
}

// TickView is a read-only snapshot of one initialized tick.
type TickView struct {
	LiquidityGross   *big.Int `json:"liquidityGross"`
	LiquidityNet     *big.Int `json:"liquidityNet"`
	FeeGrowthOutside [2]*big.Int
}

// PositionView is a read-only snapshot of one position.
type PositionView struct {
	Liquidity           *big.Int
	FeeGrowthInsideLast [2]*big.Int
}

// SwapParams describes one swap request. A positive Amount sells an exact
// quantity of the input token; a negative one buys an exact quantity of the
// output token. IsToken1 says which token Amount denominates.
type SwapParams struct {
	Amount         *big.Int
	IsToken1       bool
	SqrtRatioLimit *big.Int // nil = no limit beyond the global bounds
	SkipAhead      uint32
}

// UpdatePositionParams describes a liquidity change on one position.
type UpdatePositionParams struct {
	TickLower      int32
	TickUpper      int32
	LiquidityDelta *big.Int
	Salt           Salt
}

// Error taxonomy. Every one of these aborts the whole operation that raised it.
var (
	// validation
	ErrTokensEqual           = errors.New("pool key tokens must differ")
	ErrTokensUnordered       = errors.New("pool key tokens must be in ascending order")
	ErrPoolNotInitialized    = errors.New("pool not initialized")
	ErrPoolInitialized       = errors.New("pool already initialized")
	ErrInvalidTickBounds     = errors.New("invalid tick bounds")
	ErrTickNotAligned        = errors.New("tick not aligned to pool spacing")
	ErrInvalidSqrtRatioLimit = errors.New("sqrt ratio limit out of bounds")
	ErrLimitWrongSide        = errors.New("sqrt ratio limit on wrong side of current price")
	ErrExtensionUnknown      = errors.New("extension not registered")

	// arithmetic safety
	ErrAmountOverflow   = errors.New("amount exceeds representable range")
	ErrTickLiquidityCap = errors.New("max liquidity per tick exceeded")

	// invariant violation
	ErrDebtsNotZeroed      = errors.New("locker finalized with non-zero debt")
	ErrUncollectedFees     = errors.New("position has uncollected fees")
	ErrBalanceOverflow     = errors.New("saved balance overflow")
	ErrBalanceInsufficient = errors.New("saved balance insufficient")

	// access
	ErrNoActiveLocker  = errors.New("operation requires an active locker")
	ErrPositionUnknown = errors.New("position does not exist")
)

// maxInt128 bounds every signed token delta.
var maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))

func checkDeltaRange(amounts ...*big.Int) error {
	for _, a := range amounts {
		if new(big.Int).Abs(a).Cmp(maxInt128) > 0 {
			return ErrAmountOverflow
		}
	}
	return nil
}
