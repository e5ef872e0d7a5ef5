package tickmath

import (
	"errors"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
)

var (
	// MIN_TICK is the lowest tick index a pool may reach.
	MIN_TICK = int32(-887272)
	// MAX_TICK is the highest tick index a pool may reach.
	MAX_TICK = int32(887272)

	// MIN_SQRT_RATIO is the Q64.96 sqrt price at MIN_TICK.
	MIN_SQRT_RATIO, _ = new(big.Int).SetString("4295128739", 10)
	// MAX_SQRT_RATIO is the Q64.96 sqrt price at MAX_TICK.
	MAX_SQRT_RATIO, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)

	ErrTickOutOfBounds      = errors.New("tick out of bounds")
	ErrSqrtRatioOutOfBounds = errors.New("sqrt ratio out of bounds")

	one        = uint256.NewInt(1)
	maxUint256 = uint256.MustFromBig(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)))

	// ratioConstants[i] is sqrt(1/1.0001^(2^(i-1))) in UQ128.128 for i >= 2;
	// index 0 is the single-tick factor and index 1 is one. Index 21 is the
	// rounding mask used when narrowing to Q64.96.
	ratioConstants = [22]*uint256.Int{
		mustFromHex("0xfffcb933bd6fad37aa2d162d1a594001"),
		mustFromHex("0x100000000000000000000000000000000"),
		mustFromHex("0xfff97272373d413259a46990580e213a"),
		mustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
		mustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
		mustFromHex("0xffcb9843d60f6159c9db58835c926644"),
		mustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
		mustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
		mustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
		mustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
		mustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
		mustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
		mustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
		mustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
		mustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
		mustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
		mustFromHex("0x31be135f97d08fd981231505542fcfa6"),
		mustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
		mustFromHex("0x5d6af8dedb81196699c329225ee604"),
		mustFromHex("0x2216e584f5fa1ea926041bedfe98"),
		mustFromHex("0x48a170391f7dc42444e8fa2"),
		mustFromHex("0xffffffff"),
	}
)

// scratch holds reusable integers so the hot path stays allocation-free.
type scratch struct {
	ratio *uint256.Int
	rem   *uint256.Int
	temp  *big.Int
}

var scratchPool = sync.Pool{
	New: func() any {
		return &scratch{
			ratio: new(uint256.Int),
			rem:   new(uint256.Int),
			temp:  new(big.Int),
		}
	},
}

// SqrtRatioAtTick writes sqrt(1.0001^tick) * 2^96 into dest.
// The result brackets every valid pool state:
// SqrtRatioAtTick(t) <= sqrtRatio < SqrtRatioAtTick(t+1).
func SqrtRatioAtTick(dest *big.Int, tick int32) error {
	if tick < MIN_TICK || tick > MAX_TICK {
		return ErrTickOutOfBounds
	}

	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)

	absTick := int64(tick)
	if absTick < 0 {
		absTick = -absTick
	}

	if absTick&0x1 != 0 {
		s.ratio.Set(ratioConstants[0])
	} else {
		s.ratio.Set(ratioConstants[1])
	}
	for i := 2; i < 21; i++ {
		if absTick&(1<<(i-1)) != 0 {
			s.ratio.Mul(s.ratio, ratioConstants[i]).Rsh(s.ratio, 128)
		}
	}

	// The ladder computes the ratio for -|tick|; invert for positive ticks.
	if tick > 0 {
		s.ratio.Div(maxUint256, s.ratio)
	}

	// Narrow UQ128.128 to Q64.96, rounding up so round-tripping stays monotonic.
	s.rem.And(s.ratio, ratioConstants[21])
	s.ratio.Rsh(s.ratio, 32)
	if s.rem.Sign() > 0 {
		s.ratio.Add(s.ratio, one)
	}

	s.ratio.IntoBig(&dest)
	return nil
}

// TickAtSqrtRatio returns the greatest tick t with SqrtRatioAtTick(t) <= sqrtRatio.
func TickAtSqrtRatio(sqrtRatio *big.Int) (int32, error) {
	if sqrtRatio.Cmp(MIN_SQRT_RATIO) < 0 || sqrtRatio.Cmp(MAX_SQRT_RATIO) >= 0 {
		return 0, ErrSqrtRatioOutOfBounds
	}

	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)

	low, high := MIN_TICK, MAX_TICK
	var tick int32
	for low <= high {
		mid := (low + high) / 2
		if err := SqrtRatioAtTick(s.temp, mid); err != nil {
			return 0, err
		}
		if s.temp.Cmp(sqrtRatio) <= 0 {
			tick = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	return tick, nil
}

func mustFromHex(s string) *uint256.Int {
	n, ok := new(big.Int).SetString(s[2:], 16)
	if !ok {
		panic("tickmath: bad constant " + s)
	}
	return uint256.MustFromBig(n)
}
