package tickbitmap

import (
	"math/bits"

	"github.com/defistate/amm-engine-go/bitset"
	"github.com/defistate/amm-engine-go/core/tickmath"
)

// Bitmap is a sparse index of a pool's initialized ticks. Ticks are compressed
// by the pool's tick spacing and packed 64 to a word, so a directional search
// inspects whole words at a time.
type Bitmap struct {
	spacing int32
	bits    *bitset.Sparse
}

// New creates a bitmap for a pool with the given tick spacing. Spacing 0
// designates full-range-only pools, whose only representable ticks are
// MIN_TICK and MAX_TICK.
func New(tickSpacing uint32) *Bitmap {
	spacing := int32(tickSpacing)
	if spacing == 0 {
		spacing = tickmath.MAX_TICK
	}
	return &Bitmap{spacing: spacing, bits: bitset.NewSparse()}
}

// Flip toggles a tick's initialized flag. The caller guarantees alignment to
// the pool's spacing.
func (b *Bitmap) Flip(tick int32) {
	c := floorDiv(tick, b.spacing)
	b.bits.Flip(c>>6, uint(c&63))
}

// IsInitialized reports whether the tick is flagged.
func (b *Bitmap) IsInitialized(tick int32) bool {
	c := floorDiv(tick, b.spacing)
	return b.bits.IsSet(c>>6, uint(c&63))
}

// Clone returns an independent copy of the bitmap.
func (b *Bitmap) Clone() *Bitmap {
	return &Bitmap{spacing: b.spacing, bits: b.bits.Clone()}
}

// Count returns the number of initialized ticks.
func (b *Bitmap) Count() int {
	return b.bits.PopCount()
}

// NextInitialized finds the nearest initialized tick from `tick`: the largest
// one at or below it when lte is true, the smallest one strictly above it
// otherwise. The search inspects at most 1+skipAhead words; if no initialized
// tick turns up within that budget (or before the global bound), it returns
// the boundary of the scanned region with found=false so the caller can resume
// from there. skipAhead only bounds work per call, never the final answer.
func (b *Bitmap) NextInitialized(tick int32, lte bool, skipAhead uint32) (next int32, found bool) {
	budget := int64(skipAhead) + 1

	if lte {
		c := floorDiv(tick, b.spacing)
		w, bit := c>>6, uint(c&63)
		for {
			word := b.bits.Word(w)
			if w == c>>6 {
				word &= ^uint64(0) >> (63 - bit)
			}
			if word != 0 {
				msb := 63 - int32(bits.LeadingZeros64(word))
				return clampTick((w*64 + msb) * b.spacing), true
			}
			boundary := w * 64 * b.spacing
			budget--
			if budget == 0 || boundary <= tickmath.MIN_TICK {
				return clampTick(boundary), false
			}
			w--
		}
	}

	// Moving up: the first candidate is the lowest aligned tick strictly
	// greater than `tick`.
	c := floorDiv(tick, b.spacing) + 1
	w, bit := c>>6, uint(c&63)
	for {
		word := b.bits.Word(w)
		if w == c>>6 {
			word &= ^uint64(0) << bit
		}
		if word != 0 {
			lsb := int32(bits.TrailingZeros64(word))
			return clampTick((w*64 + lsb) * b.spacing), true
		}
		// Resume point is the last scanned tick, so the caller never skips an
		// unscanned bit when it continues from here.
		boundary := ((w+1)*64 - 1) * b.spacing
		budget--
		if budget == 0 || boundary >= tickmath.MAX_TICK {
			return clampTick(boundary), false
		}
		w++
	}
}

func clampTick(tick int32) int32 {
	if tick < tickmath.MIN_TICK {
		return tickmath.MIN_TICK
	}
	if tick > tickmath.MAX_TICK {
		return tickmath.MAX_TICK
	}
	return tick
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(x, y int32) int32 {
	q := x / y
	if x%y != 0 && (x < 0) != (y < 0) {
		q--
	}
	return q
}
