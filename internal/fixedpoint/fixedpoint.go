// Package fixedpoint implements the engine's integer-only price, quantity
// and money arithmetic. Nothing here touches float64 — ticks, lots and
// basis points are signed 64-bit integers, and fee math widens to 128 bits
// before re-narrowing so results are identical on every platform.
package fixedpoint

import (
	"errors"
	"math/bits"
)

// ErrOverflow indicates a 128-bit intermediate could not be re-narrowed to
// 64 bits. Per spec this is a fatal logic error: it means upstream
// validation (tick/lot/leverage bounds) let something through it shouldn't
// have.
var ErrOverflow = errors.New("fixedpoint: overflow")

// Fixed is a scaled integer: a price in ticks, a quantity in lots, or a
// money amount in quote-currency minor units, depending on context.
type Fixed int64

// BasisPoints is 1/10_000ths, e.g. maker_bps, taker_bps, initial_margin_bps.
type BasisPoints int64

const bpsDenominator = 10_000

// Notional computes price*qty widened to 128 bits, returning an error
// instead of silently wrapping if the product doesn't fit back into 64
// bits. Both price and qty are expected non-negative; sign is applied by
// the caller based on side.
func Notional(price, qty Fixed) (Fixed, error) {
	if price < 0 || qty < 0 {
		return 0, ErrOverflow
	}
	hi, lo := bits.Mul64(uint64(price), uint64(qty))
	if hi != 0 || lo > uint64(1<<63-1) {
		return 0, ErrOverflow
	}
	return Fixed(lo), nil
}

// Fee computes round_half_to_even(notional * bps / 10_000) in quote units,
// widening the multiply to 128 bits so large notionals never overflow
// before the division narrows them back down.
func Fee(notional Fixed, bps BasisPoints) (Fixed, error) {
	if notional < 0 || bps < 0 {
		return 0, ErrOverflow
	}
	hi, lo := bits.Mul64(uint64(notional), uint64(bps))
	q, r := divRem128(hi, lo, bpsDenominator)
	if q > uint64(1<<63-1) {
		return 0, ErrOverflow
	}
	return Fixed(roundHalfToEven(q, r, bpsDenominator)), nil
}

// divRem128 divides the 128-bit value (hi,lo) by d, returning quotient and
// remainder. d must be < 2^64 and the quotient must fit in 64 bits, which
// holds for every caller in this package (bps divisor is always 10_000).
func divRem128(hi, lo, d uint64) (q, r uint64) {
	q, r = bits.Div64(hi, lo, d)
	return q, r
}

// roundHalfToEven nudges an already-truncated quotient q (with remainder r
// out of divisor d) to the nearest integer, breaking exact ties toward the
// even quotient. This is the one rounding rule used everywhere fees are
// computed, so behavior is identical across platforms and over replay.
func roundHalfToEven(q, r, d uint64) uint64 {
	twice := r * 2
	switch {
	case twice < d:
		return q
	case twice > d:
		return q + 1
	default: // exact tie
		if q%2 == 0 {
			return q
		}
		return q + 1
	}
}

// Mul128Narrow multiplies two non-negative Fixed values and narrows the
// 128-bit product back to 64 bits, failing on overflow. Exposed for callers
// (risk P&L, margin sizing) that need a raw widened product without the
// bps division Fee applies.
func Mul128Narrow(a, b Fixed) (Fixed, error) {
	if a < 0 || b < 0 {
		return 0, ErrOverflow
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > uint64(1<<63-1) {
		return 0, ErrOverflow
	}
	return Fixed(lo), nil
}
