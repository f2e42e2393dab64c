// Package varint implements LEB128 varint encoding over Uint128 and
// uint64, used by the runestone parser (C3) and the rune balance tables
// (C6) — Go has no native 128-bit integer, so rune ids and amounts are
// carried as a {Hi, Lo uint64} pair.
package varint

import (
	"fmt"
	"math/bits"
)

// Uint128 is an unsigned 128-bit integer, Hi being the most significant
// 64 bits.
type Uint128 struct {
	Hi, Lo uint64
}

// Max128 is the maximum representable Uint128, used as the initial
// allocatable supply of a freshly etched rune.
var Max128 = Uint128{Hi: ^uint64(0), Lo: ^uint64(0)}

// Zero128 is the zero value, spelled out for readability at call sites.
var Zero128 = Uint128{}

// FromUint64 constructs a Uint128 from a uint64.
func FromUint64(v uint64) Uint128 {
	return Uint128{Lo: v}
}

// IsZero reports whether the value is zero.
func (u Uint128) IsZero() bool {
	return u.Hi == 0 && u.Lo == 0
}

// Cmp returns -1, 0, or 1 as u is less than, equal to, or greater than v.
func (u Uint128) Cmp(v Uint128) int {
	if u.Hi != v.Hi {
		if u.Hi < v.Hi {
			return -1
		}
		return 1
	}
	switch {
	case u.Lo < v.Lo:
		return -1
	case u.Lo > v.Lo:
		return 1
	default:
		return 0
	}
}

// Add returns u+v, saturating at Max128 on overflow.
func (u Uint128) Add(v Uint128) Uint128 {
	lo, carry := bits.Add64(u.Lo, v.Lo, 0)
	hi, overflow := bits.Add64(u.Hi, v.Hi, carry)
	if overflow != 0 {
		return Max128
	}
	return Uint128{Hi: hi, Lo: lo}
}

// Sub returns u-v. Callers must ensure u >= v; used only after clamping.
func (u Uint128) Sub(v Uint128) Uint128 {
	lo := u.Lo - v.Lo
	borrow := uint64(0)
	if u.Lo < v.Lo {
		borrow = 1
	}
	hi := u.Hi - v.Hi - borrow
	return Uint128{Hi: hi, Lo: lo}
}

// Min returns the lesser of u and v.
func (u Uint128) Min(v Uint128) Uint128 {
	if u.Cmp(v) <= 0 {
		return u
	}
	return v
}

// String renders the value in decimal.
func (u Uint128) String() string {
	if u.Hi == 0 {
		return fmt.Sprintf("%d", u.Lo)
	}
	var digits []byte
	for !u.IsZero() {
		var rem uint64
		u, rem = u.divmod10()
		digits = append(digits, byte('0'+rem))
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}

// divmod10 divides u by 10, processing the value as four 32-bit limbs from
// most to least significant (schoolbook long division), since Go has no
// native 128-bit divide.
func (u Uint128) divmod10() (q Uint128, rem uint64) {
	limbs := [4]uint64{u.Hi >> 32, u.Hi & 0xffffffff, u.Lo >> 32, u.Lo & 0xffffffff}
	var out [4]uint64
	carry := uint64(0)
	for i, limb := range limbs {
		cur := carry<<32 | limb
		out[i] = cur / 10
		carry = cur % 10
	}
	q = Uint128{Hi: out[0]<<32 | out[1], Lo: out[2]<<32 | out[3]}
	return q, carry
}
