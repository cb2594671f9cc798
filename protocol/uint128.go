// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package protocol // import "go.opentelemetry.io/crashtracker/protocol"

import (
	"errors"
	"math/bits"
	"strconv"
)

// ErrInvalidID is returned for span or trace ids that are not decimal
// 128-bit numbers.
var ErrInvalidID = errors.New("invalid 128-bit id")

// AppendUint128 appends the decimal representation of hi:lo to dst.
func AppendUint128(dst []byte, hi, lo uint64) []byte {
	if hi == 0 {
		return strconv.AppendUint(dst, lo, 10)
	}
	// Split off 19 decimal digits at a time, the largest power of ten
	// that fits into 64 bits.
	const pow19 = 10_000_000_000_000_000_000
	var parts [3]uint64
	n := 0
	for hi != 0 || lo != 0 {
		qhi := hi / pow19
		qlo, rem := bits.Div64(hi%pow19, lo, pow19)
		hi, lo = qhi, qlo
		parts[n] = rem
		n++
	}
	dst = strconv.AppendUint(dst, parts[n-1], 10)
	for i := n - 2; i >= 0; i-- {
		var tmp [20]byte
		digits := strconv.AppendUint(tmp[:0], parts[i], 10)
		for range 19 - len(digits) {
			dst = append(dst, '0')
		}
		dst = append(dst, digits...)
	}
	return dst
}

// ParseUint128 parses a decimal 128-bit number.
func ParseUint128(s string) (hi, lo uint64, err error) {
	if s == "" || len(s) > 39 {
		return 0, 0, ErrInvalidID
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, 0, ErrInvalidID
		}
		// (hi:lo) = (hi:lo)*10 + digit
		mhi, mlo := bits.Mul64(lo, 10)
		ohi, hi10 := bits.Mul64(hi, 10)
		if ohi != 0 {
			return 0, 0, ErrInvalidID
		}
		var carry uint64
		hi, carry = bits.Add64(hi10, mhi, 0)
		if carry != 0 {
			return 0, 0, ErrInvalidID
		}
		lo, carry = bits.Add64(mlo, uint64(c-'0'), 0)
		hi, carry = bits.Add64(hi, 0, carry)
		if carry != 0 {
			return 0, 0, ErrInvalidID
		}
	}
	return hi, lo, nil
}
