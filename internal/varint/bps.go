// Package varint implements the three variable-length integer dialects
// rompatch's codecs need. They share only the overflow-guard constant:
// VCDIFF varints differ from the BPS/UPS ones in endianness,
// continuation-bit polarity, and bias. BPS and UPS varints decode
// identically (see DecodeUPS), but each dialect still gets its own decoder
// rather than a shared "generic base-128" routine.
package varint

import "github.com/retrohack/rompatch/errs"

// maxContinuationBytes bounds how many continuation bytes any of the three
// dialects will read before declaring overflow, guarding 64-bit magnitudes
// against pathological or malicious input.
const maxContinuationBytes = 10

// DecodeBPS reads one BPS-style unsigned varint from patch starting at
// offset. BPS varints are little-endian base-128 groups; each byte
// contributes its low 7 bits weighted by a running shift (1, 128, 16384,
// ...). After each non-terminating byte the decoder adds the current shift
// to the running value (the "+1 bias" that makes every additional byte
// represent a new, larger number rather than overlapping the previous
// one). The high bit set terminates the sequence.
//
// Returns the decoded value and the offset of the first byte after the
// varint.
func DecodeBPS(patch []byte, offset int) (uint64, int, error) {
	var value uint64
	var shift uint64 = 1
	for i := 0; ; i++ {
		if i >= maxContinuationBytes {
			return 0, offset, errs.At(errs.VarintOverflow, offset, "bps varint exceeded 10 continuation bytes")
		}
		if offset >= len(patch) {
			return 0, offset, errs.At(errs.UnexpectedEOF, offset, "bps varint truncated")
		}
		b := patch[offset]
		offset++
		value += uint64(b&0x7f) * shift
		if b&0x80 != 0 {
			return value, offset, nil
		}
		shift <<= 7
		value += shift
	}
}

// DecodeBPSSigned reads a BPS signed varint: the magnitude is the unsigned
// varint shifted right one bit, and the sign is the low bit (1 = negative).
func DecodeBPSSigned(patch []byte, offset int) (int64, int, error) {
	raw, next, err := DecodeBPS(patch, offset)
	if err != nil {
		return 0, offset, err
	}
	magnitude := int64(raw >> 1)
	if raw&1 != 0 {
		magnitude = -magnitude
	}
	return magnitude, next, nil
}
