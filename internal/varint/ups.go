package varint

import "github.com/retrohack/rompatch/errs"

// DecodeUPS reads one UPS-style unsigned varint from patch starting at
// offset. UPS varints use the same continuation-bit convention as BPS
// (high bit set terminates) and the same "+shift" bias after every
// continuation byte, so the two encodings decode identically byte for
// byte; they are kept as separate decoders (rather than one shared
// routine) because the two formats evolved independently and a future
// divergence in either one's wire format must not silently change the
// other's behavior.
//
// Boundary vectors: [0x80] -> 0, [0x81] -> 1, [0xFF] -> 127,
// [0x00, 0x80] -> 128.
func DecodeUPS(patch []byte, offset int) (uint64, int, error) {
	var value uint64
	var shift uint64 = 1
	for i := 0; ; i++ {
		if i >= maxContinuationBytes {
			return 0, offset, errs.At(errs.VarintOverflow, offset, "ups varint exceeded 10 continuation bytes")
		}
		if offset >= len(patch) {
			return 0, offset, errs.At(errs.UnexpectedEOF, offset, "ups varint truncated")
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
