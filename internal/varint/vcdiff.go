package varint

import "github.com/retrohack/rompatch/errs"

// DecodeVCDIFF reads one RFC 3284 big-endian base-128 varint: the
// most-significant 7 bits come first, each byte's high bit means "more
// bytes follow", and the byte with the high bit clear terminates the
// sequence. Unlike the BPS/UPS dialects there is no positional bias; this
// is the conventional "network byte order" varint.
func DecodeVCDIFF(patch []byte, offset int) (uint64, int, error) {
	var value uint64
	for i := 0; ; i++ {
		if i >= maxContinuationBytes {
			return 0, offset, errs.At(errs.VarintOverflow, offset, "vcdiff varint exceeded 10 continuation bytes")
		}
		if offset >= len(patch) {
			return 0, offset, errs.At(errs.UnexpectedEOF, offset, "vcdiff varint truncated")
		}
		b := patch[offset]
		offset++
		value = (value << 7) | uint64(b&0x7f)
		if b&0x80 == 0 {
			return value, offset, nil
		}
	}
}
