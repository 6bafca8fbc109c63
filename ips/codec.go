// Package ips implements the IPS patch kind: the oldest and simplest of
// the formats rompatch understands, and the one EBP wraps.
package ips

import (
	"github.com/retrohack/rompatch/errs"
	"github.com/retrohack/rompatch/format"
)

// Magic is the 5-byte IPS header.
var Magic = []byte("PATCH")

// EOFMarker is the 3-byte terminator. It is ambiguous with a legitimate
// record offset of the same value — an intrinsic limitation of the format,
// not something this decoder tries to work around (spec §9, "Open
// question — IPS EOF-as-offset ambiguity").
var EOFMarker = [3]byte{'E', 'O', 'F'}

// MaxOffset is the largest address an IPS record can address: offsets are
// 24-bit fields, so the addressable universe is [0, 2^24).
const MaxOffset = 1<<24 - 1

// Codec implements format.Format for IPS patches.
type Codec struct{}

var _ format.Format = Codec{}

func (Codec) CanHandle(patch []byte) bool {
	return len(patch) >= len(Magic) && string(patch[:len(Magic)]) == string(Magic)
}

func (c Codec) Validate(patch []byte, limits format.Limits) error {
	_, err := c.run(nil, patch, limits, false)
	return err
}

func (c Codec) Metadata(patch []byte) (format.Metadata, error) {
	if !c.CanHandle(patch) {
		return format.Metadata{}, errs.At(errs.InvalidMagic, 0, "missing PATCH magic")
	}
	return format.Metadata{Kind: format.Ips}, nil
}

func (c Codec) Apply(source []byte, patch []byte, limits format.Limits) ([]byte, error) {
	return c.run(source, patch, limits, true)
}

func (c Codec) Verify(source []byte, patch []byte, target []byte, limits format.Limits) error {
	return errs.New(errs.NotSupported, "ips carries no checksum to verify against")
}

// LocateTerminator walks the record stream far enough to find the EOF
// terminator and returns the patch offset immediately after it, without
// materializing any target bytes. EBP uses this to find where its JSON
// tail might begin.
func LocateTerminator(patch []byte) (int, error) {
	if !(Codec{}).CanHandle(patch) {
		return 0, errs.At(errs.InvalidMagic, 0, "missing PATCH magic")
	}
	offset := len(Magic)
	for {
		if offset+3 > len(patch) {
			return 0, errs.At(errs.UnexpectedEOF, offset, "truncated record offset")
		}
		recOffset := int(patch[offset])<<16 | int(patch[offset+1])<<8 | int(patch[offset+2])
		offset += 3
		if recOffset == 0x454F46 {
			return offset, nil
		}
		if offset+2 > len(patch) {
			return 0, errs.At(errs.UnexpectedEOF, offset, "truncated record size")
		}
		size := int(patch[offset])<<8 | int(patch[offset+1])
		offset += 2
		if size == 0 {
			if offset+3 > len(patch) {
				return 0, errs.At(errs.UnexpectedEOF, offset, "truncated RLE record")
			}
			offset += 3
		} else {
			if offset+size > len(patch) {
				return 0, errs.At(errs.UnexpectedEOF, offset, "truncated record data")
			}
			offset += size
		}
	}
}

// run executes the IPS record stream. When materialize is false it only
// checks structural validity (bounds, terminators) against a scratch
// buffer sized to whatever the records touch, without requiring a real
// source; when true it builds the real target from source.
func (c Codec) run(source []byte, patch []byte, limits format.Limits, materialize bool) ([]byte, error) {
	if !c.CanHandle(patch) {
		return nil, errs.At(errs.InvalidMagic, 0, "missing PATCH magic")
	}
	limits = limits.Resolve()

	var target []byte
	if materialize {
		target = append([]byte(nil), source...)
	} else {
		target = make([]byte, len(source))
	}

	offset := len(Magic)
	for {
		if offset+3 > len(patch) {
			return nil, errs.At(errs.UnexpectedEOF, offset, "truncated record offset")
		}
		recOffset := int(patch[offset])<<16 | int(patch[offset+1])<<8 | int(patch[offset+2])
		offset += 3
		if recOffset == 0x454F46 {
			return target, nil
		}

		if offset+2 > len(patch) {
			return nil, errs.At(errs.UnexpectedEOF, offset, "truncated record size")
		}
		size := int(patch[offset])<<8 | int(patch[offset+1])
		offset += 2

		var writeLen int
		var rleValue byte
		isRLE := size == 0
		if isRLE {
			if offset+3 > len(patch) {
				return nil, errs.At(errs.UnexpectedEOF, offset, "truncated RLE record")
			}
			writeLen = int(patch[offset])<<8 | int(patch[offset+1])
			rleValue = patch[offset+2]
			offset += 3
		} else {
			if offset+size > len(patch) {
				return nil, errs.At(errs.UnexpectedEOF, offset, "truncated record data")
			}
			writeLen = size
		}

		need := recOffset + writeLen
		if uint64(need) > limits.MaxTargetSize {
			return nil, errs.New(errs.ResourceLimit, "record would grow target past the configured ceiling")
		}
		if need > len(target) {
			grown := make([]byte, need)
			copy(grown, target)
			target = grown
		}

		if materialize {
			if isRLE {
				for i := 0; i < writeLen; i++ {
					target[recOffset+i] = rleValue
				}
			} else {
				copy(target[recOffset:need], patch[offset:offset+size])
			}
		}
		if !isRLE {
			offset += size
		}
	}
}
