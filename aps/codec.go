// Package aps implements the APS-N64 patch kind.
package aps

import (
	"github.com/retrohack/rompatch/errs"
	"github.com/retrohack/rompatch/format"
)

// Magic is the 5-byte APS header.
var Magic = []byte("APS10")

// Header types.
const (
	HeaderGeneric = 0x00
	HeaderN64     = 0x01
)

// Length of the N64 sub-header, which starts right after the fixed 57-byte
// common header (magic + header_type + encoding_method + description).
const n64SubHeaderLen = 17

const descriptionLen = 50

// Codec implements format.Format for APS-N64 patches.
type Codec struct{}

var _ format.Format = Codec{}

func (Codec) CanHandle(patch []byte) bool {
	return len(patch) >= len(Magic) && string(patch[:len(Magic)]) == string(Magic)
}

type header struct {
	headerType     byte
	encodingMethod byte
	description    string
	cartID         []byte // 3 bytes, N64 only
	crc            []byte // 8 bytes, N64 only
	outputSize     uint32
	recordsOffset  int
}

func parseHeader(patch []byte) (header, error) {
	if len(patch) < len(Magic)+2+descriptionLen {
		return header{}, errs.At(errs.UnexpectedEOF, len(patch), "truncated APS header")
	}
	h := header{}
	offset := len(Magic)
	h.headerType = patch[offset]
	offset++
	h.encodingMethod = patch[offset]
	offset++
	h.description = string(patch[offset : offset+descriptionLen])
	offset += descriptionLen

	if h.headerType == HeaderN64 {
		if offset+n64SubHeaderLen > len(patch) {
			return header{}, errs.At(errs.UnexpectedEOF, offset, "truncated N64 sub-header")
		}
		// original_format[1] cart_id[3] crc[8] pad[5]
		sub := patch[offset : offset+n64SubHeaderLen]
		h.cartID = append([]byte(nil), sub[1:4]...)
		h.crc = append([]byte(nil), sub[4:12]...)
		offset += n64SubHeaderLen
	}

	if offset+4 > len(patch) {
		return header{}, errs.At(errs.UnexpectedEOF, offset, "truncated output_size")
	}
	h.outputSize = uint32(patch[offset]) | uint32(patch[offset+1])<<8 | uint32(patch[offset+2])<<16 | uint32(patch[offset+3])<<24
	offset += 4
	h.recordsOffset = offset
	return h, nil
}

func (c Codec) Validate(patch []byte, limits format.Limits) error {
	_, err := c.run(nil, patch, limits, false)
	return err
}

func (c Codec) Metadata(patch []byte) (format.Metadata, error) {
	if !c.CanHandle(patch) {
		return format.Metadata{}, errs.At(errs.InvalidMagic, 0, "missing APS10 magic")
	}
	h, err := parseHeader(patch)
	if err != nil {
		return format.Metadata{}, err
	}
	meta := format.Metadata{Kind: format.Aps}
	size := uint64(h.outputSize)
	meta.TargetSize = &size
	meta.Extra = append(meta.Extra, format.ExtraField{Key: "description", Value: h.description})
	if h.headerType == HeaderN64 {
		meta.Extra = append(meta.Extra, format.ExtraField{Key: "header_type", Value: "n64"})
	} else {
		meta.Extra = append(meta.Extra, format.ExtraField{Key: "header_type", Value: "generic"})
	}
	return meta, nil
}

func (c Codec) Apply(source []byte, patch []byte, limits format.Limits) ([]byte, error) {
	return c.run(source, patch, limits, true)
}

// Verify compares the ROM's cart ID and CRC fields against the patch's
// declared N64 sub-header. Generic (non-N64) patches carry no per-console
// checksum to compare against.
func (c Codec) Verify(source []byte, patch []byte, target []byte, limits format.Limits) error {
	if !c.CanHandle(patch) {
		return errs.At(errs.InvalidMagic, 0, "missing APS10 magic")
	}
	h, err := parseHeader(patch)
	if err != nil {
		return err
	}
	if h.headerType != HeaderN64 {
		return errs.New(errs.NotSupported, "generic APS header carries no console checksum to verify against")
	}
	rom := target
	if rom == nil {
		rom = source
	}
	if len(rom) < 0x3F {
		return errs.At(errs.OutOfBounds, 0, "rom too small to contain cart_id/crc fields")
	}
	if string(rom[0x3C:0x3F]) != string(h.cartID) {
		return errs.New(errs.ChecksumMismatch, "cart_id mismatch")
	}
	if string(rom[0x10:0x18]) != string(h.crc) {
		return errs.New(errs.ChecksumMismatch, "crc mismatch")
	}
	return nil
}

func (c Codec) run(source []byte, patch []byte, limits format.Limits, materialize bool) ([]byte, error) {
	if !c.CanHandle(patch) {
		return nil, errs.At(errs.InvalidMagic, 0, "missing APS10 magic")
	}
	limits = limits.Resolve()
	h, err := parseHeader(patch)
	if err != nil {
		return nil, err
	}
	if uint64(h.outputSize) > limits.MaxTargetSize {
		return nil, errs.New(errs.ResourceLimit, "declared output_size exceeds the configured ceiling")
	}

	var target []byte
	if materialize {
		target = make([]byte, h.outputSize)
		copy(target, source)
	}

	offset := h.recordsOffset
	for offset < len(patch) {
		if offset+5 > len(patch) {
			return nil, errs.At(errs.UnexpectedEOF, offset, "truncated record header")
		}
		recOffset := uint32(patch[offset]) | uint32(patch[offset+1])<<8 | uint32(patch[offset+2])<<16 | uint32(patch[offset+3])<<24
		length := patch[offset+4]
		offset += 5

		if length == 0 {
			if offset+2 > len(patch) {
				return nil, errs.At(errs.UnexpectedEOF, offset, "truncated RLE record")
			}
			value := patch[offset]
			count := patch[offset+1]
			offset += 2
			end := uint64(recOffset) + uint64(count)
			if end > uint64(h.outputSize) {
				return nil, errs.At(errs.OutOfBounds, offset, "RLE record writes past output_size")
			}
			if materialize {
				for i := uint32(0); i < uint32(count); i++ {
					target[recOffset+i] = value
				}
			}
		} else {
			if offset+int(length) > len(patch) {
				return nil, errs.At(errs.UnexpectedEOF, offset, "truncated record data")
			}
			end := uint64(recOffset) + uint64(length)
			if end > uint64(h.outputSize) {
				return nil, errs.At(errs.OutOfBounds, offset, "record writes past output_size")
			}
			if materialize {
				copy(target[recOffset:end], patch[offset:offset+int(length)])
			}
			offset += int(length)
		}
	}
	return target, nil
}
