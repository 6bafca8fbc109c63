// Package ups implements the UPS patch kind: a symmetric XOR-delta format
// self-checksummed with three trailing CRC32s.
package ups

import (
	"github.com/retrohack/rompatch/errs"
	"github.com/retrohack/rompatch/format"
	"github.com/retrohack/rompatch/internal/checksum"
	"github.com/retrohack/rompatch/internal/varint"
)

// Magic is the 4-byte UPS header.
var Magic = []byte("UPS1")

const trailerLen = 12

// Codec implements format.Format for UPS patches.
type Codec struct{}

var _ format.Format = Codec{}

func (Codec) CanHandle(patch []byte) bool {
	return len(patch) >= len(Magic) && string(patch[:len(Magic)]) == string(Magic)
}

type header struct {
	inputSize  uint64
	outputSize uint64
	bodyStart  int
}

func parseHeader(patch []byte) (header, error) {
	offset := len(Magic)
	inputSize, offset, err := varint.DecodeUPS(patch, offset)
	if err != nil {
		return header{}, err
	}
	outputSize, offset, err := varint.DecodeUPS(patch, offset)
	if err != nil {
		return header{}, err
	}
	return header{inputSize: inputSize, outputSize: outputSize, bodyStart: offset}, nil
}

type trailer struct {
	inputCRC  uint32
	outputCRC uint32
	patchCRC  uint32
}

func parseTrailer(patch []byte) (trailer, error) {
	if len(patch) < trailerLen {
		return trailer{}, errs.At(errs.UnexpectedEOF, len(patch), "patch too short to contain trailer")
	}
	t := patch[len(patch)-trailerLen:]
	return trailer{
		inputCRC:  checksum.ReadUint32LE(t[0:4]),
		outputCRC: checksum.ReadUint32LE(t[4:8]),
		patchCRC:  checksum.ReadUint32LE(t[8:12]),
	}, nil
}

func (c Codec) Validate(patch []byte, limits format.Limits) error {
	_, err := c.run(nil, patch, limits, false)
	return err
}

func (c Codec) Metadata(patch []byte) (format.Metadata, error) {
	if !c.CanHandle(patch) {
		return format.Metadata{}, errs.At(errs.InvalidMagic, 0, "missing UPS1 magic")
	}
	h, err := parseHeader(patch)
	if err != nil {
		return format.Metadata{}, err
	}
	t, err := parseTrailer(patch)
	if err != nil {
		return format.Metadata{}, err
	}
	meta := format.Metadata{Kind: format.Ups, SourceSize: &h.inputSize, TargetSize: &h.outputSize}
	meta.SourceChecksum = checksum.LEBytes(t.inputCRC)
	meta.TargetChecksum = checksum.LEBytes(t.outputCRC)
	return meta, nil
}

func (c Codec) Apply(source []byte, patch []byte, limits format.Limits) ([]byte, error) {
	return c.run(source, patch, limits, true)
}

func (c Codec) Verify(source []byte, patch []byte, target []byte, limits format.Limits) error {
	if !c.CanHandle(patch) {
		return errs.At(errs.InvalidMagic, 0, "missing UPS1 magic")
	}
	if len(patch) < trailerLen {
		return errs.At(errs.UnexpectedEOF, len(patch), "patch too short to contain trailer")
	}
	t, err := parseTrailer(patch)
	if err != nil {
		return err
	}
	if got := checksum.CRC32(patch[:len(patch)-4]); got != t.patchCRC {
		return errs.New(errs.ChecksumMismatch, "patch_crc mismatch: patch is self-inconsistent")
	}

	if target != nil {
		if got := checksum.CRC32(target); got != t.outputCRC {
			return errs.New(errs.ChecksumMismatch, "output_crc mismatch")
		}
		return nil
	}
	if got := checksum.CRC32(source); got != t.inputCRC {
		return errs.New(errs.ChecksumMismatch, "input_crc mismatch")
	}
	return nil
}

func (c Codec) run(source []byte, patch []byte, limits format.Limits, materialize bool) ([]byte, error) {
	if !c.CanHandle(patch) {
		return nil, errs.At(errs.InvalidMagic, 0, "missing UPS1 magic")
	}
	limits = limits.Resolve()
	h, err := parseHeader(patch)
	if err != nil {
		return nil, err
	}
	if h.outputSize > limits.MaxTargetSize {
		return nil, errs.New(errs.ResourceLimit, "declared output_size exceeds the configured ceiling")
	}
	if len(patch) < trailerLen {
		return nil, errs.At(errs.UnexpectedEOF, len(patch), "patch too short to contain trailer")
	}
	t, err := parseTrailer(patch)
	if err != nil {
		return nil, err
	}
	if got := checksum.CRC32(patch[:len(patch)-4]); got != t.patchCRC {
		return nil, errs.New(errs.ChecksumMismatch, "patch_crc mismatch: patch is self-inconsistent")
	}

	var target []byte
	if materialize {
		target = make([]byte, h.outputSize)
		copy(target, source)
	}

	offset := h.bodyStart
	bodyEnd := len(patch) - trailerLen
	cursor := uint64(0)
	for offset < bodyEnd {
		skip, next, err := varint.DecodeUPS(patch, offset)
		if err != nil {
			return nil, err
		}
		offset = next
		cursor += skip

		for {
			if offset >= bodyEnd {
				return nil, errs.At(errs.UnexpectedEOF, offset, "unterminated xor record")
			}
			b := patch[offset]
			offset++
			if b == 0x00 {
				cursor++
				break
			}
			if materialize {
				if cursor >= uint64(len(target)) {
					return nil, errs.At(errs.OutOfBounds, offset, "xor record writes past output_size")
				}
				target[cursor] ^= b
			} else if cursor >= h.outputSize {
				return nil, errs.At(errs.OutOfBounds, offset, "xor record writes past output_size")
			}
			cursor++
		}
	}
	return target, nil
}
