// Package bps implements the BPS patch kind: a self-describing action
// stream over three independently tracked cursors (output, source-relative,
// target-relative), trailered with three CRC32s.
package bps

import (
	"github.com/retrohack/rompatch/errs"
	"github.com/retrohack/rompatch/format"
	"github.com/retrohack/rompatch/internal/checksum"
	"github.com/retrohack/rompatch/internal/varint"
)

// Magic is the 4-byte BPS header.
var Magic = []byte("BPS1")

const trailerLen = 12

// Action is one of the four low-bit-tagged BPS actions.
type Action uint8

const (
	SourceRead Action = 0
	TargetRead Action = 1
	SourceCopy Action = 2
	TargetCopy Action = 3
)

// Codec implements format.Format for BPS patches.
type Codec struct{}

var _ format.Format = Codec{}

func (Codec) CanHandle(patch []byte) bool {
	return len(patch) >= len(Magic) && string(patch[:len(Magic)]) == string(Magic)
}

type header struct {
	sourceSize   uint64
	targetSize   uint64
	metadataSize uint64
	metadata     []byte
	bodyStart    int
}

func parseHeader(patch []byte) (header, error) {
	offset := len(Magic)
	sourceSize, offset, err := varint.DecodeBPS(patch, offset)
	if err != nil {
		return header{}, err
	}
	targetSize, offset, err := varint.DecodeBPS(patch, offset)
	if err != nil {
		return header{}, err
	}
	metadataSize, offset, err := varint.DecodeBPS(patch, offset)
	if err != nil {
		return header{}, err
	}
	if uint64(offset)+metadataSize > uint64(len(patch)) {
		return header{}, errs.At(errs.UnexpectedEOF, offset, "truncated metadata_bytes")
	}
	metadata := patch[offset : uint64(offset)+metadataSize]
	offset += int(metadataSize)
	return header{
		sourceSize:   sourceSize,
		targetSize:   targetSize,
		metadataSize: metadataSize,
		metadata:     metadata,
		bodyStart:    offset,
	}, nil
}

type trailer struct {
	sourceCRC uint32
	targetCRC uint32
	patchCRC  uint32
}

func parseTrailer(patch []byte) (trailer, error) {
	if len(patch) < trailerLen {
		return trailer{}, errs.At(errs.UnexpectedEOF, len(patch), "patch too short to contain trailer")
	}
	t := patch[len(patch)-trailerLen:]
	return trailer{
		sourceCRC: checksum.ReadUint32LE(t[0:4]),
		targetCRC: checksum.ReadUint32LE(t[4:8]),
		patchCRC:  checksum.ReadUint32LE(t[8:12]),
	}, nil
}

func (c Codec) Validate(patch []byte, limits format.Limits) error {
	_, err := c.run(nil, patch, limits, false)
	return err
}

func (c Codec) Metadata(patch []byte) (format.Metadata, error) {
	if !c.CanHandle(patch) {
		return format.Metadata{}, errs.At(errs.InvalidMagic, 0, "missing BPS1 magic")
	}
	h, err := parseHeader(patch)
	if err != nil {
		return format.Metadata{}, err
	}
	t, err := parseTrailer(patch)
	if err != nil {
		return format.Metadata{}, err
	}
	meta := format.Metadata{Kind: format.Bps, SourceSize: &h.sourceSize, TargetSize: &h.targetSize}
	meta.SourceChecksum = checksum.LEBytes(t.sourceCRC)
	meta.TargetChecksum = checksum.LEBytes(t.targetCRC)
	if h.metadataSize > 0 {
		// Verbatim, uninterpreted: BPS carries no fixed metadata schema
		// (some patches embed freeform XML/INI text here).
		meta.Extra = append(meta.Extra, format.ExtraField{Key: "metadata", Value: string(h.metadata)})
	}
	return meta, nil
}

func (c Codec) Apply(source []byte, patch []byte, limits format.Limits) ([]byte, error) {
	return c.run(source, patch, limits, true)
}

func (c Codec) Verify(source []byte, patch []byte, target []byte, limits format.Limits) error {
	if !c.CanHandle(patch) {
		return errs.At(errs.InvalidMagic, 0, "missing BPS1 magic")
	}
	t, err := parseTrailer(patch)
	if err != nil {
		return err
	}
	if got := checksum.CRC32(patch[:len(patch)-4]); got != t.patchCRC {
		return errs.New(errs.ChecksumMismatch, "patch_crc mismatch: patch is self-inconsistent")
	}
	if target != nil {
		if got := checksum.CRC32(target); got != t.targetCRC {
			return errs.New(errs.ChecksumMismatch, "target_crc mismatch")
		}
		return nil
	}
	if got := checksum.CRC32(source); got != t.sourceCRC {
		return errs.New(errs.ChecksumMismatch, "source_crc mismatch")
	}
	return nil
}

func (c Codec) run(source []byte, patch []byte, limits format.Limits, materialize bool) ([]byte, error) {
	if !c.CanHandle(patch) {
		return nil, errs.At(errs.InvalidMagic, 0, "missing BPS1 magic")
	}
	limits = limits.Resolve()
	h, err := parseHeader(patch)
	if err != nil {
		return nil, err
	}
	if h.targetSize > limits.MaxTargetSize {
		return nil, errs.New(errs.ResourceLimit, "declared target_size exceeds the configured ceiling")
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
		target = make([]byte, 0, h.targetSize)
	}
	outputOffset := uint64(0)
	var sourceRelative, targetRelative int64

	offset := h.bodyStart
	bodyEnd := len(patch) - trailerLen
	for offset < bodyEnd {
		control, next, err := varint.DecodeBPS(patch, offset)
		if err != nil {
			return nil, err
		}
		offset = next
		action := Action(control & 0x03)
		length := (control >> 2) + 1

		if outputOffset+length > h.targetSize {
			return nil, errs.At(errs.OutOfBounds, offset, "action would write past target_size")
		}

		switch action {
		case SourceRead:
			if materialize {
				if outputOffset+length > uint64(len(source)) {
					return nil, errs.At(errs.OutOfBounds, offset, "SourceRead reads past source bounds")
				}
				target = append(target, source[outputOffset:outputOffset+length]...)
			}
		case TargetRead:
			if uint64(offset)+length > uint64(bodyEnd) {
				return nil, errs.At(errs.UnexpectedEOF, offset, "TargetRead reads past patch body")
			}
			if materialize {
				target = append(target, patch[offset:offset+int(length)]...)
			}
			offset += int(length)
		case SourceCopy:
			d, next, err := varint.DecodeBPSSigned(patch, offset)
			if err != nil {
				return nil, err
			}
			offset = next
			sourceRelative += d
			if materialize {
				if sourceRelative < 0 || uint64(sourceRelative)+length > uint64(len(source)) {
					return nil, errs.At(errs.OutOfBounds, offset, "SourceCopy reads past source bounds")
				}
				target = append(target, source[sourceRelative:sourceRelative+int64(length)]...)
			}
			sourceRelative += int64(length)
		case TargetCopy:
			d, next, err := varint.DecodeBPSSigned(patch, offset)
			if err != nil {
				return nil, err
			}
			offset = next
			targetRelative += d
			if materialize {
				if targetRelative < 0 {
					return nil, errs.At(errs.OutOfBounds, offset, "TargetCopy reads before target start")
				}
				for i := uint64(0); i < length; i++ {
					src := targetRelative + int64(i)
					if src >= int64(len(target)) {
						return nil, errs.At(errs.OutOfBounds, offset, "TargetCopy reads ahead of bytes already written")
					}
					// Appending as we go, rather than slicing target[src]
					// up front, lets self-overlapping copies (src chasing
					// the write cursor by one byte) see earlier bytes this
					// same loop produced — the RLE-via-copy idiom.
					target = append(target, target[src])
				}
			}
			targetRelative += int64(length)
		}
		outputOffset += length
	}
	return target, nil
}
