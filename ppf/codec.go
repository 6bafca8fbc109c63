// Package ppf implements the PPF patch kind across its three wire
// revisions (PPF1/PPF2/PPF3), which share a magic-plus-description prefix
// but diverge in offset width, optional block-check region, and optional
// undo data per record.
package ppf

import (
	"github.com/retrohack/rompatch/errs"
	"github.com/retrohack/rompatch/format"
)

const descriptionLen = 50
const blockCheckLen = 1024
const blockCheckSourceOffset = 0x9320

// Version is the PPF wire revision.
type Version int

const (
	V1 Version = 1
	V2 Version = 2
	V3 Version = 3
)

// PPF image types, v3 only.
const (
	ImagePBP    = 0 // block-check region present
	ImageBINISO = 1 // no block-check
)

// Codec implements format.Format for PPF patches.
type Codec struct{}

var _ format.Format = Codec{}

func (Codec) CanHandle(patch []byte) bool {
	if len(patch) < 5 {
		return false
	}
	prefix := string(patch[:3])
	if prefix != "PPF" {
		return false
	}
	switch patch[3] {
	case '1', '2', '3':
	default:
		return false
	}
	return patch[4] == '0'
}

type header struct {
	version       Version
	description   string
	imageType     byte
	hasBlockCheck bool
	blockCheck    []byte
	hasUndo       bool
	offsetWidth   int
	recordsOffset int
}

func parseHeader(patch []byte) (header, error) {
	h := header{}
	switch patch[3] {
	case '1':
		h.version = V1
	case '2':
		h.version = V2
	case '3':
		h.version = V3
	}

	offset := 5
	switch h.version {
	case V1:
		if offset+descriptionLen > len(patch) {
			return header{}, errs.At(errs.CorruptedData, offset, "truncated PPF1 description region")
		}
		h.description = string(patch[offset : offset+descriptionLen])
		offset += descriptionLen
		h.offsetWidth = 4

	case V2:
		if offset+1 > len(patch) {
			return header{}, errs.At(errs.UnexpectedEOF, offset, "truncated encoding_method")
		}
		offset++ // encoding_method
		if offset+descriptionLen > len(patch) {
			return header{}, errs.At(errs.CorruptedData, offset, "truncated PPF2 description region")
		}
		h.description = string(patch[offset : offset+descriptionLen])
		offset += descriptionLen
		if offset+8 > len(patch) {
			return header{}, errs.At(errs.UnexpectedEOF, offset, "truncated image_size")
		}
		offset += 8 // image_size, not needed to apply records
		h.hasBlockCheck = true
		if offset+blockCheckLen > len(patch) {
			return header{}, errs.At(errs.UnexpectedEOF, offset, "truncated block-check region")
		}
		h.blockCheck = patch[offset : offset+blockCheckLen]
		offset += blockCheckLen
		h.offsetWidth = 4

	case V3:
		if offset+1 > len(patch) {
			return header{}, errs.At(errs.UnexpectedEOF, offset, "truncated encoding_method")
		}
		offset++ // encoding_method
		if offset+descriptionLen > len(patch) {
			return header{}, errs.At(errs.CorruptedData, offset, "truncated PPF3 description region")
		}
		h.description = string(patch[offset : offset+descriptionLen])
		offset += descriptionLen
		if offset+4 > len(patch) {
			return header{}, errs.At(errs.UnexpectedEOF, offset, "truncated PPF3 flags")
		}
		h.imageType = patch[offset]
		blockCheckFlag := patch[offset+1]
		undoFlag := patch[offset+2]
		// dummy byte at offset+3, intentionally unread
		offset += 4
		h.hasBlockCheck = blockCheckFlag != 0
		h.hasUndo = undoFlag != 0
		if h.hasBlockCheck {
			if offset+blockCheckLen > len(patch) {
				return header{}, errs.At(errs.UnexpectedEOF, offset, "truncated block-check region")
			}
			h.blockCheck = patch[offset : offset+blockCheckLen]
			offset += blockCheckLen
		}
		h.offsetWidth = 8
	}

	h.recordsOffset = offset
	return h, nil
}

func readOffset(patch []byte, offset, width int) (uint64, error) {
	if offset+width > len(patch) {
		return 0, errs.At(errs.UnexpectedEOF, offset, "truncated record offset")
	}
	var v uint64
	for i := 0; i < width; i++ {
		v |= uint64(patch[offset+i]) << (8 * i)
	}
	return v, nil
}

func (c Codec) Validate(patch []byte, limits format.Limits) error {
	_, err := c.run(nil, patch, limits, false)
	return err
}

func (c Codec) Metadata(patch []byte) (format.Metadata, error) {
	if !c.CanHandle(patch) {
		return format.Metadata{}, errs.At(errs.InvalidMagic, 0, "missing PPF magic")
	}
	h, err := parseHeader(patch)
	if err != nil {
		return format.Metadata{}, err
	}
	meta := format.Metadata{Kind: format.Ppf}
	meta.Extra = append(meta.Extra, format.ExtraField{Key: "description", Value: h.description})
	switch h.version {
	case V1:
		meta.Extra = append(meta.Extra, format.ExtraField{Key: "version", Value: "PPF1"})
	case V2:
		meta.Extra = append(meta.Extra, format.ExtraField{Key: "version", Value: "PPF2"})
	case V3:
		meta.Extra = append(meta.Extra, format.ExtraField{Key: "version", Value: "PPF3"})
		if h.imageType == ImagePBP {
			meta.Extra = append(meta.Extra, format.ExtraField{Key: "image_type", Value: "pbp"})
		} else {
			meta.Extra = append(meta.Extra, format.ExtraField{Key: "image_type", Value: "bin_iso"})
		}
	}
	return meta, nil
}

func (c Codec) Apply(source []byte, patch []byte, limits format.Limits) ([]byte, error) {
	return c.run(source, patch, limits, true)
}

// Verify performs the optional block-check consistency comparison against
// source: a fixed 1024-byte region at a conventional file offset, not a
// cryptographic hash. PPF carries no target checksum at all.
func (c Codec) Verify(source []byte, patch []byte, target []byte, limits format.Limits) error {
	if !c.CanHandle(patch) {
		return errs.At(errs.InvalidMagic, 0, "missing PPF magic")
	}
	if target != nil {
		return errs.New(errs.NotSupported, "ppf carries no target checksum to verify against")
	}
	h, err := parseHeader(patch)
	if err != nil {
		return err
	}
	if h.version == V3 && h.imageType != ImagePBP {
		return errs.New(errs.NotSupported, "BIN/ISO PPF3 patches carry no block-check region")
	}
	if !h.hasBlockCheck {
		return errs.New(errs.NotSupported, "patch carries no block-check region")
	}
	if source == nil {
		return errs.New(errs.NotSupported, "block-check verification requires a source buffer")
	}
	if len(source) < blockCheckSourceOffset+blockCheckLen {
		return errs.New(errs.ChecksumMismatch, "source too small to contain the block-check region")
	}
	region := source[blockCheckSourceOffset : blockCheckSourceOffset+blockCheckLen]
	if string(region) != string(h.blockCheck) {
		return errs.New(errs.ChecksumMismatch, "block-check region does not match source")
	}
	return nil
}

func (c Codec) run(source []byte, patch []byte, limits format.Limits, materialize bool) ([]byte, error) {
	if !c.CanHandle(patch) {
		return nil, errs.At(errs.InvalidMagic, 0, "missing PPF magic")
	}
	limits = limits.Resolve()
	h, err := parseHeader(patch)
	if err != nil {
		return nil, err
	}

	var target []byte
	if materialize {
		target = append([]byte(nil), source...)
	} else {
		target = make([]byte, len(source))
	}

	offset := h.recordsOffset
	for offset < len(patch) {
		recOffset, err := readOffset(patch, offset, h.offsetWidth)
		if err != nil {
			return nil, err
		}
		offset += h.offsetWidth

		if offset+1 > len(patch) {
			return nil, errs.At(errs.UnexpectedEOF, offset, "truncated record length")
		}
		length := int(patch[offset])
		offset++

		if offset+length > len(patch) {
			return nil, errs.At(errs.UnexpectedEOF, offset, "truncated record data")
		}
		data := patch[offset : offset+length]
		offset += length

		if h.hasUndo {
			if offset+length > len(patch) {
				return nil, errs.At(errs.UnexpectedEOF, offset, "truncated undo data")
			}
			offset += length // undo data is not needed to apply forward
		}

		need := recOffset + uint64(length)
		if need > limits.MaxTargetSize {
			return nil, errs.New(errs.ResourceLimit, "record would grow target past the configured ceiling")
		}
		if need > uint64(len(target)) {
			grown := make([]byte, need)
			copy(grown, target)
			target = grown
		}
		if materialize {
			copy(target[recOffset:need], data)
		}
	}
	return target, nil
}
