// Package rup implements the RUP (NINJA2) patch kind: a bidirectional
// XOR-delta format verified with MD5 digests rather than CRC32, carrying a
// richer metadata header (author, title, version, genre, description).
package rup

import (
	"github.com/retrohack/rompatch/errs"
	"github.com/retrohack/rompatch/format"
	"github.com/retrohack/rompatch/internal/checksum"
	"github.com/retrohack/rompatch/internal/varint"
)

// Magic is the 6-byte RUP header.
var Magic = []byte("NINJA2")

const md5Len = 16

// Codec implements format.Format for RUP patches.
type Codec struct{}

var _ format.Format = Codec{}

func (Codec) CanHandle(patch []byte) bool {
	return len(patch) >= len(Magic) && string(patch[:len(Magic)]) == string(Magic)
}

type header struct {
	command     byte
	author      string
	title       string
	version     string
	genre       string
	description string
	sourceSize  uint64
	targetSize  uint64
	sourceMD5   []byte
	targetMD5   []byte
	bodyStart   int
}

// readString reads a 1-byte-length-prefixed string, RUP's convention for
// every free-text metadata field.
func readString(patch []byte, offset int) (string, int, error) {
	if offset >= len(patch) {
		return "", offset, errs.At(errs.UnexpectedEOF, offset, "truncated string length prefix")
	}
	n := int(patch[offset])
	offset++
	if offset+n > len(patch) {
		return "", offset, errs.At(errs.UnexpectedEOF, offset, "truncated string body")
	}
	return string(patch[offset : offset+n]), offset + n, nil
}

func parseHeader(patch []byte) (header, error) {
	offset := len(Magic)
	if offset >= len(patch) {
		return header{}, errs.At(errs.UnexpectedEOF, offset, "truncated command byte")
	}
	h := header{command: patch[offset]}
	offset++

	var err error
	if h.author, offset, err = readString(patch, offset); err != nil {
		return header{}, err
	}
	if h.title, offset, err = readString(patch, offset); err != nil {
		return header{}, err
	}
	if h.version, offset, err = readString(patch, offset); err != nil {
		return header{}, err
	}
	if h.genre, offset, err = readString(patch, offset); err != nil {
		return header{}, err
	}
	if h.description, offset, err = readString(patch, offset); err != nil {
		return header{}, err
	}

	if offset+8 > len(patch) {
		return header{}, errs.At(errs.UnexpectedEOF, offset, "truncated source/target sizes")
	}
	h.sourceSize = uint64(checksum.ReadUint32LE(patch[offset : offset+4]))
	offset += 4
	h.targetSize = uint64(checksum.ReadUint32LE(patch[offset : offset+4]))
	offset += 4

	if offset+2*md5Len > len(patch) {
		return header{}, errs.At(errs.UnexpectedEOF, offset, "truncated MD5 digests")
	}
	h.sourceMD5 = append([]byte(nil), patch[offset:offset+md5Len]...)
	offset += md5Len
	h.targetMD5 = append([]byte(nil), patch[offset:offset+md5Len]...)
	offset += md5Len

	h.bodyStart = offset
	return h, nil
}

func (c Codec) Validate(patch []byte, limits format.Limits) error {
	_, err := c.run(nil, patch, limits, false)
	return err
}

func (c Codec) Metadata(patch []byte) (format.Metadata, error) {
	if !c.CanHandle(patch) {
		return format.Metadata{}, errs.At(errs.InvalidMagic, 0, "missing NINJA2 magic")
	}
	h, err := parseHeader(patch)
	if err != nil {
		return format.Metadata{}, err
	}
	meta := format.Metadata{
		Kind:           format.Rup,
		SourceSize:     &h.sourceSize,
		TargetSize:     &h.targetSize,
		SourceChecksum: h.sourceMD5,
		TargetChecksum: h.targetMD5,
	}
	if h.author != "" {
		meta.Extra = append(meta.Extra, format.ExtraField{Key: "author", Value: h.author})
	}
	if h.title != "" {
		meta.Extra = append(meta.Extra, format.ExtraField{Key: "title", Value: h.title})
	}
	if h.version != "" {
		meta.Extra = append(meta.Extra, format.ExtraField{Key: "version", Value: h.version})
	}
	if h.genre != "" {
		meta.Extra = append(meta.Extra, format.ExtraField{Key: "genre", Value: h.genre})
	}
	if h.description != "" {
		meta.Extra = append(meta.Extra, format.ExtraField{Key: "description", Value: h.description})
	}
	return meta, nil
}

func (c Codec) Apply(source []byte, patch []byte, limits format.Limits) ([]byte, error) {
	return c.run(source, patch, limits, true)
}

func (c Codec) Verify(source []byte, patch []byte, target []byte, limits format.Limits) error {
	if !c.CanHandle(patch) {
		return errs.At(errs.InvalidMagic, 0, "missing NINJA2 magic")
	}
	h, err := parseHeader(patch)
	if err != nil {
		return err
	}
	if target != nil {
		if got := checksum.MD5(target); string(got) != string(h.targetMD5) {
			return errs.New(errs.ChecksumMismatch, "target md5 mismatch")
		}
		return nil
	}
	if got := checksum.MD5(source); string(got) != string(h.sourceMD5) {
		return errs.New(errs.ChecksumMismatch, "source md5 mismatch")
	}
	return nil
}

// run applies the XOR-delta record stream. RUP is symmetric: applying the
// same patch to its own output restores the original (apply(apply(S,P),P)
// == S), since every record XORs a byte with itself-inverse data — there
// is no separate "undo" stream.
func (c Codec) run(source []byte, patch []byte, limits format.Limits, materialize bool) ([]byte, error) {
	if !c.CanHandle(patch) {
		return nil, errs.At(errs.InvalidMagic, 0, "missing NINJA2 magic")
	}
	limits = limits.Resolve()
	h, err := parseHeader(patch)
	if err != nil {
		return nil, err
	}
	if h.targetSize > limits.MaxTargetSize {
		return nil, errs.New(errs.ResourceLimit, "declared target size exceeds the configured ceiling")
	}

	var target []byte
	if materialize {
		target = make([]byte, h.targetSize)
		copy(target, source)
	}

	offset := h.bodyStart
	cursor := uint64(0)
	for offset < len(patch) {
		skip, next, err := varint.DecodeUPS(patch, offset)
		if err != nil {
			return nil, err
		}
		offset = next
		cursor += skip

		for {
			if offset >= len(patch) {
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
					return nil, errs.At(errs.OutOfBounds, offset, "xor record writes past target size")
				}
				target[cursor] ^= b
			} else if cursor >= h.targetSize {
				return nil, errs.At(errs.OutOfBounds, offset, "xor record writes past target size")
			}
			cursor++
		}
	}
	return target, nil
}
