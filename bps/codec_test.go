package bps_test

import (
	"testing"

	"github.com/retrohack/rompatch/bps"
	"github.com/retrohack/rompatch/errs"
	"github.com/retrohack/rompatch/format"
	"github.com/retrohack/rompatch/internal/checksum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeBPSVarint(v uint64) []byte {
	var out []byte
	for {
		if v < 0x80 {
			out = append(out, byte(v)|0x80)
			return out
		}
		out = append(out, byte(v&0x7f))
		v = v>>7 - 1
	}
}

func encodeBPSSigned(v int64) []byte {
	var mag uint64
	var sign uint64
	if v < 0 {
		mag = uint64(-v)
		sign = 1
	} else {
		mag = uint64(v)
	}
	return encodeBPSVarint(mag<<1 | sign)
}

func action(a bps.Action, length uint64) []byte {
	return encodeBPSVarint(uint64(a) | (length-1)<<2)
}

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func buildPatch(source, target []byte, metadata string, body []byte) []byte {
	patch := append([]byte(nil), bps.Magic...)
	patch = append(patch, encodeBPSVarint(uint64(len(source)))...)
	patch = append(patch, encodeBPSVarint(uint64(len(target)))...)
	patch = append(patch, encodeBPSVarint(uint64(len(metadata)))...)
	patch = append(patch, []byte(metadata)...)
	patch = append(patch, body...)
	patch = append(patch, le32(checksum.CRC32(source))...)
	patch = append(patch, le32(checksum.CRC32(target))...)
	patch = append(patch, le32(checksum.CRC32(patch))...)
	return patch
}

func TestApplySourceReadAndTargetRead(t *testing.T) {
	source := []byte("ABCDEFGH")
	target := []byte("ABCDXYZH")

	var body []byte
	body = append(body, action(bps.SourceRead, 4)...) // "ABCD"
	body = append(body, action(bps.TargetRead, 3)...) // literal "XYZ"
	body = append(body, []byte("XYZ")...)
	body = append(body, action(bps.SourceRead, 1)...) // "H" from source[7]... actually offset tracking

	patch := buildPatch(source, target, "", body)

	out, err := bps.Codec{}.Apply(source, patch, format.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, target, out)
}

func TestApplySourceCopy(t *testing.T) {
	source := []byte("ABCDEFGH")
	target := []byte("CDEFCDEF")

	var body []byte
	body = append(body, action(bps.SourceCopy, 4)...)
	body = append(body, encodeBPSSigned(2)...) // source_relative_offset += 2 -> position 2
	body = append(body, action(bps.TargetCopy, 4)...)
	body = append(body, encodeBPSSigned(0)...) // target_relative_offset stays at 0

	patch := buildPatch(source, target, "", body)

	out, err := bps.Codec{}.Apply(source, patch, format.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, target, out)
}

func TestApplyTargetCopyRunLengthOverlap(t *testing.T) {
	source := []byte{}
	target := []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA}

	var body []byte
	body = append(body, action(bps.TargetRead, 1)...)
	body = append(body, byte(0xAA))
	body = append(body, action(bps.TargetCopy, 4)...)
	body = append(body, encodeBPSSigned(0)...) // target_relative_offset stays one byte behind the write cursor

	patch := buildPatch(source, target, "", body)

	out, err := bps.Codec{}.Apply(source, patch, format.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, target, out)
}

func TestMetadataExposesVerbatimBytes(t *testing.T) {
	patch := buildPatch(nil, nil, `<meta name="x"/>`, nil)

	meta, err := bps.Codec{}.Metadata(patch)
	require.NoError(t, err)
	value, ok := meta.Get("metadata")
	require.True(t, ok)
	assert.Equal(t, `<meta name="x"/>`, value)
}

func TestVerifyDetectsTargetMismatch(t *testing.T) {
	source := []byte("AB")
	target := []byte("CD")
	body := append(action(bps.TargetRead, 2), []byte("CD")...)
	patch := buildPatch(source, target, "", body)

	require.NoError(t, bps.Codec{}.Verify(source, patch, target, format.DefaultLimits()))

	badTarget := []byte("XY")
	err := bps.Codec{}.Verify(source, patch, badTarget, format.DefaultLimits())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ChecksumMismatch))
}

func TestTruncatedMagicIsInvalidMagic(t *testing.T) {
	_, err := bps.Codec{}.Apply(nil, []byte("BPS"), format.DefaultLimits())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidMagic))
}

func TestValidateDetectsPatchCRCMismatch(t *testing.T) {
	source := []byte("AB")
	target := []byte("CD")
	body := append(action(bps.TargetRead, 2), []byte("CD")...)
	patch := buildPatch(source, target, "", body)

	require.NoError(t, bps.Codec{}.Validate(patch, format.DefaultLimits()))

	patch[len(patch)-1] ^= 0xFF // corrupt patch_crc itself; action stream is still structurally sound
	err := bps.Codec{}.Validate(patch, format.DefaultLimits())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ChecksumMismatch))
}
