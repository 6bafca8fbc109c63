package ups_test

import (
	"testing"

	"github.com/retrohack/rompatch/errs"
	"github.com/retrohack/rompatch/format"
	"github.com/retrohack/rompatch/internal/checksum"
	"github.com/retrohack/rompatch/ups"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func buildPatch(source, target []byte, records []byte) []byte {
	patch := append([]byte(nil), ups.Magic...)
	patch = append(patch, 0x80|byte(len(source))) // input_size VLV, single byte (<128)
	patch = append(patch, 0x80|byte(len(target))) // output_size VLV
	patch = append(patch, records...)

	patch = append(patch, le32(checksum.CRC32(source))...)
	patch = append(patch, le32(checksum.CRC32(target))...)
	patchCRC := checksum.CRC32(patch)
	patch = append(patch, le32(patchCRC)...)
	return patch
}

func TestApplyXORRecord(t *testing.T) {
	source := []byte{0x00, 0x00, 0x00, 0x00}
	target := []byte{0x00, 0xFF, 0x00, 0x00}

	// relative_offset=1 (VLV 0x81), then XOR byte 0xFF, terminator 0x00
	records := []byte{0x81, 0xFF, 0x00}
	patch := buildPatch(source, target, records)

	out, err := ups.Codec{}.Apply(source, patch, format.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, target, out)
}

func TestApplyIsSymmetric(t *testing.T) {
	source := []byte{0x11, 0x22, 0x33, 0x44}
	target := []byte{0x11, 0xDD, 0x33, 0x44}
	records := []byte{0x81, 0xFF, 0x00} // offset 1, xor 0xFF (0x22 ^ 0xFF = 0xDD)
	patch := buildPatch(source, target, records)

	forward, err := ups.Codec{}.Apply(source, patch, format.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, target, forward)

	backward, err := ups.Codec{}.Apply(target, patch, format.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, source, backward)
}

func TestVerifyDetectsCorruptPatch(t *testing.T) {
	source := []byte{0x00, 0x00}
	target := []byte{0x00, 0x01}
	patch := buildPatch(source, target, []byte{0x81, 0x01, 0x00})

	require.NoError(t, ups.Codec{}.Verify(source, patch, nil, format.DefaultLimits()))
	require.NoError(t, ups.Codec{}.Verify(nil, patch, target, format.DefaultLimits()))

	patch[len(patch)-5] ^= 0xFF // corrupt a trailer CRC byte, not patch_crc itself
	err := ups.Codec{}.Verify(source, patch, nil, format.DefaultLimits())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ChecksumMismatch))
}

func TestTruncatedMagicIsInvalidMagic(t *testing.T) {
	_, err := ups.Codec{}.Apply(nil, []byte("UPS"), format.DefaultLimits())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidMagic))
}

func TestValidateDetectsPatchCRCMismatch(t *testing.T) {
	source := []byte{0x00, 0x00}
	target := []byte{0x00, 0x01}
	patch := buildPatch(source, target, []byte{0x81, 0x01, 0x00})

	require.NoError(t, ups.Codec{}.Validate(patch, format.DefaultLimits()))

	patch[len(patch)-1] ^= 0xFF // corrupt patch_crc itself; record stream is still structurally sound
	err := ups.Codec{}.Validate(patch, format.DefaultLimits())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ChecksumMismatch))
}
