package rup_test

import (
	"testing"

	"github.com/retrohack/rompatch/errs"
	"github.com/retrohack/rompatch/format"
	"github.com/retrohack/rompatch/internal/checksum"
	"github.com/retrohack/rompatch/rup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pstr(s string) []byte {
	return append([]byte{byte(len(s))}, []byte(s)...)
}

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func buildPatch(source, target []byte, records []byte) []byte {
	patch := append([]byte(nil), rup.Magic...)
	patch = append(patch, 0x01) // command
	patch = append(patch, pstr("someone")...)
	patch = append(patch, pstr("Example Hack")...)
	patch = append(patch, pstr("1.0")...)
	patch = append(patch, pstr("Action")...)
	patch = append(patch, pstr("a hack")...)
	patch = append(patch, le32(uint32(len(source)))...)
	patch = append(patch, le32(uint32(len(target)))...)
	patch = append(patch, checksum.MD5(source)...)
	patch = append(patch, checksum.MD5(target)...)
	patch = append(patch, records...)
	return patch
}

func TestApplyAndUndoRoundTrip(t *testing.T) {
	source := []byte{0x00, 0x00, 0x00, 0x00}
	target := []byte{0x00, 0xFF, 0x00, 0x00}

	// relative_offset=1 (VLV 0x81), xor byte 0xFF, terminator 0x00
	records := []byte{0x81, 0xFF, 0x00}
	patch := buildPatch(source, target, records)

	applied, err := rup.Codec{}.Apply(source, patch, format.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, target, applied)

	undone, err := rup.Codec{}.Apply(applied, patch, format.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, source, undone)
}

func TestMetadataFields(t *testing.T) {
	patch := buildPatch([]byte{0x00}, []byte{0x01}, []byte{0x80})

	meta, err := rup.Codec{}.Metadata(patch)
	require.NoError(t, err)
	assert.Equal(t, format.Rup, meta.Kind)

	author, ok := meta.Get("author")
	require.True(t, ok)
	assert.Equal(t, "someone", author)
	genre, ok := meta.Get("genre")
	require.True(t, ok)
	assert.Equal(t, "Action", genre)
}

func TestVerifyUsesMD5(t *testing.T) {
	source := []byte{0x01, 0x02}
	target := []byte{0x01, 0x03}
	patch := buildPatch(source, target, []byte{0x81, 0x01, 0x00})

	require.NoError(t, rup.Codec{}.Verify(source, patch, nil, format.DefaultLimits()))
	require.NoError(t, rup.Codec{}.Verify(nil, patch, target, format.DefaultLimits()))

	err := rup.Codec{}.Verify([]byte{0xFF, 0xFF}, patch, nil, format.DefaultLimits())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ChecksumMismatch))
}

func TestTruncatedMagicIsInvalidMagic(t *testing.T) {
	_, err := rup.Codec{}.Apply(nil, []byte("NINJA"), format.DefaultLimits())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidMagic))
}
