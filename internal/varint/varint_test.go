package varint_test

import (
	"testing"

	"github.com/retrohack/rompatch/errs"
	"github.com/retrohack/rompatch/internal/varint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUPSBoundaryVectors(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want uint64
	}{
		{"zero", []byte{0x80}, 0},
		{"one", []byte{0x81}, 1},
		{"max-single-byte", []byte{0xFF}, 127},
		{"two-byte-128", []byte{0x00, 0x80}, 128},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, next, err := varint.DecodeUPS(c.in, 0)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
			assert.Equal(t, len(c.in), next)
		})
	}
}

func TestDecodeBPSMatchesUPSShape(t *testing.T) {
	got, next, err := varint.DecodeBPS([]byte{0x00, 0x80}, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(128), got)
	assert.Equal(t, 2, next)
}

func TestDecodeBPSSigned(t *testing.T) {
	// magnitude 5, negative: (5<<1)|1 = 11 = 0x0b, terminated
	got, _, err := varint.DecodeBPSSigned([]byte{0x8b}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(-5), got)

	// magnitude 5, positive: 5<<1 = 10 = 0x0a
	got, _, err = varint.DecodeBPSSigned([]byte{0x8a}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)
}

func TestDecodeVCDIFFBigEndian(t *testing.T) {
	// 300 = 0b1_0010_1100 -> split into 7-bit groups big-endian: 0000010 0101100
	// first byte continuation: 0x80 | 0000010 = 0x82, final byte: 0x2c
	got, next, err := varint.DecodeVCDIFF([]byte{0x82, 0x2c}, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), got)
	assert.Equal(t, 2, next)
}

func TestDecodeVCDIFFSingleByte(t *testing.T) {
	got, next, err := varint.DecodeVCDIFF([]byte{0x7f}, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(127), got)
	assert.Equal(t, 1, next)
}

func TestTruncatedVarintsAreUnexpectedEOF(t *testing.T) {
	_, _, err := varint.DecodeUPS([]byte{0x00}, 0)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.UnexpectedEOF))

	_, _, err = varint.DecodeBPS([]byte{0x00}, 0)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.UnexpectedEOF))

	_, _, err = varint.DecodeVCDIFF([]byte{0x80}, 0)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.UnexpectedEOF))
}

func TestVarintOverflowGuard(t *testing.T) {
	neverTerminatesUPS := make([]byte, 20) // high bit clear -> UPS/BPS keep reading
	neverTerminatesVCDIFF := make([]byte, 20)
	for i := range neverTerminatesVCDIFF {
		neverTerminatesVCDIFF[i] = 0x80 // high bit set -> VCDIFF keeps reading
	}

	_, _, err := varint.DecodeUPS(neverTerminatesUPS, 0)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.VarintOverflow))

	_, _, err = varint.DecodeBPS(neverTerminatesUPS, 0)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.VarintOverflow))

	_, _, err = varint.DecodeVCDIFF(neverTerminatesVCDIFF, 0)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.VarintOverflow))
}
