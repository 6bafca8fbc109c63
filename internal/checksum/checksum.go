// Package checksum wraps the standard library's CRC32, Adler-32, and MD5
// implementations with the exact parameters the patch formats in rompatch
// need (IEEE polynomial CRC32, zlib Adler-32, RFC 1321 MD5), plus little
// helpers for reading/writing digests in the byte orders each format uses.
package checksum

import (
	"crypto/md5"
	"encoding/binary"
	"hash/adler32"
	"hash/crc32"
)

// CRC32 returns the IEEE (polynomial 0xEDB88320) CRC32 of data, matching
// spec vector CRC32("") == 0x00000000 and CRC32("123456789") == 0x26394FCB.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// CRC32LE appends the little-endian encoding of CRC32(data) to dst.
func CRC32LE(dst []byte, data []byte) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], CRC32(data))
	return append(dst, b[:]...)
}

// ReadUint32LE reads a little-endian uint32 checksum field.
func ReadUint32LE(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// LEBytes returns the 4-byte little-endian encoding of a uint32 checksum,
// for embedding in a format.Metadata's SourceChecksum/TargetChecksum.
func LEBytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// Adler32 returns the zlib Adler-32 checksum of data.
func Adler32(data []byte) uint32 {
	return adler32.Checksum(data)
}

// MD5 returns the 16-byte RFC 1321 MD5 digest of data.
func MD5(data []byte) []byte {
	sum := md5.Sum(data)
	return sum[:]
}
