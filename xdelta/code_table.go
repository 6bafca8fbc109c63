// Package xdelta implements the Xdelta patch kind: a decoder for VCDIFF
// (RFC 3284) delta streams, the format xdelta tools emit.
package xdelta

import "sync"

// InstType is one of the four VCDIFF instruction kinds.
type InstType uint8

const (
	InstNoop InstType = iota
	InstAdd
	InstRun
	InstCopy
)

// Instruction is one sub-instruction slot of a code table entry: a type, an
// embedded size (0 means "read an explicit size varint from the
// instructions section"), and — for COPY — an address mode.
type Instruction struct {
	Type InstType
	Size uint8
	Mode uint8
}

// CodeEntry is one 256-entry code table slot: up to two sub-instructions,
// the second of which is InstNoop when unused.
type CodeEntry [2]Instruction

var (
	defaultTableOnce sync.Once
	defaultTable     [256]CodeEntry
)

// DefaultCodeTable returns RFC 3284's default code table, building it on
// first use. Construction is idempotent and safe under concurrent first
// access from multiple goroutines: sync.Once guarantees every caller
// observes the fully built table.
func DefaultCodeTable() *[256]CodeEntry {
	defaultTableOnce.Do(buildDefaultCodeTable)
	return &defaultTable
}

func buildDefaultCodeTable() {
	noop := Instruction{Type: InstNoop}
	i := 0

	// index 0: RUN, size 0.
	defaultTable[i] = CodeEntry{{Type: InstRun, Size: 0}, noop}
	i++

	// indices 1..=18: ADD with sizes 0..=17.
	for size := uint8(0); size < 18; size++ {
		defaultTable[i] = CodeEntry{{Type: InstAdd, Size: size}, noop}
		i++
	}

	// indices 19..=162: COPY mode 0..=8, one entry with size 0 then sizes 4..=18.
	for mode := uint8(0); mode < 9; mode++ {
		defaultTable[i] = CodeEntry{{Type: InstCopy, Size: 0, Mode: mode}, noop}
		i++
		for size := uint8(4); size < 19; size++ {
			defaultTable[i] = CodeEntry{{Type: InstCopy, Size: size, Mode: mode}, noop}
			i++
		}
	}

	// indices 163..=234: paired (ADD size 1..=4) + (COPY size 4..=6, mode 0..=5).
	for mode := uint8(0); mode < 6; mode++ {
		for addSize := uint8(1); addSize < 5; addSize++ {
			for copySize := uint8(4); copySize < 7; copySize++ {
				defaultTable[i] = CodeEntry{
					{Type: InstAdd, Size: addSize},
					{Type: InstCopy, Size: copySize, Mode: mode},
				}
				i++
			}
		}
	}

	// indices 235..=246: paired (ADD size 1..=4) + (COPY size 4, mode 6..=8).
	for mode := uint8(6); mode < 9; mode++ {
		for addSize := uint8(1); addSize < 5; addSize++ {
			defaultTable[i] = CodeEntry{
				{Type: InstAdd, Size: addSize},
				{Type: InstCopy, Size: 4, Mode: mode},
			}
			i++
		}
	}

	// indices 247..=255: paired (COPY size 4, mode 0..=8) + (ADD size 1).
	for mode := uint8(0); mode < 9; mode++ {
		defaultTable[i] = CodeEntry{
			{Type: InstCopy, Size: 4, Mode: mode},
			{Type: InstAdd, Size: 1},
		}
		i++
	}

	if i != 256 {
		panic("xdelta: default code table construction produced wrong entry count")
	}
}
