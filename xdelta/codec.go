package xdelta

import (
	"encoding/binary"

	"github.com/retrohack/rompatch/errs"
	"github.com/retrohack/rompatch/format"
	"github.com/retrohack/rompatch/internal/checksum"
	"github.com/retrohack/rompatch/internal/varint"
)

// Magic is the 3-byte VCDIFF identifier; the 4th header byte is the
// version and must be 0 (RFC 3284).
var Magic = [3]byte{0xD6, 0xC3, 0xC4}

const supportedVersion = 0

// Header indicator bits.
const (
	hdrDecompress = 0x01 // secondary compressor id follows; unsupported
	hdrCodeTable  = 0x02 // custom code table follows; unsupported
	hdrAppHeader  = 0x04 // application data length + bytes follow
)

// Window indicator bits.
const (
	winSource  = 0x01
	winTarget  = 0x02
	winAdler32 = 0x04
)

// Codec implements format.Format for VCDIFF/xdelta patches.
type Codec struct{}

var _ format.Format = Codec{}

func (c Codec) CanHandle(patch []byte) bool {
	return len(patch) >= 3 && patch[0] == Magic[0] && patch[1] == Magic[1] && patch[2] == Magic[2]
}

// window is the structural description of one VCDIFF window: enough to
// locate its sections without having executed its instructions.
type window struct {
	start              int // offset of win_indicator
	end                int // offset one past the last byte of this window (start + delta_length)
	indicator          byte
	hasSource          bool
	sourceIsTarget     bool
	segmentLength      uint64
	segmentPosition    uint64
	targetWindowLength uint64
	hasAdler32         bool
	adler32            uint32
	data               []byte
	instructions       []byte
	addresses          []byte
}

// parseHeader consumes the VCDIFF file header (magic, version, header
// indicator, and whatever optional sections it announces) and returns the
// offset of the first window.
func parseHeader(patch []byte) (int, error) {
	if len(patch) < 5 {
		return 0, errs.At(errs.InvalidMagic, 0, "xdelta patch shorter than the fixed header")
	}
	if patch[0] != Magic[0] || patch[1] != Magic[1] || patch[2] != Magic[2] {
		return 0, errs.At(errs.InvalidMagic, 0, "missing VCDIFF magic")
	}
	if patch[3] != supportedVersion {
		return 0, errs.At(errs.InvalidFormat, 3, "unsupported VCDIFF version")
	}
	offset := 4
	indicator := patch[offset]
	offset++
	if indicator&hdrDecompress != 0 {
		return 0, errs.At(errs.NotSupported, offset-1, "secondary compression is not supported")
	}
	if indicator&hdrCodeTable != 0 {
		return 0, errs.At(errs.NotSupported, offset-1, "custom code tables are not supported")
	}
	if indicator&^(hdrDecompress|hdrCodeTable|hdrAppHeader) != 0 {
		return 0, errs.At(errs.InvalidFormat, offset-1, "reserved header indicator bits set")
	}
	if indicator&hdrAppHeader != 0 {
		appLen, next, err := varint.DecodeVCDIFF(patch, offset)
		if err != nil {
			return 0, err
		}
		offset = next
		end := offset + int(appLen)
		if appLen > uint64(len(patch)) || end < offset || end > len(patch) {
			return 0, errs.At(errs.UnexpectedEOF, offset, "application header runs past end of patch")
		}
		offset = end
	}
	return offset, nil
}

// parseWindow reads one window's header and section boundaries starting at
// offset (the win_indicator byte), without executing its instructions.
func parseWindow(patch []byte, offset int) (window, error) {
	w := window{start: offset}
	if offset >= len(patch) {
		return w, errs.At(errs.UnexpectedEOF, offset, "truncated window indicator")
	}
	w.indicator = patch[offset]
	offset++
	if w.indicator&^(winSource|winTarget|winAdler32) != 0 {
		return w, errs.At(errs.InvalidFormat, offset-1, "reserved window indicator bits set")
	}
	hasSource := w.indicator&winSource != 0
	hasTarget := w.indicator&winTarget != 0
	if hasSource && hasTarget {
		return w, errs.At(errs.InvalidFormat, offset-1, "window indicator sets both VCD_SOURCE and VCD_TARGET")
	}
	w.hasSource = hasSource || hasTarget
	w.sourceIsTarget = hasTarget

	if w.hasSource {
		segLen, next, err := varint.DecodeVCDIFF(patch, offset)
		if err != nil {
			return w, err
		}
		offset = next
		segPos, next, err := varint.DecodeVCDIFF(patch, offset)
		if err != nil {
			return w, err
		}
		offset = next
		w.segmentLength = segLen
		w.segmentPosition = segPos
	}

	deltaLength, next, err := varint.DecodeVCDIFF(patch, offset)
	if err != nil {
		return w, err
	}
	offset = next
	w.end = w.start + int(deltaLength)
	if deltaLength == 0 || w.end < w.start || w.end > len(patch) {
		return w, errs.At(errs.OutOfBounds, offset, "window delta_length runs past end of patch")
	}

	targetLen, next, err := varint.DecodeVCDIFF(patch, offset)
	if err != nil {
		return w, err
	}
	offset = next
	w.targetWindowLength = targetLen

	if offset >= len(patch) {
		return w, errs.At(errs.UnexpectedEOF, offset, "truncated delta indicator")
	}
	deltaIndicator := patch[offset]
	offset++
	if deltaIndicator != 0 {
		return w, errs.At(errs.NotSupported, offset-1, "secondary-compressed delta sections are not supported")
	}

	addLen, next, err := varint.DecodeVCDIFF(patch, offset)
	if err != nil {
		return w, err
	}
	offset = next
	instLen, next, err := varint.DecodeVCDIFF(patch, offset)
	if err != nil {
		return w, err
	}
	offset = next
	addrLen, next, err := varint.DecodeVCDIFF(patch, offset)
	if err != nil {
		return w, err
	}
	offset = next

	if w.indicator&winAdler32 != 0 {
		if offset+4 > len(patch) {
			return w, errs.At(errs.UnexpectedEOF, offset, "truncated adler32 trailer")
		}
		w.hasAdler32 = true
		w.adler32 = binary.BigEndian.Uint32(patch[offset : offset+4])
		offset += 4
	}

	sections := []struct {
		length uint64
		dst    *[]byte
	}{
		{addLen, &w.data},
		{instLen, &w.instructions},
		{addrLen, &w.addresses},
	}
	for _, s := range sections {
		end := offset + int(s.length)
		if s.length > uint64(len(patch)) || end < offset || end > len(patch) {
			return w, errs.At(errs.UnexpectedEOF, offset, "window data section runs past end of patch")
		}
		*s.dst = patch[offset:end]
		offset = end
	}

	if offset != w.end {
		return w, errs.At(errs.InvalidFormat, offset, "window sections do not match declared delta_length")
	}
	return w, nil
}

// parseWindows walks every window in the patch, validating structure only.
func parseWindows(patch []byte) ([]window, error) {
	offset, err := parseHeader(patch)
	if err != nil {
		return nil, err
	}
	var windows []window
	for offset < len(patch) {
		w, err := parseWindow(patch, offset)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
		offset = w.end
	}
	return windows, nil
}

func (c Codec) Validate(patch []byte, limits format.Limits) error {
	if !c.CanHandle(patch) {
		return errs.At(errs.InvalidMagic, 0, "missing VCDIFF magic")
	}
	limits = limits.Resolve()
	windows, err := parseWindows(patch)
	if err != nil {
		return err
	}
	var total uint64
	for _, w := range windows {
		total += w.targetWindowLength
		if total > limits.MaxTargetSize {
			return errs.New(errs.ResourceLimit, "declared target size exceeds configured ceiling")
		}
	}
	return nil
}

func (c Codec) Metadata(patch []byte) (format.Metadata, error) {
	if !c.CanHandle(patch) {
		return format.Metadata{}, errs.At(errs.InvalidMagic, 0, "missing VCDIFF magic")
	}
	windows, err := parseWindows(patch)
	if err != nil {
		return format.Metadata{}, err
	}
	var total uint64
	for _, w := range windows {
		total += w.targetWindowLength
	}
	return format.Metadata{Kind: format.Xdelta, TargetSize: &total}, nil
}

func (c Codec) Apply(source []byte, patch []byte, limits format.Limits) ([]byte, error) {
	if !c.CanHandle(patch) {
		return nil, errs.At(errs.InvalidMagic, 0, "missing VCDIFF magic")
	}
	limits = limits.Resolve()
	windows, err := parseWindows(patch)
	if err != nil {
		return nil, err
	}

	var target []byte
	cache := NewAddressCache(DefaultNearSize, DefaultSameSize)
	table := DefaultCodeTable()

	for _, w := range windows {
		if uint64(len(target))+w.targetWindowLength > limits.MaxTargetSize {
			return nil, errs.New(errs.ResourceLimit, "declared target size exceeds configured ceiling")
		}
		var segment []byte
		if w.hasSource {
			end := w.segmentPosition + w.segmentLength
			var base []byte
			if w.sourceIsTarget {
				base = target
			} else {
				base = source
			}
			if end > uint64(len(base)) {
				return nil, errs.At(errs.OutOfBounds, w.start, "window source segment extends past available buffer")
			}
			segment = base[w.segmentPosition:end]
		}

		cache.Reset()
		windowOut, err := executeWindow(w, segment, cache, table)
		if err != nil {
			return nil, err
		}
		if uint64(len(windowOut)) != w.targetWindowLength {
			return nil, errs.At(errs.InvalidFormat, w.start, "window produced a different length than declared")
		}
		if w.hasAdler32 && checksum.Adler32(windowOut) != w.adler32 {
			return nil, errs.At(errs.ChecksumMismatch, w.start, "window adler32 mismatch")
		}
		target = append(target, windowOut...)
	}
	return target, nil
}

// executeWindow runs one window's instruction stream against its source
// segment, producing exactly targetWindowLength bytes.
func executeWindow(w window, segment []byte, cache *AddressCache, table *[256]CodeEntry) ([]byte, error) {
	out := make([]byte, 0, w.targetWindowLength)
	dataPos, instPos, addrPos := 0, 0, 0

	readInstByte := func() (byte, error) {
		if instPos >= len(w.instructions) {
			return 0, errs.At(errs.UnexpectedEOF, w.start, "instructions section exhausted")
		}
		b := w.instructions[instPos]
		instPos++
		return b, nil
	}
	readInstVarint := func() (uint64, error) {
		v, next, err := varint.DecodeVCDIFF(w.instructions, instPos)
		if err != nil {
			return 0, err
		}
		instPos = next
		return v, nil
	}
	readAddrVarint := func() (uint64, error) {
		v, next, err := varint.DecodeVCDIFF(w.addresses, addrPos)
		if err != nil {
			return 0, err
		}
		addrPos = next
		return v, nil
	}
	readAddrByte := func() (uint64, error) {
		if addrPos >= len(w.addresses) {
			return 0, errs.At(errs.UnexpectedEOF, w.start, "addresses section exhausted")
		}
		b := w.addresses[addrPos]
		addrPos++
		return uint64(b), nil
	}
	takeData := func(n int) ([]byte, error) {
		if dataPos+n > len(w.data) || n < 0 {
			return nil, errs.At(errs.UnexpectedEOF, w.start, "data section exhausted")
		}
		b := w.data[dataPos : dataPos+n]
		dataPos += n
		return b, nil
	}

	resolveCopySource := func(addr uint64, n int) ([]byte, error) {
		result := make([]byte, n)
		for i := 0; i < n; i++ {
			a := addr + uint64(i)
			var b byte
			switch {
			case a < uint64(len(segment)):
				b = segment[a]
			case a-uint64(len(segment)) < uint64(len(out)):
				b = out[a-uint64(len(segment))]
			default:
				return nil, errs.At(errs.OutOfBounds, w.start, "copy address outside source segment and produced target")
			}
			result[i] = b
			out = append(out, b)
		}
		return result, nil
	}

	runInstruction := func(inst Instruction) error {
		size := uint64(inst.Size)
		if size == 0 {
			v, err := readInstVarint()
			if err != nil {
				return err
			}
			size = v
		}
		if uint64(len(out))+size > w.targetWindowLength {
			return errs.At(errs.OutOfBounds, w.start, "instruction would exceed declared target window length")
		}
		switch inst.Type {
		case InstNoop:
			return nil
		case InstAdd:
			chunk, err := takeData(int(size))
			if err != nil {
				return err
			}
			out = append(out, chunk...)
			return nil
		case InstRun:
			chunk, err := takeData(1)
			if err != nil {
				return err
			}
			v := chunk[0]
			for i := uint64(0); i < size; i++ {
				out = append(out, v)
			}
			return nil
		case InstCopy:
			addr, err := resolveCopyAddress(inst.Mode, cache, uint64(len(segment))+uint64(len(out)), readAddrVarint, readAddrByte)
			if err != nil {
				return err
			}
			if _, err := resolveCopySource(addr, int(size)); err != nil {
				return err
			}
			cache.Update(addr)
			return nil
		default:
			return errs.New(errs.InvalidFormat, "unknown instruction type in code table")
		}
	}

	for uint64(len(out)) < w.targetWindowLength {
		opcode, err := readInstByte()
		if err != nil {
			return nil, err
		}
		entry := table[opcode]
		for _, inst := range entry {
			if inst.Type == InstNoop {
				continue
			}
			if err := runInstruction(inst); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// resolveCopyAddress implements the 9-mode address resolution of §4.12.
func resolveCopyAddress(mode uint8, cache *AddressCache, here uint64, readVarint func() (uint64, error), readByte func() (uint64, error)) (uint64, error) {
	m := int(mode)
	switch {
	case m == 0:
		k, err := readVarint()
		if err != nil {
			return 0, err
		}
		return k, nil
	case m == 1:
		k, err := readVarint()
		if err != nil {
			return 0, err
		}
		if k > here {
			return 0, errs.New(errs.OutOfBounds, "here-relative copy address underflowed")
		}
		return here - k, nil
	case m >= 2 && m < 2+cache.NearSize():
		k, err := readVarint()
		if err != nil {
			return 0, err
		}
		return cache.Near(m-2) + k, nil
	case m >= 2+cache.NearSize() && m < 2+cache.NearSize()+cache.SameSize():
		k, err := readByte()
		if err != nil {
			return 0, err
		}
		idx := (m-(2+cache.NearSize()))*256 + int(k)
		return cache.Same(idx), nil
	default:
		return 0, errs.New(errs.InvalidFormat, "copy address mode outside configured cache ranges")
	}
}

func (c Codec) Verify(source []byte, patch []byte, target []byte, limits format.Limits) error {
	if !c.CanHandle(patch) {
		return errs.At(errs.InvalidMagic, 0, "missing VCDIFF magic")
	}
	if target == nil {
		return errs.New(errs.NotSupported, "xdelta carries no whole-source checksum to verify against")
	}
	windows, err := parseWindows(patch)
	if err != nil {
		return err
	}
	checkedAny := false
	var offset uint64
	for _, w := range windows {
		end := offset + w.targetWindowLength
		if end > uint64(len(target)) {
			return errs.New(errs.OutOfBounds, "declared target window extends past supplied target buffer")
		}
		if w.hasAdler32 {
			checkedAny = true
			if checksum.Adler32(target[offset:end]) != w.adler32 {
				return errs.At(errs.ChecksumMismatch, w.start, "window adler32 mismatch")
			}
		}
		offset = end
	}
	if !checkedAny {
		return errs.New(errs.NotSupported, "no window in this patch carries an adler32 checksum")
	}
	if offset != uint64(len(target)) {
		return errs.New(errs.InvalidFormat, "declared total target length does not match supplied target buffer")
	}
	return nil
}
