// Package rompatch dispatches across the eight patch-format codecs by
// magic-byte detection and exposes them through one uniform call surface.
// The package owns no I/O: callers supply byte slices and get byte slices
// back.
package rompatch

import (
	"github.com/retrohack/rompatch/aps"
	"github.com/retrohack/rompatch/bps"
	"github.com/retrohack/rompatch/ebp"
	"github.com/retrohack/rompatch/errs"
	"github.com/retrohack/rompatch/format"
	"github.com/retrohack/rompatch/ips"
	"github.com/retrohack/rompatch/ppf"
	"github.com/retrohack/rompatch/rup"
	"github.com/retrohack/rompatch/ups"
	"github.com/retrohack/rompatch/xdelta"
)

// dispatch pairs each format.Kind with the codec that implements it. EBP
// comes before IPS: both share the "PATCH" magic, and ebp.Codec.CanHandle
// additionally requires the JSON tail, so checking it first resolves the
// tie the way spec.md's detector table intends — a plain IPS patch never
// satisfies EBP's stricter test.
var dispatch = []struct {
	kind  format.Kind
	codec format.Format
}{
	{format.Ebp, ebp.Codec{}},
	{format.Ips, ips.Codec{}},
	{format.Bps, bps.Codec{}},
	{format.Ups, ups.Codec{}},
	{format.Aps, aps.Codec{}},
	{format.Rup, rup.Codec{}},
	{format.Ppf, ppf.Codec{}},
	{format.Xdelta, xdelta.Codec{}},
}

// Detect returns the first format.Kind whose codec claims the patch, and
// whether any codec did.
func Detect(patch []byte) (format.Kind, bool) {
	for _, d := range dispatch {
		if d.codec.CanHandle(patch) {
			return d.kind, true
		}
	}
	return format.Unknown, false
}

func lookup(patch []byte) (format.Kind, format.Format, error) {
	kind, ok := Detect(patch)
	if !ok {
		return format.Unknown, nil, errs.At(errs.InvalidMagic, 0, "patch does not match any known format")
	}
	for _, d := range dispatch {
		if d.kind == kind {
			return kind, d.codec, nil
		}
	}
	panic("rompatch: Detect returned a kind with no registered codec")
}

// Validate performs a full structural walk of patch without mutating any
// ROM buffer.
func Validate(patch []byte, limits format.Limits) (format.Kind, error) {
	kind, codec, err := lookup(patch)
	if err != nil {
		return kind, err
	}
	return kind, codec.Validate(patch, limits)
}

// Metadata parses header and trailer fields without executing the diff
// micro-program.
func Metadata(patch []byte) (format.Kind, format.Metadata, error) {
	kind, codec, err := lookup(patch)
	if err != nil {
		return kind, format.Metadata{}, err
	}
	meta, err := codec.Metadata(patch)
	return kind, meta, err
}

// Apply executes the diff program and returns the target.
func Apply(source, patch []byte, limits format.Limits) (format.Kind, []byte, error) {
	kind, codec, err := lookup(patch)
	if err != nil {
		return kind, nil, err
	}
	target, err := codec.Apply(source, patch, limits)
	return kind, target, err
}

// Verify is the checksum-only path; target == nil checks source only.
func Verify(source, patch, target []byte, limits format.Limits) (format.Kind, error) {
	kind, codec, err := lookup(patch)
	if err != nil {
		return kind, err
	}
	return kind, codec.Verify(source, patch, target, limits)
}
