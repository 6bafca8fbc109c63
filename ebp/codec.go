// Package ebp implements the EBP patch kind: an IPS patch with an optional
// JSON metadata object appended after the EOF terminator.
package ebp

import (
	"encoding/json"

	"github.com/retrohack/rompatch/errs"
	"github.com/retrohack/rompatch/format"
	"github.com/retrohack/rompatch/ips"
)

// Codec implements format.Format for EBP patches.
type Codec struct{}

var _ format.Format = Codec{}

// CanHandle reports whether patch is structurally an IPS patch (shares the
// "PATCH" magic) AND carries a JSON object after its EOF terminator. This
// is the tie-break §4.1 assigns to the detector; absent the JSON tail, the
// blob is plain IPS, not EBP.
func (Codec) CanHandle(patch []byte) bool {
	if !(ips.Codec{}).CanHandle(patch) {
		return false
	}
	end, err := ips.LocateTerminator(patch)
	if err != nil {
		return false
	}
	_, found := findJSONObject(patch[end:])
	return found
}

func (c Codec) Validate(patch []byte, limits format.Limits) error {
	if !c.CanHandle(patch) {
		return errs.New(errs.InvalidFormat, "not an EBP patch: missing JSON tail after EOF")
	}
	return (ips.Codec{}).Validate(patch, limits)
}

func (c Codec) Metadata(patch []byte) (format.Metadata, error) {
	if !c.CanHandle(patch) {
		return format.Metadata{}, errs.New(errs.InvalidFormat, "not an EBP patch: missing JSON tail after EOF")
	}
	end, err := ips.LocateTerminator(patch)
	if err != nil {
		return format.Metadata{}, err
	}
	meta := format.Metadata{Kind: format.Ebp}

	jsonText, found := findJSONObject(patch[end:])
	if !found {
		// A PATCH blob with no JSON tail is rejected above with
		// InvalidFormat (it is plain IPS), so this branch is only
		// reachable if CanHandle's scan and this one disagree; it returns
		// the metadata without JSON fields rather than an error.
		return meta, nil
	}
	meta.Extra = append(meta.Extra, format.ExtraField{Key: "json", Value: jsonText})

	// Best-effort field extraction. A malformed JSON tail is non-fatal
	// per spec §9: metadata stays absent, the patch is not rejected.
	var fields map[string]any
	if err := json.Unmarshal([]byte(jsonText), &fields); err == nil {
		for _, key := range []string{"title", "author", "description", "version"} {
			if v, ok := fields[key]; ok {
				if s, ok := v.(string); ok {
					meta.Extra = append(meta.Extra, format.ExtraField{Key: key, Value: s})
				}
			}
		}
	}
	return meta, nil
}

func (c Codec) Apply(source []byte, patch []byte, limits format.Limits) ([]byte, error) {
	if !c.CanHandle(patch) {
		return nil, errs.New(errs.InvalidFormat, "not an EBP patch: missing JSON tail after EOF")
	}
	// The JSON tail is metadata only; byte mutation is plain IPS semantics
	// applied to the region before EOF.
	return (ips.Codec{}).Apply(source, patch, limits)
}

func (Codec) Verify(source []byte, patch []byte, target []byte, limits format.Limits) error {
	return errs.New(errs.NotSupported, "ebp carries no checksum to verify against")
}

// findJSONObject scans tail (the bytes after IPS's EOF terminator) for the
// first '{' and reads until the matching '}' at depth zero. String
// contents are tracked only enough to skip escaped quotes, per spec §4.4's
// permissive behavior — this is not a full JSON tokenizer.
func findJSONObject(tail []byte) (string, bool) {
	start := -1
	for i, b := range tail {
		if b == '{' {
			start = i
			break
		}
	}
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(tail); i++ {
		b := tail[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return string(tail[start : i+1]), true
			}
		}
	}
	return "", false
}
