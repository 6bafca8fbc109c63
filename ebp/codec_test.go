package ebp_test

import (
	"testing"

	"github.com/retrohack/rompatch/ebp"
	"github.com/retrohack/rompatch/errs"
	"github.com/retrohack/rompatch/format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPatch(json string) []byte {
	patch := []byte("PATCH")
	patch = append(patch, 0x00, 0x00, 0x00) // offset 0
	patch = append(patch, 0x00, 0x01)       // size 1
	patch = append(patch, 0xFF)             // data
	patch = append(patch, 'E', 'O', 'F')
	if json != "" {
		patch = append(patch, []byte(json)...)
	}
	return patch
}

func TestCanHandleRequiresJSONTail(t *testing.T) {
	withJSON := buildPatch(`{"title":"Example Hack"}`)
	assert.True(t, ebp.Codec{}.CanHandle(withJSON))

	plain := buildPatch("")
	assert.False(t, ebp.Codec{}.CanHandle(plain))
}

func TestMetadataExtractsFields(t *testing.T) {
	patch := buildPatch(`{"title":"Example Hack","author":"someone","version":"1.0"}`)

	meta, err := ebp.Codec{}.Metadata(patch)
	require.NoError(t, err)
	assert.Equal(t, format.Ebp, meta.Kind)

	values := map[string]string{}
	for _, f := range meta.Extra {
		values[f.Key] = f.Value
	}
	assert.Equal(t, `{"title":"Example Hack","author":"someone","version":"1.0"}`, values["json"])
	assert.Equal(t, "Example Hack", values["title"])
	assert.Equal(t, "someone", values["author"])
	assert.Equal(t, "1.0", values["version"])
}

func TestMetadataRejectsMissingJSON(t *testing.T) {
	patch := buildPatch("")
	_, err := ebp.Codec{}.Metadata(patch)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidFormat))
}

func TestApplyDelegatesToIPS(t *testing.T) {
	source := make([]byte, 4)
	patch := buildPatch(`{"title":"x"}`)

	target, err := ebp.Codec{}.Apply(source, patch, format.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), target[0])
}

func TestVerifyIsNotSupported(t *testing.T) {
	patch := buildPatch(`{"title":"x"}`)
	err := ebp.Codec{}.Verify(nil, patch, nil, format.DefaultLimits())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotSupported))
}
