package payload_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkerbot/git-store/payload"
)

func TestExtension(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"foo.yml":     "yml",
		"dir/foo.yml": "yml",
		"foo.bin":     "bin",
		"foo":         "",
		"a.b.yml":     "yml",
		".hidden":     "hidden",
	}
	for p, want := range cases {
		assert.Equal(t, want, payload.Extension(p), p)
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	t.Parallel()

	r := payload.NewRegistry()
	value := map[string]interface{}{"x": 1, "list": []interface{}{1, 2, 3}}

	data, err := r.Encode("a.yml", value)
	require.NoError(t, err)

	got, err := r.Decode("a.yml", data)
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestDefaultHandlerRoundTripsRawBytes(t *testing.T) {
	t.Parallel()

	r := payload.NewRegistry()
	raw := []byte{0x00, 0x01, 0xff, 'h', 'i'}

	data, err := r.Encode("foo.bin", raw)
	require.NoError(t, err)
	assert.Equal(t, raw, data)

	got, err := r.Decode("foo.bin", data)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestDefaultHandlerAppliesToExtensionlessPaths(t *testing.T) {
	t.Parallel()

	r := payload.NewRegistry()
	raw := []byte("no extension here")

	data, err := r.Encode("foo", raw)
	require.NoError(t, err)

	got, err := r.Decode("foo", data)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestBinaryHandlerRejectsNonBytes(t *testing.T) {
	t.Parallel()

	r := payload.NewRegistry()
	_, err := r.Encode("foo.bin", 42)
	require.ErrorIs(t, err, payload.ErrUnsupportedValue)
}

func TestRegisterOverridesAnExtension(t *testing.T) {
	t.Parallel()

	r := payload.NewRegistry()
	r.Register("yml", payload.BinaryHandler{})

	raw := []byte("not yaml at all, just bytes")
	data, err := r.Encode("a.yml", raw)
	require.NoError(t, err)
	assert.Equal(t, raw, data)
}
