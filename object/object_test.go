package object_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkerbot/git-store/object"
)

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "commit", object.KindCommit.String())
	assert.Equal(t, "tree", object.KindTree.String())
	assert.Equal(t, "blob", object.KindBlob.String())
	assert.Equal(t, "tag", object.KindTag.String())
}

func TestKindFromString(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		desc     string
		in       string
		expected object.Kind
		wantErr  bool
	}{
		{desc: "commit", in: "commit", expected: object.KindCommit},
		{desc: "tree", in: "tree", expected: object.KindTree},
		{desc: "blob", in: "blob", expected: object.KindBlob},
		{desc: "tag", in: "tag", expected: object.KindTag},
		{desc: "unknown", in: "submodule", wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			k, err := object.KindFromString(tc.in)
			if tc.wantErr {
				require.ErrorIs(t, err, object.ErrUnknownKind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, k)
		})
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	t.Parallel()

	o := object.NewBlob([]byte("hello world\n"))
	compressed, err := o.Compress()
	require.NoError(t, err)

	decoded, err := object.Decompress(compressed)
	require.NoError(t, err)

	assert.Equal(t, o.ID(), decoded.ID())
	assert.Equal(t, o.Body(), decoded.Body())
	assert.Equal(t, object.KindBlob, decoded.Kind())
}

func TestIDForIsDeterministic(t *testing.T) {
	t.Parallel()

	body := []byte("same content")
	id1 := object.IDFor(object.KindBlob, body)
	id2 := object.IDFor(object.KindBlob, body)
	assert.Equal(t, id1, id2)

	otherKind := object.IDFor(object.KindTree, body)
	assert.NotEqual(t, id1, otherKind, "same bytes under a different kind must hash differently")
}

func TestHasZlibHeader(t *testing.T) {
	t.Parallel()

	o := object.NewBlob([]byte("x"))
	compressed, err := o.Compress()
	require.NoError(t, err)

	assert.True(t, object.HasZlibHeader(compressed))
	assert.False(t, object.HasZlibHeader([]byte("not zlib")))
	assert.False(t, object.HasZlibHeader([]byte{0x78}))
}

func TestParseRejectsMalformedFrames(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		desc string
		in   []byte
	}{
		{desc: "no space", in: []byte("blob10\x00helloworld")},
		{desc: "unknown kind", in: []byte("submodule 5\x00hello")},
		{desc: "size mismatch", in: []byte("blob 99\x00hello")},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			_, err := object.Parse(tc.in)
			require.Error(t, err)
		})
	}
}
