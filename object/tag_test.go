package object_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkerbot/git-store/object"
)

func TestTagToObjectRoundTrip(t *testing.T) {
	t.Parallel()

	target := object.IDFor(object.KindCommit, []byte("commit"))
	tagger := testIdentity(t)

	tag := object.NewTag(object.TagParams{
		Target:  target,
		Kind:    object.KindCommit,
		Name:    "v1.0.0",
		Tagger:  tagger,
		Message: "first release\n",
	})

	o := tag.ToObject()
	assert.Equal(t, object.KindTag, o.Kind())

	decoded, err := object.TagFromObject(o)
	require.NoError(t, err)

	assert.Equal(t, tag.Target(), decoded.Target())
	assert.Equal(t, tag.Kind(), decoded.Kind())
	assert.Equal(t, tag.Name(), decoded.Name())
	assert.Equal(t, tag.Message(), decoded.Message())
	assert.Equal(t, tag.Tagger().Name, decoded.Tagger().Name)
}

func TestTagFromObjectRejectsMissingFields(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		desc string
		body string
	}{
		{desc: "no tagger", body: "object " + object.IDFor(object.KindCommit, []byte("c")).String() + "\ntype commit\ntag v1\n\nmsg"},
		{desc: "no target", body: "type commit\ntag v1\ntagger Ada <ada@example.com> 1566115917 -0700\n\nmsg"},
		{desc: "invalid type", body: "object " + object.IDFor(object.KindCommit, []byte("c")).String() + "\ntype bogus\ntag v1\ntagger Ada <ada@example.com> 1566115917 -0700\n\nmsg"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			o := object.New(object.KindTag, []byte(tc.body))
			_, err := object.TagFromObject(o)
			require.ErrorIs(t, err, object.ErrTagInvalid)
		})
	}
}

func TestTagFromObjectRejectsWrongKind(t *testing.T) {
	t.Parallel()

	o := object.NewBlob([]byte("not a tag"))
	_, err := object.TagFromObject(o)
	require.ErrorIs(t, err, object.ErrTagInvalid)
}
