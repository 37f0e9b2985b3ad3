package looseobj_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkerbot/git-store/looseobj"
	"github.com/thinkerbot/git-store/object"
	"github.com/thinkerbot/git-store/oid"
)

func newStore() *looseobj.Store {
	return looseobj.NewStore(afero.NewMemMapFs(), "/repo")
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	s := newStore()
	o := object.NewBlob([]byte("hello world\n"))

	id, err := s.Put(o)
	require.NoError(t, err)
	assert.Equal(t, o.ID(), id)

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, o.Body(), got.Body())
	assert.Equal(t, o.Kind(), got.Kind())
}

func TestPutIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newStore()
	o := object.NewBlob([]byte("same bytes"))

	id1, err := s.Put(o)
	require.NoError(t, err)
	id2, err := s.Put(o)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestHasReportsExistence(t *testing.T) {
	t.Parallel()

	s := newStore()
	o := object.NewBlob([]byte("content"))

	has, err := s.Has(o.ID())
	require.NoError(t, err)
	assert.False(t, has)

	_, err = s.Put(o)
	require.NoError(t, err)

	has, err = s.Has(o.ID())
	require.NoError(t, err)
	assert.True(t, has)
}

func TestGetMissingObjectReturnsErrNotFound(t *testing.T) {
	t.Parallel()

	s := newStore()
	o := object.NewBlob([]byte("never written"))

	_, err := s.Get(o.ID())
	require.ErrorIs(t, err, looseobj.ErrNotFound)
}

func TestGetRejectsFileWithoutAZlibHeader(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	s := looseobj.NewStore(fs, "/repo")

	id := object.NewBlob([]byte("whatever")).ID()
	sha := id.String()
	path := "/repo/objects/" + sha[:2] + "/" + sha[2:]
	require.NoError(t, fs.MkdirAll("/repo/objects/"+sha[:2], 0o755))
	require.NoError(t, afero.WriteFile(fs, path, []byte("not a zlib stream"), 0o644))

	_, err := s.Get(id)
	require.ErrorIs(t, err, looseobj.ErrNotLooseObject)
}

func TestWalkVisitsEveryWrittenObject(t *testing.T) {
	t.Parallel()

	s := newStore()
	want := make(map[string]bool)
	for _, content := range []string{"a", "b", "c"} {
		o := object.NewBlob([]byte(content))
		id, err := s.Put(o)
		require.NoError(t, err)
		want[id.String()] = true
	}

	got := make(map[string]bool)
	err := s.Walk(func(id oid.ID) error {
		got[id.String()] = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWalkStopsOnError(t *testing.T) {
	t.Parallel()

	s := newStore()
	for _, content := range []string{"x", "y"} {
		_, err := s.Put(object.NewBlob([]byte(content)))
		require.NoError(t, err)
	}

	boom := assert.AnError
	seen := 0
	err := s.Walk(func(id oid.ID) error {
		seen++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, seen)
}
