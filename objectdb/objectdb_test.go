package objectdb_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkerbot/git-store/object"
	"github.com/thinkerbot/git-store/objectdb"
)

func TestPutThenGetRoundTrips(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	db, err := objectdb.Open(fs, "/repo")
	require.NoError(t, err)
	defer db.Close()

	blob := object.NewBlob([]byte("hello"))
	id, err := db.Put(blob)
	require.NoError(t, err)
	assert.Equal(t, blob.ID(), id)

	got, err := db.Get(id)
	require.NoError(t, err)
	assert.Equal(t, blob.Body(), got.Body())
	assert.Equal(t, object.KindBlob, got.Kind())
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	db, err := objectdb.Open(fs, "/repo")
	require.NoError(t, err)
	defer db.Close()

	missing := object.IDFor(object.KindBlob, []byte("nowhere"))
	_, err = db.Get(missing)
	require.ErrorIs(t, err, objectdb.ErrNotFound)
}

func TestHasReflectsCacheAndLooseStore(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	db, err := objectdb.Open(fs, "/repo")
	require.NoError(t, err)
	defer db.Close()

	blob := object.NewBlob([]byte("present"))
	has, err := db.Has(blob.ID())
	require.NoError(t, err)
	assert.False(t, has)

	_, err = db.Put(blob)
	require.NoError(t, err)

	has, err = db.Has(blob.ID())
	require.NoError(t, err)
	assert.True(t, has)
}

func TestPutIsIdempotent(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	db, err := objectdb.Open(fs, "/repo")
	require.NoError(t, err)
	defer db.Close()

	blob := object.NewBlob([]byte("same bytes"))
	id1, err := db.Put(blob)
	require.NoError(t, err)
	id2, err := db.Put(blob)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestClearDropsTheIdentityCacheButNotDiskState(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	db, err := objectdb.Open(fs, "/repo")
	require.NoError(t, err)
	defer db.Close()

	blob := object.NewBlob([]byte("still on disk"))
	id, err := db.Put(blob)
	require.NoError(t, err)

	db.Clear()

	got, err := db.Get(id)
	require.NoError(t, err)
	assert.Equal(t, blob.Body(), got.Body())
}
