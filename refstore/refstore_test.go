package refstore_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkerbot/git-store/oid"
	"github.com/thinkerbot/git-store/refstore"
)

func TestReadMissingRefReturnsNullWithoutError(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	s := refstore.NewStore(fs, "/repo")

	id, err := s.Read("main")
	require.NoError(t, err)
	assert.True(t, id.IsZero())
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	s := refstore.NewStore(fs, "/repo")

	want := oid.FromContent([]byte("commit 10\x00hello"))
	require.NoError(t, s.Write("main", want))

	got, err := s.Read("main")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWriteCreatesMissingParentDirectories(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	s := refstore.NewStore(fs, "/repo")

	id := oid.FromContent([]byte("blob 5\x00hello"))
	require.NoError(t, s.Write("feature/x", id))

	exists, err := afero.Exists(fs, s.Path("feature/x"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestReadMalformedRefReturnsInvalid(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	s := refstore.NewStore(fs, "/repo")
	require.NoError(t, afero.WriteFile(fs, s.Path("main"), []byte("not-an-id\n"), 0o644))

	_, err := s.Read("main")
	require.ErrorIs(t, err, refstore.ErrInvalid)
}
