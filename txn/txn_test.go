package txn_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkerbot/git-store/identity"
	"github.com/thinkerbot/git-store/objectdb"
	"github.com/thinkerbot/git-store/payload"
	"github.com/thinkerbot/git-store/refstore"
	"github.com/thinkerbot/git-store/txn"
)

func newManager(t *testing.T, fs afero.Fs) *txn.Manager {
	t.Helper()
	db, err := objectdb.Open(fs, "/repo")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	refs := refstore.NewStore(fs, "/repo")
	id := identity.Identity{Name: "Test User", Email: "test@example.com"}
	m, err := txn.New(fs, "/repo", "main", db, payload.NewRegistry(), refs, id)
	require.NoError(t, err)
	return m
}

func TestCommitAdvancesHeadAndPersistsTheTree(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	m := newManager(t, fs)

	require.NoError(t, m.Begin())
	require.NoError(t, m.Tree().Set("a.yml", 1))
	require.NoError(t, m.Commit("first commit"))

	assert.False(t, m.Head().IsZero())
	v, ok, err := m.Tree().Get("a.yml")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestRollbackDiscardsLocalEdits(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	m := newManager(t, fs)

	require.NoError(t, m.Begin())
	require.NoError(t, m.Tree().Set("a.yml", 1))
	require.NoError(t, m.Commit("seed"))

	require.NoError(t, m.Begin())
	require.NoError(t, m.Tree().Set("b.yml", 2))
	require.NoError(t, m.Rollback())

	_, ok, err := m.Tree().Get("b.yml")
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err := m.Tree().Get("a.yml")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestNestedBeginReturnsError(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	m := newManager(t, fs)

	require.NoError(t, m.Begin())
	err := m.Begin()
	require.ErrorIs(t, err, txn.ErrNestedTransaction)
	require.NoError(t, m.Rollback())
}

func TestTryBeginFailsWhenAlreadyLockedByAnotherManager(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	m1 := newManager(t, fs)
	m2 := newManager(t, fs)

	require.NoError(t, m1.Begin())
	err := m2.TryBegin()
	require.ErrorIs(t, err, txn.ErrLockContention)
	require.NoError(t, m1.Rollback())
}

func TestConcurrentWritersSerializeThroughTheLock(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	seed := newManager(t, fs)
	require.NoError(t, seed.Begin())
	require.NoError(t, seed.Commit("seed"))

	const writers = 8
	var wg sync.WaitGroup
	var successes int64
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			db, err := objectdb.Open(fs, "/repo")
			if err != nil {
				return
			}
			defer db.Close()
			refs := refstore.NewStore(fs, "/repo")
			id := identity.Identity{Name: "Test User", Email: "test@example.com"}
			m, err := txn.New(fs, "/repo", "main", db, payload.NewRegistry(), refs, id)
			if err != nil {
				return
			}
			if err := m.Begin(); err != nil {
				return
			}
			if err := m.Tree().Set("counter.yml", n); err != nil {
				_ = m.Rollback()
				return
			}
			if err := m.Commit("writer commit"); err == nil {
				atomic.AddInt64(&successes, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, writers, successes)

	final := newManager(t, fs)
	_, ok, err := final.Tree().Get("counter.yml")
	require.NoError(t, err)
	assert.True(t, ok)
}
