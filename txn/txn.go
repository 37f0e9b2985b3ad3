// Package txn implements the advisory-locked transaction that makes a
// read-modify-write sequence against a store's branch atomic: acquire a
// lock on the branch's ref file, refresh the in-memory WorkingTree if
// another writer moved the branch since it was last seen, let the caller
// mutate the tree, then write the tree, a new commit, and the ref update
// before releasing the lock.
package txn

import (
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
	"github.com/thinkerbot/git-store/identity"
	"github.com/thinkerbot/git-store/object"
	"github.com/thinkerbot/git-store/objectdb"
	"github.com/thinkerbot/git-store/oid"
	"github.com/thinkerbot/git-store/payload"
	"github.com/thinkerbot/git-store/refstore"
	"github.com/thinkerbot/git-store/worktree"
	"golang.org/x/xerrors"
)

// ErrNestedTransaction is returned by Begin/TryBegin when the manager
// already has a transaction open.
var ErrNestedTransaction = xerrors.New("a transaction is already open")

// ErrNotInTransaction is returned by Commit/Rollback when no transaction
// is open.
var ErrNotInTransaction = xerrors.New("no transaction is open")

// ErrLockContention is returned by TryBegin when the branch's lock is
// already held by someone else.
var ErrLockContention = xerrors.New("branch is locked by another writer")

// Locker is the minimal advisory-lock contract a Manager needs: acquire,
// try to acquire without blocking, and release.
type Locker interface {
	Lock() error
	TryLock() (bool, error)
	Unlock() error
}

// LockerFactory builds the Locker that guards the ref file at path.
type LockerFactory func(path string) Locker

// flockLocker adapts github.com/gofrs/flock to the Locker interface. It
// is used whenever the store's filesystem is the real OS filesystem,
// where an OS-level advisory lock means something to other processes.
type flockLocker struct {
	fl *flock.Flock
}

func newFlockLocker(path string) Locker {
	return &flockLocker{fl: flock.New(path)}
}

func (l *flockLocker) Lock() error { return l.fl.Lock() }

func (l *flockLocker) TryLock() (bool, error) { return l.fl.TryLock() }

func (l *flockLocker) Unlock() error { return l.fl.Unlock() }

// memLocks backs newMemLocker: a process-wide registry of mutexes
// keyed by lock-file path, standing in for OS advisory locks when the
// store's filesystem is an in-memory afero.Fs (tests, and any other
// filesystem real flock can't lock meaningfully).
var memLocks sync.Map // path -> *sync.Mutex

type memLocker struct {
	mu *sync.Mutex
}

func newMemLocker(path string) Locker {
	actual, _ := memLocks.LoadOrStore(path, &sync.Mutex{})
	return &memLocker{mu: actual.(*sync.Mutex)}
}

func (l *memLocker) Lock() error { l.mu.Lock(); return nil }

func (l *memLocker) TryLock() (bool, error) { return l.mu.TryLock(), nil }

func (l *memLocker) Unlock() error { l.mu.Unlock(); return nil }

// lockerFactoryFor picks a real flock-backed Locker for the OS filesystem
// and an in-process Locker for every other afero.Fs implementation.
func lockerFactoryFor(fs afero.Fs) LockerFactory {
	if _, ok := fs.(*afero.OsFs); ok {
		return newFlockLocker
	}
	return newMemLocker
}

// Manager owns the single WorkingTree a store reads and writes through,
// and the state machine (Idle -> Locked -> Writing -> Committed -> Idle,
// or Locked -> RolledBack -> Idle) that makes edits to it transactional.
type Manager struct {
	fs     afero.Fs
	root   string
	branch string

	db       *objectdb.DB
	registry *payload.Registry
	refs     *refstore.Store
	identity identity.Identity
	newLocker LockerFactory

	slotMu sync.Mutex
	active bool
	lock   Locker

	head oid.ID
	tree *worktree.Tree
}

// New opens a Manager for branch, loading its current head commit (if
// any) and the WorkingTree at that commit's tree.
func New(fs afero.Fs, root, branch string, db *objectdb.DB, registry *payload.Registry, refs *refstore.Store, id identity.Identity) (*Manager, error) {
	m := &Manager{
		fs:        fs,
		root:      root,
		branch:    branch,
		db:        db,
		registry:  registry,
		refs:      refs,
		identity:  id,
		newLocker: lockerFactoryFor(fs),
	}
	if err := m.reloadFromDisk(); err != nil {
		return nil, err
	}
	return m, nil
}

// Tree returns the in-memory WorkingTree that store operations read and
// write through. Outside an open transaction it reflects the branch as
// of the last Refresh; inside one, it reflects the head as of Begin plus
// whatever local edits have been made.
func (m *Manager) Tree() *worktree.Tree { return m.tree }

// Head returns the commit ID the in-memory tree currently reflects, or
// oid.Null for a repository with no commits yet.
func (m *Manager) Head() oid.ID { return m.head }

func (m *Manager) lockPath() string { return m.refs.LockPath(m.branch) }

// treeIDForHead resolves the tree a head commit points at, or oid.Null
// if head is itself oid.Null (an empty repository).
func (m *Manager) treeIDForHead(head oid.ID) (oid.ID, error) {
	if head.IsZero() {
		return oid.Null, nil
	}
	o, err := m.db.Get(head)
	if err != nil {
		return oid.Null, xerrors.Errorf("could not load head commit %s: %w", head, err)
	}
	c, err := object.CommitFromObject(o)
	if err != nil {
		return oid.Null, xerrors.Errorf("could not parse head commit %s: %w", head, err)
	}
	return c.Tree(), nil
}

// reloadFromDisk discards the in-memory tree and reloads it from the
// branch's ref on disk.
func (m *Manager) reloadFromDisk() error {
	head, err := m.refs.Read(m.branch)
	if err != nil {
		return xerrors.Errorf("could not read ref %s: %w", m.branch, err)
	}
	treeID, err := m.treeIDForHead(head)
	if err != nil {
		return err
	}
	tree, err := worktree.Load(m.db, m.registry, treeID)
	if err != nil {
		return xerrors.Errorf("could not load working tree: %w", err)
	}
	m.head = head
	m.tree = tree
	return nil
}

// Changed reports whether the branch's ref on disk points somewhere
// other than the commit the in-memory tree reflects.
func (m *Manager) Changed() (bool, error) {
	onDisk, err := m.refs.Read(m.branch)
	if err != nil {
		return false, err
	}
	return onDisk != m.head, nil
}

// Refresh reloads the in-memory tree from disk if the branch has moved
// since it was last loaded, and is a no-op otherwise. It does not check
// whether a transaction is open: Begin and TryBegin call it right after
// acquiring the lock.
func (m *Manager) Refresh() error {
	changed, err := m.Changed()
	if err != nil || !changed {
		return err
	}
	return m.reloadFromDisk()
}

// Begin acquires the branch's lock, blocking until it is free, then
// refreshes the in-memory tree if the branch moved since it was last
// seen. It fails with ErrNestedTransaction if a transaction is already
// open on this Manager.
func (m *Manager) Begin() error {
	if err := m.claimSlot(); err != nil {
		return err
	}

	lock := m.newLocker(m.lockPath())
	if err := lock.Lock(); err != nil {
		m.releaseSlot()
		return xerrors.Errorf("could not acquire lock for %s: %w", m.branch, err)
	}
	m.lock = lock

	if err := m.Refresh(); err != nil {
		_ = m.end()
		return err
	}
	return nil
}

// TryBegin is Begin's non-blocking counterpart: it returns
// ErrLockContention immediately instead of waiting if another writer
// currently holds the branch's lock.
func (m *Manager) TryBegin() error {
	if err := m.claimSlot(); err != nil {
		return err
	}

	lock := m.newLocker(m.lockPath())
	ok, err := lock.TryLock()
	if err != nil {
		m.releaseSlot()
		return xerrors.Errorf("could not attempt lock for %s: %w", m.branch, err)
	}
	if !ok {
		m.releaseSlot()
		return xerrors.Errorf("%s: %w", m.branch, ErrLockContention)
	}
	m.lock = lock

	if err := m.Refresh(); err != nil {
		_ = m.end()
		return err
	}
	return nil
}

func (m *Manager) claimSlot() error {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	if m.active {
		return xerrors.Errorf("%s: %w", m.branch, ErrNestedTransaction)
	}
	m.active = true
	return nil
}

func (m *Manager) releaseSlot() {
	m.slotMu.Lock()
	m.active = false
	m.slotMu.Unlock()
}

// Commit writes the in-memory tree, wraps it in a new commit (parented
// on the current head, if any) authored by the Manager's identity at the
// current time, atomically swaps the branch ref to point at it, and
// releases the lock. A failure at any step rolls back and releases the
// lock before returning the error.
func (m *Manager) Commit(message string) error {
	m.slotMu.Lock()
	open := m.active
	m.slotMu.Unlock()
	if !open {
		return ErrNotInTransaction
	}

	treeID, err := m.tree.Write()
	if err != nil {
		_ = m.Rollback()
		return xerrors.Errorf("could not write working tree: %w", err)
	}

	var parents []oid.ID
	if !m.head.IsZero() {
		parents = []oid.ID{m.head}
	}
	who := object.Identity{Name: m.identity.Name, Email: m.identity.Email, Time: time.Now()}
	commit := object.NewCommit(object.CommitParams{
		Tree:      treeID,
		Parents:   parents,
		Author:    who,
		Committer: who,
		Message:   message,
	})

	commitID, err := m.db.Put(commit.ToObject())
	if err != nil {
		_ = m.Rollback()
		return xerrors.Errorf("could not write commit: %w", err)
	}

	if err := m.refs.Write(m.branch, commitID); err != nil {
		_ = m.Rollback()
		return xerrors.Errorf("could not update ref %s: %w", m.branch, err)
	}

	m.head = commitID
	return m.end()
}

// Rollback discards the in-memory tree's local edits, clears the shared
// identity cache (another writer's commit, made visible by the reload,
// must not be shadowed by a stale cache entry), reloads from disk, and
// releases the lock.
func (m *Manager) Rollback() error {
	m.slotMu.Lock()
	open := m.active
	m.slotMu.Unlock()
	if !open {
		return ErrNotInTransaction
	}

	m.db.Clear()
	if err := m.reloadFromDisk(); err != nil {
		_ = m.end()
		return err
	}
	return m.end()
}

// end releases the lock, unlinks its lock file, and returns the Manager
// to the idle state.
func (m *Manager) end() error {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()

	var err error
	if m.lock != nil {
		if uerr := m.lock.Unlock(); uerr != nil {
			err = xerrors.Errorf("could not release lock: %w", uerr)
		}
		if rerr := m.fs.Remove(m.lockPath()); rerr != nil && !os.IsNotExist(rerr) && err == nil {
			err = xerrors.Errorf("could not remove lock file: %w", rerr)
		}
		m.lock = nil
	}
	m.active = false
	return err
}
