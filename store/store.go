// Package store is the public façade over the whole repository: it
// wires together the object database, branch ref, identity, and
// transaction manager, and exposes the few operations a caller actually
// needs — read, write inside a transaction, and walk history.
package store

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/thinkerbot/git-store/identity"
	"github.com/thinkerbot/git-store/internal/gitpath"
	"github.com/thinkerbot/git-store/object"
	"github.com/thinkerbot/git-store/objectdb"
	"github.com/thinkerbot/git-store/oid"
	"github.com/thinkerbot/git-store/payload"
	"github.com/thinkerbot/git-store/refstore"
	"github.com/thinkerbot/git-store/txn"
	"golang.org/x/xerrors"
)

// DefaultBranch is the branch a Store tracks when none is specified.
const DefaultBranch = "main"

// ErrAlreadyInTransaction is returned by Transaction when called while
// another Transaction call on the same Store is already running.
var ErrAlreadyInTransaction = txn.ErrNestedTransaction

// ErrRepositoryMissing is returned by Open when path validation fails:
// path itself doesn't exist, or (for a non-bare repository) path/.git
// doesn't exist.
var ErrRepositoryMissing = xerrors.New("repository missing")

// Commit is the read-only view of a commit a Store's history exposes.
type Commit struct {
	ID        oid.ID
	Tree      oid.ID
	Parents   []oid.ID
	Author    object.Identity
	Committer object.Identity
	Message   string
}

// Store is a versioned, path-addressed key-value store backed by a
// git-compatible object database.
type Store struct {
	fs     afero.Fs
	root   string
	branch string

	db       *objectdb.DB
	registry *payload.Registry
	refs     *refstore.Store
	txn      *txn.Manager
}

// repoRoot returns the directory that holds "objects/" and "refs/": path
// itself for a bare repository, path/.git otherwise.
func repoRoot(path string, bare bool) string {
	if bare {
		return path
	}
	return filepath.Join(path, gitpath.DotGitPath)
}

// validateLayout checks path (and, for a non-bare repository, path/.git)
// exist, per spec: "path must exist; if not bare, path/.git must exist."
func validateLayout(fs afero.Fs, path string, bare bool) error {
	if _, err := fs.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrRepositoryMissing, "%s does not exist", path)
		}
		return errors.Wrapf(err, "could not stat %s", path)
	}
	if bare {
		return nil
	}
	gitDir := filepath.Join(path, gitpath.DotGitPath)
	if _, err := fs.Stat(gitDir); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrRepositoryMissing, "%s does not exist", gitDir)
		}
		return errors.Wrapf(err, "could not stat %s", gitDir)
	}
	return nil
}

// Open opens an existing repository at path, using branch as the tracked
// branch (DefaultBranch if empty). For a bare repository, "objects/",
// "refs/", and the identity config all live directly under path; for a
// non-bare repository they live under path/.git, matching how a working
// checkout keeps its metadata out of the way of the tree it manages.
func Open(fs afero.Fs, path, branch string, bare bool) (*Store, error) {
	if branch == "" {
		branch = DefaultBranch
	}
	if err := validateLayout(fs, path, bare); err != nil {
		return nil, err
	}
	root := repoRoot(path, bare)

	db, err := objectdb.Open(fs, root)
	if err != nil {
		return nil, xerrors.Errorf("could not open object database: %w", err)
	}

	id, err := identity.Load(fs, filepath.Join(root, gitpath.ConfigPath))
	if err != nil {
		return nil, xerrors.Errorf("could not load identity: %w", err)
	}

	registry := payload.NewRegistry()
	refs := refstore.NewStore(fs, root)
	manager, err := txn.New(fs, root, branch, db, registry, refs, id)
	if err != nil {
		return nil, xerrors.Errorf("could not open transaction manager: %w", err)
	}

	return &Store{
		fs:       fs,
		root:     root,
		branch:   branch,
		db:       db,
		registry: registry,
		refs:     refs,
		txn:      manager,
	}, nil
}

// Init creates the directories Open needs (objects/, objects/pack/, and
// refs/heads/, under path or path/.git depending on bare) and then opens
// the repository, which for a fresh path is an empty one with no commits
// yet.
func Init(fs afero.Fs, path, branch string, bare bool) (*Store, error) {
	if err := fs.MkdirAll(path, 0o755); err != nil {
		return nil, errors.Wrapf(err, "could not create %s", path)
	}
	root := repoRoot(path, bare)
	for _, dir := range []string{gitpath.ObjectsPath, gitpath.ObjectsPackPath, gitpath.RefsHeadsPath} {
		if err := fs.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, xerrors.Errorf("could not create %s: %w", dir, err)
		}
	}
	return Open(fs, path, branch, bare)
}

// Identity reads the identity config file again and returns what it
// holds now. Commits made by this store keep using the identity loaded
// by Open, even if the file has changed since.
func (s *Store) Identity() (identity.Identity, error) {
	return identity.Load(s.fs, filepath.Join(s.root, gitpath.ConfigPath))
}

// Get returns the decoded value stored at path, or ok=false if nothing
// is stored there.
func (s *Store) Get(path string) (value interface{}, ok bool, err error) {
	return s.txn.Tree().Get(path)
}

// Paths returns every path currently holding a value, in canonical
// order.
func (s *Store) Paths() ([]string, error) {
	return s.txn.Tree().Paths()
}

// ToMapping returns the entire store as a nested map[string]interface{}.
func (s *Store) ToMapping() (map[string]interface{}, error) {
	return s.txn.Tree().ToMapping()
}

// Head returns the commit ID the store's in-memory view currently
// reflects, or oid.Null for a repository with no commits yet.
func (s *Store) Head() oid.ID {
	return s.txn.Head()
}

// Changed reports whether another writer has advanced the branch since
// this Store last read it.
func (s *Store) Changed() (bool, error) {
	return s.txn.Changed()
}

// Refresh reloads the in-memory view from disk if the branch has moved.
func (s *Store) Refresh() error {
	return s.txn.Refresh()
}

// TransactionFunc mutates the store's working tree during a Transaction
// call. Returning an error aborts the transaction and rolls it back.
type TransactionFunc func(s *Store) error

// Transaction blocks until the branch's lock is acquired, refreshes the
// in-memory tree to the branch's current state, runs fn, and — if fn
// succeeds — commits the result as a new commit with the given message.
// If fn returns an error, or the commit itself fails, the transaction is
// rolled back and the error is returned.
func (s *Store) Transaction(message string, fn TransactionFunc) (err error) {
	if err := s.txn.Begin(); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = s.txn.Rollback()
			panic(r)
		}
	}()

	if err := fn(s); err != nil {
		if rerr := s.txn.Rollback(); rerr != nil {
			return xerrors.Errorf("mutation failed: %w (rollback also failed: %s)", err, rerr)
		}
		return err
	}

	return s.txn.Commit(message)
}

// TryTransaction is Transaction's non-blocking counterpart: it returns
// txn.ErrLockContention immediately instead of waiting if another writer
// currently holds the branch's lock.
func (s *Store) TryTransaction(message string, fn TransactionFunc) (err error) {
	if err := s.txn.TryBegin(); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = s.txn.Rollback()
			panic(r)
		}
	}()

	if err := fn(s); err != nil {
		if rerr := s.txn.Rollback(); rerr != nil {
			return xerrors.Errorf("mutation failed: %w (rollback also failed: %s)", err, rerr)
		}
		return err
	}

	return s.txn.Commit(message)
}

// Set stores value at path. It is only meaningful when called from
// within a Transaction's mutation function.
func (s *Store) Set(path string, value interface{}) error {
	return s.txn.Tree().Set(path, value)
}

// Delete removes the value at path. It is only meaningful when called
// from within a Transaction's mutation function.
func (s *Store) Delete(path string) error {
	return s.txn.Tree().Delete(path)
}

// Commits walks the branch's history, newest first, following only
// first parents, returning up to limit commits starting at start (the
// current head if start is oid.Null). A limit of 0 means no limit.
func (s *Store) Commits(limit int, start oid.ID) ([]Commit, error) {
	id := start
	if id.IsZero() {
		id = s.txn.Head()
	}

	var out []Commit
	for !id.IsZero() {
		if limit > 0 && len(out) >= limit {
			break
		}
		o, err := s.db.Get(id)
		if err != nil {
			return nil, xerrors.Errorf("could not load commit %s: %w", id, err)
		}
		c, err := object.CommitFromObject(o)
		if err != nil {
			return nil, xerrors.Errorf("could not parse commit %s: %w", id, err)
		}
		out = append(out, Commit{
			ID:        id,
			Tree:      c.Tree(),
			Parents:   c.Parents(),
			Author:    c.Author(),
			Committer: c.Committer(),
			Message:   c.Message(),
		})

		parents := c.Parents()
		if len(parents) == 0 {
			break
		}
		id = parents[0]
	}
	return out, nil
}

// Log renders the branch's first-parent history for display purposes,
// newest first, up to limit entries (0 means no limit).
func (s *Store) Log(limit int) ([]Commit, error) {
	return s.Commits(limit, oid.Null)
}

// Close releases resources held by the store's object database (open
// packfiles).
func (s *Store) Close() error {
	return s.db.Close()
}
