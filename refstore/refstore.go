// Package refstore reads and writes the single branch-tip reference a
// repository tracks: a file under refs/heads/<branch> holding a 40-char
// hex object ID followed by a newline.
package refstore

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/thinkerbot/git-store/internal/gitpath"
	"github.com/thinkerbot/git-store/oid"
	"golang.org/x/xerrors"
)

// ErrInvalid is returned when a ref file's contents don't parse as a
// 40-character hex object ID.
var ErrInvalid = xerrors.New("invalid reference contents")

// Store reads and writes ref files under root/refs/heads.
type Store struct {
	fs   afero.Fs
	root string
}

// NewStore returns a Store rooted at root (the directory that would hold
// "refs/", "objects/", and friends).
func NewStore(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

// Path returns the on-disk path of branch's ref file.
func (s *Store) Path(branch string) string {
	return filepath.Join(s.root, gitpath.RefsHeadsPath, branch)
}

// LockPath returns the path of branch's advisory lock file.
func (s *Store) LockPath(branch string) string {
	return s.Path(branch) + ".lock"
}

// Read returns the commit ID branch currently points at. A branch with
// no ref file yet (an empty repository) returns oid.Null, nil — not an
// error.
func (s *Store) Read(branch string) (oid.ID, error) {
	p := s.Path(branch)
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return oid.Null, nil
		}
		return oid.Null, xerrors.Errorf("could not read ref %s: %w", branch, err)
	}

	id, err := oid.FromHex(strings.TrimSpace(string(data)))
	if err != nil {
		return oid.Null, xerrors.Errorf("ref %s: %w", branch, ErrInvalid)
	}
	return id, nil
}

// Write atomically replaces branch's ref file with id, creating it (and
// any missing parent directories) if it doesn't exist yet. Atomicity is
// achieved by writing to a sibling temp file and renaming it over the
// destination, so a concurrent reader never observes a partially written
// ref.
func (s *Store) Write(branch string, id oid.ID) error {
	p := s.Path(branch)
	dir := filepath.Dir(p)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Errorf("could not create directory %s: %w", dir, err)
	}

	tmp := p + ".tmp"
	data := []byte(id.String() + "\n")
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return xerrors.Errorf("could not write temp ref file: %w", err)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		return xerrors.Errorf("could not replace ref %s: %w", branch, err)
	}
	return nil
}
