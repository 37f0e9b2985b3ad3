// Package looseobj stores individual objects on disk the way a standard
// object database does: one zlib-compressed file per object, sharded into
// a directory named after the first two hex characters of its ID.
package looseobj

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
	"github.com/thinkerbot/git-store/internal/errutil"
	"github.com/thinkerbot/git-store/internal/gitpath"
	"github.com/thinkerbot/git-store/object"
	"github.com/thinkerbot/git-store/oid"
	"golang.org/x/xerrors"
)

// ErrNotFound is returned when no loose object exists for a given ID.
var ErrNotFound = xerrors.New("loose object not found")

// ErrNotLooseObject is returned when a file at a loose object's path
// doesn't begin with a valid zlib header.
var ErrNotLooseObject = xerrors.New("not a loose object")

// Store reads and writes loose objects under root/objects.
type Store struct {
	fs   afero.Fs
	root string
}

// NewStore returns a Store rooted at root (the directory that would hold
// "objects/", "refs/", and friends).
func NewStore(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

// path returns the on-disk path of the object with the given ID:
// root/objects/xx/yyyy...y
func (s *Store) path(id oid.ID) string {
	sha := id.String()
	return filepath.Join(s.root, gitpath.ObjectsPath, sha[:2], sha[2:])
}

// Has reports whether a loose object exists for id.
func (s *Store) Has(id oid.ID) (bool, error) {
	_, err := s.fs.Stat(s.path(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, xerrors.Errorf("could not stat loose object %s: %w", id, err)
}

// Get reads and decompresses the object stored for id.
func (s *Store) Get(id oid.ID) (o *object.Object, err error) {
	p := s.path(id)
	f, err := s.fs.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, xerrors.Errorf("could not open loose object %s at %s: %w", id, p, err)
	}
	defer errutil.Close(f, &err)

	compressed, err := io.ReadAll(f)
	if err != nil {
		return nil, xerrors.Errorf("could not read loose object %s at %s: %w", id, p, err)
	}

	if !object.HasZlibHeader(compressed) {
		return nil, xerrors.Errorf("%s at %s: %w", id, p, ErrNotLooseObject)
	}

	o, err = object.Decompress(compressed)
	if err != nil {
		return nil, xerrors.Errorf("could not decode loose object %s at %s: %w", id, p, err)
	}
	return o, nil
}

// Put writes o to disk under its content-derived ID. Writes are
// idempotent: if an object already exists at the destination path, Put
// returns without touching it, matching the immutability of the format
// (two objects with the same ID always have the same bytes).
func (s *Store) Put(o *object.Object) (oid.ID, error) {
	id := o.ID()
	exists, err := s.Has(id)
	if err != nil {
		return oid.Null, err
	}
	if exists {
		return id, nil
	}

	compressed, err := o.Compress()
	if err != nil {
		return oid.Null, xerrors.Errorf("could not compress object %s: %w", id, err)
	}

	p := s.path(id)
	dir := filepath.Dir(p)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return oid.Null, xerrors.Errorf("could not create directory %s: %w", dir, err)
	}

	// Loose objects are content-addressed and never mutated once written,
	// so they're stored read-only.
	if err := afero.WriteFile(s.fs, p, compressed, 0o444); err != nil {
		return oid.Null, xerrors.Errorf("could not write loose object %s at %s: %w", id, p, err)
	}
	return id, nil
}

// WalkFunc is called once per loose object found by Walk.
type WalkFunc func(id oid.ID) error

// Walk calls fn once for every loose object on disk, in no particular
// order. Walk stops and returns the first error fn returns.
func (s *Store) Walk(fn WalkFunc) error {
	root := filepath.Join(s.root, gitpath.ObjectsPath)
	return afero.Walk(s.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if path == root || info.IsDir() {
			if info.IsDir() && !isShard(info.Name()) && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		shard := filepath.Base(filepath.Dir(path))
		if !isShard(shard) {
			return nil
		}

		id, err := oid.FromHex(shard + info.Name())
		if err != nil {
			return xerrors.Errorf("could not parse loose object id from %s: %w", path, err)
		}
		return fn(id)
	})
}

// isShard reports whether name is a valid two-hex-digit shard directory
// ("00" through "ff").
func isShard(name string) bool {
	if len(name) != 2 {
		return false
	}
	_, err := strconv.ParseUint(name, 16, 8)
	return err == nil
}
