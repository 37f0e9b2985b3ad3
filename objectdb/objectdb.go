// Package objectdb unifies the loose-object and pack stores behind a
// single get/put API, backed by a bounded in-memory identity cache so an
// object read again while still cached is not re-read or re-decoded.
package objectdb

import (
	"github.com/spf13/afero"
	"github.com/thinkerbot/git-store/internal/cache"
	"github.com/thinkerbot/git-store/looseobj"
	"github.com/thinkerbot/git-store/object"
	"github.com/thinkerbot/git-store/oid"
	"github.com/thinkerbot/git-store/packfile"
	"golang.org/x/xerrors"
)

// ErrNotFound is returned when id is present in neither the loose-object
// store nor any open pack.
var ErrNotFound = xerrors.New("object not found")

// defaultCacheSize bounds how many decoded objects are kept in memory at
// once; it has no effect on correctness, only on how often Get has to
// re-read and re-decode an object it has already seen.
const defaultCacheSize = 4096

// DB is the unified object store: every read consults the cache first,
// then the loose-object store, then the pack store; every write goes to
// the loose-object store and is cached immediately.
type DB struct {
	loose *looseobj.Store
	packs *packfile.Store
	cache *cache.LRU
}

// Open returns a DB rooted at root, with every pack under
// root/objects/pack eagerly opened and indexed.
func Open(fs afero.Fs, root string) (*DB, error) {
	loose := looseobj.NewStore(fs, root)
	packs, err := packfile.NewStore(fs, root)
	if err != nil {
		return nil, xerrors.Errorf("could not open pack store: %w", err)
	}

	db := &DB{
		loose: loose,
		packs: packs,
		cache: cache.NewLRU(defaultCacheSize),
	}
	// A ref-delta base that isn't indexed by any pack may still be a
	// loose object (e.g. freshly committed, not yet repacked).
	packs.SetExternalResolver(func(id oid.ID) (*object.Object, error) {
		has, err := loose.Has(id)
		if err != nil {
			return nil, err
		}
		if !has {
			return nil, xerrors.Errorf("%s: %w", id, looseobj.ErrNotFound)
		}
		return loose.Get(id)
	})
	return db, nil
}

// Get returns the decoded object for id, consulting the cache, then the
// loose-object store, then the pack store, in that order.
func (db *DB) Get(id oid.ID) (*object.Object, error) {
	if cached, ok := db.cache.Get(id); ok {
		return cached.(*object.Object), nil
	}

	has, err := db.loose.Has(id)
	if err != nil {
		return nil, err
	}
	if has {
		o, err := db.loose.Get(id)
		if err != nil {
			return nil, err
		}
		db.cache.Add(id, o)
		return o, nil
	}

	o, err := db.packs.Get(id)
	if err != nil {
		if xerrors.Is(err, packfile.ErrNotFound) || xerrors.Is(err, packfile.ErrObjectNotFound) {
			return nil, xerrors.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	db.cache.Add(id, o)
	return o, nil
}

// Put writes o to the loose-object store (a no-op if it already exists)
// and caches the decoded value for subsequent reads.
func (db *DB) Put(o *object.Object) (oid.ID, error) {
	id, err := db.loose.Put(o)
	if err != nil {
		return oid.Null, err
	}
	db.cache.Add(id, o)
	return id, nil
}

// Has reports whether id is present in either store, without decoding it.
func (db *DB) Has(id oid.ID) (bool, error) {
	if _, ok := db.cache.Get(id); ok {
		return true, nil
	}
	has, err := db.loose.Has(id)
	if err != nil {
		return false, err
	}
	if has {
		return true, nil
	}
	return db.packs.Contains(id)
}

// Clear drops every entry from the identity cache. Used by a transaction
// rollback: after discarding in-flight writes, cached decodes of objects
// that may no longer be reachable should not linger.
func (db *DB) Clear() {
	db.cache.Clear()
}

// Close releases the pack store's open file handles.
func (db *DB) Close() error {
	return db.packs.Close()
}
