// Package worktree implements the mutable, nested overlay over a Tree
// object that a transaction edits: values are read and written by
// slash-separated path, intermediate directories are created on demand,
// and the whole structure is flattened back into a new Tree object (and
// its descendants) on write.
package worktree

import (
	"sort"
	"strings"

	"github.com/thinkerbot/git-store/object"
	"github.com/thinkerbot/git-store/objectdb"
	"github.com/thinkerbot/git-store/oid"
	"github.com/thinkerbot/git-store/payload"
	"golang.org/x/xerrors"
)

// ErrNotADirectory is returned when a path tries to descend through a
// leaf as though it were a directory. Delete also returns it when the
// path names a directory rather than a leaf.
var ErrNotADirectory = xerrors.New("path component is not a directory")

// entry is one named member of a Tree: either an unloaded reference to a
// blob/subtree (mode+id, as read from disk) or the in-memory value that
// now overrides it.
type entry struct {
	mode object.Mode
	id   oid.ID

	hasValue bool
	value    interface{}
	dirty    bool

	loadedTree *Tree
}

// Tree is the in-memory, mutable mirror of an object.Tree. The zero value
// is not usable; construct one with New or Load.
type Tree struct {
	db       *objectdb.DB
	registry *payload.Registry

	entries map[string]*entry
	id      oid.ID
	dirty   bool
}

// New returns an empty Tree with nothing loaded from disk — the overlay
// used for a brand new (or not-yet-committed) repository.
func New(db *objectdb.DB, registry *payload.Registry) *Tree {
	return &Tree{
		db:       db,
		registry: registry,
		entries:  make(map[string]*entry),
	}
}

// Load returns a Tree mirroring the object.Tree stored at id. A zero id
// is treated the same as New: an empty tree.
func Load(db *objectdb.DB, registry *payload.Registry, id oid.ID) (*Tree, error) {
	t := New(db, registry)
	if id.IsZero() {
		return t, nil
	}

	o, err := db.Get(id)
	if err != nil {
		return nil, xerrors.Errorf("could not load tree %s: %w", id, err)
	}
	decoded, err := object.TreeFromObject(o)
	if err != nil {
		return nil, xerrors.Errorf("could not parse tree %s: %w", id, err)
	}
	for _, te := range decoded.Entries() {
		t.entries[te.Name] = &entry{mode: te.Mode, id: te.ID}
	}
	t.id = id
	return t, nil
}

// splitFirst divides p at its first "/", reporting whether p had none.
func splitFirst(p string) (name, rest string, isLast bool) {
	i := strings.IndexByte(p, '/')
	if i < 0 {
		return p, "", true
	}
	return p[:i], p[i+1:], false
}

// Get returns the decoded payload stored at p, or ok=false if any
// component of p is absent or addresses something other than a leaf.
func (t *Tree) Get(p string) (value interface{}, ok bool, err error) {
	name, rest, isLast := splitFirst(p)
	e, found := t.entries[name]
	if !found {
		return nil, false, nil
	}

	if isLast {
		if e.mode.IsDir() {
			return nil, false, nil
		}
		if !e.hasValue {
			if err := t.loadLeaf(name, e); err != nil {
				return nil, false, err
			}
		}
		return e.value, true, nil
	}

	if !e.mode.IsDir() {
		return nil, false, nil
	}
	sub, err := t.subtree(name, e)
	if err != nil {
		return nil, false, err
	}
	return sub.Get(rest)
}

// Set stores value at p, creating any missing intermediate directories
// and marking p's node and every ancestor dirty.
func (t *Tree) Set(p string, value interface{}) error {
	name, rest, isLast := splitFirst(p)

	if isLast {
		t.entries[name] = &entry{mode: object.ModeFile, hasValue: true, value: value, dirty: true}
		t.dirty = true
		return nil
	}

	e, found := t.entries[name]
	if !found {
		e = &entry{mode: object.ModeDirectory}
		t.entries[name] = e
	} else if !e.mode.IsDir() {
		return xerrors.Errorf("%s: %w", name, ErrNotADirectory)
	}

	sub, err := t.subtree(name, e)
	if err != nil {
		return err
	}
	if err := sub.Set(rest, value); err != nil {
		return err
	}
	t.dirty = true
	return nil
}

// Delete removes the leaf at p. If removing it leaves its parent
// directory empty, the parent is removed too, recursively up to (but not
// including) the receiver.
func (t *Tree) Delete(p string) error {
	name, rest, isLast := splitFirst(p)
	e, found := t.entries[name]
	if !found {
		return nil
	}

	if isLast {
		if e.mode.IsDir() {
			return xerrors.Errorf("%s: %w", name, ErrNotADirectory)
		}
		delete(t.entries, name)
		t.dirty = true
		return nil
	}

	if !e.mode.IsDir() {
		return xerrors.Errorf("%s: %w", name, ErrNotADirectory)
	}
	sub, err := t.subtree(name, e)
	if err != nil {
		return err
	}
	if err := sub.Delete(rest); err != nil {
		return err
	}
	t.dirty = true
	if sub.IsEmpty() {
		delete(t.entries, name)
	}
	return nil
}

// Tree ensures a nested Tree exists at p (creating any missing
// intermediate directories) and returns it. An empty p returns the
// receiver.
func (t *Tree) Tree(p string) (*Tree, error) {
	if p == "" {
		return t, nil
	}
	name, rest, isLast := splitFirst(p)

	e, found := t.entries[name]
	if !found {
		e = &entry{mode: object.ModeDirectory}
		t.entries[name] = e
		t.dirty = true
	} else if !e.mode.IsDir() {
		return nil, xerrors.Errorf("%s: %w", name, ErrNotADirectory)
	}

	sub, err := t.subtree(name, e)
	if err != nil {
		return nil, err
	}
	if isLast {
		return sub, nil
	}
	return sub.Tree(rest)
}

// IsEmpty reports whether the tree currently has no entries.
func (t *Tree) IsEmpty() bool {
	return len(t.entries) == 0
}

// subtree returns (loading it from disk on first use if necessary) the
// nested Tree that e's directory entry refers to.
func (t *Tree) subtree(name string, e *entry) (*Tree, error) {
	if e.loadedTree == nil {
		sub, err := Load(t.db, t.registry, e.id)
		if err != nil {
			return nil, xerrors.Errorf("could not load %s: %w", name, err)
		}
		e.loadedTree = sub
	}
	return e.loadedTree, nil
}

// loadLeaf decodes the blob referenced by e, caching the result on e.
func (t *Tree) loadLeaf(name string, e *entry) error {
	o, err := t.db.Get(e.id)
	if err != nil {
		return xerrors.Errorf("could not load %s: %w", name, err)
	}
	value, err := t.registry.Decode(name, o.Body())
	if err != nil {
		return xerrors.Errorf("could not decode %s: %w", name, err)
	}
	e.value = value
	e.hasValue = true
	return nil
}

// sortedNames returns the entries' names in canonical traversal order.
func sortedNames(entries map[string]*entry) []string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VisitFunc is called once per leaf encountered by Each, with its full
// slash-separated path (relative to the tree Each was called on).
type VisitFunc func(path string, value interface{}) error

// Each performs a depth-first, name-sorted traversal of every leaf in the
// tree, decoding each payload as it's reached.
func (t *Tree) Each(fn VisitFunc) error {
	return t.each("", fn)
}

func (t *Tree) each(prefix string, fn VisitFunc) error {
	for _, name := range sortedNames(t.entries) {
		e := t.entries[name]
		full := name
		if prefix != "" {
			full = prefix + "/" + name
		}

		if e.mode.IsDir() {
			sub, err := t.subtree(name, e)
			if err != nil {
				return err
			}
			if err := sub.each(full, fn); err != nil {
				return err
			}
			continue
		}

		if !e.hasValue {
			if err := t.loadLeaf(name, e); err != nil {
				return err
			}
		}
		if err := fn(full, e.value); err != nil {
			return err
		}
	}
	return nil
}

// Paths returns every leaf path in the tree, in canonical order.
func (t *Tree) Paths() ([]string, error) {
	var paths []string
	err := t.Each(func(p string, _ interface{}) error {
		paths = append(paths, p)
		return nil
	})
	return paths, err
}

// Values returns every leaf's decoded payload, in the same canonical
// order as Paths.
func (t *Tree) Values() ([]interface{}, error) {
	var values []interface{}
	err := t.Each(func(_ string, v interface{}) error {
		values = append(values, v)
		return nil
	})
	return values, err
}

// ToMapping converts the tree into a nested map[string]interface{},
// directories becoming nested maps and leaves becoming their decoded
// payload.
func (t *Tree) ToMapping() (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(t.entries))
	for _, name := range sortedNames(t.entries) {
		e := t.entries[name]
		if e.mode.IsDir() {
			sub, err := t.subtree(name, e)
			if err != nil {
				return nil, err
			}
			nested, err := sub.ToMapping()
			if err != nil {
				return nil, err
			}
			out[name] = nested
			continue
		}
		if !e.hasValue {
			if err := t.loadLeaf(name, e); err != nil {
				return nil, err
			}
		}
		out[name] = e.value
	}
	return out, nil
}

// Write serializes every dirty entry bottom-up through the store's
// PayloadHandlers and ObjectCodec, then assembles and persists the
// Tree object for the receiver, returning its ID. A tree with no
// outstanding changes returns its previously written ID without
// touching the store again.
func (t *Tree) Write() (oid.ID, error) {
	if !t.dirty && !t.id.IsZero() {
		return t.id, nil
	}

	entries := make([]object.TreeEntry, 0, len(t.entries))
	for name, e := range t.entries {
		var id oid.ID
		switch {
		case e.mode.IsDir():
			if e.loadedTree != nil {
				written, err := e.loadedTree.Write()
				if err != nil {
					return oid.Null, xerrors.Errorf("could not write %s: %w", name, err)
				}
				id = written
			} else {
				id = e.id
			}
		case e.dirty:
			data, err := t.registry.Encode(name, e.value)
			if err != nil {
				return oid.Null, xerrors.Errorf("could not encode %s: %w", name, err)
			}
			written, err := t.db.Put(object.NewBlob(data))
			if err != nil {
				return oid.Null, xerrors.Errorf("could not write blob %s: %w", name, err)
			}
			e.id = written
			e.dirty = false
			id = written
		default:
			id = e.id
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: e.mode, ID: id})
	}

	built, err := object.NewTree(entries)
	if err != nil {
		return oid.Null, xerrors.Errorf("could not assemble tree: %w", err)
	}
	rootID, err := t.db.Put(built.ToObject())
	if err != nil {
		return oid.Null, xerrors.Errorf("could not write tree: %w", err)
	}
	t.id = rootID
	t.dirty = false
	return rootID, nil
}
