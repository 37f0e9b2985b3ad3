package object

import (
	"bytes"
	"sort"
	"strconv"

	"github.com/thinkerbot/git-store/internal/readutil"
	"github.com/thinkerbot/git-store/oid"
	"golang.org/x/xerrors"
)

// Mode is the octal mode stored alongside a tree entry.
type Mode int32

// Modes supported by the store's tree entries.
const (
	ModeFile       Mode = 0o100644
	ModeExecutable Mode = 0o100755
	ModeSymlink    Mode = 0o120000
	ModeDirectory  Mode = 0o040000
)

// IsValid reports whether m is one of the four supported modes.
func (m Mode) IsValid() bool {
	switch m {
	case ModeFile, ModeExecutable, ModeSymlink, ModeDirectory:
		return true
	default:
		return false
	}
}

// IsDir reports whether m addresses a nested tree rather than a blob.
func (m Mode) IsDir() bool {
	return m == ModeDirectory
}

// TreeEntry is one named member of a Tree: a mode, a path component (no
// "/" or NUL), and the ID of the object it points at.
type TreeEntry struct {
	Name string
	Mode Mode
	ID   oid.ID
}

// sortKey returns the name used to order entries canonically: directory
// names sort as though suffixed with "/", so that "foo" (a blob) sorts
// before "foo.txt" but a directory "foo" sorts after it, matching how the
// on-disk tree format orders entries.
func (e TreeEntry) sortKey() string {
	if e.Mode.IsDir() {
		return e.Name + "/"
	}
	return e.Name
}

// Tree is an ordered, canonically-sorted set of TreeEntry.
type Tree struct {
	entries []TreeEntry
}

// ErrTreeInvalid is returned when a tree's body cannot be parsed, or
// contains a duplicate/invalid entry name.
var ErrTreeInvalid = xerrors.New("invalid tree")

// NewTree builds a Tree from a set of entries, sorting them canonically.
// Duplicate names are rejected.
func NewTree(entries []TreeEntry) (*Tree, error) {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].sortKey() < sorted[j].sortKey()
	})

	seen := make(map[string]bool, len(sorted))
	for i, e := range sorted {
		if e.Name == "" {
			return nil, xerrors.Errorf("entry %d has an empty name: %w", i, ErrTreeInvalid)
		}
		if bytes.ContainsAny([]byte(e.Name), "/\x00") {
			return nil, xerrors.Errorf("entry %d (%s) has an invalid name: %w", i, e.Name, ErrTreeInvalid)
		}
		if !e.Mode.IsValid() {
			return nil, xerrors.Errorf("entry %d (%s) has an invalid mode %o: %w", i, e.Name, e.Mode, ErrTreeInvalid)
		}
		if seen[e.Name] {
			return nil, xerrors.Errorf("duplicate entry name %q: %w", e.Name, ErrTreeInvalid)
		}
		seen[e.Name] = true
	}

	return &Tree{entries: sorted}, nil
}

// Entries returns a copy of the tree's canonically-ordered entries.
func (t *Tree) Entries() []TreeEntry {
	out := make([]TreeEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// ToObject renders the canonical byte form of the tree:
// "<octal-mode> <name>\0<20-byte-raw-id>" back to back, in entry order.
func (t *Tree) ToObject() *Object {
	buf := new(bytes.Buffer)
	for _, e := range t.entries {
		buf.WriteString(strconv.FormatInt(int64(e.Mode), 8))
		buf.WriteByte(' ')
		buf.WriteString(e.Name)
		buf.WriteByte(0)
		buf.Write(e.ID.Bytes())
	}
	return New(KindTree, buf.Bytes())
}

// TreeFromObject parses an Object of kind tree back into a Tree.
func TreeFromObject(o *Object) (*Tree, error) {
	if o.Kind() != KindTree {
		return nil, xerrors.Errorf("kind %s is not a tree: %w", o.Kind(), ErrTreeInvalid)
	}

	body := o.Body()
	entries := make([]TreeEntry, 0)
	offset := 0
	for offset < len(body) {
		modeBytes := readutil.ReadTo(body[offset:], ' ')
		if modeBytes == nil {
			return nil, xerrors.Errorf("could not find mode of entry %d: %w", len(entries), ErrTreeInvalid)
		}
		offset += len(modeBytes) + 1
		mode, err := strconv.ParseInt(string(modeBytes), 8, 32)
		if err != nil {
			return nil, xerrors.Errorf("could not parse mode of entry %d: %w", len(entries), ErrTreeInvalid)
		}

		nameBytes := readutil.ReadTo(body[offset:], 0)
		if nameBytes == nil {
			return nil, xerrors.Errorf("could not find name of entry %d: %w", len(entries), ErrTreeInvalid)
		}
		offset += len(nameBytes) + 1

		if offset+oid.Size > len(body) {
			return nil, xerrors.Errorf("not enough bytes for the id of entry %d: %w", len(entries), ErrTreeInvalid)
		}
		id, err := oid.FromRawBytes(body[offset : offset+oid.Size])
		if err != nil {
			return nil, xerrors.Errorf("invalid id for entry %d: %w", len(entries), ErrTreeInvalid)
		}
		offset += oid.Size

		entries = append(entries, TreeEntry{
			Name: string(nameBytes),
			Mode: Mode(mode),
			ID:   id,
		})
	}

	// Entries are already canonically ordered on disk; NewTree re-sorts
	// (a no-op for well-formed data) and re-validates them.
	return NewTree(entries)
}
