package packfile

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/thinkerbot/git-store/internal/errutil"
	"github.com/thinkerbot/git-store/internal/gitpath"
	"github.com/thinkerbot/git-store/object"
	"github.com/thinkerbot/git-store/oid"
	"golang.org/x/xerrors"
)

// ErrNotFound is returned when no open pack has an entry for an ID.
var ErrNotFound = xerrors.New("object not found in any pack")

// Store is the read-only, multi-pack view PackStore exposes: every
// "*.pack"/"*.idx" pair under root/objects/pack, queried in the order
// they were opened.
type Store struct {
	mu    sync.Mutex
	packs []*Pack
}

// NewStore opens every "*.pack"/"*.idx" pair found under
// root/objects/pack. It is not an error for that directory to be absent:
// a repository with no packs simply opens zero of them.
func NewStore(fs afero.Fs, root string) (_ *Store, err error) {
	s := &Store{}
	packDir := filepath.Join(root, gitpath.ObjectsPackPath)

	entries, err := afero.ReadDir(fs, packDir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, xerrors.Errorf("could not list %s: %w", packDir, err)
	}

	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ExtPackfile) {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), ExtPackfile)
		packPath := filepath.Join(packDir, entry.Name())
		idxPath := filepath.Join(packDir, base+ExtIndex)

		pack, openErr := Open(fs, packPath, idxPath)
		if openErr != nil {
			return nil, xerrors.Errorf("could not open pack %s: %w", packPath, openErr)
		}
		s.packs = append(s.packs, pack)
	}

	// Each pack's ref-delta resolver searches every *other* open pack
	// before giving up; it must never call back into the pack whose own
	// Get() is already in progress (that pack's mutex is held for the
	// duration of delta resolution, so a self-call would deadlock).
	for i, p := range s.packs {
		others := otherPacks(s.packs, i)
		p.SetResolver(func(id oid.ID) (*object.Object, error) {
			return resolveAmong(others, id)
		})
	}
	return s, nil
}

// SetExternalResolver lets a caller (ObjectDB) plug in a fallback lookup
// — typically the loose-object store — used when a ref-delta's base is
// neither in the pack holding the delta nor in any other open pack.
func (s *Store) SetExternalResolver(r Resolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.packs {
		others := otherPacks(s.packs, i)
		p.SetResolver(func(id oid.ID) (*object.Object, error) {
			if o, err := resolveAmong(others, id); err == nil {
				return o, nil
			}
			return r(id)
		})
	}
}

// otherPacks returns a copy of packs with the entry at index skipped.
func otherPacks(packs []*Pack, skip int) []*Pack {
	out := make([]*Pack, 0, len(packs)-1)
	for i, p := range packs {
		if i != skip {
			out = append(out, p)
		}
	}
	return out
}

// resolveAmong searches packs, in order, for id.
func resolveAmong(packs []*Pack, id oid.ID) (*object.Object, error) {
	for _, p := range packs {
		ok, err := p.Contains(id)
		if err != nil {
			return nil, err
		}
		if ok {
			return p.Get(id)
		}
	}
	return nil, xerrors.Errorf("%s: %w", id, ErrNotFound)
}

// Get searches every open pack, in order, for id.
func (s *Store) Get(id oid.ID) (*object.Object, error) {
	s.mu.Lock()
	packs := append([]*Pack(nil), s.packs...)
	s.mu.Unlock()
	return resolveAmong(packs, id)
}

// Contains reports whether id is present in any open pack.
func (s *Store) Contains(id oid.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.packs {
		ok, err := p.Contains(id)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// WalkFunc is called once per object ID found across all open packs.
type WalkFunc func(id oid.ID) error

// Walk calls fn once for every object ID indexed by any open pack.
func (s *Store) Walk(fn WalkFunc) error {
	s.mu.Lock()
	packs := append([]*Pack(nil), s.packs...)
	s.mu.Unlock()

	seen := make(map[oid.ID]struct{})
	for _, p := range packs {
		err := p.Walk(func(id oid.ID) error {
			if _, ok := seen[id]; ok {
				return nil
			}
			seen[id] = struct{}{}
			return fn(id)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Close releases every open pack's file handle.
func (s *Store) Close() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.packs {
		errutil.Close(p, &err)
	}
	return err
}
