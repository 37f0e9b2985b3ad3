// Package packfile reads packfiles: a pack of zlib-compressed objects,
// possibly stored as deltas against each other, plus a companion .idx file
// mapping object IDs to byte offsets within the pack.
package packfile

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"sync"

	"github.com/spf13/afero"
	"github.com/thinkerbot/git-store/internal/errutil"
	"github.com/thinkerbot/git-store/object"
	"github.com/thinkerbot/git-store/oid"
	"golang.org/x/xerrors"
)

// Extensions used by the two files making up a packfile.
const (
	ExtPackfile = ".pack"
	ExtIndex    = ".idx"
)

const headerSize = 12

// maxDeltaDepth bounds how many times a delta can chain to another delta
// before resolution is treated as corrupt data.
const maxDeltaDepth = 50

func packMagic() []byte { return []byte{'P', 'A', 'C', 'K'} }
func packVersion() []byte { return []byte{0, 0, 0, 2} }

// Errors returned while reading a packfile or its index.
var (
	ErrInvalidMagic   = xerrors.New("invalid packfile magic")
	ErrInvalidVersion = xerrors.New("invalid packfile version")
	ErrIntOverflow    = xerrors.New("int64 overflow while reading a packfile")
	ErrMaxDepth       = xerrors.New("delta chain exceeds maximum depth")
)

// packObjType is the object-type tag stored in a pack entry's header: the
// four regular kinds plus the two delta encodings.
type packObjType int8

const (
	typeCommit   packObjType = 1
	typeTree     packObjType = 2
	typeBlob     packObjType = 3
	typeTag      packObjType = 4
	typeOfsDelta packObjType = 6
	typeRefDelta packObjType = 7
)

func (t packObjType) isDelta() bool {
	return t == typeOfsDelta || t == typeRefDelta
}

func (t packObjType) toKind() (object.Kind, bool) {
	switch t {
	case typeCommit:
		return object.KindCommit, true
	case typeTree:
		return object.KindTree, true
	case typeBlob:
		return object.KindBlob, true
	case typeTag:
		return object.KindTag, true
	default:
		return 0, false
	}
}

// Resolver looks up an object by ID outside of the pack currently being
// read, so a ref-delta base stored in a different pack (or as a loose
// object) can still be resolved. Store sets one on every pack it opens,
// and ObjectDB adds its loose-object fallback through
// Store.SetExternalResolver.
type Resolver func(id oid.ID) (*object.Object, error)

// Pack is a single opened packfile plus its parsed index.
type Pack struct {
	mu sync.Mutex

	f        afero.File
	idx      *Index
	resolver Resolver

	header [headerSize]byte
	id     oid.ID
}

// SetResolver registers the callback used to resolve a ref-delta base
// that isn't present in this pack's own index. Without one, such a base
// fails to resolve with ErrObjectNotFound.
func (p *Pack) SetResolver(r Resolver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolver = r
}

// Open reads and validates packPath's header and loads its companion .idx
// file from idxPath.
func Open(fs afero.Fs, packPath, idxPath string) (pack *Pack, err error) {
	f, err := fs.Open(packPath)
	if err != nil {
		return nil, xerrors.Errorf("could not open %s: %w", packPath, err)
	}
	defer func() {
		if err != nil {
			f.Close()
		}
	}()

	p := &Pack{f: f}
	if _, err = f.ReadAt(p.header[:], 0); err != nil {
		return nil, xerrors.Errorf("could not read header of %s: %w", packPath, err)
	}
	if !bytes.Equal(p.header[0:4], packMagic()) {
		return nil, xerrors.Errorf("%s: %w", packPath, ErrInvalidMagic)
	}
	if !bytes.Equal(p.header[4:8], packVersion()) {
		return nil, xerrors.Errorf("%s: %w", packPath, ErrInvalidVersion)
	}

	idxFile, err := fs.Open(idxPath)
	if err != nil {
		return nil, xerrors.Errorf("could not open %s: %w", idxPath, err)
	}
	p.idx, err = NewIndex(bufio.NewReader(idxFile))
	if err != nil {
		idxFile.Close()
		return nil, xerrors.Errorf("could not parse %s: %w", idxPath, err)
	}
	// The index is fully parsed eagerly below so the file can be closed
	// without losing access to the offset table.
	if _, err = p.idx.IDs(); err != nil {
		idxFile.Close()
		return nil, xerrors.Errorf("could not parse %s: %w", idxPath, err)
	}
	if err = idxFile.Close(); err != nil {
		return nil, xerrors.Errorf("could not close %s: %w", idxPath, err)
	}

	return p, nil
}

// Close releases the packfile's file handle.
func (p *Pack) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.f.Close()
}

// ObjectCount returns the number of objects the packfile's header declares.
func (p *Pack) ObjectCount() uint32 {
	return binary.BigEndian.Uint32(p.header[8:])
}

// ID returns the packfile's own ID: the last 20 bytes of the file.
func (p *Pack) ID() (oid.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.id.IsZero() {
		return p.id, nil
	}

	size, err := p.f.Seek(0, io.SeekEnd)
	if err != nil {
		return oid.Null, xerrors.Errorf("could not seek to end: %w", err)
	}
	raw := make([]byte, oid.Size)
	if _, err := p.f.ReadAt(raw, size-int64(oid.Size)); err != nil {
		return oid.Null, xerrors.Errorf("could not read trailer: %w", err)
	}
	id, err := oid.FromRawBytes(raw)
	if err != nil {
		return oid.Null, xerrors.Errorf("invalid trailer: %w", err)
	}
	p.id = id
	return id, nil
}

// Contains reports whether id is present in the pack.
func (p *Pack) Contains(id oid.ID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idx.Contains(id)
}

// Get returns the fully-resolved object for id, reconstructing it from a
// delta chain if necessary.
func (p *Pack) Get(id oid.ID) (*object.Object, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getLocked(id, 0)
}

// getLocked is Get without acquiring p.mu; callers must already hold it.
// It exists so resolveAt can look up a ref-delta base stored in this same
// pack without re-entering a non-reentrant mutex.
func (p *Pack) getLocked(id oid.ID, depth int) (*object.Object, error) {
	offset, err := p.idx.Offset(id)
	if err != nil {
		return nil, err
	}
	return p.resolveAt(offset, depth)
}

// WalkFunc is called once per object ID present in the pack's index.
type WalkFunc func(id oid.ID) error

// Walk calls fn once for every object ID in the pack's index.
func (p *Pack) Walk(fn WalkFunc) error {
	p.mu.Lock()
	ids, err := p.idx.IDs()
	p.mu.Unlock()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

// rawEntry is one decompressed, still-possibly-deltified entry read
// straight off the pack.
type rawEntry struct {
	typ             packObjType
	body            []byte
	baseID          oid.ID
	baseOffset      uint64 // absolute offset, only valid for ofs-delta
	hasBaseOffset   bool
	declaredBaseLen int
}

// resolveAt reads the entry at offset and, if it's a delta, recursively
// resolves and applies it against its base.
func (p *Pack) resolveAt(offset uint64, depth int) (*object.Object, error) {
	if depth > maxDeltaDepth {
		return nil, ErrMaxDepth
	}

	entry, err := p.readEntryAt(offset)
	if err != nil {
		return nil, xerrors.Errorf("could not read pack entry at %d: %w", offset, err)
	}

	if kind, ok := entry.typ.toKind(); ok {
		return object.New(kind, entry.body), nil
	}

	var base *object.Object
	if entry.typ == typeRefDelta {
		if ok, containsErr := p.idx.Contains(entry.baseID); containsErr == nil && ok {
			base, err = p.getLocked(entry.baseID, depth+1)
		} else if p.resolver != nil {
			base, err = p.resolver(entry.baseID)
		} else {
			err = xerrors.Errorf("base %s not indexed and no resolver set: %w", entry.baseID, ErrObjectNotFound)
		}
		if err != nil {
			return nil, xerrors.Errorf("could not resolve delta base %s: %w", entry.baseID, err)
		}
	} else {
		base, err = p.resolveAt(entry.baseOffset, depth+1)
		if err != nil {
			return nil, xerrors.Errorf("could not resolve delta base at %d: %w", entry.baseOffset, err)
		}
	}

	resolved, err := applyDelta(base.Body(), entry.body)
	if err != nil {
		return nil, xerrors.Errorf("could not apply delta at %d: %w", offset, err)
	}
	return object.New(base.Kind(), resolved), nil
}

// readEntryAt decodes the variable-length header and zlib-compressed body
// of the entry at the given absolute offset within the pack.
func (p *Pack) readEntryAt(offset uint64) (*rawEntry, error) {
	if _, err := p.f.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, xerrors.Errorf("could not seek to %d: %w", offset, err)
	}
	r := bufio.NewReader(p.f)

	first, err := r.ReadByte()
	if err != nil {
		return nil, xerrors.Errorf("could not read entry header: %w", err)
	}
	typ := packObjType((first & 0b0111_0000) >> 4)
	size := uint64(first & 0b0000_1111)
	shift := uint(4)
	for isMSBSet(first) {
		b, err := r.ReadByte()
		if err != nil {
			return nil, xerrors.Errorf("could not read entry size: %w", err)
		}
		size |= uint64(unsetMSB(b)) << shift
		shift += 7
		first = b
	}

	entry := &rawEntry{typ: typ}

	switch typ {
	case typeRefDelta:
		raw := make([]byte, oid.Size)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, xerrors.Errorf("could not read ref-delta base id: %w", err)
		}
		entry.baseID, err = oid.FromRawBytes(raw)
		if err != nil {
			return nil, xerrors.Errorf("invalid ref-delta base id: %w", err)
		}
	case typeOfsDelta:
		negOffset, err := readOfsDeltaOffset(r)
		if err != nil {
			return nil, xerrors.Errorf("could not read ofs-delta offset: %w", err)
		}
		if negOffset > offset {
			return nil, xerrors.Errorf("ofs-delta base offset underflows: %w", ErrInvalidMagic)
		}
		entry.baseOffset = offset - negOffset
		entry.hasBaseOffset = true
	}

	body, err := readZlibExactly(r, int(size))
	if err != nil {
		return nil, xerrors.Errorf("could not decompress entry body: %w", err)
	}
	entry.body = body
	return entry, nil
}

// readZlibExactly inflates r until it has produced exactly n bytes.
func readZlibExactly(r io.Reader, n int) (data []byte, err error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, xerrors.Errorf("could not open zlib reader: %w", err)
	}
	defer errutil.Close(zr, &err)

	buf := new(bytes.Buffer)
	if _, err = io.CopyN(buf, zr, int64(n)); err != nil && err != io.EOF {
		return nil, xerrors.Errorf("could not inflate: %w", err)
	}
	if buf.Len() != n {
		return nil, xerrors.Errorf("expected %d bytes, got %d", n, buf.Len())
	}
	return buf.Bytes(), nil
}

// readOfsDeltaOffset reads the big-endian, base-128, continuation-biased
// varint used to encode an ofs-delta's negative offset.
func readOfsDeltaOffset(r *bufio.Reader) (uint64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	offset := uint64(unsetMSB(b))
	for isMSBSet(b) {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		offset++
		offset = offset<<7 | uint64(unsetMSB(b))
	}
	return offset, nil
}

func isMSBSet(b byte) bool { return b&0b1000_0000 != 0 }
func unsetMSB(b byte) byte { return b & 0b0111_1111 }
