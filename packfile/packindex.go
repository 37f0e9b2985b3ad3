package packfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"sort"
	"sync"

	"github.com/thinkerbot/git-store/oid"
	"golang.org/x/xerrors"
)

const (
	layer1Size      = 1024
	layer3EntrySize = 4
	layer4EntrySize = 4
)

func indexMagic() []byte {
	return []byte{255, 't', 'O', 'c', 0, 0, 0, 2}
}

// ErrObjectNotFound is returned when an ID has no entry in the index.
var ErrObjectNotFound = xerrors.New("object not found in pack index")

// Index is a parsed packfile index (.idx, version 2): a map from object ID
// to its byte offset within the corresponding packfile, built from the
// file's 5 layers (see https://git-scm.com/docs/pack-format).
type Index struct {
	mu sync.Mutex

	r readBufferedDiscarder

	hashOffset map[oid.ID]uint64
	parseErr   error
	parsed     bool
}

// readBufferedDiscarder is the subset of *bufio.Reader that Index needs.
type readBufferedDiscarder interface {
	io.Reader
	Discard(n int) (int, error)
}

// NewIndex validates the header of r and returns a lazily-parsed Index.
func NewIndex(r *bufio.Reader) (*Index, error) {
	header := make([]byte, len(indexMagic()))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, xerrors.Errorf("could not read index header: %w", err)
	}
	if !bytes.Equal(header, indexMagic()) {
		return nil, xerrors.Errorf("invalid index header: %w", ErrInvalidMagic)
	}
	return &Index{r: r}, nil
}

// Offset returns the byte offset of id within the packfile. Returns
// ErrObjectNotFound if id isn't present.
func (idx *Index) Offset(id oid.ID) (uint64, error) {
	if err := idx.parse(); err != nil {
		return 0, xerrors.Errorf("could not parse index: %w", err)
	}
	offset, ok := idx.hashOffset[id]
	if !ok {
		return 0, ErrObjectNotFound
	}
	return offset, nil
}

// Contains reports whether id has an entry in the index.
func (idx *Index) Contains(id oid.ID) (bool, error) {
	if err := idx.parse(); err != nil {
		return false, xerrors.Errorf("could not parse index: %w", err)
	}
	_, ok := idx.hashOffset[id]
	return ok, nil
}

// IDs returns every object ID referenced by the index.
func (idx *Index) IDs() ([]oid.ID, error) {
	if err := idx.parse(); err != nil {
		return nil, xerrors.Errorf("could not parse index: %w", err)
	}
	ids := make([]oid.ID, 0, len(idx.hashOffset))
	for id := range idx.hashOffset {
		ids = append(ids, id)
	}
	return ids, nil
}

// parse reads layers 1-5 of the index into an in-memory id -> offset map.
// It only runs once; later calls reuse the cached result (or error).
func (idx *Index) parse() (err error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.parsed {
		return nil
	}
	if idx.parseErr != nil {
		return idx.parseErr
	}
	defer func() {
		if err != nil {
			idx.parseErr = err
		}
	}()

	buf32 := make([]byte, 4)
	buf64 := make([]byte, 8)
	bufOid := make([]byte, oid.Size)

	// Layer1's last entry (fanout for 0xff) holds the total object count.
	if _, err = idx.r.Discard(255 * 4); err != nil {
		return xerrors.Errorf("could not skip to the last layer1 entry: %w", err)
	}
	if _, err = io.ReadFull(idx.r, buf32); err != nil {
		return xerrors.Errorf("could not read object count: %w", err)
	}
	objectCount := int(binary.BigEndian.Uint32(buf32))

	ids := make([]oid.ID, 0, objectCount)
	for i := 0; i < objectCount; i++ {
		if _, err = io.ReadFull(idx.r, bufOid); err != nil {
			return xerrors.Errorf("could not read id %d from layer2: %w", i, err)
		}
		id, convErr := oid.FromRawBytes(bufOid)
		if convErr != nil {
			return xerrors.Errorf("invalid id %d in layer2: %w", i, convErr)
		}
		ids = append(ids, id)
	}

	// Layer3 (CRC32 per object) isn't needed to resolve offsets.
	if _, err = idx.r.Discard(objectCount * layer3EntrySize); err != nil {
		return xerrors.Errorf("could not skip layer3: %w", err)
	}

	idx.hashOffset = make(map[oid.ID]uint64, objectCount)

	type layer5Entry struct {
		id             oid.ID
		relativeOffset uint64
	}
	var layer5Entries []layer5Entry

	for _, id := range ids {
		if _, err = io.ReadFull(idx.r, buf32); err != nil {
			return xerrors.Errorf("could not read layer4 offset for %s: %w", id, err)
		}
		entry := binary.BigEndian.Uint32(buf32)
		msb := entry>>31 == 1
		offset := uint64(entry & 0b0111_1111_1111_1111_1111_1111_1111_1111)
		if msb {
			layer5Entries = append(layer5Entries, layer5Entry{id: id, relativeOffset: offset})
			continue
		}
		idx.hashOffset[id] = offset
	}

	// Layer5 entries must be consumed in ascending relative-offset order
	// since the underlying reader can't seek backwards.
	sort.Slice(layer5Entries, func(i, j int) bool {
		return layer5Entries[i].relativeOffset < layer5Entries[j].relativeOffset
	})
	for _, e := range layer5Entries {
		if _, err = io.ReadFull(idx.r, buf64); err != nil {
			return xerrors.Errorf("could not read layer5 offset for %s: %w", e.id, err)
		}
		idx.hashOffset[e.id] = binary.BigEndian.Uint64(buf64)
	}

	idx.parsed = true
	return nil
}
