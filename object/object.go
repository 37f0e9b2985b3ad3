// Package object implements the four git-compatible object kinds (blob,
// tree, commit, tag) and their exact canonical byte serialization, per
// https://git-scm.com/book/en/v2/Git-Internals-Git-Objects.
package object

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"strconv"

	"github.com/thinkerbot/git-store/internal/errutil"
	"github.com/thinkerbot/git-store/internal/readutil"
	"github.com/thinkerbot/git-store/oid"
	"golang.org/x/xerrors"
)

// Errors returned while decoding a raw object.
var (
	// ErrUnknownKind is returned when a kind string isn't one of
	// blob/tree/commit/tag.
	ErrUnknownKind = xerrors.New("unknown object kind")
	// ErrMalformed is returned when an object's bytes don't match its
	// declared kind/size, or a required field is missing.
	ErrMalformed = xerrors.New("malformed object")
)

// Kind identifies one of the four object types.
type Kind int8

// The four object kinds recognized by the store.
const (
	KindCommit Kind = 1
	KindTree   Kind = 2
	KindBlob   Kind = 3
	KindTag    Kind = 4
)

// String returns the on-disk name of the kind ("commit", "tree", ...).
func (k Kind) String() string {
	switch k {
	case KindCommit:
		return "commit"
	case KindTree:
		return "tree"
	case KindBlob:
		return "blob"
	case KindTag:
		return "tag"
	default:
		return fmt.Sprintf("kind(%d)", int8(k))
	}
}

// IsValid reports whether k is one of the four recognized kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindCommit, KindTree, KindBlob, KindTag:
		return true
	default:
		return false
	}
}

// KindFromString parses the on-disk name of a kind.
func KindFromString(s string) (Kind, error) {
	switch s {
	case "commit":
		return KindCommit, nil
	case "tree":
		return KindTree, nil
	case "blob":
		return KindBlob, nil
	case "tag":
		return KindTag, nil
	default:
		return 0, xerrors.Errorf("%q: %w", s, ErrUnknownKind)
	}
}

// Object is the generic, decoded form shared by all four kinds: a kind tag
// plus the kind-specific body bytes (the body excludes the "<kind>
// <len>\0" framing, which is only used for hashing/storage).
type Object struct {
	kind Kind
	body []byte
	id   oid.ID
}

// New builds an Object from its kind and body, deriving its ID immediately.
func New(kind Kind, body []byte) *Object {
	o := &Object{kind: kind, body: body}
	o.id = IDFor(kind, body)
	return o
}

// Kind returns the object's kind.
func (o *Object) Kind() Kind { return o.kind }

// Body returns the object's raw, decoded body.
func (o *Object) Body() []byte { return o.body }

// ID returns the object's content-derived ID.
func (o *Object) ID() oid.ID { return o.id }

// Size returns the length of the body in bytes.
func (o *Object) Size() int { return len(o.body) }

// Frame returns the exact bytes that are hashed and stored for an object:
// "<kind> <len>\0<body>".
func Frame(kind Kind, body []byte) []byte {
	w := new(bytes.Buffer)
	w.WriteString(kind.String())
	w.WriteByte(' ')
	w.WriteString(strconv.Itoa(len(body)))
	w.WriteByte(0)
	w.Write(body)
	return w.Bytes()
}

// IDFor derives the object ID for the given kind/body pair without
// allocating an *Object.
func IDFor(kind Kind, body []byte) oid.ID {
	return oid.FromContent(Frame(kind, body))
}

// Compress zlib-compresses the object's framed bytes, the format used by
// loose object files on disk.
func (o *Object) Compress() (data []byte, err error) {
	framed := Frame(o.kind, o.body)

	buf := new(bytes.Buffer)
	zw := zlib.NewWriter(buf)
	defer errutil.Close(zw, &err)

	if _, err = zw.Write(framed); err != nil {
		return nil, xerrors.Errorf("could not zlib the object: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress inflates a loose object file's bytes and parses the
// "<kind> <len>\0<body>" framing, returning the decoded Object.
func Decompress(compressed []byte) (o *Object, err error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, xerrors.Errorf("not a valid zlib stream: %w", err)
	}
	defer errutil.Close(zr, &err)

	framed, err := io.ReadAll(zr)
	if err != nil {
		return nil, xerrors.Errorf("could not inflate object: %w", err)
	}
	return Parse(framed)
}

// Parse decodes an already-inflated "<kind> <len>\0<body>" frame.
func Parse(framed []byte) (*Object, error) {
	kindBytes := readutil.ReadTo(framed, ' ')
	if kindBytes == nil {
		return nil, xerrors.Errorf("missing kind: %w", ErrMalformed)
	}
	kind, err := KindFromString(string(kindBytes))
	if err != nil {
		return nil, xerrors.Errorf("%w: %w", err, ErrMalformed)
	}

	offset := len(kindBytes) + 1
	sizeBytes := readutil.ReadTo(framed[offset:], 0)
	if sizeBytes == nil {
		return nil, xerrors.Errorf("missing size: %w", ErrMalformed)
	}
	size, err := strconv.Atoi(string(sizeBytes))
	if err != nil {
		return nil, xerrors.Errorf("invalid size %q: %w", sizeBytes, ErrMalformed)
	}

	offset += len(sizeBytes) + 1
	body := framed[offset:]
	if len(body) != size {
		return nil, xerrors.Errorf("declared size %d, got %d: %w", size, len(body), ErrMalformed)
	}

	return New(kind, body), nil
}

// HasZlibHeader reports whether data begins with a valid zlib stream
// header: first byte 0x78, and (b0<<8 | b1) a multiple of 31.
func HasZlibHeader(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	if data[0] != 0x78 {
		return false
	}
	word := uint16(data[0])<<8 | uint16(data[1])
	return word%31 == 0
}
