// Package oid implements the content-addressed identifiers used to name
// every object in the store: a 20-byte SHA-1 digest, represented as a
// 40-character lowercase hex string wherever it crosses an API boundary.
package oid

import (
	"crypto/sha1" //nolint:gosec // the on-disk format is defined by the SHA-1 digest, not chosen for security
	"encoding/hex"
	"errors"
)

// Size is the length, in bytes, of a raw object ID.
const Size = 20

// HexSize is the length of the hex-encoded, human readable form of an ID.
const HexSize = Size * 2

// ErrInvalid is returned when a value cannot be parsed into an ID.
var ErrInvalid = errors.New("invalid object id")

// Null is the zero-value ID, used to represent "no object" (e.g. a commit
// with no parent, or a reference that does not exist yet).
var Null ID

// ID is a 20-byte content hash identifying an object in the store.
type ID [Size]byte

// FromContent returns the ID that a LooseStore/PackStore entry would use
// for the already-framed bytes "<kind> <len>\0<content>". Callers that
// have the raw kind/content pair should build that framing first; this
// function never does header construction itself so it stays usable for
// any caller that already has the exact bytes to hash.
func FromContent(framed []byte) ID {
	return ID(sha1.Sum(framed)) //nolint:gosec
}

// FromHex parses a 40-character lowercase hex string into an ID.
func FromHex(s string) (ID, error) {
	if len(s) != HexSize {
		return Null, ErrInvalid
	}
	var raw [Size]byte
	if _, err := hex.Decode(raw[:], []byte(s)); err != nil {
		return Null, ErrInvalid
	}
	return ID(raw), nil
}

// FromHexBytes is like FromHex but takes the hex characters as a []byte,
// which is how they usually show up while parsing tree/commit/tag bodies.
func FromHexBytes(b []byte) (ID, error) {
	return FromHex(string(b))
}

// FromRawBytes builds an ID from its 20 raw (non-hex) bytes, the encoding
// used inside tree entries and pack indexes.
func FromRawBytes(b []byte) (ID, error) {
	if len(b) != Size {
		return Null, ErrInvalid
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// String returns the 40-character hex representation of the ID.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 20-byte representation of the ID.
func (id ID) Bytes() []byte {
	return id[:]
}

// IsZero reports whether id is the Null ID.
func (id ID) IsZero() bool {
	return id == Null
}
