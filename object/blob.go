package object

// NewBlob builds the Object wrapping an opaque byte payload. A Blob has no
// further structure: its Object.Body() is the payload verbatim.
func NewBlob(content []byte) *Object {
	return New(KindBlob, content)
}
