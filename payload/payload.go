// Package payload converts between user-supplied values and the raw
// bytes stored in a blob, dispatching on the extension of the path a
// value is stored at — mirroring how the store's WorkingTree overlay
// decides which codec applies to a given leaf.
package payload

import (
	"path"
	"strings"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedValue is returned by BinaryHandler.Encode when value
// isn't already raw bytes.
var ErrUnsupportedValue = xerrors.New("binary handler requires a []byte value")

// Handler encodes a value to blob bytes and decodes blob bytes back into
// a value. Both directions must be total and deterministic for every
// value the handler claims to support.
type Handler interface {
	Encode(path string, value interface{}) ([]byte, error)
	Decode(path string, data []byte) (interface{}, error)
}

// defaultExt is the registry key for the fallback handler used for any
// extension with no registered handler.
const defaultExt = ""

// Registry dispatches to a Handler by the extension of the leaf name a
// value is read from or written to.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns a Registry with the store's two required handlers
// already registered: a structured "yml" handler and a default binary
// handler for everything else.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	r.Register("yml", YAMLHandler{})
	r.RegisterDefault(BinaryHandler{})
	return r
}

// Register associates ext (without a leading dot) with h.
func (r *Registry) Register(ext string, h Handler) {
	r.handlers[ext] = h
}

// RegisterDefault sets the handler used when no extension-specific
// handler is registered.
func (r *Registry) RegisterDefault(h Handler) {
	r.handlers[defaultExt] = h
}

// Extension returns the substring of leaf after its last ".", or "" if
// leaf has none.
func Extension(leaf string) string {
	base := path.Base(leaf)
	dot := strings.LastIndexByte(base, '.')
	if dot < 0 {
		return defaultExt
	}
	return base[dot+1:]
}

// HandlerFor returns the handler registered for the extension of p,
// falling back to the default handler.
func (r *Registry) HandlerFor(p string) Handler {
	if h, ok := r.handlers[Extension(p)]; ok {
		return h
	}
	return r.handlers[defaultExt]
}

// Encode converts value to blob bytes using the handler selected for p.
func (r *Registry) Encode(p string, value interface{}) ([]byte, error) {
	return r.HandlerFor(p).Encode(p, value)
}

// Decode converts blob bytes back into a value using the handler
// selected for p.
func (r *Registry) Decode(p string, data []byte) (interface{}, error) {
	return r.HandlerFor(p).Decode(p, data)
}

// YAMLHandler is the structured handler registered for the "yml"
// extension: a lossless round trip of maps, slices, and scalars through
// YAML, the direct equivalent of the store's original YAML-backed blob
// format.
type YAMLHandler struct{}

// Encode marshals value to YAML bytes.
func (YAMLHandler) Encode(_ string, value interface{}) ([]byte, error) {
	return yaml.Marshal(value)
}

// Decode unmarshals YAML bytes into a generic value (maps, slices, and
// scalars, per gopkg.in/yaml.v3's default decoding into interface{}).
func (YAMLHandler) Decode(_ string, data []byte) (interface{}, error) {
	var value interface{}
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// BinaryHandler is the default handler: the identity function on bytes.
type BinaryHandler struct{}

// Encode requires value to already be []byte and returns it unchanged.
func (BinaryHandler) Encode(_ string, value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case nil:
		return nil, nil
	default:
		return nil, xerrors.Errorf("%T: %w", value, ErrUnsupportedValue)
	}
}

// Decode returns data unchanged, wrapped as a []byte value.
func (BinaryHandler) Decode(_ string, data []byte) (interface{}, error) {
	return data, nil
}
