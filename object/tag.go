package object

import (
	"bytes"

	"github.com/thinkerbot/git-store/internal/readutil"
	"github.com/thinkerbot/git-store/oid"
	"golang.org/x/xerrors"
)

// ErrTagInvalid is returned when a tag's body is missing a required
// header or can't be parsed.
var ErrTagInvalid = xerrors.New("invalid tag")

// TagParams holds everything needed to construct a Tag.
type TagParams struct {
	Target  oid.ID
	Kind    Kind
	Name    string
	Tagger  Identity
	Message string
}

// Tag is the decoded form of a tag object: a pointer at another object,
// the tagger's identity, and a message.
type Tag struct {
	target  oid.ID
	kind    Kind
	name    string
	tagger  Identity
	message string
}

// NewTag builds a Tag from its fields.
func NewTag(p TagParams) *Tag {
	return &Tag{
		target:  p.Target,
		kind:    p.Kind,
		name:    p.Name,
		tagger:  p.Tagger,
		message: p.Message,
	}
}

// Target returns the ID of the object the tag points at.
func (t *Tag) Target() oid.ID { return t.target }

// Kind returns the kind of the target object.
func (t *Tag) Kind() Kind { return t.kind }

// Name returns the tag's name.
func (t *Tag) Name() string { return t.name }

// Tagger returns the identity of whoever created the tag.
func (t *Tag) Tagger() Identity { return t.tagger }

// Message returns the tag message.
func (t *Tag) Message() string { return t.message }

// ToObject renders the canonical byte form of the tag.
func (t *Tag) ToObject() *Object {
	buf := new(bytes.Buffer)
	buf.WriteString("object ")
	buf.WriteString(t.target.String())
	buf.WriteByte('\n')

	buf.WriteString("type ")
	buf.WriteString(t.kind.String())
	buf.WriteByte('\n')

	buf.WriteString("tag ")
	buf.WriteString(t.name)
	buf.WriteByte('\n')

	buf.WriteString("tagger ")
	buf.WriteString(t.tagger.String())
	buf.WriteByte('\n')

	buf.WriteByte('\n')
	buf.WriteString(t.message)

	return New(KindTag, buf.Bytes())
}

// TagFromObject parses an Object of kind tag back into a Tag.
func TagFromObject(o *Object) (*Tag, error) {
	if o.Kind() != KindTag {
		return nil, xerrors.Errorf("kind %s is not a tag: %w", o.Kind(), ErrTagInvalid)
	}

	tag := &Tag{}
	body := o.Body()
	offset := 0
	for {
		line := readutil.ReadTo(body[offset:], '\n')
		if line == nil {
			return nil, xerrors.Errorf("unterminated tag header: %w", ErrTagInvalid)
		}
		offset += len(line) + 1

		if len(line) == 0 {
			tag.message = string(body[offset:])
			break
		}

		kv := bytes.SplitN(line, []byte{' '}, 2)
		if len(kv) != 2 {
			return nil, xerrors.Errorf("malformed header line %q: %w", line, ErrTagInvalid)
		}
		var err error
		switch string(kv[0]) {
		case "object":
			tag.target, err = oid.FromHexBytes(kv[1])
		case "type":
			tag.kind, err = KindFromString(string(kv[1]))
		case "tag":
			tag.name = string(kv[1])
		case "tagger":
			tag.tagger, err = ParseIdentity(kv[1])
		}
		if err != nil {
			return nil, xerrors.Errorf("could not parse %q header: %w: %w", kv[0], err, ErrTagInvalid)
		}
	}

	if tag.tagger.IsZero() {
		return nil, xerrors.Errorf("tag has no tagger: %w", ErrTagInvalid)
	}
	if tag.target.IsZero() {
		return nil, xerrors.Errorf("tag has no target: %w", ErrTagInvalid)
	}
	if !tag.kind.IsValid() {
		return nil, xerrors.Errorf("tag has no valid type: %w", ErrTagInvalid)
	}

	return tag, nil
}
