package object

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/thinkerbot/git-store/internal/readutil"
	"github.com/thinkerbot/git-store/oid"
	"golang.org/x/xerrors"
)

// ErrSignatureInvalid is returned when a signature's bytes don't match
// "name <email> seconds tz".
var ErrSignatureInvalid = xerrors.New("invalid signature")

// ErrCommitInvalid is returned when a commit's body is missing a required
// header or can't be parsed.
var ErrCommitInvalid = xerrors.New("invalid commit")

// Identity is the author/committer/tagger of an object: a name, an email,
// and the moment the object was produced.
type Identity struct {
	Name  string
	Email string
	Time  time.Time
}

// String renders the identity the way it is stored on disk:
// "Name <email> 1566115917 -0700".
func (s Identity) String() string {
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, s.Time.Unix(), s.Time.Format("-0700"))
}

// IsZero reports whether s has never been set.
func (s Identity) IsZero() bool {
	return s.Name == "" && s.Email == "" && s.Time.IsZero()
}

// ParseIdentity parses the "Name <email> seconds tz" form used by commits
// and tags.
func ParseIdentity(b []byte) (Identity, error) {
	var id Identity

	nameBytes := readutil.ReadTo(b, '<')
	if nameBytes == nil {
		return id, xerrors.Errorf("missing name: %w", ErrSignatureInvalid)
	}
	id.Name = strings.TrimSpace(string(nameBytes))
	offset := len(nameBytes) + 1
	if offset >= len(b) {
		return id, xerrors.Errorf("truncated after name: %w", ErrSignatureInvalid)
	}

	emailBytes := readutil.ReadTo(b[offset:], '>')
	if emailBytes == nil {
		return id, xerrors.Errorf("missing email: %w", ErrSignatureInvalid)
	}
	id.Email = string(emailBytes)
	offset += len(emailBytes) + 2 // skip "> "
	if offset >= len(b) {
		return id, xerrors.Errorf("truncated after email: %w", ErrSignatureInvalid)
	}

	tsBytes := readutil.ReadTo(b[offset:], ' ')
	if tsBytes == nil {
		return id, xerrors.Errorf("missing timestamp: %w", ErrSignatureInvalid)
	}
	offset += len(tsBytes) + 1
	if offset > len(b) {
		return id, xerrors.Errorf("truncated after timestamp: %w", ErrSignatureInvalid)
	}
	secs, err := strconv.ParseInt(string(tsBytes), 10, 64)
	if err != nil {
		return id, xerrors.Errorf("invalid timestamp %q: %w", tsBytes, ErrSignatureInvalid)
	}
	id.Time = time.Unix(secs, 0)

	tz, err := time.Parse("-0700", string(b[offset:]))
	if err != nil {
		return id, xerrors.Errorf("invalid timezone %q: %w", b[offset:], ErrSignatureInvalid)
	}
	id.Time = id.Time.In(tz.Location())
	return id, nil
}

// CommitParams holds everything needed to construct a Commit.
type CommitParams struct {
	Tree      oid.ID
	Parents   []oid.ID
	Author    Identity
	Committer Identity
	Message   string
}

// Commit is the decoded form of a commit object: a tree, an ordered list
// of parents, author/committer identities, and a message.
type Commit struct {
	tree      oid.ID
	parents   []oid.ID
	author    Identity
	committer Identity
	message   string
}

// NewCommit builds a Commit from its fields.
func NewCommit(p CommitParams) *Commit {
	committer := p.Committer
	if committer.IsZero() {
		committer = p.Author
	}
	return &Commit{
		tree:      p.Tree,
		parents:   append([]oid.ID(nil), p.Parents...),
		author:    p.Author,
		committer: committer,
		message:   p.Message,
	}
}

// Tree returns the ID of the commit's root tree.
func (c *Commit) Tree() oid.ID { return c.tree }

// Parents returns a copy of the commit's parent IDs, in order. The first
// entry, if any, is the first parent used by history traversal.
func (c *Commit) Parents() []oid.ID {
	out := make([]oid.ID, len(c.parents))
	copy(out, c.parents)
	return out
}

// Author returns the commit's author identity.
func (c *Commit) Author() Identity { return c.author }

// Committer returns the commit's committer identity.
func (c *Commit) Committer() Identity { return c.committer }

// Message returns the commit message.
func (c *Commit) Message() string { return c.message }

// ToObject renders the canonical byte form of the commit.
func (c *Commit) ToObject() *Object {
	buf := new(bytes.Buffer)
	buf.WriteString("tree ")
	buf.WriteString(c.tree.String())
	buf.WriteByte('\n')

	for _, p := range c.parents {
		buf.WriteString("parent ")
		buf.WriteString(p.String())
		buf.WriteByte('\n')
	}

	buf.WriteString("author ")
	buf.WriteString(c.author.String())
	buf.WriteByte('\n')

	buf.WriteString("committer ")
	buf.WriteString(c.committer.String())
	buf.WriteByte('\n')

	buf.WriteByte('\n')
	buf.WriteString(c.message)

	return New(KindCommit, buf.Bytes())
}

// CommitFromObject parses an Object of kind commit back into a Commit.
func CommitFromObject(o *Object) (*Commit, error) {
	if o.Kind() != KindCommit {
		return nil, xerrors.Errorf("kind %s is not a commit: %w", o.Kind(), ErrCommitInvalid)
	}

	c := &Commit{}
	body := o.Body()
	offset := 0
	for {
		line := readutil.ReadTo(body[offset:], '\n')
		if line == nil {
			return nil, xerrors.Errorf("unterminated commit header: %w", ErrCommitInvalid)
		}
		offset += len(line) + 1

		if len(line) == 0 {
			c.message = string(body[offset:])
			break
		}

		kv := bytes.SplitN(line, []byte{' '}, 2)
		if len(kv) != 2 {
			return nil, xerrors.Errorf("malformed header line %q: %w", line, ErrCommitInvalid)
		}
		var err error
		switch string(kv[0]) {
		case "tree":
			c.tree, err = oid.FromHexBytes(kv[1])
		case "parent":
			var p oid.ID
			p, err = oid.FromHexBytes(kv[1])
			c.parents = append(c.parents, p)
		case "author":
			c.author, err = ParseIdentity(kv[1])
		case "committer":
			c.committer, err = ParseIdentity(kv[1])
		}
		if err != nil {
			return nil, xerrors.Errorf("could not parse %q header: %w: %w", kv[0], err, ErrCommitInvalid)
		}
	}

	if c.author.IsZero() {
		return nil, xerrors.Errorf("commit has no author: %w", ErrCommitInvalid)
	}
	if c.tree.IsZero() {
		return nil, xerrors.Errorf("commit has no tree: %w", ErrCommitInvalid)
	}

	return c, nil
}
