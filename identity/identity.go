// Package identity resolves the name and email recorded as the author
// and committer of every commit a store makes, read from an ini-format
// config file the same way git itself reads user.name and user.email.
package identity

import (
	"os"

	"github.com/spf13/afero"
	"github.com/thinkerbot/git-store/internal/errutil"
	"golang.org/x/xerrors"
	"gopkg.in/ini.v1"
)

// ErrMissing is the error for an identity with neither a name nor an
// email. Load and Resolve do not return it: a missing config file loads
// as a zero Identity, which IsZero reports.
var ErrMissing = xerrors.New("no identity configured")

// Identity is the author/committer recorded on every commit a store
// makes.
type Identity struct {
	Name  string
	Email string
}

// IsZero reports whether both fields are empty.
func (id Identity) IsZero() bool {
	return id.Name == "" && id.Email == ""
}

var loadOptions = ini.LoadOptions{SkipUnrecognizableLines: true}

// Load reads the "[user]" section's name and email keys out of the ini
// file at path. A path that doesn't exist yields a zero Identity, not an
// error, so callers can layer further sources (environment variables,
// explicit flags) on top.
func Load(fs afero.Fs, path string) (id Identity, err error) {
	f, openErr := fs.Open(path)
	if openErr != nil {
		if os.IsNotExist(openErr) {
			return Identity{}, nil
		}
		return Identity{}, xerrors.Errorf("could not open %s: %w", path, openErr)
	}
	defer errutil.Close(f, &err)

	cfg, err := ini.LoadSources(loadOptions, f)
	if err != nil {
		return Identity{}, xerrors.Errorf("could not parse %s: %w", path, err)
	}

	user := cfg.Section("user")
	return Identity{
		Name:  user.Key("name").String(),
		Email: user.Key("email").String(),
	}, nil
}

// Resolve returns override if it's already fully set, otherwise fills in
// any field override leaves blank from fallback.
func Resolve(override, fallback Identity) Identity {
	if override.Name == "" {
		override.Name = fallback.Name
	}
	if override.Email == "" {
		override.Email = fallback.Email
	}
	return override
}
