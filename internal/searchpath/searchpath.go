// Package searchpath locates procedural scripts on the host's procedural search path.
//
// A search path is a list of entries separated by the platform list separator
// (';' on Windows, ':' elsewhere). An entry is either a directory or a token
// "[NAME]" naming an environment variable whose value is itself a search path.
package searchpath

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// ErrNotFound is returned when no search path entry yields a regular file.
var ErrNotFound = errors.New("script not found in search path")

// Resolver resolves script references against search paths.
type Resolver struct {
	// Fs is the filesystem probed for candidate files.
	Fs afero.Fs
	// LookupEnv expands "[NAME]" entries. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// ListSeparator separates entries. Defaults to os.PathListSeparator.
	ListSeparator byte
	// Separator is the native directory separator used by Normalize.
	// Defaults to os.PathSeparator.
	Separator byte

	mu     sync.Mutex
	warned map[string]struct{}
}

// New returns a Resolver over fs using the process environment and the
// platform separators.
func New(fs afero.Fs) *Resolver {
	return &Resolver{
		Fs:            fs,
		LookupEnv:     os.LookupEnv,
		ListSeparator: os.PathListSeparator,
		Separator:     os.PathSeparator,
	}
}

// IsFile reports whether path names a regular file.
func (r *Resolver) IsFile(path string) bool {
	if path == "" {
		return false
	}
	st, err := r.Fs.Stat(path)
	if err != nil {
		return false
	}

	return st.Mode().IsRegular()
}

// Resolve returns the first "<entry>/<scriptRef>" naming a regular file,
// scanning searchPath in order and expanding "[NAME]" entries in place.
// An absolute scriptRef naming a regular file is returned unmodified.
// Other results are normalized to the native separator.
func (r *Resolver) Resolve(searchPath, scriptRef string) (string, error) {
	if filepath.IsAbs(scriptRef) && r.IsFile(scriptRef) {
		return scriptRef, nil
	}

	found, ok := r.find(searchPath, scriptRef, map[string]struct{}{})
	if !ok {
		return "", ErrNotFound
	}

	return r.Normalize(found), nil
}

func (r *Resolver) find(searchPath, scriptRef string, visiting map[string]struct{}) (string, bool) {
	for _, entry := range r.Split(searchPath) {
		if name, ok := envToken(entry); ok {
			if _, cyclic := visiting[name]; cyclic {
				r.warnCycle(name)
				continue
			}
			value, set := r.lookupEnv(name)
			if !set {
				continue
			}
			visiting[name] = struct{}{}
			path, found := r.find(value, scriptRef, visiting)
			delete(visiting, name)
			if found {
				return path, true
			}
			continue
		}

		candidate := entry + "/" + scriptRef
		if r.IsFile(candidate) {
			return candidate, true
		}
	}

	return "", false
}

// Split returns the non-empty entries of searchPath.
func (r *Resolver) Split(searchPath string) []string {
	parts := strings.Split(searchPath, string(r.listSeparator()))
	entries := parts[:0]
	for _, p := range parts {
		if p != "" {
			entries = append(entries, p)
		}
	}

	return entries
}

// Normalize rewrites every directory separator in path to the native one.
func (r *Resolver) Normalize(path string) string {
	return NormalizeTo(path, r.separator())
}

// NormalizeTo rewrites '/' and '\' in path to sep.
func NormalizeTo(path string, sep byte) string {
	from := byte('\\')
	if sep == '\\' {
		from = '/'
	}

	return strings.ReplaceAll(path, string(from), string(sep))
}

func envToken(entry string) (string, bool) {
	if len(entry) < 2 || entry[0] != '[' || entry[len(entry)-1] != ']' {
		return "", false
	}

	return entry[1 : len(entry)-1], true
}

func (r *Resolver) warnCycle(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.warned == nil {
		r.warned = make(map[string]struct{})
	}
	if _, done := r.warned[name]; done {
		return
	}
	r.warned[name] = struct{}{}

	log.Warn().
		Str("component", "procgen").
		Str("variable", name).
		Msg("cyclic environment variable in procedural search path, skipping")
}

func (r *Resolver) lookupEnv(name string) (string, bool) {
	if r.LookupEnv == nil {
		return os.LookupEnv(name)
	}

	return r.LookupEnv(name)
}

func (r *Resolver) listSeparator() byte {
	if r.ListSeparator == 0 {
		return os.PathListSeparator
	}

	return r.ListSeparator
}

func (r *Resolver) separator() byte {
	if r.Separator == 0 {
		return os.PathSeparator
	}

	return r.Separator
}
