// Package location resolves where the managed configuration file lives.
//
// The directory and file name are resolved independently, each through
// the same precedence ladder: generic environment variables
// (ARCA_CONFIG_PATH, ARCA_CONFIG_FILE), then domain-specific ones
// (<DOMAIN>_CONFIG_PATH, <DOMAIN>_CONFIG_FILE), then statically
// configured values, then the defaults ~/.<domain>/ and config.json.
//
// Environment-supplied values keep their exact string form, trailing
// slashes included; static and default values are cleaned with
// path/filepath. Resolution happens on every call so a changed
// environment or a runtime switch takes effect on the next poll tick.
package location

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// GenericPrefix is the domain-independent environment prefix.
	GenericPrefix = "ARCA"

	envPathSuffix = "_CONFIG_PATH"
	envFileSuffix = "_CONFIG_FILE"

	// DefaultFileName is used when nothing else names the file.
	DefaultFileName = "config.json"
)

// Location is a resolved configuration file location.
type Location struct {
	// Dir is the directory portion, possibly in exact environment form.
	Dir string
	// File is the file name portion.
	File string
}

// Path joins directory and file without disturbing the directory's
// exact form.
func (l Location) Path() string {
	if l.Dir == "" {
		return l.File
	}
	if strings.HasSuffix(l.Dir, "/") || strings.HasSuffix(l.Dir, string(os.PathSeparator)) {
		return l.Dir + l.File
	}
	return l.Dir + string(os.PathSeparator) + l.File
}

// Resolver resolves the active file location on demand.
type Resolver struct {
	mu     sync.RWMutex
	domain string
	dir    string
	file   string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDir statically configures the directory. Empty values are
// ignored so callers can pass through unset configuration.
func WithDir(dir string) Option {
	return func(r *Resolver) {
		if dir != "" {
			r.dir = normalize(dir)
		}
	}
}

// WithFile statically configures the file name. Empty values are
// ignored.
func WithFile(file string) Option {
	return func(r *Resolver) {
		if file != "" {
			r.file = normalize(file)
		}
	}
}

// NewResolver creates a resolver for the given configuration domain.
// The domain names the environment variable family and the default
// dot-directory; it is lowercased for paths and uppercased for
// environment lookups. An empty domain falls back to "arca".
func NewResolver(domain string, opts ...Option) *Resolver {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		domain = strings.ToLower(GenericPrefix)
	}
	r := &Resolver{domain: domain}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Domain returns the configuration domain.
func (r *Resolver) Domain() string {
	return r.domain
}

// EnvPrefix returns the domain's environment variable prefix, e.g.
// "MY_APP" for domain "my-app".
func (r *Resolver) EnvPrefix() string {
	return strings.ToUpper(strings.ReplaceAll(r.domain, "-", "_"))
}

// Resolve applies the precedence ladder and returns the current
// location. Environment variables are read live on every call.
func (r *Resolver) Resolve() Location {
	r.mu.RLock()
	staticDir, staticFile := r.dir, r.file
	r.mu.RUnlock()

	prefix := r.EnvPrefix()

	dir := firstEnv(GenericPrefix+envPathSuffix, prefix+envPathSuffix)
	if dir == "" {
		dir = staticDir
	}
	if dir == "" {
		dir = defaultDir(r.domain)
	}

	file := firstEnv(GenericPrefix+envFileSuffix, prefix+envFileSuffix)
	if file == "" {
		file = staticFile
	}
	if file == "" {
		file = DefaultFileName
	}

	return Location{Dir: dir, File: file}
}

// Switch updates the static directory and file name. Empty arguments
// leave the corresponding value untouched. Returns the location that
// was active before the switch. Environment variables still outrank
// the new static values on the next Resolve.
func (r *Resolver) Switch(dir, file string) Location {
	previous := r.Resolve()

	r.mu.Lock()
	if dir != "" {
		r.dir = normalize(dir)
	}
	if file != "" {
		r.file = normalize(file)
	}
	r.mu.Unlock()

	return previous
}

// firstEnv returns the first non-empty environment value, preserving
// its exact string form.
func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// normalize cleans a statically supplied path.
func normalize(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}

// defaultDir is ~/.<domain>, or ./.<domain> when the home directory
// cannot be determined.
func defaultDir(domain string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, "."+domain)
}
