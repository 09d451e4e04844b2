package server

import (
	"errors"
	"fmt"

	"github.com/kart-io/arca/pkg/keypath"
)

var (
	// ErrNotFound reports a path with no value. Returned errors wrap it
	// with path context, so match with errors.Is.
	ErrNotFound = errors.New("configuration value not found")

	// ErrEmptyPath reports an operation addressed at no path.
	ErrEmptyPath = errors.New("empty key path")

	// ErrClosed reports an operation on a closed server.
	ErrClosed = errors.New("configuration server closed")
)

func notFound(path keypath.Path) error {
	return fmt.Errorf("%s: %w", path.String(), ErrNotFound)
}

// IOError wraps a filesystem failure during load or persist.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("config %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ParseError wraps a decode failure for the configuration file. The
// underlying codec error carries the byte offset.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse config %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TypeError reports a typed accessor finding a value of another kind.
type TypeError struct {
	Path keypath.Path
	Want string
	Got  any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("config value %s is %T, want %s", e.Path.String(), e.Got, e.Want)
}
