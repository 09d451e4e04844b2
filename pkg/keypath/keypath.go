// Package keypath defines the addressing unit for configuration trees.
// A Path is an ordered list of map keys leading from the tree root to a
// value, e.g. ["database", "host"]. Dotted strings are the compact wire
// form and normalize to the same Path ("database.host").
package keypath

import "strings"

// Separator joins path segments in the dotted string form.
const Separator = "."

// Path addresses a value inside a nested configuration tree.
// A valid Path has at least one segment.
type Path []string

// New builds a Path from explicit segments.
func New(segments ...string) Path {
	if len(segments) == 0 {
		return nil
	}
	p := make(Path, len(segments))
	copy(p, segments)
	return p
}

// Parse normalizes a dotted string into a Path.
// Empty segments produced by leading, trailing or doubled separators are
// dropped, so "a..b." parses the same as "a.b". An empty or
// separator-only string yields a nil Path.
func Parse(s string) Path {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, Separator)
	p := make(Path, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			p = append(p, part)
		}
	}
	if len(p) == 0 {
		return nil
	}
	return p
}

// String returns the dotted form. This is the canonical cache key.
func (p Path) String() string {
	return strings.Join(p, Separator)
}

// IsZero reports whether the path has no segments.
func (p Path) IsZero() bool {
	return len(p) == 0
}

// Leaf returns the final segment, or "" for a zero path.
func (p Path) Leaf() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Parent returns the path with the final segment removed.
// The parent of a single-segment path is the nil path (the tree root).
func (p Path) Parent() Path {
	if len(p) <= 1 {
		return nil
	}
	return p[:len(p)-1].Clone()
}

// Child returns a new path with segment appended.
func (p Path) Child(segment string) Path {
	c := make(Path, len(p)+1)
	copy(c, p)
	c[len(p)] = segment
	return c
}

// Ancestors returns every proper prefix of the path, nearest first:
// the parent, then the grandparent, down to the single root-level
// segment. A single-segment path has no ancestors.
func (p Path) Ancestors() []Path {
	if len(p) <= 1 {
		return nil
	}
	out := make([]Path, 0, len(p)-1)
	for i := len(p) - 1; i >= 1; i-- {
		out = append(out, p[:i].Clone())
	}
	return out
}

// SelfAndAncestors returns the path itself followed by its ancestors,
// nearest first. This is the notification walk order for a mutation.
func (p Path) SelfAndAncestors() []Path {
	if len(p) == 0 {
		return nil
	}
	out := make([]Path, 0, len(p))
	for i := len(p); i >= 1; i-- {
		out = append(out, p[:i].Clone())
	}
	return out
}

// HasPrefix reports whether prefix is a prefix of p, including p itself.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i, seg := range prefix {
		if p[i] != seg {
			return false
		}
	}
	return true
}

// Equal reports whether two paths have identical segments.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the path.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	c := make(Path, len(p))
	copy(c, p)
	return c
}
