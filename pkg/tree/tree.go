// Package tree implements the nested map operations behind the
// configuration store: path lookup, insertion with intermediate map
// creation, deletion with empty-parent pruning, deep copying, equality
// and flattening.
//
// All functions operate on the raw map[string]any produced by JSON
// decoding. They never copy on their own; callers that hand subtrees
// across an ownership boundary clone explicitly with Clone or CloneValue.
package tree

import (
	"github.com/kart-io/arca/pkg/keypath"
)

// Get retrieves the value at path. The second return reports whether the
// full path resolved. Traversal stops at the first non-map intermediate,
// which is a miss rather than an error.
func Get(data map[string]any, path keypath.Path) (any, bool) {
	if data == nil || len(path) == 0 {
		return nil, false
	}

	current := any(data)
	for _, seg := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		val, exists := m[seg]
		if !exists {
			return nil, false
		}
		current = val
	}
	return current, true
}

// Set stores value at path, creating intermediate maps as needed.
// An intermediate that is not a map is replaced by a new map, so the
// path always wins over conflicting scalar shapes. The value at the
// final segment is overwritten unconditionally.
func Set(data map[string]any, path keypath.Path, value any) {
	if data == nil || len(path) == 0 {
		return
	}

	current := data
	for i := 0; i < len(path)-1; i++ {
		seg := path[i]
		if next, ok := current[seg].(map[string]any); ok {
			current = next
		} else {
			next := make(map[string]any)
			current[seg] = next
			current = next
		}
	}
	current[path.Leaf()] = value
}

// Delete removes the value at path and reports whether anything was
// removed. Parent maps left empty by the removal are pruned recursively,
// up to but never including the root map.
func Delete(data map[string]any, path keypath.Path) bool {
	if data == nil || len(path) == 0 {
		return false
	}
	return deleteRecursive(data, path)
}

func deleteRecursive(m map[string]any, path keypath.Path) bool {
	seg := path[0]
	if len(path) == 1 {
		if _, exists := m[seg]; !exists {
			return false
		}
		delete(m, seg)
		return true
	}

	child, ok := m[seg].(map[string]any)
	if !ok {
		return false
	}
	if !deleteRecursive(child, path[1:]) {
		return false
	}
	if len(child) == 0 {
		delete(m, seg)
	}
	return true
}

// Clone creates a deep copy of a tree.
func Clone(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for key, val := range src {
		switch v := val.(type) {
		case map[string]any:
			dst[key] = Clone(v)
		case []any:
			dst[key] = cloneSlice(v)
		default:
			dst[key] = val
		}
	}
	return dst
}

// CloneValue creates a deep copy of any tree value. Scalars are returned
// as-is; maps and slices are copied recursively. String slices, which
// only enter through direct API calls, are copied too so callers cannot
// alias stored state.
func CloneValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		return Clone(v)
	case []any:
		return cloneSlice(v)
	case []string:
		dst := make([]string, len(v))
		copy(dst, v)
		return dst
	default:
		return val
	}
}

func cloneSlice(src []any) []any {
	if src == nil {
		return nil
	}

	dst := make([]any, len(src))
	for i, val := range src {
		switch v := val.(type) {
		case map[string]any:
			dst[i] = Clone(v)
		case []any:
			dst[i] = cloneSlice(v)
		default:
			dst[i] = val
		}
	}
	return dst
}

// Equal compares two trees for deep equality.
func Equal(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !ValueEqual(va, vb) {
			return false
		}
	}
	return true
}

// ValueEqual compares two tree values for deep equality.
func ValueEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	switch va := a.(type) {
	case map[string]any:
		vb, ok := b.(map[string]any)
		if !ok {
			return false
		}
		return Equal(va, vb)
	case []any:
		vb, ok := b.([]any)
		if !ok {
			return false
		}
		return sliceEqual(va, vb)
	case []string:
		vb, ok := b.([]string)
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if va[i] != vb[i] {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func sliceEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !ValueEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Flatten reduces a nested tree to a single-level map keyed by dotted
// paths. Only leaf values appear; intermediate maps contribute their
// children. An empty map value is itself a leaf.
func Flatten(data map[string]any) map[string]any {
	result := make(map[string]any)
	flattenInto(data, "", result)
	return result
}

func flattenInto(data map[string]any, prefix string, result map[string]any) {
	for key, val := range data {
		full := key
		if prefix != "" {
			full = prefix + keypath.Separator + key
		}
		if nested, ok := val.(map[string]any); ok && len(nested) > 0 {
			flattenInto(nested, full, result)
		} else {
			result[full] = val
		}
	}
}
