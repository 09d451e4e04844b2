// Package override decodes startup configuration overrides from the
// process environment. Variables named <PREFIX>_CONFIG_OVERRIDE_<PATH>
// turn into typed values at dotted paths, where underscores in <PATH>
// separate path segments. The caller applies the result as ordinary
// writes before serving requests.
package override

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/kart-io/arca/pkg/keypath"
	"github.com/kart-io/arca/pkg/utils/json"
)

// Marker sits between the environment prefix and the path suffix.
const Marker = "_CONFIG_OVERRIDE_"

// Override is a single startup override decoded from the environment.
type Override struct {
	Path  keypath.Path
	Value any
}

// Scan reads the current process environment for overrides under the
// given prefix, e.g. Scan("MYAPP") picks up MYAPP_CONFIG_OVERRIDE_*.
func Scan(envPrefix string) []Override {
	return FromEnviron(envPrefix, os.Environ())
}

// FromEnviron extracts overrides from an environment given as
// "KEY=VALUE" entries. Entries whose key does not start with
// <PREFIX>_CONFIG_OVERRIDE_ are ignored, as are entries whose suffix
// yields no path segments. The result is sorted by path because the
// iteration order of a process environment is unspecified.
func FromEnviron(envPrefix string, environ []string) []Override {
	prefix := strings.ToUpper(strings.TrimSpace(envPrefix))
	if prefix == "" {
		return nil
	}
	marker := prefix + Marker

	var out []Override
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, marker) {
			continue
		}
		path := pathFromSuffix(strings.TrimPrefix(key, marker))
		if path.IsZero() {
			continue
		}
		out = append(out, Override{Path: path, Value: Coerce(value)})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Path.String() < out[j].Path.String()
	})
	return out
}

// Coerce converts a raw environment value to its most specific type:
// boolean literals, then integers, then floats, then JSON documents
// for values that look like one. Anything else stays a string, as does
// a JSON-looking value that fails to decode.
func Coerce(value string) any {
	if strings.EqualFold(value, "true") {
		return true
	}
	if strings.EqualFold(value, "false") {
		return false
	}
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
		return parsed
	}
	if parsed, err := strconv.ParseFloat(value, 64); err == nil {
		return parsed
	}
	if len(value) > 0 && (value[0] == '{' || value[0] == '[' || value[0] == '"') {
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			return decoded
		}
	}
	return value
}

// pathFromSuffix maps DATABASE_POOL_SIZE to database.pool.size. Empty
// segments from doubled underscores are dropped.
func pathFromSuffix(suffix string) keypath.Path {
	parts := strings.Split(suffix, "_")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		segments = append(segments, strings.ToLower(part))
	}
	if len(segments) == 0 {
		return nil
	}
	return keypath.New(segments...)
}
