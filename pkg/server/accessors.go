package server

import "github.com/kart-io/arca/pkg/keypath"

// MustGet is Get panicking on error.
func (s *Server) MustGet(path keypath.Path) any {
	v, err := s.Get(path)
	if err != nil {
		panic(err)
	}
	return v
}

// MustPut is Put panicking on error.
func (s *Server) MustPut(path keypath.Path, value any) any {
	v, err := s.Put(path, value)
	if err != nil {
		panic(err)
	}
	return v
}

// MustDelete is Delete panicking on error.
func (s *Server) MustDelete(path keypath.Path) {
	if err := s.Delete(path); err != nil {
		panic(err)
	}
}

// GetString returns the string at path.
func (s *Server) GetString(path keypath.Path) (string, error) {
	v, err := s.Get(path)
	if err != nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", &TypeError{Path: path, Want: "string", Got: v}
	}
	return str, nil
}

// GetBool returns the boolean at path.
func (s *Server) GetBool(path keypath.Path) (bool, error) {
	v, err := s.Get(path)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, &TypeError{Path: path, Want: "bool", Got: v}
	}
	return b, nil
}

// GetInt returns the integer at path. JSON numbers arrive as float64
// and are truncated; values written through the environment override
// path arrive as int64.
func (s *Server) GetInt(path keypath.Path) (int64, error) {
	v, err := s.Get(path)
	if err != nil {
		return 0, err
	}
	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int64:
		return val, nil
	case float64:
		return int64(val), nil
	default:
		return 0, &TypeError{Path: path, Want: "int64", Got: v}
	}
}

// GetFloat returns the float at path, converting integer values.
func (s *Server) GetFloat(path keypath.Path) (float64, error) {
	v, err := s.Get(path)
	if err != nil {
		return 0, err
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	default:
		return 0, &TypeError{Path: path, Want: "float64", Got: v}
	}
}

// GetStringSlice returns the string slice at path. JSON arrays arrive
// as []any and are converted element by element.
func (s *Server) GetStringSlice(path keypath.Path) ([]string, error) {
	v, err := s.Get(path)
	if err != nil {
		return nil, err
	}
	switch val := v.(type) {
	case []string:
		return val, nil
	case []any:
		result := make([]string, len(val))
		for i, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, &TypeError{Path: path, Want: "[]string", Got: v}
			}
			result[i] = str
		}
		return result, nil
	default:
		return nil, &TypeError{Path: path, Want: "[]string", Got: v}
	}
}
