// Package config reads the project configuration file that names the
// organization, project and AWS resources a release targets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/savaki/ecs-deployer/internal/errors"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the config file is looked up when no path is given.
const DefaultPath = "config.yml"

// File holds the decoded configuration document.
type File struct {
	Source string
	Data   map[string]any
}

// Load reads and decodes the YAML document at path.
func Load(path string) (*File, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	file, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	file.Source = path

	return file, nil
}

// Parse decodes a YAML document.
func Parse(data []byte) (*File, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return &File{Data: m}, nil
}

// Get traverses the document using a dotted key path, e.g. Variables.Org.
// A leading dot is accepted so yq style paths work too.
func (f *File) Get(key string) (any, error) {
	key = strings.TrimPrefix(key, ".")
	if key == "" {
		return f.Data, nil
	}

	var current any = f.Data
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s", errors.ErrConfigKeyNotFound, key)
		}
		current, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("%w: %s", errors.ErrConfigKeyNotFound, key)
		}
	}

	return current, nil
}

// GetString returns the scalar at key. Numbers and booleans are formatted.
// The optional default is returned when the key is absent.
func (f *File) GetString(key string, defaultValue ...string) (string, error) {
	v, err := f.Get(key)
	if err != nil {
		if len(defaultValue) == 1 {
			return defaultValue[0], nil
		}
		return "", err
	}

	switch t := v.(type) {
	case string:
		return t, nil
	case int:
		return strconv.Itoa(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	case nil:
		if len(defaultValue) == 1 {
			return defaultValue[0], nil
		}
		return "", nil
	default:
		return "", fmt.Errorf("value at %s is not a scalar", key)
	}
}

// GetStrings returns the list at key. A single scalar becomes a one element list.
func (f *File) GetStrings(key string) ([]string, error) {
	v, err := f.Get(key)
	if err != nil {
		return nil, err
	}

	switch t := v.(type) {
	case []any:
		ss := make([]string, 0, len(t))
		for i, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("value at %s[%d] is not a string", key, i)
			}
			ss = append(ss, s)
		}
		return ss, nil
	case string:
		return []string{t}, nil
	default:
		return nil, fmt.Errorf("value at %s is not a list", key)
	}
}

// Format renders the value at key the way a query tool would print it:
// scalars as-is, everything else as YAML.
func (f *File) Format(key string) (string, error) {
	v, err := f.Get(key)
	if err != nil {
		return "", err
	}

	switch v.(type) {
	case map[string]any, []any:
		out, err := yaml.Marshal(v)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(out), "\n"), nil
	}

	return f.GetString(key)
}
