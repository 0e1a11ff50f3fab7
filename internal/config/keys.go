package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrKeyNotFound is returned by Get for dotted keys that are not set.
var ErrKeyNotFound = errors.New("key not found")

// ReadMap deserializes the config file into a generic map for dotted lookups.
// A missing file yields an empty map.
func ReadMap(path string) (map[string]interface{}, error) {
	data := map[string]interface{}{}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return data, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	return data, nil
}

// WriteMap persists the map back to YAML, creating directories.
func WriteMap(path string, data map[string]interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// GetValue traverses a nested map using dotted notation.
func GetValue(data map[string]interface{}, key string) (interface{}, bool) {
	var current interface{} = data
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		value, ok := m[part]
		if !ok {
			return nil, false
		}
		current = value
	}
	return current, true
}

// SetValue creates or replaces the nested key referenced by dotted notation.
func SetValue(data map[string]interface{}, key string, value interface{}) error {
	parts := strings.Split(key, ".")
	for _, part := range parts {
		if part == "" {
			return fmt.Errorf("invalid key %q", key)
		}
	}
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
	return nil
}

// ParseValue coerces CLI input into bool, int or float before storing.
func ParseValue(input string) interface{} {
	if b, err := strconv.ParseBool(input); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(input, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(input, 64); err == nil {
		return f
	}
	return input
}

// FormatValue renders nested values on one line, maps as YAML.
func FormatValue(v interface{}) string {
	switch value := v.(type) {
	case []interface{}:
		parts := make([]string, 0, len(value))
		for _, item := range value {
			parts = append(parts, FormatValue(item))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]interface{}:
		b, _ := yaml.Marshal(value)
		return strings.TrimSpace(string(b))
	default:
		return fmt.Sprint(value)
	}
}

// Get reads a dotted key from the file at path, falling back to the built-in
// default when the file leaves it unset.
func Get(path, key string) (interface{}, error) {
	data, err := ReadMap(path)
	if err != nil {
		return nil, err
	}
	if v, ok := GetValue(data, key); ok {
		return v, nil
	}
	defaults, err := defaultMap()
	if err != nil {
		return nil, err
	}
	if v, ok := GetValue(defaults, key); ok {
		return v, nil
	}
	return nil, fmt.Errorf("%s: %w", key, ErrKeyNotFound)
}

// Set stores a dotted key in the file at path. The edited file must still
// load as a valid config; otherwise nothing is written.
func Set(path, key, raw string) error {
	data, err := ReadMap(path)
	if err != nil {
		return err
	}
	if err := SetValue(data, key, ParseValue(raw)); err != nil {
		return err
	}
	encoded, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(string(encoded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return WriteMap(path, data)
}

func defaultMap() (map[string]interface{}, error) {
	raw, err := yaml.Marshal(Default())
	if err != nil {
		return nil, err
	}
	data := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}
