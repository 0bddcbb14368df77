package storyboard

import (
	"strconv"

	"gopkg.in/yaml.v3"
)

// Configuration keys.
const (
	KeyToken        = "token"
	KeyStoragePath  = "storagePath"
	KeyTemplatePath = "templatePath"
)

// Config is the parsed configuration mapping. Values keep the types the
// parser produced, so a YAML token of 123 is an int, not a string.
type Config map[string]any

// Token returns the configured token and whether the key is set to a
// non-null value.
func (c Config) Token() (any, bool) {
	v, ok := c[KeyToken]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// StoragePath returns the configured storage file path, or "" if unset.
func (c Config) StoragePath() string { return c.str(KeyStoragePath) }

// TemplatePath returns the configured template file path, or "" if unset.
func (c Config) TemplatePath() string { return c.str(KeyTemplatePath) }

func (c Config) str(key string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}
	s, _ := scalarString(v)
	return s
}

// Parser turns raw configuration bytes into a key/value mapping.
type Parser interface {
	Parse(data []byte) (map[string]any, error)
}

// ParserFunc adapts a function into a Parser.
type ParserFunc func(data []byte) (map[string]any, error)

func (f ParserFunc) Parse(data []byte) (map[string]any, error) { return f(data) }

// YAML returns the default configuration parser.
func YAML() Parser { return ParserFunc(parseYAML) }

func parseYAML(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	// an empty document is a valid, empty configuration
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// scalarString renders a scalar configuration value the way it would be
// written in the file. Non-scalars report false.
func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}
