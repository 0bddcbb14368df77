package storyboard

import (
	"strconv"
	"strings"

	"github.com/keithlinneman/storyboard/internal/cryptoutil"
)

// TokensEqual reports whether the caller token loosely equals the configured
// token:
//   - a numeric caller token matches a numeric configured value by value,
//     so "123", "123.0" and "1e2" all compare as numbers
//   - a boolean configured value matches the truthiness of the caller token
//     ("" and "0" are false, everything else is true)
//   - anything else is compared as a string
//
// A nil or non-scalar configured value never matches.
func TokensEqual(configured any, given string) bool {
	switch v := configured.(type) {
	case nil:
		return false
	case bool:
		return v == truthy(given)
	case string:
		if a, ok := parseNumeric(v); ok {
			if b, ok := parseNumeric(given); ok {
				return a == b
			}
		}
		return cryptoutil.ConstantTimeEqual(v, given)
	case int, int64, uint64, float64:
		want, _ := scalarString(v)
		if b, ok := parseNumeric(given); ok {
			a, _ := parseNumeric(want)
			return a == b
		}
		return cryptoutil.ConstantTimeEqual(want, given)
	default:
		return false
	}
}

// TokensEqualStrict compares the configured value's written form with the
// caller token byte for byte.
func TokensEqualStrict(configured any, given string) bool {
	want, ok := scalarString(configured)
	if !ok {
		return false
	}
	return cryptoutil.ConstantTimeEqual(want, given)
}

// parseNumeric accepts decimal integers and floats with optional sign,
// fraction and exponent, surrounded by optional whitespace. Hex, octal,
// underscores, inf and nan are not numeric.
func parseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	digits := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits = true
		case c == '+' || c == '-' || c == '.' || c == 'e' || c == 'E':
		default:
			return 0, false
		}
	}
	if !digits {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func truthy(s string) bool {
	return s != "" && s != "0"
}
