package storyboard

import "testing"

func TestTokensEqual(t *testing.T) {
	tests := []struct {
		name       string
		configured any
		given      string
		want       bool
	}{
		{"string match", "secret", "secret", true},
		{"string case differs", "secret", "Secret", false},
		{"string vs empty", "secret", "", false},
		{"int vs numeric string", 123, "123", true},
		{"int vs leading zero", 123, "0123", true},
		{"int vs padded", 123, " 123 ", true},
		{"int vs float form", 123, "123.0", true},
		{"int vs trailing junk", 123, "123abc", false},
		{"int vs other number", 123, "124", false},
		{"int vs exponent", 1000, "1e3", true},
		{"int64", int64(42), "42", true},
		{"uint64", uint64(7), "7.0", true},
		{"float", 1.5, "1.50", true},
		{"float vs word", 1.5, "one", false},
		{"numeric strings", "1e3", "1000", true},
		{"numeric string vs float form", "123", "123.0", true},
		{"hex is not numeric", "26", "0x1A", false},
		{"bool true vs any", true, "anything", true},
		{"bool true vs empty", true, "", false},
		{"bool true vs zero", true, "0", false},
		{"bool false vs empty", false, "", true},
		{"bool false vs zero", false, "0", true},
		{"bool false vs text", false, "x", false},
		{"nil never matches", nil, "", false},
		{"list never matches", []any{"a"}, "a", false},
		{"map never matches", map[string]any{"a": 1}, "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TokensEqual(tt.configured, tt.given); got != tt.want {
				t.Fatalf("TokensEqual(%#v, %q) = %v, want %v", tt.configured, tt.given, got, tt.want)
			}
		})
	}
}

func TestTokensEqualStrict(t *testing.T) {
	tests := []struct {
		configured any
		given      string
		want       bool
	}{
		{"secret", "secret", true},
		{123, "123", true},
		{123, "0123", false},
		{123, "123.0", false},
		{true, "true", true},
		{true, "1", false},
		{1.5, "1.5", true},
		{nil, "", false},
		{[]any{"a"}, "a", false},
	}
	for _, tt := range tests {
		if got := TokensEqualStrict(tt.configured, tt.given); got != tt.want {
			t.Errorf("TokensEqualStrict(%#v, %q) = %v, want %v", tt.configured, tt.given, got, tt.want)
		}
	}
}

func TestParseNumeric(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"0", 0, true},
		{"-12", -12, true},
		{"+3.5", 3.5, true},
		{".5", 0.5, true},
		{"2E2", 200, true},
		{"\t7\n", 7, true},
		{"", 0, false},
		{"+", 0, false},
		{"1e", 0, false},
		{"1_000", 0, false},
		{"inf", 0, false},
		{"NaN", 0, false},
		{"1e1000", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseNumeric(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("parseNumeric(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
