package pathutil

import (
	"strings"
	"testing"
)

func TestHasDotSegments(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/normal/path", false},
		{"/path/./here", true},
		{"/path/../up", true},
		{".", true},
		{"..", true},
		{"/...", false},     // three dots is not a dot segment
		{"/.hidden", false}, // dotfile, not a dot segment
		{"/path/to/.", true},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := HasDotSegments(tt.path); got != tt.want {
				t.Errorf("HasDotSegments(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestCleanKeyPrefix(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"storyboard", "storyboard", false},
		{"/storyboard/", "storyboard", false},
		{"a//b///c", "a/b/c", false},
		{`prod\storyboard`, "prod/storyboard", false},
		{".hidden/x", ".hidden/x", false},
		{"../escape", "", true},
		{`a\..\b`, "", true},
		{"a/./b", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanKeyPrefix(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CleanKeyPrefix(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("CleanKeyPrefix(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func FuzzCleanKeyPrefix(f *testing.F) {
	f.Add("storyboard")
	f.Add("a/../b")
	f.Add(`a\b`)
	f.Add("//")

	f.Fuzz(func(t *testing.T, p string) {
		got, err := CleanKeyPrefix(p)
		if err != nil {
			return
		}
		if strings.HasPrefix(got, "/") || strings.HasSuffix(got, "/") || strings.Contains(got, "//") {
			t.Fatalf("CleanKeyPrefix(%q) = %q, not normalized", p, got)
		}
		if HasDotSegments(got) {
			t.Fatalf("CleanKeyPrefix(%q) = %q, kept a dot segment", p, got)
		}
	})
}
