package pathutil

import (
	"strings"

	"github.com/keithlinneman/storyboard/internal/xerrors"
)

// HasDotSegments reports whether any slash-separated segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// CleanKeyPrefix normalizes an object key prefix. Backslashes become
// slashes, empty segments collapse and the result has no leading or
// trailing slash. Dot segments are rejected, not resolved.
func CleanKeyPrefix(p string) (string, error) {
	p = strings.ReplaceAll(p, `\`, "/")
	if HasDotSegments(p) {
		return "", xerrors.Newf("key prefix %q has dot segments", p)
	}
	segs := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
	return strings.Join(segs, "/"), nil
}
