package storyboard

import (
	"errors"
	"strings"

	"github.com/keithlinneman/storyboard/internal/xerrors"
)

// Error kinds. Every error returned by a Store matches exactly one of these
// with errors.Is, except a done context: that comes back as ctx.Err()
// unwrapped, and KindOf reports nil for it.
var (
	ErrConfigNotFound     = errors.New("configuration file not found")
	ErrConfigInvalid      = errors.New("configuration file is not valid")
	ErrInvalidToken       = errors.New("the token is invalid")
	ErrStorageNotWritable = errors.New("the storage file is not writable")
	ErrTemplateNotFound   = errors.New("the template file not found")
	ErrIO                 = errors.New("storage i/o failed")
)

var (
	errNoStoragePath = errors.New("storagePath is not configured")
	errIsDir         = errors.New("path is a directory")
)

// Error describes a failed Store operation.
type Error struct {
	Op   string // config, stat, read, write, append, render
	Path string // file the operation was working on, if any
	Kind error  // one of the Err* kinds
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("storyboard: ")
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op, path string, kind, cause error) error {
	return xerrors.WithStack(&Error{Op: op, Path: path, Kind: kind, Err: cause})
}

// KindOf returns the Err* kind carried by err, or nil when err did not come
// from a Store.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}
