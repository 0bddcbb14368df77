package storyboard

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/keithlinneman/storyboard/internal/log"
)

// Placeholder is the literal marker RenderTemplate replaces with content.
const Placeholder = "<--- content --->"

var markupEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// EscapeMarkup escapes &, <, >, " and ' in the whole payload. It does not
// try to find scripts; everything that looks like markup is neutralized.
// Invalid UTF-8 sequences become U+FFFD.
func EscapeMarkup(s string) string {
	return markupEscaper.Replace(strings.ToValidUTF8(s, "\uFFFD"))
}

// Option configures a Store.
type Option func(*Store)

// WithFS sets the filesystem all paths are resolved against.
// Defaults to the OS filesystem.
func WithFS(fsys afero.Fs) Option {
	return func(s *Store) {
		if fsys != nil {
			s.fs = fsys
		}
	}
}

// WithParser sets the configuration parser. Defaults to YAML.
func WithParser(p Parser) Option {
	return func(s *Store) {
		if p != nil {
			s.parser = p
		}
	}
}

// WithStrictToken makes ValidateToken compare tokens as exact strings
// instead of using loose equality.
func WithStrictToken() Option {
	return func(s *Store) { s.strict = true }
}

// WithLogger sets the logger. Without one the Store logs to the logger
// carried by each call's context.
func WithLogger(l log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store reads and writes the configured storage file on behalf of one caller.
type Store struct {
	configPath string
	token      string

	fs     afero.Fs
	parser Parser
	strict bool
	logger log.Logger

	config       Config
	configLoaded bool

	content       string
	contentLoaded bool
}

// New returns a Store for the configuration at configPath acting with the
// given caller token. No I/O happens until the first operation.
func New(configPath, token string, opts ...Option) *Store {
	s := &Store{
		configPath: configPath,
		token:      token,
		fs:         afero.NewOsFs(),
		parser:     YAML(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) log(ctx context.Context) log.Logger {
	if s.logger != nil {
		return s.logger
	}
	return log.FromContext(ctx)
}

// ConfigPath returns the configuration file path the Store was created with.
func (s *Store) ConfigPath() string { return s.configPath }

// Config loads the configuration on first use and returns the cached
// mapping afterwards, even if the file has since changed.
func (s *Store) Config(ctx context.Context) (Config, error) {
	if s.configLoaded {
		return s.config, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, s.configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newError("config", s.configPath, ErrConfigNotFound, err)
		}
		return nil, newError("config", s.configPath, ErrIO, err)
	}

	m, err := s.parser.Parse(data)
	if err != nil {
		return nil, newError("config", s.configPath, ErrConfigInvalid, err)
	}

	s.config = Config(m)
	s.configLoaded = true
	s.log(ctx).Debug(ctx, "storyboard config loaded", "config_path", s.configPath, "keys", len(m))
	return s.config, nil
}

// ValidateToken reports whether the caller token matches the configured
// token. It only fails when the configuration cannot be loaded.
func (s *Store) ValidateToken(ctx context.Context) (bool, error) {
	cfg, err := s.Config(ctx)
	if err != nil {
		return false, err
	}
	want, ok := cfg.Token()
	if !ok {
		return false, nil
	}
	if s.strict {
		return TokensEqualStrict(want, s.token), nil
	}
	return TokensEqual(want, s.token), nil
}

// SetContent replaces the in-memory content and returns it.
func (s *Store) SetContent(content string) string {
	s.content = content
	s.contentLoaded = true
	return s.content
}

// Content returns the in-memory content, reading it unescaped from the
// storage file on first use.
func (s *Store) Content(ctx context.Context) (string, error) {
	if s.contentLoaded {
		return s.content, nil
	}
	return s.ReadContent(ctx, false)
}

// StoragePath returns the configured storage file path.
func (s *Store) StoragePath(ctx context.Context) (string, error) {
	cfg, err := s.Config(ctx)
	if err != nil {
		return "", err
	}
	return cfg.StoragePath(), nil
}

// StorageInfo stats the configured storage file.
func (s *Store) StorageInfo(ctx context.Context) (fs.FileInfo, error) {
	path, err := s.StoragePath(ctx)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, newError("stat", path, ErrIO, errNoStoragePath)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := s.fs.Stat(path)
	if err != nil {
		return nil, newError("stat", path, ErrIO, err)
	}
	return info, nil
}

// ReadContent reads the storage file, optionally escapes markup, and keeps
// the result as the in-memory content.
func (s *Store) ReadContent(ctx context.Context, escapeMarkup bool) (string, error) {
	path, err := s.StoragePath(ctx)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", newError("read", path, ErrIO, errNoStoragePath)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return "", newError("read", path, ErrIO, err)
	}

	content := string(data)
	if escapeMarkup {
		content = EscapeMarkup(content)
	}
	s.log(ctx).Debug(ctx, "storyboard content read", "storage_path", path, "bytes", len(data), "escaped", escapeMarkup)
	return s.SetContent(content), nil
}

// WriteContent replaces the storage file contents, or appends to them when
// appendMode is set. The caller token must validate and the storage file
// must already exist and be writable. The in-memory content is left alone.
func (s *Store) WriteContent(ctx context.Context, content string, appendMode bool) error {
	op := "write"
	if appendMode {
		op = "append"
	}

	ok, err := s.ValidateToken(ctx)
	if err != nil {
		return err
	}
	if !ok {
		s.log(ctx).Warn(ctx, "storyboard write rejected, token mismatch", "config_path", s.configPath)
		return newError(op, "", ErrInvalidToken, nil)
	}

	path, err := s.StoragePath(ctx)
	if err != nil {
		return err
	}
	if err := s.checkStorageWritable(ctx, op, path); err != nil {
		return err
	}

	flag := os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flag = os.O_WRONLY | os.O_APPEND
	}
	f, err := s.fs.OpenFile(path, flag, 0)
	if err != nil {
		return newError(op, path, ErrStorageNotWritable, err)
	}
	n, werr := f.WriteString(content)
	cerr := f.Close()
	if werr != nil {
		return newError(op, path, ErrIO, werr)
	}
	if cerr != nil {
		return newError(op, path, ErrIO, cerr)
	}

	s.log(ctx).Info(ctx, "storyboard content written", "storage_path", path, "bytes", n, "append", appendMode)
	return nil
}

// RenderTemplate returns the template with every Placeholder replaced by
// the current content.
func (s *Store) RenderTemplate(ctx context.Context) (string, error) {
	return s.render(ctx, s.Content)
}

// RenderTemplateEscaped rereads the storage file with markup escaped and
// renders it like RenderTemplate. The template is loaded first, so a
// missing template reports ErrTemplateNotFound either way.
func (s *Store) RenderTemplateEscaped(ctx context.Context) (string, error) {
	return s.render(ctx, func(ctx context.Context) (string, error) {
		return s.ReadContent(ctx, true)
	})
}

func (s *Store) render(ctx context.Context, content func(context.Context) (string, error)) (string, error) {
	cfg, err := s.Config(ctx)
	if err != nil {
		return "", err
	}
	path := cfg.TemplatePath()
	if path == "" {
		return "", newError("render", path, ErrTemplateNotFound, nil)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tpl, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", newError("render", path, ErrTemplateNotFound, err)
		}
		return "", newError("render", path, ErrIO, err)
	}

	body, err := content(ctx)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(string(tpl), Placeholder, body), nil
}

// checkStorageWritable opens the existing storage file for writing without
// truncating or creating it.
func (s *Store) checkStorageWritable(ctx context.Context, op, path string) error {
	if path == "" {
		return newError(op, path, ErrStorageNotWritable, errNoStoragePath)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := s.fs.Stat(path)
	if err != nil {
		return newError(op, path, ErrStorageNotWritable, err)
	}
	if info.IsDir() {
		return newError(op, path, ErrStorageNotWritable, errIsDir)
	}
	f, err := s.fs.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return newError(op, path, ErrStorageNotWritable, err)
	}
	_ = f.Close()
	return nil
}
