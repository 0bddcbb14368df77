// Command storyctl reads, writes and renders storyboard content directly
// against the configured files, without going through the HTTP gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	"github.com/keithlinneman/storyboard/internal/cfg"
	"github.com/keithlinneman/storyboard/internal/log"
	"github.com/keithlinneman/storyboard/internal/storyboard"
	v "github.com/keithlinneman/storyboard/internal/version"
)

const usage = `usage: storyctl [flags] <command>

commands:
  read          print the stored content
  read-escaped  print the stored content with markup escaped
  render        print the template with the content substituted
  write         replace the stored content with stdin
  append        append stdin to the stored content
  path          print the configured storage path

flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], afero.NewOsFs(), os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, fsys afero.Fs, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("storyctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	var (
		configPath string
		token      string
		strict     bool
		verbose    bool
	)
	fs.StringVar(&configPath, "config", "/etc/storyboard/config.yaml", "storyboard YAML config (token, storagePath, templatePath)")
	fs.StringVar(&token, "token", "", "access token for write and append")
	fs.BoolVar(&strict, "strict", false, "compare tokens as exact strings")
	fs.BoolVar(&verbose, "v", false, "debug logs on stderr")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	// STORYBOARD_TOKEN keeps the token out of shell history
	cfg.FillFromEnv(fs, cfg.EnvPrefix, nil)

	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	cmd := fs.Arg(0)

	L := log.Nop()
	if verbose {
		lg, err := log.New(log.Options{
			App:     "storyctl",
			Version: v.Get().Version,
			Level:   slog.LevelDebug,
			Writer:  stderr,
		})
		if err == nil {
			L = lg
		}
	}
	ctx = log.WithContext(ctx, L)

	opts := []storyboard.Option{storyboard.WithFS(fsys)}
	if strict {
		opts = append(opts, storyboard.WithStrictToken())
	}
	s := storyboard.New(configPath, token, opts...)

	if err := exec(ctx, s, cmd, stdin, stdout); err != nil {
		L.Debug(ctx, "command failed", "command", cmd, "config_path", s.ConfigPath(), "error", err.Error())
		fmt.Fprintf(stderr, "storyctl: %s: %v\n", kindName(err), err)
		return 1
	}
	return 0
}

func exec(ctx context.Context, s *storyboard.Store, cmd string, stdin io.Reader, stdout io.Writer) error {
	var out string
	switch cmd {
	case "read", "read-escaped":
		content, err := s.ReadContent(ctx, cmd == "read-escaped")
		if err != nil {
			return err
		}
		out = content
	case "render":
		html, err := s.RenderTemplate(ctx)
		if err != nil {
			return err
		}
		out = html
	case "write", "append":
		body, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		return s.WriteContent(ctx, string(body), cmd == "append")
	case "path":
		p, err := s.StoragePath(ctx)
		if err != nil {
			return err
		}
		out = p + "\n"
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	_, err := io.WriteString(stdout, out)
	return err
}

// kindName names the failure for the first word of the error line.
func kindName(err error) string {
	switch storyboard.KindOf(err) {
	case storyboard.ErrConfigNotFound:
		return "ConfigNotFound"
	case storyboard.ErrConfigInvalid:
		return "ConfigInvalid"
	case storyboard.ErrInvalidToken:
		return "InvalidToken"
	case storyboard.ErrStorageNotWritable:
		return "StorageNotWritable"
	case storyboard.ErrTemplateNotFound:
		return "TemplateNotFound"
	case storyboard.ErrIO:
		return "IOError"
	}
	if errors.Is(err, context.Canceled) {
		return "Canceled"
	}
	return "Error"
}
