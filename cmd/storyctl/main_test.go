package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func newFS(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	files := map[string]string{
		"/etc/story.yaml": "token: 42\nstoragePath: /srv/story.txt\ntemplatePath: /srv/page.html\n",
		"/srv/story.txt":  "a <b>",
		"/srv/page.html":  "[<--- content --->]",
	}
	for name, body := range files {
		if err := afero.WriteFile(fsys, name, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return fsys
}

func runCmd(t *testing.T, fsys afero.Fs, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"-config", "/etc/story.yaml"}, args...)
	code := run(context.Background(), args, fsys, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_ReadCommands(t *testing.T) {
	tests := []struct {
		cmd  string
		want string
	}{
		{"read", "a <b>"},
		{"read-escaped", "a &lt;b&gt;"},
		{"render", "[a <b>]"},
		{"path", "/srv/story.txt\n"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			code, out, errOut := runCmd(t, newFS(t), "", tt.cmd)
			if code != 0 {
				t.Fatalf("exit = %d, stderr = %q", code, errOut)
			}
			if out != tt.want {
				t.Fatalf("stdout = %q, want %q", out, tt.want)
			}
		})
	}
}

func TestRun_WriteAndAppend(t *testing.T) {
	fsys := newFS(t)

	if code, _, errOut := runCmd(t, fsys, "new", "-token", "042", "write"); code != 0 {
		t.Fatalf("write exit = %d, stderr = %q", code, errOut)
	}
	if code, _, errOut := runCmd(t, fsys, "+more", "-token", "42", "append"); code != 0 {
		t.Fatalf("append exit = %d, stderr = %q", code, errOut)
	}

	b, _ := afero.ReadFile(fsys, "/srv/story.txt")
	if string(b) != "new+more" {
		t.Fatalf("storage = %q, want %q", b, "new+more")
	}
}

func TestRun_StrictRejectsLooseMatch(t *testing.T) {
	code, _, errOut := runCmd(t, newFS(t), "x", "-strict", "-token", "042", "write")
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.HasPrefix(errOut, "storyctl: InvalidToken:") {
		t.Fatalf("stderr = %q", errOut)
	}
}

func TestRun_TokenFromEnv(t *testing.T) {
	t.Setenv("STORYBOARD_TOKEN", "42")
	fsys := newFS(t)

	if code, _, errOut := runCmd(t, fsys, "env", "write"); code != 0 {
		t.Fatalf("exit = %d, stderr = %q", code, errOut)
	}
	b, _ := afero.ReadFile(fsys, "/srv/story.txt")
	if string(b) != "env" {
		t.Fatalf("storage = %q", b)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(afero.Fs)
		args  []string
		code  int
		kind  string
	}{
		{"unknown command", nil, []string{"frobnicate"}, 1, "Error"},
		{"no command", nil, nil, 2, ""},
		{"config missing", func(fsys afero.Fs) { _ = fsys.Remove("/etc/story.yaml") }, []string{"read"}, 1, "ConfigNotFound"},
		{"template missing", func(fsys afero.Fs) { _ = fsys.Remove("/srv/page.html") }, []string{"render"}, 1, "TemplateNotFound"},
		{"storage missing on read", func(fsys afero.Fs) { _ = fsys.Remove("/srv/story.txt") }, []string{"read"}, 1, "IOError"},
		{"storage missing on write", func(fsys afero.Fs) { _ = fsys.Remove("/srv/story.txt") }, []string{"-token", "42", "write"}, 1, "StorageNotWritable"},
		{"wrong token", nil, []string{"-token", "41", "append"}, 1, "InvalidToken"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := newFS(t)
			if tt.setup != nil {
				tt.setup(fsys)
			}
			code, _, errOut := runCmd(t, fsys, "", tt.args...)
			if code != tt.code {
				t.Fatalf("exit = %d, want %d (stderr %q)", code, tt.code, errOut)
			}
			if tt.kind != "" && !strings.HasPrefix(errOut, "storyctl: "+tt.kind+":") {
				t.Fatalf("stderr = %q, want kind %s", errOut, tt.kind)
			}
		})
	}
}
