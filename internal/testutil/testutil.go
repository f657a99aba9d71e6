// Package testutil provides shared test helpers for building template and
// application trees and the git history behind them.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// CopierConfig is a small template configuration used across tests.
const CopierConfig = `_subdirectory: template
_skip_if_exists:
  - pyproject.toml
_exclude:
  - "{% if not use_database %}app/database.py{% endif %}"
  - "{% if not use_database %}migrations{% endif %}"
  - "*.pyc"

project_name:
  type: str
  help: Project name
use_database:
  type: bool
  default: false
use_s3:
  type: bool
  default: false
`

// WriteTree writes files (slash-separated relative path -> content) under dir.
func WriteTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// Template creates a template repository with the given configuration and
// files inside its "template" subdirectory.
func Template(t *testing.T, config string, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	WriteTree(t, root, map[string]string{"copier.yml": config})
	if err := os.MkdirAll(filepath.Join(root, "template"), 0o755); err != nil {
		t.Fatal(err)
	}
	sub := make(map[string]string, len(files))
	for name, content := range files {
		sub["template/"+name] = content
	}
	WriteTree(t, root, sub)
	return root
}

// Answers renders a .copier-answers.yml body.
func Answers(commit string, flags map[string]bool) string {
	var b strings.Builder
	b.WriteString("# Changes here will be overwritten by Copier\n")
	if commit != "" {
		b.WriteString("_commit: " + commit + "\n")
	}
	b.WriteString("_src_path: ../template\n")
	for name, v := range flags {
		if v {
			b.WriteString(name + ": true\n")
		} else {
			b.WriteString(name + ": false\n")
		}
	}
	return b.String()
}

// RequireGit skips the test when git is not installed.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// Git runs git in dir and returns trimmed stdout.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_CONFIG_GLOBAL=/dev/null",
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_AUTHOR_NAME=Tester", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=Tester", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// InitRepo initialises a git repository in dir with a stable branch name.
func InitRepo(t *testing.T, dir string) {
	t.Helper()
	RequireGit(t)
	Git(t, dir, "init", "-q", "-b", "main")
}

// CommitAll stages everything in dir and commits it, returning the hash.
func CommitAll(t *testing.T, dir, msg string) string {
	t.Helper()
	Git(t, dir, "add", "-A")
	Git(t, dir, "commit", "-q", "--allow-empty", "-m", msg)
	return Git(t, dir, "rev-parse", "HEAD")
}
