// Package vcs queries an application's git history, read-only.
package vcs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/pvginkel/ModernAppTemplate/internal/models"
)

// ErrNotRepository is returned when the directory is not inside a git work tree.
var ErrNotRepository = errors.New("vcs: not a git repository")

// Repository is the version-control backend used by the analysis.
type Repository interface {
	// LastCommitFor returns the most recent commit that touched path, or ""
	// if none did.
	LastCommitFor(ctx context.Context, path string) (string, error)
	// IsAncestor reports whether ancestor is reachable from rev.
	IsAncestor(ctx context.Context, ancestor, rev string) (bool, error)
	// Log lists commits in base..head with the files each one changed.
	Log(ctx context.Context, base, head string, pathspec ...string) ([]models.Commit, error)
	// Diff returns the unified diff between base and head.
	Diff(ctx context.Context, base, head string, pathspec ...string) (string, error)
	// Describe renders rev as "<short> <subject>".
	Describe(ctx context.Context, rev string) (string, error)
}

// Git implements Repository with the git command-line tool.
type Git struct {
	dir    string
	binary string
}

// Verify *Git satisfies Repository at compile time.
var _ Repository = (*Git)(nil)

// Open returns a Git rooted at dir. It fails with ErrNotRepository when dir
// is not inside a work tree.
func Open(ctx context.Context, dir string) (*Git, error) {
	g := &Git{dir: dir, binary: "git"}
	out, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil || strings.TrimSpace(out) != "true" {
		return nil, fmt.Errorf("%w: %s", ErrNotRepository, dir)
	}
	return g, nil
}

// Dir returns the work tree directory.
func (g *Git) Dir() string { return g.dir }

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.binary, append([]string{"-c", "core.quotePath=false"}, args...)...)
	cmd.Dir = g.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return stdout.String(), fmt.Errorf("git %s: %w", args[0], err)
		}
		return stdout.String(), fmt.Errorf("git %s: %w: %s", args[0], err, msg)
	}
	return stdout.String(), nil
}

// LastCommitFor implements Repository.
func (g *Git) LastCommitFor(ctx context.Context, path string) (string, error) {
	out, err := g.run(ctx, "log", "-1", "--format=%H", "--", path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// IsAncestor implements Repository.
func (g *Git) IsAncestor(ctx context.Context, ancestor, rev string) (bool, error) {
	_, err := g.run(ctx, "merge-base", "--is-ancestor", ancestor, rev)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}

// IsShallow reports whether the repository is a shallow clone.
func (g *Git) IsShallow(ctx context.Context) bool {
	out, err := g.run(ctx, "rev-parse", "--is-shallow-repository")
	return err == nil && strings.TrimSpace(out) == "true"
}

// logSep separates records; it cannot appear in a commit subject.
const logSep = "\x1e"

// Log implements Repository. It issues a single git invocation for the
// whole range. Commits and file names are limited to the work tree
// directory, and file names are relative to it, so an application nested
// inside a larger repository sees its own paths.
func (g *Git) Log(ctx context.Context, base, head string, pathspec ...string) ([]models.Commit, error) {
	args := []string{"log", "--relative", "--name-only", "--no-renames", "--format=" + logSep + "%H%n%h%n%s", base + ".." + head}
	if len(pathspec) == 0 {
		pathspec = []string{"."}
	}
	args = append(append(args, "--"), pathspec...)
	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseLog(out)
}

func parseLog(out string) ([]models.Commit, error) {
	var commits []models.Commit
	for _, rec := range strings.Split(out, logSep) {
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		sc := bufio.NewScanner(strings.NewReader(rec))
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		var lines []string
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("vcs: parse log: %w", err)
		}
		if len(lines) < 2 {
			return nil, fmt.Errorf("vcs: malformed log record %q", rec)
		}
		c := models.Commit{Hash: lines[0], Short: lines[1]}
		if len(lines) > 2 {
			c.Subject = lines[2]
		}
		for _, f := range lines[min(3, len(lines)):] {
			if f = strings.TrimSpace(f); f != "" {
				c.Files = append(c.Files, f)
			}
		}
		commits = append(commits, c)
	}
	return commits, nil
}

// Diff implements Repository. Paths in the headers are relative to the work
// tree directory.
func (g *Git) Diff(ctx context.Context, base, head string, pathspec ...string) (string, error) {
	args := []string{"diff", "--no-color", "--relative", base, head}
	if len(pathspec) > 0 {
		args = append(append(args, "--"), pathspec...)
	}
	return g.run(ctx, args...)
}

// Describe implements Repository.
func (g *Git) Describe(ctx context.Context, rev string) (string, error) {
	out, err := g.run(ctx, "log", "-1", "--format=%h %s", rev)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
