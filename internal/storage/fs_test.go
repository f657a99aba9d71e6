package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pvginkel/ModernAppTemplate/internal/checksum"
)

func tempTree(t *testing.T, files map[string]string, opts ...FSOption) *FS {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	s, err := NewFS(dir, opts...)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return s
}

func TestListSortedWithChecksums(t *testing.T) {
	s := tempTree(t, map[string]string{
		"b.txt":          "b",
		"app/main.py":    "print()\n",
		".git/HEAD":      "ref: refs/heads/main\n",
		"app/.git/dummy": "nested git dirs are skipped too",
	})

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var paths []string
	for _, it := range items {
		paths = append(paths, it.Path)
	}
	if diff := cmp.Diff([]string{"app/main.py", "b.txt"}, paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
	if items[1].Checksum != checksum.Sum([]byte("b")) {
		t.Errorf("checksum = %s", items[1].Checksum)
	}
	if items[0].Size != int64(len("print()\n")) {
		t.Errorf("size = %d", items[0].Size)
	}
}

func TestListSubdir(t *testing.T) {
	s := tempTree(t, map[string]string{"a/x.md": "x", "a/b/y.md": "y", "c.md": "c"})
	items, err := s.List("a")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 || items[0].Path != "a/b/y.md" || items[1].Path != "a/x.md" {
		t.Errorf("items = %+v", items)
	}
}

func TestListIgnorePatterns(t *testing.T) {
	s := tempTree(t, map[string]string{
		"node_modules/pkg/index.js": "x",
		"src/app.ts":                "y",
		"src/app.pyc":               "z",
	}, WithIgnore("node_modules", "**/*.pyc"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].Path != "src/app.ts" {
		t.Errorf("items = %+v", items)
	}
}

func TestRead(t *testing.T) {
	s := tempTree(t, map[string]string{"deep/nested/file.txt": "deep"})
	got, err := s.Read("deep/nested/file.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read("missing.txt"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempTree(t, nil)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if _, err := s.Stat(p); err == nil {
			t.Errorf("expected error for stat of %q", p)
		}
	}
}

func TestExists(t *testing.T) {
	s := tempTree(t, map[string]string{"here.txt": "1"})
	if !Exists(s, "here.txt") {
		t.Error("here.txt should exist")
	}
	if Exists(s, "gone.txt") {
		t.Error("gone.txt should not exist")
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(f, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFS(f); err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestNewFS_BadIgnorePattern(t *testing.T) {
	if _, err := NewFS(t.TempDir(), WithIgnore("[unclosed")); err == nil {
		t.Error("expected error for invalid pattern")
	}
}
