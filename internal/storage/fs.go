package storage

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/pvginkel/ModernAppTemplate/internal/checksum"
	"github.com/pvginkel/ModernAppTemplate/internal/models"
)

// FS implements Provider on top of a billy filesystem chrooted at root.
type FS struct {
	root   string // absolute path of the tree
	fs     billy.Filesystem
	ignore []string
}

// FSOption configures an FS.
type FSOption func(*FS)

// WithIgnore skips files and directories matching any of the doublestar
// patterns. ".git" is always skipped.
func WithIgnore(patterns ...string) FSOption {
	return func(f *FS) {
		f.ignore = append(f.ignore, patterns...)
	}
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string, opts ...FSOption) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	f := &FS{root: abs, fs: osfs.New(abs)}
	for _, opt := range opts {
		opt(f)
	}
	for _, p := range f.ignore {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("storage: invalid ignore pattern %q", p)
		}
	}
	return f, nil
}

// Root returns the absolute tree root.
func (f *FS) Root() string { return f.root }

// safePath cleans a relative, slash-separated path and rejects anything
// that would escape the tree root.
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" || rel == "." {
		return "", nil
	}
	slashed := filepath.ToSlash(rel)
	if path.IsAbs(slashed) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	cleaned := path.Clean(slashed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("storage: path escapes tree root: %s", rel)
	}
	return cleaned, nil
}

// Ignored reports whether rel, relative to the root, is skipped by List.
func (f *FS) Ignored(rel string) bool {
	if path.Base(rel) == ".git" {
		return true
	}
	for _, p := range f.ignore {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// List walks dir and returns metadata for every regular file, sorted by
// path. A file that cannot be read is listed with an empty checksum so the
// caller can report it instead of aborting.
func (f *FS) List(dir string) ([]models.FileMeta, error) {
	base, err := f.safePath(dir)
	if err != nil {
		return nil, err
	}
	var out []models.FileMeta
	if err := f.walk(base, &out); err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (f *FS) walk(dir string, out *[]models.FileMeta) error {
	entries, err := f.fs.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		rel := path.Join(dir, e.Name())
		if f.Ignored(rel) {
			continue
		}
		if e.IsDir() {
			if err := f.walk(rel, out); err != nil {
				return err
			}
			continue
		}
		if !e.Mode().IsRegular() && e.Mode()&os.ModeSymlink == 0 {
			continue
		}
		meta := models.FileMeta{Path: rel, Size: e.Size()}
		if file, err := f.fs.Open(rel); err == nil {
			if sum, n, err := checksum.SumReader(file); err == nil {
				meta.Checksum, meta.Size = sum, n
			}
			_ = file.Close()
		}
		*out = append(*out, meta)
	}
	return nil
}

// Read returns the raw bytes of a file.
func (f *FS) Read(p string) ([]byte, error) {
	rel, err := f.safePath(p)
	if err != nil {
		return nil, err
	}
	data, err := util.ReadFile(f.fs, rel)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", p, err)
	}
	return data, nil
}

// Stat returns file info for a path.
func (f *FS) Stat(p string) (os.FileInfo, error) {
	rel, err := f.safePath(p)
	if err != nil {
		return nil, err
	}
	info, err := f.fs.Stat(rel)
	if err != nil {
		return nil, fmt.Errorf("storage: stat %s: %w", p, err)
	}
	return info, nil
}

// Exists reports whether p names an existing file or directory.
func Exists(p Provider, rel string) bool {
	_, err := p.Stat(rel)
	return err == nil
}
