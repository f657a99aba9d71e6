// Package workspace reads VS Code multi-root workspace files to find the
// applications to check in one pass.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/sen"
)

var foldersPath = jp.MustParseString("$.folders[*]")

// Folder is one root of the workspace.
type Folder struct {
	Name string
	Path string // absolute
}

// Workspace is a parsed .code-workspace file.
type Workspace struct {
	File    string
	Folders []Folder
}

// Load parses the workspace file. The format is JSON with comments and
// trailing commas, which the SEN parser accepts as is. Folder paths resolve
// against the file's directory.
func Load(file string) (*Workspace, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve %s: %w", file, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace: read: %w", err)
	}
	doc, err := sen.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("workspace: parse %s: %w", abs, err)
	}

	ws := &Workspace{File: abs}
	dir := filepath.Dir(abs)
	for i, v := range foldersPath.Get(doc) {
		entry, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("workspace: folders[%d] is not an object", i)
		}
		p, _ := entry["path"].(string)
		if p == "" {
			return nil, fmt.Errorf("workspace: folders[%d] has no path", i)
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, filepath.FromSlash(p))
		}
		p = filepath.Clean(p)
		name, _ := entry["name"].(string)
		if name == "" {
			name = filepath.Base(p)
		}
		ws.Folders = append(ws.Folders, Folder{Name: name, Path: p})
	}
	return ws, nil
}

// Apps returns the folders generated from a template, recognised by the
// answers file at their root.
func (ws *Workspace) Apps(answersFile string) []Folder {
	var out []Folder
	for _, f := range ws.Folders {
		if _, err := os.Stat(filepath.Join(f.Path, filepath.FromSlash(answersFile))); err == nil {
			out = append(out, f)
		}
	}
	return out
}
