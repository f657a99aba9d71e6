// Package storage provides read-only access to template and application trees.
package storage

import (
	"os"

	"github.com/pvginkel/ModernAppTemplate/internal/models"
)

// Provider is the interface for tree file operations. Paths are slash
// separated and relative to the tree root.
type Provider interface {
	// Root returns the absolute path of the tree.
	Root() string
	// List returns metadata for every regular file under dir.
	List(dir string) ([]models.FileMeta, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Stat returns file info for path.
	Stat(path string) (os.FileInfo, error)
}
