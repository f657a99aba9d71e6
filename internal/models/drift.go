// Package models defines the domain types shared by the analysis pipeline.
package models

import (
	"fmt"
	"strings"
)

// Category is the ownership class assigned to a path.
type Category int

const (
	TemplateOwned Category = iota
	AppScaffold
	Excluded
	AppOnly
	TemplateOnly
)

// Categories lists every category in report order.
var Categories = []Category{TemplateOwned, AppScaffold, Excluded, AppOnly, TemplateOnly}

var categoryNames = map[Category]string{
	TemplateOwned: "template-owned",
	AppScaffold:   "app-scaffold",
	Excluded:      "excluded",
	AppOnly:       "app-only",
	TemplateOnly:  "template-only",
}

func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	for k, v := range categoryNames {
		if v == string(b) {
			*c = k
			return nil
		}
	}
	return fmt.Errorf("unknown category %q", b)
}

// Method is a set of detection strategies that flagged a path.
type Method uint8

const (
	HistoryDiff Method = 1 << iota
	ContentComparison

	Both = HistoryDiff | ContentComparison
)

// Has reports whether every strategy in o is present in m.
func (m Method) Has(o Method) bool { return m&o == o && o != 0 }

func (m Method) String() string {
	switch m {
	case HistoryDiff:
		return "history"
	case ContentComparison:
		return "content"
	case Both:
		return "both"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// FileMeta describes one file of a tree.
type FileMeta struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
}

// Commit is a commit in the application history since the last sync.
type Commit struct {
	Hash    string   `json:"hash"`
	Short   string   `json:"short"`
	Subject string   `json:"subject"`
	Files   []string `json:"files,omitempty"`
}

// Line renders the commit the way `git log --oneline` does.
func (c Commit) Line() string {
	return strings.TrimSpace(c.Short + " " + c.Subject)
}

// Record is the ownership classification of a single path.
type Record struct {
	Path     string   `json:"path"`
	Category Category `json:"category"`
	Active   bool     `json:"active"`
	Verbatim bool     `json:"verbatim"`
	Source   string   `json:"source,omitempty"`
	// Rule is the index of the exclusion rule that matched, or -1.
	Rule int `json:"rule"`
}

// Finding reports drift on one template-owned or scaffold path.
type Finding struct {
	Path          string   `json:"path"`
	Category      Category `json:"category"`
	Methods       Method   `json:"detection_method"`
	Informational bool     `json:"informational"`
	Added         int      `json:"added"`
	Removed       int      `json:"removed"`
	Commits       []string `json:"commits,omitempty"`
	Diff          string   `json:"diff,omitempty"`
	Unreadable    bool     `json:"unreadable,omitempty"`
	Note          string   `json:"note,omitempty"`
}
