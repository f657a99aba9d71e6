package manifest

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Pattern is a path pattern with gitignore-like semantics: a pattern
// without a slash matches a path component at any depth; a pattern with a
// slash is anchored at the tree root. A pattern that matches a directory
// matches everything below it.
type Pattern string

// NewPattern normalises raw into a Pattern.
func NewPattern(raw string) (Pattern, bool) {
	p := strings.TrimSpace(raw)
	p = strings.TrimPrefix(p, "./")
	anchored := strings.HasPrefix(p, "/")
	p = strings.Trim(p, "/")
	if p == "" || !doublestar.ValidatePattern(p) {
		return "", false
	}
	if anchored && !strings.Contains(p, "/") {
		// "/name" anchors a single component at the root.
		return Pattern("/" + p), true
	}
	return Pattern(p), true
}

// Matches reports whether p, or any directory containing it, matches.
func (pt Pattern) Matches(p string) bool {
	if pt == "" {
		return false
	}
	for q := p; q != "." && q != "/" && q != ""; q = path.Dir(q) {
		if pt.matchOne(q) {
			return true
		}
	}
	return false
}

func (pt Pattern) matchOne(q string) bool {
	pat := string(pt)
	switch {
	case strings.HasPrefix(pat, "/"):
		pat = pat[1:]
	case !strings.Contains(pat, "/"):
		q = path.Base(q)
	}
	if q == pat {
		return true
	}
	ok, _ := doublestar.Match(pat, q)
	return ok
}
