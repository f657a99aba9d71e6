// Package manifest loads a Copier template's configuration into an
// ownership manifest: the files the template produces, which of them are
// handed over to the application after first generation, and which are
// excluded under which feature-flag conditions.
package manifest

import (
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/pvginkel/ModernAppTemplate/internal/apperr"
	"github.com/pvginkel/ModernAppTemplate/internal/flagexpr"
	"github.com/pvginkel/ModernAppTemplate/internal/storage"
)

// File is one output path the template can produce.
type File struct {
	Path   string // output path, relative to the application root
	Source string // path inside the template subdirectory
	// Verbatim files are copied byte for byte; the rest are rendered with
	// variable substitution.
	Verbatim bool
}

// Rule is one exclusion rule. The path is not generated when Cond
// evaluates true for the application's flags.
type Rule struct {
	Index   int
	Raw     string
	Pattern Pattern
	Cond    flagexpr.Expr
}

// Matches reports whether the rule's pattern covers the output path or the
// template source path.
func (r Rule) Matches(output, source string) bool {
	if r.Pattern.Matches(output) {
		return true
	}
	return source != "" && source != output && r.Pattern.Matches(source)
}

// Unconditional reports whether the rule always excludes.
func (r Rule) Unconditional() bool {
	v, ok := flagexpr.IsConstant(r.Cond)
	return ok && v
}

// Manifest is the declarative ownership description of a template.
type Manifest struct {
	Root         string
	ConfigPath   string
	Subdirectory string
	Suffix       string
	// Flags maps declared boolean questions to their defaults.
	Flags    map[string]bool
	Files    map[string]File
	Scaffold map[string]struct{}
	Rules    []Rule

	scaffoldPatterns []Pattern
	checksums        map[string]string
	tree             storage.Provider
}

// Paths returns every output path, sorted.
func (m *Manifest) Paths() []string {
	out := make([]string, 0, len(m.Files))
	for p := range m.Files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// IsScaffold reports whether p is generated once and then owned by the app.
func (m *Manifest) IsScaffold(p string) bool {
	_, ok := m.Scaffold[p]
	return ok
}

// Source reads the template source content for an output path. A missing
// source is a configuration bug and is reported as a ManifestError.
func (m *Manifest) Source(p string) ([]byte, error) {
	f, ok := m.Files[p]
	if !ok {
		return nil, &apperr.ManifestError{Path: m.ConfigPath, Field: p, Err: apperr.ErrNotFound}
	}
	data, err := m.tree.Read(f.Source)
	if err != nil {
		return nil, &apperr.ManifestError{
			Path:  path.Join(m.Subdirectory, f.Source),
			Field: p,
			Err:   fmt.Errorf("template source unreadable: %w", err),
		}
	}
	return data, nil
}

// SourceChecksum returns the checksum of the template source for p.
func (m *Manifest) SourceChecksum(p string) string {
	return m.checksums[p]
}

// Option configures Load.
type Option func(*loader)

// WithLogger sets the logger used for skipped entries.
func WithLogger(l *slog.Logger) Option {
	return func(ld *loader) { ld.logger = l }
}

// validateRules checks that every flag referenced by a rule is a declared
// boolean question.
func (m *Manifest) validateRules() error {
	for _, r := range m.Rules {
		for _, name := range flagexpr.Vars(r.Cond) {
			if _, ok := m.Flags[name]; !ok {
				return apperr.Manifestf(m.ConfigPath, fmt.Sprintf("_exclude[%d]", r.Index),
					"condition references undeclared flag %q", name)
			}
		}
	}
	return nil
}

func (m *Manifest) applyScaffold() {
	m.Scaffold = make(map[string]struct{})
	for p := range m.Files {
		for _, pt := range m.scaffoldPatterns {
			if pt.Matches(p) {
				m.Scaffold[p] = struct{}{}
				break
			}
		}
	}
}

// AlwaysExcludedScaffold returns the scaffold paths that a rule excludes
// under every flag assignment, sorted. The classifier still treats them as
// scaffold.
func (m *Manifest) AlwaysExcludedScaffold() []string {
	var out []string
	for p := range m.Scaffold {
		src := m.Files[p].Source
		for _, r := range m.Rules {
			if r.Unconditional() && r.Matches(p, src) {
				out = append(out, p)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func trimSuffix(rel, suffix string) (string, bool) {
	if suffix != "" && strings.HasSuffix(rel, suffix) {
		return strings.TrimSuffix(rel, suffix), true
	}
	return rel, false
}
