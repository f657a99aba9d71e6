// Package ownership assigns every path of a template/application pair to an
// ownership category.
package ownership

import (
	"sort"

	"github.com/pvginkel/ModernAppTemplate/internal/manifest"
	"github.com/pvginkel/ModernAppTemplate/internal/models"
	"github.com/pvginkel/ModernAppTemplate/internal/snapshot"
)

// NoRule marks a record that no exclusion rule matched.
const NoRule = -1

// Flags resolves the effective flag assignment: the manifest defaults
// overlaid with the answers recorded in the application.
func Flags(m *manifest.Manifest, s *snapshot.Snapshot) map[string]bool {
	out := make(map[string]bool, len(m.Flags))
	for k, v := range m.Flags {
		out[k] = v
	}
	for k, v := range s.Flags {
		out[k] = v
	}
	return out
}

// Classify returns one record per path of the manifest and the working
// tree, sorted by path. The result depends only on its inputs.
func Classify(m *manifest.Manifest, s *snapshot.Snapshot) []models.Record {
	flags := Flags(m, s)

	paths := make(map[string]struct{}, len(m.Files)+len(s.Tree))
	for p := range m.Files {
		paths[p] = struct{}{}
	}
	for p := range s.Tree {
		paths[p] = struct{}{}
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	out := make([]models.Record, 0, len(sorted))
	for _, p := range sorted {
		out = append(out, classify(m, s, flags, p))
	}
	return out
}

func classify(m *manifest.Manifest, s *snapshot.Snapshot, flags map[string]bool, p string) models.Record {
	f, inManifest := m.Files[p]
	inTree := s.Has(p)
	rec := models.Record{Path: p, Rule: NoRule}
	if inManifest {
		rec.Source = f.Source
		rec.Verbatim = f.Verbatim
	}
	rule := firstExclusion(m.Rules, flags, p, rec.Source)

	switch {
	case m.IsScaffold(p):
		rec.Category = models.AppScaffold
		rec.Active = inTree
		rec.Rule = rule
	case rule != NoRule:
		rec.Category = models.Excluded
		rec.Rule = rule
	case inManifest && inTree:
		rec.Category = models.TemplateOwned
		rec.Active = true
	case inTree:
		rec.Category = models.AppOnly
		rec.Active = true
	default:
		rec.Category = models.TemplateOnly
	}
	return rec
}

// firstExclusion returns the index of the first rule, in declaration order,
// whose pattern covers the path and whose condition holds.
func firstExclusion(rules []manifest.Rule, flags map[string]bool, output, source string) int {
	for _, r := range rules {
		if r.Matches(output, source) && r.Cond.Eval(flags) {
			return r.Index
		}
	}
	return NoRule
}

// Count tallies records per category.
func Count(records []models.Record) map[models.Category]int {
	out := make(map[models.Category]int, len(models.Categories))
	for _, c := range models.Categories {
		out[c] = 0
	}
	for _, r := range records {
		out[r.Category]++
	}
	return out
}

// Filter returns the records of the given categories, preserving order.
func Filter(records []models.Record, cats ...models.Category) []models.Record {
	var out []models.Record
	for _, r := range records {
		for _, c := range cats {
			if r.Category == c {
				out = append(out, r)
				break
			}
		}
	}
	return out
}
