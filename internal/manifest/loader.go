package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pvginkel/ModernAppTemplate/internal/apperr"
	"github.com/pvginkel/ModernAppTemplate/internal/flagexpr"
	"github.com/pvginkel/ModernAppTemplate/internal/storage"
)

// ConfigNames are the template configuration file names, in lookup order.
var ConfigNames = []string{"copier.yml", "copier.yaml"}

const defaultSuffix = ".jinja"

// conditionalRe matches `{% if COND %}PATTERN{% endif %}`, with optional
// whitespace-control dashes.
var conditionalRe = regexp.MustCompile(`(?s)^\{%-?\s*if\s+(.+?)\s*-?%\}(.*?)\{%-?\s*endif\s*-?%\}$`)

type loader struct {
	logger *slog.Logger
}

// Load reads the template configuration at templateRoot and builds its
// manifest. Exclusion conditions are parsed but not evaluated.
func Load(templateRoot string, opts ...Option) (*Manifest, error) {
	ld := &loader{logger: slog.Default()}
	for _, opt := range opts {
		opt(ld)
	}

	root, err := filepath.Abs(templateRoot)
	if err != nil {
		return nil, &apperr.ManifestError{Path: templateRoot, Err: err}
	}
	cfgPath, raw, err := readConfig(root)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Root:         root,
		ConfigPath:   cfgPath,
		Subdirectory: ".",
		Suffix:       defaultSuffix,
		Flags:        make(map[string]bool),
		Files:        make(map[string]File),
		checksums:    make(map[string]string),
	}
	declared := make(map[string]struct{})

	for key, val := range raw {
		if strings.HasPrefix(key, "_") {
			continue
		}
		declared[key] = struct{}{}
		if def, ok := boolQuestion(val); ok {
			m.Flags[key] = def
		}
	}

	if err := ld.settings(m, raw); err != nil {
		return nil, err
	}
	if err := ld.rules(m, raw, declared); err != nil {
		return nil, err
	}
	if err := ld.inventory(m); err != nil {
		return nil, err
	}
	m.applyScaffold()
	for _, p := range m.AlwaysExcludedScaffold() {
		ld.logger.Warn("manifest: scaffold path matches an unconditional exclude",
			slog.String("path", p))
	}

	ld.logger.Debug("manifest: loaded",
		slog.String("template", root),
		slog.Int("files", len(m.Files)),
		slog.Int("scaffold", len(m.Scaffold)),
		slog.Int("rules", len(m.Rules)))
	return m, nil
}

func readConfig(root string) (string, map[string]any, error) {
	for _, name := range ConfigNames {
		p := filepath.Join(root, name)
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return p, nil, &apperr.ManifestError{Path: p, Err: err}
		}
		raw := map[string]any{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return p, nil, apperr.Manifestf(p, "", "parse: %w", err)
		}
		return p, raw, nil
	}
	p := filepath.Join(root, ConfigNames[0])
	return p, nil, apperr.Manifestf(p, "", "template configuration %w", apperr.ErrNotFound)
}

// boolQuestion reports whether a question declaration is a boolean flag
// and returns its default.
func boolQuestion(val any) (bool, bool) {
	switch v := val.(type) {
	case bool:
		return v, true
	case map[string]any:
		def, hasDefault := v["default"].(bool)
		if t, ok := v["type"].(string); ok {
			return def, t == "bool"
		}
		return def, hasDefault
	}
	return false, false
}

func (ld *loader) settings(m *Manifest, raw map[string]any) error {
	if v, ok := raw["_subdirectory"]; ok {
		s, ok := v.(string)
		if !ok {
			return apperr.Manifestf(m.ConfigPath, "_subdirectory", "must be a string")
		}
		if s = strings.TrimSpace(s); s != "" {
			m.Subdirectory = filepath.ToSlash(filepath.Clean(s))
		}
	}
	if v, ok := raw["_templates_suffix"]; ok {
		s, ok := v.(string)
		if !ok {
			return apperr.Manifestf(m.ConfigPath, "_templates_suffix", "must be a string")
		}
		m.Suffix = s
	}

	entries, err := stringList(raw, "_skip_if_exists")
	if err != nil {
		return &apperr.ManifestError{Path: m.ConfigPath, Field: "_skip_if_exists", Err: err}
	}
	for i, e := range entries {
		pt, ok := NewPattern(e)
		if !ok {
			return apperr.Manifestf(m.ConfigPath, fmt.Sprintf("_skip_if_exists[%d]", i), "invalid pattern %q", e)
		}
		m.scaffoldPatterns = append(m.scaffoldPatterns, pt)
	}
	return nil
}

func (ld *loader) rules(m *Manifest, raw map[string]any, declared map[string]struct{}) error {
	entries, err := stringList(raw, "_exclude")
	if err != nil {
		return &apperr.ManifestError{Path: m.ConfigPath, Field: "_exclude", Err: err}
	}
	for i, entry := range entries {
		field := fmt.Sprintf("_exclude[%d]", i)
		rule, err := parseRule(i, entry)
		if err != nil {
			return &apperr.ManifestError{Path: m.ConfigPath, Field: field, Err: err}
		}
		for _, name := range flagexpr.Vars(rule.Cond) {
			if _, isBool := m.Flags[name]; isBool {
				continue
			}
			if _, ok := declared[name]; ok {
				return apperr.Manifestf(m.ConfigPath, field, "condition references non-boolean question %q", name)
			}
		}
		m.Rules = append(m.Rules, rule)
	}
	return m.validateRules()
}

func parseRule(index int, entry string) (Rule, error) {
	trimmed := strings.TrimSpace(entry)
	rule := Rule{Index: index, Raw: trimmed, Cond: flagexpr.True}

	patternSrc := trimmed
	if sm := conditionalRe.FindStringSubmatch(trimmed); sm != nil {
		cond, err := flagexpr.Parse(sm[1])
		if err != nil {
			return Rule{}, err
		}
		rule.Cond = cond
		patternSrc = sm[2]
	} else if strings.Contains(trimmed, "{%") || strings.Contains(trimmed, "{{") {
		return Rule{}, fmt.Errorf("unsupported template expression in %q", trimmed)
	}

	pt, ok := NewPattern(patternSrc)
	if !ok {
		return Rule{}, fmt.Errorf("invalid pattern %q", patternSrc)
	}
	rule.Pattern = pt
	return rule, nil
}

func stringList(raw map[string]any, key string) ([]string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, errors.New("must be a list")
	}
	out := make([]string, 0, len(items))
	for i, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, fmt.Errorf("entry %d is not a string", i)
		}
		out = append(out, s)
	}
	return out, nil
}

func (ld *loader) inventory(m *Manifest) error {
	dir := filepath.Join(m.Root, filepath.FromSlash(m.Subdirectory))
	var ignore []string
	if m.Subdirectory == "." {
		ignore = append(ignore, ConfigNames...)
	}
	tree, err := storage.NewFS(dir, storage.WithIgnore(ignore...))
	if err != nil {
		return &apperr.ManifestError{Path: dir, Field: "_subdirectory", Err: err}
	}
	metas, err := tree.List("")
	if err != nil {
		return &apperr.ManifestError{Path: dir, Err: err}
	}
	m.tree = tree

	for _, meta := range metas {
		rel := meta.Path
		if strings.Contains(rel, "{{") || strings.Contains(rel, "{%") {
			ld.logger.Debug("manifest: skipped templated name", slog.String("path", rel))
			continue
		}
		out, rendered := trimSuffix(rel, m.Suffix)
		if prev, dup := m.Files[out]; dup {
			return apperr.Manifestf(dir, out, "output produced by both %q and %q", prev.Source, rel)
		}
		m.Files[out] = File{Path: out, Source: rel, Verbatim: !rendered}
		m.checksums[out] = meta.Checksum
	}
	return nil
}
