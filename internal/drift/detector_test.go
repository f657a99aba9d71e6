package drift

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pvginkel/ModernAppTemplate/internal/apperr"
	"github.com/pvginkel/ModernAppTemplate/internal/manifest"
	"github.com/pvginkel/ModernAppTemplate/internal/models"
	"github.com/pvginkel/ModernAppTemplate/internal/ownership"
	"github.com/pvginkel/ModernAppTemplate/internal/snapshot"
	"github.com/pvginkel/ModernAppTemplate/internal/testutil"
	"github.com/pvginkel/ModernAppTemplate/internal/vcs"
)

var templateFiles = map[string]string{
	"app/__init__.py":      "",
	"app/extensions.py":    "ext = None\n",
	"app/config.py.jinja":  "NAME = '{{ project_name }}'\n",
	"pyproject.toml.jinja": "[project]\nname = '{{ project_name }}'\n",
}

func appFiles() map[string]string {
	return map[string]string{
		".copier-answers.yml": testutil.Answers("v1", map[string]bool{"use_database": false}),
		"app/__init__.py":     "",
		"app/extensions.py":   "ext = None\n",
		"app/config.py":       "NAME = 'demo'\n",
		"pyproject.toml":      "[project]\nname = 'demo'\n",
	}
}

type env struct {
	template string
	app      string
}

// newEnv builds a template and an application adopted from it. With git
// the adoption is committed so later commits form the sync history.
func newEnv(t *testing.T, withGit bool) env {
	t.Helper()
	e := env{template: testutil.Template(t, testutil.CopierConfig, templateFiles), app: t.TempDir()}
	if withGit {
		testutil.InitRepo(t, e.app)
	}
	testutil.WriteTree(t, e.app, appFiles())
	if withGit {
		testutil.CommitAll(t, e.app, "Adopt template")
	}
	return e
}

func (e env) commit(t *testing.T, files map[string]string, msg string) {
	t.Helper()
	testutil.WriteTree(t, e.app, files)
	testutil.CommitAll(t, e.app, msg)
}

func notRepo(context.Context, string) (vcs.Repository, error) {
	return nil, vcs.ErrNotRepository
}

func (e env) detect(t *testing.T, sopts []snapshot.Option, opts ...Option) ([]models.Finding, error) {
	t.Helper()
	m, err := manifest.Load(e.template)
	if err != nil {
		t.Fatalf("manifest.Load: %v", err)
	}
	s, err := snapshot.Read(context.Background(), e.app, sopts...)
	if err != nil {
		t.Fatalf("snapshot.Read: %v", err)
	}
	return New(opts...).Detect(context.Background(), m, s, ownership.Classify(m, s))
}

func findingsByPath(fs []models.Finding) map[string]models.Finding {
	out := make(map[string]models.Finding, len(fs))
	for _, f := range fs {
		out[f.Path] = f
	}
	return out
}

func TestIdenticalContentNoHistory(t *testing.T) {
	e := newEnv(t, false)
	findings, err := e.detect(t, []snapshot.Option{snapshot.WithRepository(notRepo)})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("findings = %+v, want none", findings)
	}
}

func TestOneByteDifferenceNoHistory(t *testing.T) {
	e := newEnv(t, false)
	testutil.WriteTree(t, e.app, map[string]string{"app/extensions.py": "ext = Nono\n"})

	findings, err := e.detect(t, []snapshot.Option{snapshot.WithRepository(notRepo)})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %+v, want exactly one", findings)
	}
	f := findings[0]
	if f.Path != "app/extensions.py" || f.Methods != models.ContentComparison {
		t.Errorf("finding = %+v", f)
	}
	if f.Added != 1 || f.Removed != 1 || f.Informational {
		t.Errorf("counts = +%d -%d informational=%v", f.Added, f.Removed, f.Informational)
	}
	if f.Diff != "" || f.Commits != nil {
		t.Error("evidence should be omitted unless requested")
	}
}

func TestHistoryUnavailableUsesContentOnly(t *testing.T) {
	e := newEnv(t, false)
	testutil.WriteTree(t, e.app, map[string]string{
		"app/extensions.py": "ext = object()\n",
		"app/config.py":     "NAME = 'renamed'\n",
	})

	findings, err := e.detect(t, []snapshot.Option{snapshot.WithRepository(notRepo)})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	for _, f := range findings {
		if f.Methods.Has(models.HistoryDiff) {
			t.Errorf("%s: history method without history", f.Path)
		}
	}
	got := findingsByPath(findings)
	if _, ok := got["app/extensions.py"]; !ok {
		t.Error("verbatim edit should still be found by content")
	}
	if _, ok := got["app/config.py"]; ok {
		t.Error("conditional text cannot be compared without history")
	}
}

func TestHistoryAndContentMerge(t *testing.T) {
	e := newEnv(t, true)
	e.commit(t, map[string]string{
		"app/extensions.py": "ext = None\nextra = 1\n",
		"app/config.py":     "NAME = 'demo'\nDEBUG = True\n",
	}, "Local tweaks")

	findings, err := e.detect(t, nil, WithCommits(true))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	got := findingsByPath(findings)

	ext := got["app/extensions.py"]
	if ext.Methods != models.Both || ext.Added != 1 || ext.Removed != 0 {
		t.Errorf("extensions.py = %+v", ext)
	}
	if len(ext.Commits) != 1 || !strings.HasSuffix(ext.Commits[0], " Local tweaks") {
		t.Errorf("commits = %v", ext.Commits)
	}
	if cfg := got["app/config.py"]; cfg.Methods != models.HistoryDiff {
		t.Errorf("config.py = %+v, want history only", cfg)
	}
}

func TestRevertedEditStillFlaggedByHistory(t *testing.T) {
	e := newEnv(t, true)
	e.commit(t, map[string]string{"app/extensions.py": "ext = 1\n"}, "Change")
	e.commit(t, map[string]string{"app/extensions.py": "ext = None\n"}, "Revert")

	findings, err := e.detect(t, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	f, ok := findingsByPath(findings)["app/extensions.py"]
	if !ok || f.Methods != models.HistoryDiff {
		t.Errorf("finding = %+v (present %v), want history only", f, ok)
	}
}

func TestScaffoldEditsAreInformational(t *testing.T) {
	e := newEnv(t, true)
	e.commit(t, map[string]string{"pyproject.toml": "[project]\nname = 'demo'\nversion = '2'\n"}, "Bump version")

	findings, err := e.detect(t, nil, WithDiff(true))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	f, ok := findingsByPath(findings)["pyproject.toml"]
	if !ok {
		t.Fatal("expected a scaffold finding")
	}
	if !f.Informational || f.Category != models.AppScaffold || f.Methods != models.HistoryDiff {
		t.Errorf("finding = %+v", f)
	}
	if !strings.Contains(f.Diff, "+version = '2'") || f.Added != 1 {
		t.Errorf("diff evidence missing: +%d\n%s", f.Added, f.Diff)
	}
}

func TestUncommittedScaffoldDifferenceIsSilent(t *testing.T) {
	e := newEnv(t, false)
	testutil.WriteTree(t, e.app, map[string]string{"pyproject.toml": "[tool.other]\n"})

	findings, err := e.detect(t, []snapshot.Option{snapshot.WithRepository(notRepo)})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("findings = %+v, want none", findings)
	}
}

func TestContentDiffEvidence(t *testing.T) {
	e := newEnv(t, false)
	testutil.WriteTree(t, e.app, map[string]string{"app/extensions.py": "ext = 42\n"})

	findings, err := e.detect(t, []snapshot.Option{snapshot.WithRepository(notRepo)}, WithDiff(true), WithContextLines(0))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %+v", findings)
	}
	d := findings[0].Diff
	for _, want := range []string{"--- template/app/extensions.py", "+++ app/extensions.py", "-ext = None", "+ext = 42"} {
		if !strings.Contains(d, want) {
			t.Errorf("diff lacks %q:\n%s", want, d)
		}
	}
}

func TestUnreadableFileBecomesFinding(t *testing.T) {
	e := newEnv(t, false)
	testutil.WriteTree(t, e.app, map[string]string{"app/extensions.py": "changed\n"})
	m, err := manifest.Load(e.template)
	if err != nil {
		t.Fatalf("manifest.Load: %v", err)
	}
	s, err := snapshot.Read(context.Background(), e.app, snapshot.WithRepository(notRepo))
	if err != nil {
		t.Fatalf("snapshot.Read: %v", err)
	}
	if err := os.Remove(filepath.Join(e.app, "app", "extensions.py")); err != nil {
		t.Fatal(err)
	}

	findings, err := New(WithWorkers(2)).Detect(context.Background(), m, s, ownership.Classify(m, s))
	if err != nil {
		t.Fatalf("Detect should not abort: %v", err)
	}
	f, ok := findingsByPath(findings)["app/extensions.py"]
	if !ok || !f.Unreadable || f.Note == "" {
		t.Errorf("finding = %+v (present %v), want unreadable marker", f, ok)
	}
}

func TestMissingTemplateSourceAborts(t *testing.T) {
	e := newEnv(t, false)
	testutil.WriteTree(t, e.app, map[string]string{"app/extensions.py": "changed\n"})
	m, err := manifest.Load(e.template)
	if err != nil {
		t.Fatalf("manifest.Load: %v", err)
	}
	if err := os.Remove(filepath.Join(e.template, "template", "app", "extensions.py")); err != nil {
		t.Fatal(err)
	}
	s, err := snapshot.Read(context.Background(), e.app, snapshot.WithRepository(notRepo))
	if err != nil {
		t.Fatalf("snapshot.Read: %v", err)
	}

	_, err = New().Detect(context.Background(), m, s, ownership.Classify(m, s))
	if !errors.Is(err, apperr.ErrManifest) {
		t.Fatalf("expected ManifestError, got %v", err)
	}
}

func TestExcludedPathNeverReported(t *testing.T) {
	e := newEnv(t, true)
	// use_database is false, so app/database.py is excluded even if the app
	// carries its own copy.
	e.commit(t, map[string]string{"app/database.py": "engine = 'custom'\n"}, "Own database module")

	findings, err := e.detect(t, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := findingsByPath(findings)["app/database.py"]; ok {
		t.Error("excluded path reported")
	}
}

func TestCancelledContext(t *testing.T) {
	e := newEnv(t, false)
	m, err := manifest.Load(e.template)
	if err != nil {
		t.Fatalf("manifest.Load: %v", err)
	}
	s, err := snapshot.Read(context.Background(), e.app, snapshot.WithRepository(notRepo))
	if err != nil {
		t.Fatalf("snapshot.Read: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Detect(ctx, m, s, ownership.Classify(m, s)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCountLines(t *testing.T) {
	diff := "diff --git a/x b/x\n--- a/x\n+++ b/x\n@@ -1,2 +1,2 @@\n-old\n+new\n context\n--- removed dashes\n\\ No newline at end of file\n"
	added, removed := CountLines(diff)
	if added != 1 || removed != 2 {
		t.Errorf("CountLines = +%d -%d, want +1 -2", added, removed)
	}
}
