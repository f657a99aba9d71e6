package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pvginkel/ModernAppTemplate/internal/apperr"
	"github.com/pvginkel/ModernAppTemplate/internal/testutil"
)

// layout writes a template and apps next to it. The apps have no git
// history, so only content comparison runs.
func layout(t *testing.T, apps map[string]string) string {
	t.Helper()
	base := t.TempDir()
	files := map[string]string{
		"template/copier.yml":                 testutil.CopierConfig,
		"template/template/app/extensions.py": "ext = None\n",
		"template/template/README.md":         "# Demo\n",
	}
	for name, ext := range apps {
		files[name+"/.copier-answers.yml"] = testutil.Answers("v1.0.0", map[string]bool{"use_database": false})
		files[name+"/app/extensions.py"] = ext
		files[name+"/README.md"] = "# Demo\n"
	}
	testutil.WriteTree(t, base, files)
	return base
}

func run(t *testing.T, cfg *Config) ([]Option, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	return []Option{WithConfig(cfg), WithIO(strings.NewReader(""), &stdout, &stderr)}, &stdout, &stderr
}

func TestCheckExitCodes(t *testing.T) {
	base := layout(t, map[string]string{"clean": "ext = None\n", "dirty": "ext = 1\n"})
	cfg := NewDefaultConfig()
	cfg.Report.Color = "never"

	opts, stdout, _ := run(t, cfg)
	code, err := Check(context.Background(), CheckRequest{AppRoot: filepath.Join(base, "clean")}, opts...)
	if err != nil || code != apperr.ExitClean {
		t.Fatalf("clean: code = %d, err = %v", code, err)
	}
	if !strings.Contains(stdout.String(), "Template Violation Report") {
		t.Errorf("clean report:\n%s", stdout.String())
	}

	opts, stdout, _ = run(t, cfg)
	code, err = Check(context.Background(), CheckRequest{AppRoot: filepath.Join(base, "dirty"), Diff: true}, opts...)
	if err != nil || code != apperr.ExitFindings {
		t.Fatalf("dirty: code = %d, err = %v", code, err)
	}
	if !strings.Contains(stdout.String(), "app/extensions.py") || !strings.Contains(stdout.String(), "+ext = 1") {
		t.Errorf("dirty report:\n%s", stdout.String())
	}

	opts, _, _ = run(t, cfg)
	code, err = Check(context.Background(), CheckRequest{AppRoot: t.TempDir()}, opts...)
	if err == nil || code != apperr.ExitConfig {
		t.Errorf("missing answers: code = %d, err = %v", code, err)
	}
}

func TestCheckJSON(t *testing.T) {
	base := layout(t, map[string]string{"dirty": "ext = 1\n"})
	cfg := NewDefaultConfig()
	cfg.Report.Format = "json"
	opts, stdout, _ := run(t, cfg)

	code, err := Check(context.Background(), CheckRequest{
		AppRoot:  filepath.Join(base, "dirty"),
		Template: filepath.Join(base, "template"),
	}, opts...)
	if err != nil || code != apperr.ExitFindings {
		t.Fatalf("code = %d, err = %v", code, err)
	}
	var got struct {
		Summary struct {
			Findings int `json:"findings"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, stdout.String())
	}
	if got.Summary.Findings != 1 {
		t.Errorf("summary = %+v", got.Summary)
	}
}

func TestLogsGoToStderr(t *testing.T) {
	base := layout(t, map[string]string{"clean": "ext = None\n"})
	cfg := NewDefaultConfig()
	cfg.Report.Format = "json"
	cfg.App.LogLevel = slog.LevelDebug
	opts, stdout, stderr := run(t, cfg)

	if _, err := Check(context.Background(), CheckRequest{AppRoot: filepath.Join(base, "clean")}, opts...); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !strings.Contains(stderr.String(), "analysis: complete") {
		t.Errorf("stderr = %q", stderr.String())
	}
	if !json.Valid(stdout.Bytes()) {
		t.Errorf("stdout must hold only the report:\n%s", stdout.String())
	}
}

func TestChangesWithoutHistory(t *testing.T) {
	base := layout(t, map[string]string{"clean": "ext = None\n"})
	cfg := NewDefaultConfig()
	cfg.Report.Format = "json"
	opts, stdout, _ := run(t, cfg)

	code, err := Changes(context.Background(), filepath.Join(base, "clean"), opts...)
	if err != nil || code != apperr.ExitClean {
		t.Fatalf("code = %d, err = %v", code, err)
	}
	var cs struct {
		Available        bool   `json:"available"`
		TemplateRevision string `json:"template_revision"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &cs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cs.Available || cs.TemplateRevision != "v1.0.0" {
		t.Errorf("changes = %+v", cs)
	}
}

func TestWorkspaceWorstExitCode(t *testing.T) {
	base := layout(t, map[string]string{"clean": "ext = None\n", "dirty": "ext = 1\n"})
	testutil.WriteTree(t, base, map[string]string{
		"Project.code-workspace": `{
	"folders": [
		{"path": "template"},
		{"path": "clean"},
		{"path": "dirty"},
	],
}`,
		"broken/.copier-answers.yml": "_src_path: gh:org/template\n",
	})
	cfg := NewDefaultConfig()
	cfg.Report.Color = "never"
	opts, stdout, _ := run(t, cfg)

	code, err := Workspace(context.Background(), WorkspaceRequest{File: filepath.Join(base, "Project.code-workspace")}, opts...)
	if err != nil || code != apperr.ExitFindings {
		t.Fatalf("code = %d, err = %v", code, err)
	}
	out := stdout.String()
	if strings.Count(out, "Template Violation Report") != 2 {
		t.Errorf("expected one report per app:\n%s", out)
	}

	// A folder that cannot be analysed raises the exit code to 2.
	testutil.WriteTree(t, base, map[string]string{
		"Project.code-workspace": `{"folders": [{"path": "clean"}, {"path": "broken"}]}`,
	})
	cfg.Report.Format = "json"
	opts, stdout, _ = run(t, cfg)
	code, err = Workspace(context.Background(), WorkspaceRequest{File: filepath.Join(base, "Project.code-workspace")}, opts...)
	if err != nil || code != apperr.ExitConfig {
		t.Fatalf("code = %d, err = %v", code, err)
	}
	var entries []struct {
		Name  string `json:"name"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 || entries[1].Name != "broken" || !strings.Contains(entries[1].Error, "not a local path") {
		t.Errorf("entries = %+v", entries)
	}
}

func TestWorkspaceWithoutApps(t *testing.T) {
	base := t.TempDir()
	testutil.WriteTree(t, base, map[string]string{
		"Project.code-workspace": `{"folders": [{"path": "docs"}]}`,
		"docs/README.md":         "# Docs\n",
	})
	opts, _, _ := run(t, NewDefaultConfig())
	code, err := Workspace(context.Background(), WorkspaceRequest{File: filepath.Join(base, "Project.code-workspace")}, opts...)
	if err == nil || code != apperr.ExitConfig {
		t.Errorf("code = %d, err = %v", code, err)
	}
}

func TestRequiresConfig(t *testing.T) {
	if _, err := Check(context.Background(), CheckRequest{}); err == nil {
		t.Error("expected error without config")
	}
}
