package mcpserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pvginkel/ModernAppTemplate/internal/analysis"
	"github.com/pvginkel/ModernAppTemplate/internal/testutil"
)

// testServer lays out a template and an app without git history, so only
// content comparison runs.
func testServer(t *testing.T) (srv *Server, tmpl, app string) {
	t.Helper()
	tmpl = testutil.Template(t, testutil.CopierConfig, map[string]string{
		"app/extensions.py": "ext = None\n",
		"app/database.py":   "engine = None\n",
		"README.md":         "# Demo\n",
	})
	app = filepath.Join(t.TempDir(), "app")
	testutil.WriteTree(t, app, map[string]string{
		".copier-answers.yml": testutil.Answers("v1.0.0", map[string]bool{"use_database": false}),
		"app/extensions.py":   "ext = object()\n",
		"README.md":           "# Demo\n",
		"notes.txt":           "local\n",
	})
	return New("test", analysis.WithWorkers(2)), tmpl, app
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "find_template_violations":
		result, err = srv.findViolations(ctx, req)
	case "classify_paths":
		result, err = srv.classifyPaths(ctx, req)
	case "changes_since_sync":
		result, err = srv.changesSinceSync(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestFindViolationsText(t *testing.T) {
	srv, tmpl, app := testServer(t)
	r := callTool(t, srv, "find_template_violations", map[string]interface{}{
		"app_root": app,
		"template": tmpl,
	})
	if r.IsError {
		t.Fatalf("tool error: %s", resultText(r))
	}
	text := resultText(r)
	if !strings.Contains(text, "app/extensions.py") {
		t.Errorf("report does not name the modified file:\n%s", text)
	}
	if !strings.Contains(text, "history unavailable") {
		t.Errorf("report does not explain missing history:\n%s", text)
	}
	if strings.Contains(text, "\x1b[") {
		t.Error("tool output must not carry escape codes")
	}
}

func TestFindViolationsJSONWithDiff(t *testing.T) {
	srv, tmpl, app := testServer(t)
	r := callTool(t, srv, "find_template_violations", map[string]interface{}{
		"app_root": app,
		"template": tmpl,
		"diff":     true,
		"format":   "json",
	})
	if r.IsError {
		t.Fatalf("tool error: %s", resultText(r))
	}
	var got struct {
		Findings []struct {
			Path string `json:"path"`
			Diff string `json:"diff"`
		} `json:"findings"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Findings) != 1 || got.Findings[0].Path != "app/extensions.py" {
		t.Fatalf("findings = %+v", got.Findings)
	}
	if !strings.Contains(got.Findings[0].Diff, "+ext = object()") {
		t.Errorf("diff = %q", got.Findings[0].Diff)
	}
}

func TestFindViolationsTemplateFromAnswers(t *testing.T) {
	srv, _, _ := testServer(t)
	// Answers point at ../template, so lay the app out next to one.
	base := t.TempDir()
	testutil.WriteTree(t, base, map[string]string{
		"template/copier.yml":               testutil.CopierConfig,
		"template/template/app/database.py": "engine = None\n",
		"app/.copier-answers.yml":           testutil.Answers("v1.0.0", map[string]bool{"use_database": true}),
		"app/app/database.py":               "engine = None\n",
	})
	r := callTool(t, srv, "find_template_violations", map[string]interface{}{
		"app_root": filepath.Join(base, "app"),
		"format":   "json",
	})
	if r.IsError {
		t.Fatalf("tool error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), `"findings": []`) {
		t.Errorf("expected no findings:\n%s", resultText(r))
	}
}

func TestClassifyPaths(t *testing.T) {
	srv, tmpl, app := testServer(t)
	r := callTool(t, srv, "classify_paths", map[string]interface{}{
		"app_root": app,
		"template": tmpl,
		"category": "excluded,app-only",
	})
	if r.IsError {
		t.Fatalf("tool error: %s", resultText(r))
	}
	var records []struct {
		Path     string `json:"path"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := map[string]string{}
	for _, rec := range records {
		got[rec.Path] = rec.Category
	}
	if got["app/database.py"] != "excluded" || got["notes.txt"] != "app-only" {
		t.Errorf("records = %+v", records)
	}
	if _, ok := got["app/extensions.py"]; ok {
		t.Error("template-owned path should be filtered out")
	}
}

func TestClassifyPathsBadCategory(t *testing.T) {
	srv, tmpl, app := testServer(t)
	r := callTool(t, srv, "classify_paths", map[string]interface{}{
		"app_root": app,
		"template": tmpl,
		"category": "owned-by-nobody",
	})
	if !r.IsError {
		t.Error("expected error for unknown category")
	}
}

func TestChangesSinceSyncWithoutHistory(t *testing.T) {
	srv, _, app := testServer(t)
	r := callTool(t, srv, "changes_since_sync", map[string]interface{}{"app_root": app})
	if r.IsError {
		t.Fatalf("tool error: %s", resultText(r))
	}
	text := resultText(r)
	if !strings.Contains(text, "(template v1.0.0)") || !strings.Contains(text, "history unavailable") {
		t.Errorf("changes = %q", text)
	}
}

func TestMissingAppRoot(t *testing.T) {
	srv, _, _ := testServer(t)
	for _, name := range []string{"find_template_violations", "classify_paths", "changes_since_sync"} {
		r := callTool(t, srv, name, map[string]interface{}{})
		if !r.IsError {
			t.Errorf("%s: expected error without app_root", name)
		}
	}
}

func TestMissingAnswersIsToolError(t *testing.T) {
	srv, tmpl, _ := testServer(t)
	r := callTool(t, srv, "find_template_violations", map[string]interface{}{
		"app_root": t.TempDir(),
		"template": tmpl,
	})
	if !r.IsError || !strings.Contains(resultText(r), ".copier-answers.yml") {
		t.Errorf("result = %+v", r)
	}
}
