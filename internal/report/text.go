package report

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/pvginkel/ModernAppTemplate/internal/models"
)

// Color modes accepted by TextOptions.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// TextOptions controls the text rendering.
type TextOptions struct {
	Color string
}

const rule = "------------------------------------------------------------"

type styles struct {
	title  lipgloss.Style
	bold   lipgloss.Style
	dim    lipgloss.Style
	red    lipgloss.Style
	green  lipgloss.Style
	yellow lipgloss.Style
	blue   lipgloss.Style
	cyan   lipgloss.Style
}

func newStyles(w io.Writer, mode string) styles {
	r := lipgloss.NewRenderer(w)
	switch mode {
	case ColorAlways:
		r.SetColorProfile(termenv.ANSI)
	case ColorNever:
		r.SetColorProfile(termenv.Ascii)
	}
	return styles{
		title:  r.NewStyle().Bold(true).Underline(true),
		bold:   r.NewStyle().Bold(true),
		dim:    r.NewStyle().Faint(true),
		red:    r.NewStyle().Foreground(lipgloss.Color("1")),
		green:  r.NewStyle().Foreground(lipgloss.Color("2")),
		yellow: r.NewStyle().Foreground(lipgloss.Color("3")),
		blue:   r.NewStyle().Foreground(lipgloss.Color("4")),
		cyan:   r.NewStyle().Foreground(lipgloss.Color("6")),
	}
}

// textWriter accumulates the first write error so sections stay linear.
type textWriter struct {
	w   io.Writer
	err error
}

func (t *textWriter) line(format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, format+"\n", args...)
}

// WriteText renders the report for a terminal.
func WriteText(w io.Writer, r *Report, opts TextOptions) error {
	st := newStyles(w, opts.Color)
	t := &textWriter{w: w}

	t.line("")
	t.line("%s", st.bold.Render("Template Violation Report: "+filepath.Base(r.App)))
	t.line("%s", st.dim.Render(strings.Repeat("=", len(rule))))
	t.line("")
	if r.TemplateRevision != "" {
		t.line("Template: %s @ %s", r.Template, r.TemplateRevision)
	} else {
		t.line("Template: %s", r.Template)
	}
	t.line("")

	writeFlags(t, st, r)
	writeInventory(t, st, r)

	t.line("%s", st.bold.Render("Baseline commit (last template update):"))
	if r.HistoryAvailable {
		t.line("  %s", r.Baseline)
	} else {
		t.line("  %s", st.yellow.Render("history unavailable: "+r.HistoryReason))
		t.line("  %s", st.dim.Render("(Only content comparison applies; rendered files cannot be checked.)"))
	}
	t.line("")

	writePostAdoption(t, st, r)
	writePreExisting(t, st, r)
	writeUnreadable(t, st, r)
	writeConditional(t, st, r)
	writeScaffold(t, st, r)
	writeConflicts(t, st, r)
	writeMissing(t, st, r)
	writeSummary(t, st, r)
	return t.err
}

func writeFlags(t *textWriter, st styles, r *Report) {
	if len(r.Flags) == 0 {
		return
	}
	names := make([]string, 0, len(r.Flags))
	for name := range r.Flags {
		names = append(names, name)
	}
	sort.Strings(names)
	t.line("%s", st.bold.Render("Feature flags:"))
	for _, name := range names {
		v := r.Flags[name]
		style := st.dim
		if v {
			style = st.green
		}
		t.line("  %s: %s", name, style.Render(fmt.Sprint(v)))
	}
	t.line("")
}

func writeInventory(t *textWriter, st styles, r *Report) {
	t.line("%s", st.bold.Render("File inventory:"))
	t.line("  Template-owned: %d files", r.Inventory[models.TemplateOwned])
	t.line("  App-owned (scaffold): %d files", r.Inventory[models.AppScaffold])
	t.line("  Excluded by feature flags: %d files", r.Inventory[models.Excluded])
	t.line("  App-only: %d files", r.Inventory[models.AppOnly])
	t.line("")
}

func writePostAdoption(t *textWriter, st styles, r *Report) {
	items := r.PostAdoption()
	if !r.HistoryAvailable {
		return
	}
	if len(items) == 0 {
		t.line("%s", st.green.Render("No post-adoption changes. All template-owned files unchanged since the last update."))
		t.line("")
		return
	}
	t.line("%s", st.red.Bold(true).Render(fmt.Sprintf(
		"POST-ADOPTION CHANGES: %d template-owned files modified since the last update", len(items))))
	t.line("%s", st.dim.Render(rule))
	t.line("")
	for _, f := range items {
		writeFinding(t, st, f)
	}
	t.line("")
}

func writePreExisting(t *textWriter, st styles, r *Report) {
	items := r.PreExisting()
	if len(items) == 0 {
		return
	}
	t.line("%s", st.yellow.Bold(true).Render(fmt.Sprintf(
		"PRE-EXISTING DIVERGENCE: %d verbatim template files differ from source", len(items))))
	t.line("%s", st.dim.Render("(These differences existed at adoption time or were introduced outside git.)"))
	t.line("%s", st.dim.Render(rule))
	t.line("")
	for _, f := range items {
		writeFinding(t, st, f)
	}
	t.line("")
}

func writeUnreadable(t *textWriter, st styles, r *Report) {
	items := r.Unreadable()
	if len(items) == 0 {
		return
	}
	t.line("%s", st.red.Bold(true).Render(fmt.Sprintf("UNREADABLE: %d files could not be read", len(items))))
	t.line("%s", st.dim.Render(rule))
	for _, f := range items {
		t.line("  %s  %s", st.yellow.Render(f.Path), st.dim.Render(f.Note))
	}
	t.line("")
}

func writeConditional(t *textWriter, st styles, r *Report) {
	if len(r.Conditional) == 0 {
		return
	}
	t.line("%s", st.blue.Bold(true).Render(fmt.Sprintf(
		"RENDERED FILES: %d template files use substitution (cannot compare directly)", len(r.Conditional))))
	t.line("%s", st.dim.Render("(Run `copier update --pretend` to check these for drift.)"))
	t.line("%s", st.dim.Render(rule))
	for _, rec := range r.Conditional {
		t.line("  %s  %s", st.dim.Render(rec.Path), st.dim.Render("<- "+rec.Source))
	}
	t.line("")
}

func writeScaffold(t *textWriter, st styles, r *Report) {
	if len(r.Scaffold) == 0 {
		return
	}
	t.line("%s", st.bold.Render(fmt.Sprintf(
		"APP-OWNED CONTEXT: %d scaffold files changed since the last update", len(r.Scaffold))))
	t.line("%s", st.dim.Render("(Generated once and owned by the app; informational only.)"))
	t.line("%s", st.dim.Render(rule))
	for _, f := range r.Scaffold {
		writeFinding(t, st, f)
	}
	t.line("")
}

func writeConflicts(t *textWriter, st styles, r *Report) {
	if len(r.Conflicts) == 0 {
		return
	}
	t.line("%s", st.yellow.Bold(true).Render(fmt.Sprintf(
		"CONFIGURATION CONFLICT: %d scaffold files also match an exclusion rule", len(r.Conflicts))))
	t.line("%s", st.dim.Render(rule))
	for _, rec := range r.Conflicts {
		t.line("  %s  %s", rec.Path, st.dim.Render(fmt.Sprintf("_exclude[%d]", rec.Rule)))
	}
	t.line("")
}

func writeMissing(t *textWriter, st styles, r *Report) {
	if len(r.Missing) == 0 {
		return
	}
	t.line("%s", st.yellow.Bold(true).Render(fmt.Sprintf(
		"MISSING: %d template-owned files not found in app", len(r.Missing))))
	t.line("%s", st.dim.Render(rule))
	for _, rec := range r.Missing {
		t.line("  %s", st.dim.Render(rec.Path))
	}
	t.line("")
	t.line("  %s", st.dim.Render("(May be expected if deleted intentionally or the app predates these additions.)"))
	t.line("")
}

func writeFinding(t *textWriter, st styles, f models.Finding) {
	t.line("  %s  %s  %s",
		st.yellow.Render(f.Path),
		st.dim.Render(fmt.Sprintf("+%d/-%d", f.Added, f.Removed)),
		st.dim.Render("["+f.Methods.String()+"]"))
	for _, c := range f.Commits {
		t.line("    %s", st.cyan.Render(c))
	}
	if f.Diff == "" {
		return
	}
	t.line("")
	for _, line := range strings.Split(strings.TrimRight(f.Diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			t.line("    %s", line)
		case strings.HasPrefix(line, "+"):
			t.line("    %s", st.green.Render(line))
		case strings.HasPrefix(line, "-"):
			t.line("    %s", st.red.Render(line))
		case strings.HasPrefix(line, "@@"):
			t.line("    %s", st.cyan.Render(line))
		default:
			t.line("    %s", line)
		}
	}
	t.line("")
}

func writeSummary(t *textWriter, st styles, r *Report) {
	s := r.Summary
	t.line("%s", st.bold.Render("Summary:"))
	t.line("  %s template-owned files match source exactly", st.green.Render(fmt.Sprint(s.Clean)))
	if s.Conditional > 0 {
		t.line("  %s rendered files (need `copier update --pretend` to verify)", st.blue.Render(fmt.Sprint(s.Conditional)))
	}
	if s.PostAdoption > 0 {
		t.line("  %s files modified since the last update", st.red.Render(fmt.Sprint(s.PostAdoption)))
	}
	if s.PreExisting > 0 {
		t.line("  %s files with pre-existing divergence from template source", st.yellow.Render(fmt.Sprint(s.PreExisting)))
	}
	if s.Unreadable > 0 {
		t.line("  %s files unreadable", st.red.Render(fmt.Sprint(s.Unreadable)))
	}
	if s.Scaffold > 0 {
		t.line("  %s scaffold files changed (informational)", st.dim.Render(fmt.Sprint(s.Scaffold)))
	}
	if s.Missing > 0 {
		t.line("  %s template-owned files missing", st.yellow.Render(fmt.Sprint(s.Missing)))
	}
	t.line("")
}
