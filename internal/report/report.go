// Package report turns classification records and drift findings into the
// human and machine readable reports.
package report

import (
	"sort"

	"github.com/pvginkel/ModernAppTemplate/internal/apperr"
	"github.com/pvginkel/ModernAppTemplate/internal/models"
	"github.com/pvginkel/ModernAppTemplate/internal/ownership"
	"github.com/pvginkel/ModernAppTemplate/internal/snapshot"
)

// Input is everything a report is built from.
type Input struct {
	App              string
	Template         string
	TemplateRevision string
	Flags            map[string]bool
	History          snapshot.History
	Records          []models.Record
	Findings         []models.Finding
}

// Report is the rendered-independent shape of one analysis.
type Report struct {
	App              string                  `json:"app"`
	Template         string                  `json:"template"`
	TemplateRevision string                  `json:"template_revision,omitempty"`
	Flags            map[string]bool         `json:"flags"`
	Inventory        map[models.Category]int `json:"inventory"`
	Baseline         string                  `json:"baseline,omitempty"`
	HistoryAvailable bool                    `json:"history_available"`
	HistoryReason    string                  `json:"history_reason,omitempty"`

	// Findings require remediation. Scaffold findings are context only.
	Findings []models.Finding `json:"findings"`
	Scaffold []models.Finding `json:"scaffold"`
	// Conditional lists rendered files that changed nothing in history and
	// cannot be compared byte for byte.
	Conditional []models.Record `json:"conditional"`
	Missing     []models.Record `json:"missing"`
	// Conflicts are scaffold paths that an exclusion rule also matches.
	Conflicts []models.Record `json:"conflicts,omitempty"`

	Summary Summary `json:"summary"`
}

// Summary holds the per-kind counts.
type Summary struct {
	Clean        int `json:"clean"`
	Conditional  int `json:"conditional"`
	PostAdoption int `json:"post_adoption"`
	PreExisting  int `json:"pre_existing"`
	Unreadable   int `json:"unreadable"`
	Scaffold     int `json:"scaffold_changed"`
	Missing      int `json:"missing"`
	Findings     int `json:"findings"`
}

// New builds a report.
func New(in Input) *Report {
	r := &Report{
		App:              in.App,
		Template:         in.Template,
		TemplateRevision: in.TemplateRevision,
		Flags:            in.Flags,
		Inventory:        ownership.Count(in.Records),
		HistoryAvailable: in.History.Available,
		HistoryReason:    in.History.Reason,
		Findings:         []models.Finding{},
		Scaffold:         []models.Finding{},
		Conditional:      []models.Record{},
		Missing:          []models.Record{},
	}
	if r.Flags == nil {
		r.Flags = map[string]bool{}
	}
	if in.History.Available {
		r.Baseline = in.History.Description
		if r.Baseline == "" {
			r.Baseline = in.History.Base
		}
	}

	flagged := make(map[string]struct{}, len(in.Findings))
	for _, f := range in.Findings {
		flagged[f.Path] = struct{}{}
		if f.Informational {
			r.Scaffold = append(r.Scaffold, f)
			continue
		}
		r.Findings = append(r.Findings, f)
		switch {
		case f.Unreadable:
			r.Summary.Unreadable++
		case f.Methods.Has(models.HistoryDiff):
			r.Summary.PostAdoption++
		default:
			r.Summary.PreExisting++
		}
	}

	owned := 0
	for _, rec := range in.Records {
		switch rec.Category {
		case models.TemplateOwned:
			owned++
			if _, ok := flagged[rec.Path]; !ok && !rec.Verbatim {
				r.Conditional = append(r.Conditional, rec)
			}
		case models.TemplateOnly:
			r.Missing = append(r.Missing, rec)
		case models.AppScaffold:
			if rec.Rule != ownership.NoRule {
				r.Conflicts = append(r.Conflicts, rec)
			}
		}
	}
	sort.Slice(r.Findings, func(i, j int) bool { return r.Findings[i].Path < r.Findings[j].Path })

	r.Summary.Conditional = len(r.Conditional)
	r.Summary.Scaffold = len(r.Scaffold)
	r.Summary.Missing = len(r.Missing)
	r.Summary.Findings = len(r.Findings)
	r.Summary.Clean = owned - len(r.Findings) - len(r.Conditional)
	return r
}

// PostAdoption returns findings backed by commit history.
func (r *Report) PostAdoption() []models.Finding {
	return r.pick(func(f models.Finding) bool { return !f.Unreadable && f.Methods.Has(models.HistoryDiff) })
}

// PreExisting returns findings seen only by content comparison.
func (r *Report) PreExisting() []models.Finding {
	return r.pick(func(f models.Finding) bool { return !f.Unreadable && !f.Methods.Has(models.HistoryDiff) })
}

// Unreadable returns findings whose file could not be read.
func (r *Report) Unreadable() []models.Finding {
	return r.pick(func(f models.Finding) bool { return f.Unreadable })
}

func (r *Report) pick(keep func(models.Finding) bool) []models.Finding {
	var out []models.Finding
	for _, f := range r.Findings {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}

// ExitCode is 0 when nothing needs remediation and 1 otherwise.
func ExitCode(r *Report) int {
	if len(r.Findings) > 0 {
		return apperr.ExitFindings
	}
	return apperr.ExitClean
}
