package analysis

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/pvginkel/ModernAppTemplate/internal/models"
	"github.com/pvginkel/ModernAppTemplate/internal/snapshot"
)

// ChangesPathspec limits the changes view to application code.
var ChangesPathspec = []string{".", ":(exclude)docs/"}

// ChangeSet lists what an application changed since its last sync.
type ChangeSet struct {
	App              string          `json:"app"`
	TemplateRevision string          `json:"template_revision"`
	Available        bool            `json:"available"`
	Reason           string          `json:"reason,omitempty"`
	Base             string          `json:"base,omitempty"`
	Description      string          `json:"description,omitempty"`
	Commits          []models.Commit `json:"commits"`
	Diff             string          `json:"diff,omitempty"`
}

// Changes returns the commits and the diff since the last sync, excluding
// documentation.
func Changes(ctx context.Context, appRoot string, opts ...Option) (*ChangeSet, error) {
	o := newOptions(opts)
	s, err := snapshot.Read(ctx, appRoot, o.snapshotOptions()...)
	if err != nil {
		return nil, err
	}
	cs := &ChangeSet{
		App:              s.Root,
		TemplateRevision: s.TemplateRevision,
		Available:        s.History.Available,
		Reason:           s.History.Reason,
		Base:             s.History.Base,
		Description:      s.History.Description,
		Commits:          []models.Commit{},
	}
	if cs.TemplateRevision == "" {
		cs.TemplateRevision = "unknown"
	}
	repo := s.Repository()
	if !cs.Available || repo == nil {
		return cs, nil
	}

	commits, err := repo.Log(ctx, s.History.Base, "HEAD", ChangesPathspec...)
	if err != nil {
		return nil, fmt.Errorf("analysis: changes log: %w", err)
	}
	cs.Commits = append(cs.Commits, commits...)
	if cs.Diff, err = repo.Diff(ctx, s.History.Base, "HEAD", ChangesPathspec...); err != nil {
		return nil, fmt.Errorf("analysis: changes diff: %w", err)
	}
	return cs, nil
}

// WriteText renders the change set the way a reviewer reads it.
func (cs *ChangeSet) WriteText(w io.Writer) error {
	bar := "============================================================================"
	_, err := fmt.Fprintf(w, "\n%s\n  %s  (template %s)\n  %s\n%s\n",
		bar, filepath.Base(cs.App), cs.TemplateRevision, cs.App, bar)
	if err != nil {
		return err
	}
	if !cs.Available {
		_, err = fmt.Fprintf(w, "  history unavailable: %s\n", cs.Reason)
		return err
	}
	noun := "commits"
	if len(cs.Commits) == 1 {
		noun = "commit"
	}
	base := cs.Description
	if base == "" {
		base = cs.Base
	}
	if _, err := fmt.Fprintf(w, "\n  Last sync: %s  (%d app %s since then)\n", base, len(cs.Commits), noun); err != nil {
		return err
	}
	if len(cs.Commits) > 0 {
		if _, err := fmt.Fprint(w, "\n--- Commits since last sync ---\n"); err != nil {
			return err
		}
		for _, c := range cs.Commits {
			if _, err := fmt.Fprintln(w, c.Line()); err != nil {
				return err
			}
		}
	}
	if cs.Diff != "" {
		if _, err := fmt.Fprintf(w, "\n--- Diff since last sync ---\n%s", cs.Diff); err != nil {
			return err
		}
	}
	if len(cs.Commits) == 0 && cs.Diff == "" {
		_, err = fmt.Fprint(w, "\n  (no app changes since last sync)\n")
	}
	return err
}
