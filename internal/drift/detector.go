// Package drift finds template-owned and scaffold paths that the
// application changed, combining commit history with content comparison.
package drift

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/sync/errgroup"

	"github.com/pvginkel/ModernAppTemplate/internal/manifest"
	"github.com/pvginkel/ModernAppTemplate/internal/models"
	"github.com/pvginkel/ModernAppTemplate/internal/snapshot"
	"github.com/pvginkel/ModernAppTemplate/internal/vcs"
)

// Defaults for a Detector.
const (
	DefaultWorkers      = 8
	DefaultContextLines = 3
)

// Detector runs both detection strategies over classified records.
type Detector struct {
	commits      bool
	diff         bool
	workers      int
	contextLines int
	logger       *slog.Logger
	repo         vcs.Repository
}

// Option configures a Detector.
type Option func(*Detector)

// WithCommits includes the commits that touched each path.
func WithCommits(on bool) Option {
	return func(d *Detector) { d.commits = on }
}

// WithDiff includes a literal diff for each finding.
func WithDiff(on bool) Option {
	return func(d *Detector) { d.diff = on }
}

// WithWorkers bounds the number of paths checked concurrently.
func WithWorkers(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithContextLines sets the context of content diffs.
func WithContextLines(n int) Option {
	return func(d *Detector) {
		if n >= 0 {
			d.contextLines = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// WithRepository overrides the backend used for history diffs. By default
// the snapshot's repository is used.
func WithRepository(r vcs.Repository) Option {
	return func(d *Detector) { d.repo = r }
}

// New creates a Detector.
func New(opts ...Option) *Detector {
	d := &Detector{
		workers:      DefaultWorkers,
		contextLines: DefaultContextLines,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect checks every active template-owned and scaffold record and returns
// the findings sorted by path. A missing template source for a verbatim
// path aborts the run; unreadable application files become findings.
func (d *Detector) Detect(ctx context.Context, m *manifest.Manifest, s *snapshot.Snapshot, records []models.Record) ([]models.Finding, error) {
	var candidates []models.Record
	for _, r := range records {
		if !r.Active {
			continue
		}
		if r.Category == models.TemplateOwned || r.Category == models.AppScaffold {
			candidates = append(candidates, r)
		}
	}

	idx := indexHistory(s.History)
	repo := d.repo
	if repo == nil {
		repo = s.Repository()
	}

	results := make([]*models.Finding, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, rec := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := d.check(gctx, m, s, repo, idx, rec)
			if err != nil {
				return err
			}
			results[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []models.Finding
	for _, f := range results {
		if f != nil {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	d.logger.Debug("drift: detection complete",
		slog.Int("checked", len(candidates)),
		slog.Int("findings", len(out)),
		slog.Bool("history", s.History.Available))
	return out, nil
}

// indexHistory maps each path to the commits that touched it, newest first.
func indexHistory(h snapshot.History) map[string][]models.Commit {
	idx := make(map[string][]models.Commit)
	if !h.Available {
		return idx
	}
	for _, c := range h.Commits {
		for _, f := range c.Files {
			idx[f] = append(idx[f], c)
		}
	}
	return idx
}

func (d *Detector) check(ctx context.Context, m *manifest.Manifest, s *snapshot.Snapshot, repo vcs.Repository, idx map[string][]models.Commit, rec models.Record) (*models.Finding, error) {
	f := &models.Finding{
		Path:          rec.Path,
		Category:      rec.Category,
		Informational: rec.Category == models.AppScaffold,
	}

	if commits := idx[rec.Path]; len(commits) > 0 {
		f.Methods |= models.HistoryDiff
		if d.commits {
			for _, c := range commits {
				f.Commits = append(f.Commits, c.Line())
			}
		}
	}

	var contentDiff string
	if rec.Category == models.TemplateOwned && rec.Verbatim {
		res, err := d.compare(m, s, rec)
		if err != nil {
			return nil, err
		}
		if res.unreadable != nil {
			d.logger.Warn("drift: unreadable file",
				slog.String("path", rec.Path),
				slog.String("error", res.unreadable.Error()))
			f.Unreadable = true
			f.Note = res.unreadable.Error()
			return f, nil
		}
		if res.changed {
			f.Methods |= models.ContentComparison
			f.Added, f.Removed = res.added, res.removed
			contentDiff = res.diff
		}
	}

	if f.Methods == 0 {
		return nil, nil
	}

	if d.diff {
		f.Diff = contentDiff
		if f.Methods.Has(models.HistoryDiff) && repo != nil {
			text, err := repo.Diff(ctx, s.History.Base, "HEAD", rec.Path)
			switch {
			case err != nil:
				d.logger.Warn("drift: history diff failed, using content diff",
					slog.String("path", rec.Path),
					slog.String("error", err.Error()))
			case text != "":
				f.Diff = text
			}
		}
	}
	if !f.Methods.Has(models.ContentComparison) && f.Diff != "" {
		f.Added, f.Removed = CountLines(f.Diff)
	}
	return f, nil
}

type comparison struct {
	changed        bool
	added, removed int
	diff           string
	unreadable     error
}

// compare byte-compares the template source with the current content. The
// checksums gathered while listing both trees short-circuit the read.
func (d *Detector) compare(m *manifest.Manifest, s *snapshot.Snapshot, rec models.Record) (comparison, error) {
	want := m.SourceChecksum(rec.Path)
	if got := s.Tree[rec.Path].Checksum; want != "" && got == want {
		return comparison{}, nil
	}

	src, err := m.Source(rec.Path)
	if err != nil {
		return comparison{}, err
	}
	cur, err := s.Read(rec.Path)
	if err != nil {
		return comparison{unreadable: err}, nil
	}
	if bytes.Equal(src, cur) {
		return comparison{}, nil
	}

	a := difflib.SplitLines(string(src))
	b := difflib.SplitLines(string(cur))
	res := comparison{changed: true}
	for _, op := range difflib.NewMatcher(a, b).GetOpCodes() {
		switch op.Tag {
		case 'r':
			res.removed += op.I2 - op.I1
			res.added += op.J2 - op.J1
		case 'd':
			res.removed += op.I2 - op.I1
		case 'i':
			res.added += op.J2 - op.J1
		}
	}
	if d.diff {
		text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        a,
			B:        b,
			FromFile: "template/" + rec.Source,
			ToFile:   rec.Path,
			Context:  d.contextLines,
		})
		if err == nil {
			res.diff = text
		}
	}
	return res, nil
}

// CountLines counts added and removed lines of a unified diff, skipping
// file headers.
func CountLines(diff string) (added, removed int) {
	inHunk := false
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case len(line) >= 2 && line[:2] == "@@":
			inHunk = true
		case !inHunk:
		case len(line) > 0 && line[0] == '+':
			added++
		case len(line) > 0 && line[0] == '-':
			removed++
		case len(line) > 0 && line[0] != ' ' && line[0] != '\\':
			// Next file header.
			inHunk = false
		}
	}
	return added, removed
}
