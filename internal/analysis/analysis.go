// Package analysis runs the whole pipeline for one application: load the
// template manifest and the application snapshot, classify, detect drift.
package analysis

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pvginkel/ModernAppTemplate/internal/apperr"
	"github.com/pvginkel/ModernAppTemplate/internal/drift"
	"github.com/pvginkel/ModernAppTemplate/internal/manifest"
	"github.com/pvginkel/ModernAppTemplate/internal/models"
	"github.com/pvginkel/ModernAppTemplate/internal/ownership"
	"github.com/pvginkel/ModernAppTemplate/internal/report"
	"github.com/pvginkel/ModernAppTemplate/internal/snapshot"
)

// Result is the outcome of one analysis.
type Result struct {
	App      string
	Template string
	Manifest *manifest.Manifest
	Snapshot *snapshot.Snapshot
	Flags    map[string]bool
	Records  []models.Record
	Findings []models.Finding
}

// Report builds the report for the result.
func (r *Result) Report() *report.Report {
	return report.New(report.Input{
		App:              r.App,
		Template:         r.Template,
		TemplateRevision: r.Snapshot.TemplateRevision,
		Flags:            r.Flags,
		History:          r.Snapshot.History,
		Records:          r.Records,
		Findings:         r.Findings,
	})
}

// Option configures an analysis.
type Option func(*options)

type options struct {
	template     string
	answersFile  string
	ignore       []string
	commits      bool
	diff         bool
	workers      int
	contextLines int
	logger       *slog.Logger
}

// WithTemplate sets the template location. Without it the source path
// recorded in the answers file is used.
func WithTemplate(path string) Option {
	return func(o *options) { o.template = path }
}

// WithAnswersFile overrides the answers file name.
func WithAnswersFile(name string) Option {
	return func(o *options) { o.answersFile = name }
}

// WithIgnore skips working-tree paths matching the patterns.
func WithIgnore(patterns ...string) Option {
	return func(o *options) { o.ignore = append(o.ignore, patterns...) }
}

// WithEvidence requests commit lists and literal diffs per finding.
func WithEvidence(commits, diff bool) Option {
	return func(o *options) {
		o.commits = commits
		o.diff = diff
	}
}

// WithWorkers bounds the drift detector's concurrency.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithContextLines sets the context of content diffs.
func WithContextLines(n int) Option {
	return func(o *options) { o.contextLines = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) *options {
	o := &options{
		answersFile:  snapshot.DefaultAnswersFile,
		workers:      drift.DefaultWorkers,
		contextLines: drift.DefaultContextLines,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) snapshotOptions() []snapshot.Option {
	return []snapshot.Option{
		snapshot.WithAnswersFile(o.answersFile),
		snapshot.WithIgnore(o.ignore...),
		snapshot.WithLogger(o.logger),
	}
}

// Run analyses the application at appRoot. Configuration errors in either
// tree abort with a ManifestError or SnapshotError.
func Run(ctx context.Context, appRoot string, opts ...Option) (*Result, error) {
	o := newOptions(opts)

	var (
		m *manifest.Manifest
		s *snapshot.Snapshot
	)
	if o.template != "" {
		// Both inputs are independent; load them side by side.
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			m, err = manifest.Load(o.template, manifest.WithLogger(o.logger))
			return err
		})
		g.Go(func() error {
			var err error
			s, err = snapshot.Read(gctx, appRoot, o.snapshotOptions()...)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		var err error
		if s, err = snapshot.Read(ctx, appRoot, o.snapshotOptions()...); err != nil {
			return nil, err
		}
		if o.template, err = ResolveTemplate(s); err != nil {
			return nil, err
		}
		if m, err = manifest.Load(o.template, manifest.WithLogger(o.logger)); err != nil {
			return nil, err
		}
	}

	if err := s.CheckFlags(m); err != nil {
		return nil, err
	}

	records := ownership.Classify(m, s)
	det := drift.New(
		drift.WithCommits(o.commits),
		drift.WithDiff(o.diff),
		drift.WithWorkers(o.workers),
		drift.WithContextLines(o.contextLines),
		drift.WithLogger(o.logger),
	)
	findings, err := det.Detect(ctx, m, s, records)
	if err != nil {
		return nil, err
	}

	o.logger.Info("analysis: complete",
		slog.String("app", s.Root),
		slog.String("template", m.Root),
		slog.Int("paths", len(records)),
		slog.Int("findings", len(findings)))
	return &Result{
		App:      s.Root,
		Template: m.Root,
		Manifest: m,
		Snapshot: s,
		Flags:    ownership.Flags(m, s),
		Records:  records,
		Findings: findings,
	}, nil
}

// Classify loads both trees and returns only the ownership records.
func Classify(ctx context.Context, appRoot string, opts ...Option) ([]models.Record, error) {
	o := newOptions(opts)
	s, err := snapshot.Read(ctx, appRoot, o.snapshotOptions()...)
	if err != nil {
		return nil, err
	}
	if o.template == "" {
		if o.template, err = ResolveTemplate(s); err != nil {
			return nil, err
		}
	}
	m, err := manifest.Load(o.template, manifest.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	if err := s.CheckFlags(m); err != nil {
		return nil, err
	}
	return ownership.Classify(m, s), nil
}

// ResolveTemplate derives the template location from the answers file.
// Relative source paths resolve against the application root; remote
// sources cannot be analysed and need an explicit location.
func ResolveTemplate(s *snapshot.Snapshot) (string, error) {
	src := s.SourcePath
	answers := filepath.Join(s.Root, s.AnswersFile)
	if src == "" {
		return "", apperr.Snapshotf(answers, "_src_path", "template location %w; pass it explicitly", apperr.ErrNotFound)
	}
	if isRemote(src) {
		return "", apperr.Snapshotf(answers, "_src_path", "template %q is not a local path; pass a local checkout explicitly", src)
	}
	if !filepath.IsAbs(src) {
		src = filepath.Join(s.Root, filepath.FromSlash(src))
	}
	return filepath.Clean(src), nil
}

func isRemote(src string) bool {
	for _, prefix := range []string{"gh:", "gl:", "git@", "git+"} {
		if strings.HasPrefix(src, prefix) {
			return true
		}
	}
	return strings.Contains(src, "://")
}
