// Package snapshot reads a generated application's state: the answers
// recorded at its last generation or update, its working tree, and the
// commits made since that sync.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pvginkel/ModernAppTemplate/internal/apperr"
	"github.com/pvginkel/ModernAppTemplate/internal/manifest"
	"github.com/pvginkel/ModernAppTemplate/internal/models"
	"github.com/pvginkel/ModernAppTemplate/internal/storage"
	"github.com/pvginkel/ModernAppTemplate/internal/vcs"
)

// DefaultAnswersFile is the answers record Copier writes into the app.
const DefaultAnswersFile = ".copier-answers.yml"

// History is the application's commit history since the last sync. When
// Available is false history-based detection is impossible and Reason
// says why.
type History struct {
	Available bool
	Reason    string
	// Base is the app commit that last touched the answers file.
	Base        string
	Description string
	Commits     []models.Commit
}

// Unavailable builds the degraded history marker.
func Unavailable(reason string) History {
	return History{Reason: reason}
}

// Snapshot is one application's state for a single run.
type Snapshot struct {
	Root             string
	AnswersFile      string
	Answers          map[string]any
	Flags            map[string]bool
	TemplateRevision string
	SourcePath       string
	Tree             map[string]models.FileMeta
	History          History

	tree storage.Provider
	repo vcs.Repository
}

// Has reports whether path exists in the working tree.
func (s *Snapshot) Has(path string) bool {
	_, ok := s.Tree[path]
	return ok
}

// Read returns the current content of path.
func (s *Snapshot) Read(path string) ([]byte, error) {
	return s.tree.Read(path)
}

// Repository returns the version-control backend, or nil when history is
// unavailable.
func (s *Snapshot) Repository() vcs.Repository {
	return s.repo
}

// Paths returns every working-tree path, sorted.
func (s *Snapshot) Paths() []string {
	out := make([]string, 0, len(s.Tree))
	for p := range s.Tree {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Option configures Read.
type Option func(*reader)

type reader struct {
	answersFile string
	ignore      []string
	logger      *slog.Logger
	openRepo    func(ctx context.Context, dir string) (vcs.Repository, error)
}

// WithAnswersFile overrides the answers file name.
func WithAnswersFile(name string) Option {
	return func(r *reader) {
		if name != "" {
			r.answersFile = name
		}
	}
}

// WithIgnore skips working-tree paths matching the doublestar patterns.
func WithIgnore(patterns ...string) Option {
	return func(r *reader) { r.ignore = append(r.ignore, patterns...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *reader) { r.logger = l }
}

// WithRepository replaces git discovery, mainly for tests.
func WithRepository(open func(ctx context.Context, dir string) (vcs.Repository, error)) Option {
	return func(r *reader) { r.openRepo = open }
}

func openGit(ctx context.Context, dir string) (vcs.Repository, error) {
	return vcs.Open(ctx, dir)
}

// Read builds the snapshot of the application at appRoot.
func Read(ctx context.Context, appRoot string, opts ...Option) (*Snapshot, error) {
	r := &reader{answersFile: DefaultAnswersFile, logger: slog.Default(), openRepo: openGit}
	for _, opt := range opts {
		opt(r)
	}

	root, err := filepath.Abs(appRoot)
	if err != nil {
		return nil, &apperr.SnapshotError{Path: appRoot, Err: err}
	}
	answersPath := filepath.Join(root, filepath.FromSlash(r.answersFile))
	data, err := os.ReadFile(answersPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Snapshotf(answersPath, "", "answers file %w; the app was not generated from a template", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, &apperr.SnapshotError{Path: answersPath, Err: err}
	}
	answers := map[string]any{}
	if err := yaml.Unmarshal(data, &answers); err != nil {
		return nil, apperr.Snapshotf(answersPath, "", "parse: %w", err)
	}

	s := &Snapshot{
		Root:        root,
		AnswersFile: r.answersFile,
		Answers:     answers,
		Flags:       make(map[string]bool),
		Tree:        make(map[string]models.FileMeta),
	}
	for k, v := range answers {
		if strings.HasPrefix(k, "_") {
			continue
		}
		if b, ok := v.(bool); ok {
			s.Flags[k] = b
		}
	}
	s.TemplateRevision = scalar(answers["_commit"])
	s.SourcePath = scalar(answers["_src_path"])

	tree, err := storage.NewFS(root, storage.WithIgnore(r.ignore...))
	if err != nil {
		return nil, &apperr.SnapshotError{Path: root, Err: err}
	}
	metas, err := tree.List("")
	if err != nil {
		return nil, &apperr.SnapshotError{Path: root, Err: err}
	}
	s.tree = tree
	for _, m := range metas {
		s.Tree[m.Path] = m
	}

	s.History, s.repo = r.history(ctx, root)
	r.logger.Debug("snapshot: loaded",
		slog.String("app", root),
		slog.Int("files", len(s.Tree)),
		slog.Bool("history", s.History.Available),
		slog.String("history_reason", s.History.Reason))
	return s, nil
}

// history resolves the last sync commit and lists every commit after it
// with a single log query. Every failure degrades to Unavailable.
func (r *reader) history(ctx context.Context, root string) (History, vcs.Repository) {
	repo, err := r.openRepo(ctx, root)
	if err != nil {
		return Unavailable("not a git repository"), nil
	}
	base, err := repo.LastCommitFor(ctx, r.answersFile)
	if err != nil {
		r.logger.Warn("snapshot: sync commit lookup failed", slog.String("error", err.Error()))
		return Unavailable("sync commit lookup failed"), nil
	}
	if base == "" {
		return Unavailable("no commit touches " + r.answersFile), nil
	}
	ok, err := repo.IsAncestor(ctx, base, "HEAD")
	if err != nil || !ok {
		if g, isGit := repo.(*vcs.Git); isGit && g.IsShallow(ctx) {
			return Unavailable("shallow clone"), nil
		}
		return Unavailable("sync commit " + short(base) + " is not an ancestor of HEAD"), nil
	}
	commits, err := repo.Log(ctx, base, "HEAD")
	if err != nil {
		r.logger.Warn("snapshot: history query failed", slog.String("error", err.Error()))
		return Unavailable("history query failed"), nil
	}
	h := History{Available: true, Base: base, Commits: commits}
	if desc, err := repo.Describe(ctx, base); err == nil {
		h.Description = desc
	}
	return h, repo
}

// CheckFlags reports answers flags that the manifest does not declare as
// boolean questions.
func (s *Snapshot) CheckFlags(m *manifest.Manifest) error {
	var unknown []string
	for name := range s.Flags {
		if _, ok := m.Flags[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return apperr.Snapshotf(filepath.Join(s.Root, s.AnswersFile), strings.Join(unknown, ", "),
		"flag assignment references flags the template does not declare")
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
